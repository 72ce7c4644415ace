package console

import (
	"context"

	"github.com/leapmux/claimsync/internal/claims"
)

// ActiveTicket returns the ticket of the open conversation when the agent
// holds its claim, or "".
func (c *Console) ActiveTicket() string {
	return ticketOf(c.cache.Snapshot())
}

func ticketOf(s claims.State) string {
	p := s.Active()
	if p.Kind != claims.PageConversation {
		return ""
	}
	e, ok := s.Claim(p.Key)
	if !ok {
		return ""
	}
	return e.TicketID
}

func (c *Console) watchTicket(ctx context.Context, sub *claims.Subscription) {
	c.setTicket(ticketOf(c.cache.Snapshot()))
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-sub.C():
			c.setTicket(ticketOf(u.State))
		}
	}
}

func (c *Console) setTicket(ticket string) {
	c.mu.Lock()
	changed := c.ticket != ticket
	c.ticket = ticket
	fn := c.OnTicketChange
	c.mu.Unlock()

	if changed && fn != nil {
		fn(ticket)
	}
}
