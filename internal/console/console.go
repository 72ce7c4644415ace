// Package console ties the claim cache to its collaborators for one signed-in
// agent: it runs the session lifecycle, forwards visibility changes to the
// poller, executes the agent's claim intents against the gateway and tracks
// the ticket correlated with the open conversation.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/gateway"
	"github.com/leapmux/claimsync/internal/poller"
)

var (
	// ErrNotSignedIn is returned by intents issued outside a session.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrNotClaimed is returned when releasing a key the agent does not hold.
	ErrNotClaimed = errors.New("conversation is not claimed")

	// ErrClaimPending is returned when releasing a claim whose creation has
	// not been confirmed yet.
	ErrClaimPending = errors.New("claim is not confirmed yet")
)

// Task names, used as metric labels.
const (
	MessageSweep = "messages"
	CountSweep   = "counts"
)

// Channel is the realtime subscription the console drives.
type Channel interface {
	Subscribe(agentID, token string)
	Unsubscribe()
	Active() bool
}

// Options configures the poll periods.
type Options struct {
	MessagePollInterval time.Duration
	CountPollInterval   time.Duration
}

// Console is the engine's entry point for UI code.
type Console struct {
	gw      gateway.Gateway
	cache   *claims.Cache
	channel Channel
	poller  *poller.Poller

	// OnTicketChange is called with the ticket correlated with the open
	// conversation whenever it changes; "" means no ticket.
	OnTicketChange func(ticketID string)

	mu       sync.Mutex
	agentID  string
	signedIn bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	ticket   string
}

// New creates a console. The channel's events must already flow into cache.
func New(gw gateway.Gateway, cache *claims.Cache, ch Channel, opts Options) *Console {
	c := &Console{gw: gw, cache: cache, channel: ch}
	c.poller = poller.New(
		poller.Task{Name: MessageSweep, Interval: opts.MessagePollInterval, Run: c.SweepMessages},
		poller.Task{Name: CountSweep, Interval: opts.CountPollInterval, Run: c.SweepCounts},
	)
	return c
}

// Cache returns the claim cache for read access and subscriptions.
func (c *Console) Cache() *claims.Cache { return c.cache }

// Poller returns the console's poller.
func (c *Console) Poller() *poller.Poller { return c.poller }

// SignIn starts a session: it loads the agent's claims, subscribes the
// realtime channel and arms the poller. Signing in again as the same agent
// is a no-op; another agent ends the current session first.
func (c *Console) SignIn(ctx context.Context, agentID, token string) error {
	c.mu.Lock()
	if c.signedIn && c.agentID == agentID {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.SignOut()

	c.gw.SetToken(token)
	c.cache.Reset(agentID)
	since := c.cache.Generation()
	list, err := c.gw.ListClaims(ctx)
	if err != nil {
		c.cache.Reset("")
		c.gw.SetToken("")
		return fmt.Errorf("load claims: %w", err)
	}
	c.cache.SyncClaims(since, list)

	sessionCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.agentID = agentID
	c.signedIn = true
	c.cancel = cancel
	c.mu.Unlock()

	sub := c.cache.Subscribe()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.cache.Unsubscribe(sub)
		c.watchTicket(sessionCtx, sub)
	}()

	c.channel.Subscribe(agentID, token)
	c.poller.Start()

	slog.Info("signed in", "agent_id", agentID, "claims", len(list))
	return nil
}

// SignOut ends the session. Nothing armed by SignIn survives it. Unread flags
// are kept. Safe to call when signed out.
func (c *Console) SignOut() {
	c.mu.Lock()
	if !c.signedIn {
		c.mu.Unlock()
		return
	}
	agentID, cancel := c.agentID, c.cancel
	c.signedIn = false
	c.agentID = ""
	c.cancel = nil
	c.mu.Unlock()

	c.channel.Unsubscribe()
	c.poller.Stop()
	cancel()
	c.wg.Wait()

	c.cache.Reset("")
	c.gw.SetToken("")
	c.setTicket("")

	slog.Info("signed out", "agent_id", agentID)
}

// SignedIn reports whether a session is active.
func (c *Console) SignedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signedIn
}

// SetVisible pauses polling while the agent's window is hidden.
func (c *Console) SetVisible(visible bool) {
	c.poller.SetVisible(visible)
}

// Resync reconciles the cache with the server's claim list. The realtime
// channel calls it after every (re)connection to cover pushes missed while
// disconnected.
func (c *Console) Resync(ctx context.Context) {
	if !c.SignedIn() {
		return
	}
	// Claims taken, released or pushed while the list is in flight are newer
	// than the list and survive the sync.
	since := c.cache.Generation()
	list, err := c.gw.ListClaims(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("claim resync failed", "error", err)
		}
		return
	}
	c.cache.SyncClaims(since, list)
}

// SweepMessages asks the server which claimed or viewed conversations have
// new messages.
func (c *Console) SweepMessages(ctx context.Context) error {
	keys := c.cache.Snapshot().Keys()
	if len(keys) == 0 {
		return poller.ErrSkip
	}
	got, err := c.gw.SweepUnread(ctx, keys)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.cache.ApplyPollResult(got)
	return nil
}

// SweepCounts refreshes the queue badges.
func (c *Console) SweepCounts(ctx context.Context) error {
	counts, err := c.gw.QueueCounts(ctx)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.cache.SetCounts(counts)
	return nil
}
