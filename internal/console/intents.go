package console

import (
	"context"

	"github.com/leapmux/claimsync/internal/claims"
)

// Claim claims a conversation and makes it the active page. The entry is
// shown right away and rolled back if the server refuses. The returned error
// has already been surfaced as a notice.
func (c *Console) Claim(ctx context.Context, in claims.ClaimIntent) error {
	if !c.SignedIn() {
		return ErrNotSignedIn
	}
	gen := c.cache.ApplyLocalClaim(in)
	if gen == 0 {
		return nil
	}
	c.cache.OpenPage(claims.ConversationPage(in.Key))

	entry, err := c.gw.CreateClaim(ctx, in)
	if err != nil {
		c.cache.RejectClaim(in.Key, gen, err)
		return err
	}
	c.cache.ConfirmClaim(gen, entry)
	return nil
}

// Resolve closes the conversation's ticket and releases the claim.
func (c *Console) Resolve(ctx context.Context, key claims.Key) error {
	return c.release(ctx, key, claims.ReasonResolve)
}

// Decline hands the conversation back to the unclaimed queue.
func (c *Console) Decline(ctx context.Context, key claims.Key) error {
	return c.release(ctx, key, claims.ReasonDecline)
}

// ReturnToProvider returns the conversation to its provider.
func (c *Console) ReturnToProvider(ctx context.Context, key claims.Key) error {
	return c.release(ctx, key, claims.ReasonProviderReturn)
}

// Transfer hands the claim to another agent.
func (c *Console) Transfer(ctx context.Context, key claims.Key, targetUserID string) error {
	if err := c.checkReleasable(key); err != nil {
		return err
	}
	c.cache.ApplyLocalRemoval(key, claims.ReasonTransferOut)
	if err := c.gw.TransferClaim(ctx, key, targetUserID); err != nil {
		c.cache.ReportRemovalFailure(key, err)
		return err
	}
	return nil
}

// release removes the claim locally first; a server failure is reported but
// never restores the claim.
func (c *Console) release(ctx context.Context, key claims.Key, reason claims.Reason) error {
	if err := c.checkReleasable(key); err != nil {
		return err
	}
	c.cache.ApplyLocalRemoval(key, reason)
	if err := c.gw.RemoveClaim(ctx, key, reason); err != nil {
		c.cache.ReportRemovalFailure(key, err)
		return err
	}
	return nil
}

func (c *Console) checkReleasable(key claims.Key) error {
	if !c.SignedIn() {
		return ErrNotSignedIn
	}
	e, ok := c.cache.Snapshot().Claim(key)
	if !ok {
		return ErrNotClaimed
	}
	if e.Pending {
		return ErrClaimPending
	}
	return nil
}

// View opens a read-only view of a conversation, looking it up first when
// the agent neither claims nor views it.
func (c *Console) View(ctx context.Context, key claims.Key) error {
	if !c.SignedIn() {
		return ErrNotSignedIn
	}
	if !c.cache.ApplyLocalViewRequest(key) {
		return nil
	}
	l, err := c.gw.Lookup(ctx, key)
	if err != nil {
		c.cache.FailView(key, err)
		return err
	}
	c.cache.ResolveView(key, l)
	return nil
}

// CloseView drops a read-only view.
func (c *Console) CloseView(key claims.Key) {
	c.cache.CloseView(key)
}

// Open records the page the agent navigated to.
func (c *Console) Open(p claims.Page) {
	c.cache.OpenPage(p)
}

// ClearUnread clears the unread flag of key.
func (c *Console) ClearUnread(key claims.Key) {
	c.cache.ClearUnread(key)
}
