package claims

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/leapmux/claimsync/internal/metrics"
)

// FlagStore persists the unread flags across restarts.
type FlagStore interface {
	Load() (map[Key]bool, error)
	Save(flags map[Key]bool) error
}

// Update is what subscribers receive after every cache change.
type Update struct {
	State   State
	Effects []Effect
}

// Subscription receives cache updates.
type Subscription struct {
	ch chan Update
}

// C returns the channel that receives updates.
func (s *Subscription) C() <-chan Update {
	return s.ch
}

// Cache owns the agent's claim state. All writes go through its methods;
// each one computes the next State from the current one and swaps it in
// under the lock, so no reader ever sees a half-applied change.
type Cache struct {
	store FlagStore

	mu   sync.Mutex
	st   State
	subs map[*Subscription]struct{}
}

// NewCache loads the persisted unread flags and returns an empty cache.
func NewCache(store FlagStore) (*Cache, error) {
	flags, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load unread flags: %w", err)
	}
	c := &Cache{
		store: store,
		st:    NewState("", flags),
		subs:  make(map[*Subscription]struct{}),
	}
	metrics.UnreadFlags.Set(float64(len(c.st.unread)))
	return c, nil
}

// Snapshot returns the current state.
func (c *Cache) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// Subscribe registers a subscriber. Remove it with Unsubscribe when done.
func (c *Cache) Subscribe() *Subscription {
	s := &Subscription{ch: make(chan Update, 64)}
	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber. Safe to call multiple times.
func (c *Cache) Unsubscribe(s *Subscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}

func (c *Cache) apply(fn func(State) (State, []Effect)) []Effect {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.st
	next, effects := fn(prev)
	c.st = next

	if !maps.Equal(prev.unread, next.unread) {
		// Written synchronously so a reload never loses a flag.
		if err := c.store.Save(next.unread); err != nil {
			slog.Error("failed to persist unread flags", "error", err)
		}
		metrics.UnreadFlags.Set(float64(len(next.unread)))
	}
	metrics.ClaimsActive.Set(float64(len(next.claimed)))
	metrics.ViewsActive.Set(float64(len(next.viewed)))

	u := Update{State: next, Effects: effects}
	for s := range c.subs {
		select {
		case s.ch <- u:
		default:
			metrics.SubscriberDropsTotal.Inc()
		}
	}
	return effects
}

// logStale records a confirmation or rejection dropped as stale. Those are
// the only errors ConfirmClaim and RejectClaim on State return.
func logStale(op string, key Key, err error) {
	if errors.Is(err, ErrStaleOperation) {
		metrics.StaleOperationsTotal.Inc()
		slog.Debug("dropping stale operation", "op", op, "key", key)
	}
}

// ApplyLocalClaim optimistically inserts a pending claim and returns the
// generation to hand back to ConfirmClaim or RejectClaim. Zero means the
// key is already claimed.
func (c *Cache) ApplyLocalClaim(in ClaimIntent) uint64 {
	var gen uint64
	c.apply(func(s State) (State, []Effect) {
		var effects []Effect
		s, gen, effects = s.BeginClaim(in)
		return s, effects
	})
	return gen
}

// ConfirmClaim commits a pending claim. Stale confirmations are dropped.
func (c *Cache) ConfirmClaim(gen uint64, canonical ClaimedEntry) {
	var err error
	c.apply(func(s State) (State, []Effect) {
		var effects []Effect
		s, effects, err = s.ConfirmClaim(gen, canonical)
		return s, effects
	})
	logStale("confirm_claim", canonical.Key, err)
}

// RejectClaim rolls back a pending claim. Stale rejections are dropped.
func (c *Cache) RejectClaim(key Key, gen uint64, cause error) {
	var err error
	c.apply(func(s State) (State, []Effect) {
		var effects []Effect
		s, effects, err = s.RejectClaim(key, gen, cause)
		return s, effects
	})
	logStale("reject_claim", key, err)
}

// ApplyLocalRemoval releases a claim without waiting for the server.
func (c *Cache) ApplyLocalRemoval(key Key, reason Reason) {
	c.apply(func(s State) (State, []Effect) {
		return s.RemoveClaim(key, reason)
	})
}

// ReportRemovalFailure surfaces a failed claimRemove or claimTransfer. The
// removal itself stays applied.
func (c *Cache) ReportRemovalFailure(key Key, err error) {
	c.apply(func(s State) (State, []Effect) {
		return s, []Effect{Notice{Kind: NoticeRemovalFailed, Key: key, Err: err}}
	})
}

// ApplyLocalViewRequest navigates to key and reports whether a lookup is
// needed before a view entry can be inserted.
func (c *Cache) ApplyLocalViewRequest(key Key) bool {
	var needLookup bool
	c.apply(func(s State) (State, []Effect) {
		var effects []Effect
		s, needLookup, effects = s.BeginView(key)
		return s, effects
	})
	return needLookup
}

// ResolveView inserts a view entry from a finished lookup.
func (c *Cache) ResolveView(key Key, l Lookup) {
	c.apply(func(s State) (State, []Effect) {
		return s.ResolveView(key, l)
	})
}

// FailView reports a failed lookup.
func (c *Cache) FailView(key Key, err error) {
	c.apply(func(s State) (State, []Effect) {
		return s.FailView(key, err)
	})
}

// CloseView drops a view entry.
func (c *Cache) CloseView(key Key) {
	c.apply(func(s State) (State, []Effect) {
		return s.CloseView(key)
	})
}

// ApplyPush merges a realtime event. Unknown kinds are logged and ignored.
func (c *Cache) ApplyPush(ev Event) {
	var err error
	c.apply(func(s State) (State, []Effect) {
		var effects []Effect
		s, effects, err = s.ApplyPush(ev)
		return s, effects
	})
	if err != nil {
		metrics.PushEventsTotal.WithLabelValues("unknown").Inc()
		slog.Warn("ignoring push", "kind", ev.RawKind, "id", ev.ID, "error", err)
		return
	}
	metrics.PushEventsTotal.WithLabelValues(ev.Kind.String()).Inc()
}

// ApplyPollResult merges the message sweep result.
func (c *Cache) ApplyPollResult(keys []Key) {
	c.apply(func(s State) (State, []Effect) {
		return s.ApplyPollResult(keys)
	})
}

// ClearUnread clears one unread flag and persists the change.
func (c *Cache) ClearUnread(key Key) {
	c.apply(func(s State) (State, []Effect) {
		return s.ClearUnread(key), nil
	})
}

// OpenPage records the agent's navigation.
func (c *Cache) OpenPage(p Page) {
	c.apply(func(s State) (State, []Effect) {
		return s.OpenPage(p), nil
	})
}

// SetCounts stores polled queue counts.
func (c *Cache) SetCounts(counts Counts) {
	c.apply(func(s State) (State, []Effect) {
		return s.SetCounts(counts), nil
	})
}

// Generation returns the current generation. Take it before requesting a
// claim list for SyncClaims.
func (c *Cache) Generation() uint64 {
	return c.Snapshot().Generation()
}

// SyncClaims reconciles against a server claim list requested at generation
// since.
func (c *Cache) SyncClaims(since uint64, server []ClaimedEntry) {
	c.apply(func(s State) (State, []Effect) {
		return s.SyncClaims(since, server)
	})
}

// Reset empties the cache for agent self.
func (c *Cache) Reset(self string) {
	c.apply(func(s State) (State, []Effect) {
		return s.Reset(self), nil
	})
}
