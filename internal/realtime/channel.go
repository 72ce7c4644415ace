// Package realtime maintains the agent's single push subscription and feeds
// decoded ownership changes into the claim cache.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/metrics"
)

// dedupWindow is how many recent envelope ids are remembered.
const dedupWindow = 1024

// connectFn runs one connection until it fails. Used for dependency
// injection in tests.
type connectFn func(ctx context.Context, agentID, token string) error

// Channel holds at most one subscription at a time. Events are handed to the
// sink in transport order from a single goroutine.
type Channel struct {
	transport Transport
	sink      func(claims.Event)
	dedup     *dedup

	// OnConnect is called after every successful (re)connection, before the
	// first event of that connection is delivered. ctx ends with the
	// subscription.
	OnConnect func(ctx context.Context)

	// OnUnauthorized is called when the server rejects the credentials,
	// after the subscription has been dropped. It is not retried.
	OnUnauthorized func()

	newBackoff func() backoff.BackOff
	threshold  time.Duration

	mu      sync.Mutex
	agentID string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewChannel creates a channel that delivers events to sink.
func NewChannel(t Transport, sink func(claims.Event)) *Channel {
	return &Channel{
		transport:  t,
		sink:       sink,
		dedup:      newDedup(dedupWindow),
		newBackoff: newDefaultBackoff,
		threshold:  resetThreshold,
	}
}

// Subscribe starts the subscription for agentID. Subscribing again for the
// same agent is a no-op; a different agent replaces the old subscription.
func (c *Channel) Subscribe(agentID, token string) {
	c.mu.Lock()
	if c.done != nil && c.agentID == agentID {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.Unsubscribe()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		// Lost a race with a concurrent Subscribe.
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.agentID = agentID
	c.cancel = cancel
	c.done = done

	go func() {
		err := c.connectWithReconnect(ctx, agentID, token, c.connect, c.newBackoff(), c.threshold)
		c.clear(done)
		close(done)
		if errors.Is(err, ErrUnauthenticated) && c.OnUnauthorized != nil {
			c.OnUnauthorized()
		}
	}()
}

// Unsubscribe tears down the subscription and waits for its goroutine.
// Safe to call when nothing is subscribed.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Active reports whether a subscription is held, connected or not.
func (c *Channel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done != nil
}

func (c *Channel) clear(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == done {
		c.cancel()
		c.agentID, c.cancel, c.done = "", nil, nil
	}
}

// connect runs one connection until the stream fails or ctx ends.
func (c *Channel) connect(ctx context.Context, agentID, token string) error {
	stream, err := c.transport.Dial(ctx, agentID, token)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	metrics.RealtimeConnectionsActive.Inc()
	defer metrics.RealtimeConnectionsActive.Dec()
	slog.Info("realtime channel connected", "agent_id", agentID)

	if c.OnConnect != nil {
		c.OnConnect(ctx)
	}

	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		if c.dedup.Seen(ev.ID) {
			metrics.RealtimeDuplicatesTotal.Inc()
			slog.Debug("dropping redelivered push", "id", ev.ID, "kind", ev.RawKind)
			continue
		}
		c.sink(ev)
	}
}

// connectWithReconnect keeps connect running with exponential backoff
// between attempts until ctx ends or the credentials are rejected, in which
// case it returns ErrUnauthenticated.
func (c *Channel) connectWithReconnect(ctx context.Context, agentID, token string, connect connectFn, bo backoff.BackOff, threshold time.Duration) error {
	for {
		start := time.Now()
		err := connect(ctx, agentID, token)
		if ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, ErrUnauthenticated) {
			slog.Warn("realtime credentials rejected, giving up", "agent_id", agentID)
			return ErrUnauthenticated
		}

		// If connection lasted long enough, reset backoff.
		if time.Since(start) >= threshold {
			bo.Reset()
		}

		interval := bo.NextBackOff()
		metrics.RealtimeReconnectsTotal.Inc()
		slog.Warn("realtime channel disconnected, reconnecting", "error", err, "backoff", interval)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
