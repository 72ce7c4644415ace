package devserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/gateway"
	"github.com/leapmux/claimsync/internal/metrics"
	"github.com/leapmux/claimsync/internal/msgcodec"
	"github.com/leapmux/claimsync/internal/realtime"
)

// Producer is stamped on every envelope the dev server emits.
const Producer = "claimsync-devserver"

// subscriberBuffer bounds how far a slow websocket may fall behind before
// the hub disconnects it.
const subscriberBuffer = 256

// Publisher forwards envelopes to a broker. realtime.AMQPPublisher
// implements it.
type Publisher interface {
	Publish(ctx context.Context, agentID string, env realtime.Envelope, compress bool) error
}

type subscriber struct {
	ch chan realtime.Envelope
	// overflow is closed when the hub dropped the subscriber for falling
	// behind.
	overflow chan struct{}
}

// Hub fans pushes out to the websocket connections of each agent and, when
// configured, to a broker.
type Hub struct {
	compress  bool
	publisher Publisher

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub returns a hub. With compress set, frames are zstd-compressed
// binary frames instead of text frames.
func NewHub(compress bool, publisher Publisher) *Hub {
	return &Hub{
		compress:  compress,
		publisher: publisher,
		subs:      make(map[string]map[*subscriber]struct{}),
	}
}

// Push implements Pusher. It never blocks.
func (h *Hub) Push(agentID string, ev claims.Event) {
	env := realtime.EnvelopeFor(ev, Producer)

	h.mu.Lock()
	for s := range h.subs[agentID] {
		select {
		case s.ch <- env:
		default:
			slog.Warn("dropping slow push subscriber", "agent_id", agentID)
			h.removeLocked(agentID, s)
			close(s.overflow)
		}
	}
	h.mu.Unlock()

	if h.publisher != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.publisher.Publish(ctx, agentID, env, h.compress); err != nil {
				slog.Warn("failed to publish push to broker", "agent_id", agentID, "type", env.Meta.Type, "error", err)
			}
		}()
	}
}

// Connections returns the number of websockets open for agentID.
func (h *Hub) Connections(agentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[agentID])
}

func (h *Hub) add(agentID string) *subscriber {
	s := &subscriber{
		ch:       make(chan realtime.Envelope, subscriberBuffer),
		overflow: make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[agentID] == nil {
		h.subs[agentID] = make(map[*subscriber]struct{})
	}
	h.subs[agentID][s] = struct{}{}
	return s
}

func (h *Hub) remove(agentID string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(agentID, s)
}

func (h *Hub) removeLocked(agentID string, s *subscriber) {
	delete(h.subs[agentID], s)
	if len(h.subs[agentID]) == 0 {
		delete(h.subs, agentID)
	}
}

// Handler serves the push websocket.
//
// Protocol:
//  1. Client opens the websocket with subprotocol "claimsync.events.v1".
//  2. Client sends its bearer token as a text frame.
//  3. Client sends its agent id as a text frame; it must match the token.
//  4. Server streams envelopes until either side closes.
func (h *Hub) Handler(validate gateway.TokenValidator, shutdownCh <-chan struct{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shutdownCh != nil {
			select {
			case <-shutdownCh:
				http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
				return
			default:
			}
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{realtime.Subprotocol},
		})
		if err != nil {
			slog.Debug("events: accept failed", "error", err)
			return
		}
		defer func() { _ = conn.CloseNow() }()

		metrics.WSConnectionsActive.Inc()
		defer metrics.WSConnectionsActive.Dec()

		ctx := r.Context()

		// The client must authenticate within 10 seconds.
		handshakeCtx, handshakeCancel := context.WithTimeout(ctx, 10*time.Second)
		defer handshakeCancel()

		typ, token, err := conn.Read(handshakeCtx)
		if err != nil {
			slog.Debug("events: read token failed", "error", err)
			return
		}
		if typ != websocket.MessageText {
			_ = conn.Close(websocket.StatusCode(realtime.CloseInvalidRequest), "expected text frame for token")
			return
		}

		// Both frames are read before validating so a rejected client sees
		// the close code rather than a failed write.
		typ, claimed, err := conn.Read(handshakeCtx)
		if err != nil {
			slog.Debug("events: read agent id failed", "error", err)
			return
		}
		if typ != websocket.MessageText {
			_ = conn.Close(websocket.StatusCode(realtime.CloseInvalidRequest), "expected text frame for agent id")
			return
		}

		agentID, err := validate(handshakeCtx, string(token))
		if err != nil || string(claimed) != agentID {
			_ = conn.Close(websocket.StatusCode(realtime.CloseUnauthorized), "unauthorized")
			return
		}
		handshakeCancel()

		s := h.add(agentID)
		defer h.remove(agentID, s)
		slog.Debug("events: agent connected", "agent_id", agentID)

		// The client never sends after the handshake; CloseRead notices
		// when it goes away.
		ctx = conn.CloseRead(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.overflow:
				_ = conn.Close(websocket.StatusPolicyViolation, "too slow")
				return
			case env := <-s.ch:
				if err := h.write(ctx, conn, env); err != nil {
					slog.Debug("events: write failed", "agent_id", agentID, "error", err)
					return
				}
			}
		}
	})
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, env realtime.Envelope) error {
	data, compression, err := realtime.Encode(env, h.compress)
	if err != nil {
		return err
	}
	typ := websocket.MessageText
	if compression == msgcodec.CompressionZstd {
		typ = websocket.MessageBinary
	}
	if err := conn.Write(ctx, typ, data); err != nil {
		return err
	}
	metrics.WSMessagesTotal.Inc()
	return nil
}
