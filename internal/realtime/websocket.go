package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/msgcodec"
)

// Subprotocol is negotiated on the push websocket.
const Subprotocol = "claimsync.events.v1"

// WebSocket close codes used by the push endpoint.
const (
	CloseUnauthorized   = 4001
	CloseInvalidRequest = 4002
)

// WebSocketTransport streams pushes over a websocket.
//
// Protocol:
//  1. Client opens the websocket with subprotocol "claimsync.events.v1".
//  2. Client sends the bearer token as a text frame.
//  3. Client sends its agent id as a text frame.
//  4. Server streams envelopes: text frames hold JSON, binary frames hold
//     zstd-compressed JSON.
type WebSocketTransport struct {
	URL        string
	HTTPClient *http.Client
}

// NewWebSocketTransport returns a transport dialing url.
func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{URL: url}
}

func (t *WebSocketTransport) Dial(ctx context.Context, agentID, token string) (Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, t.URL, &websocket.DialOptions{
		HTTPClient:   t.HTTPClient,
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	conn.SetReadLimit(1 << 20)

	if err := conn.Write(dialCtx, websocket.MessageText, []byte(token)); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("send token: %w", err)
	}
	if err := conn.Write(dialCtx, websocket.MessageText, []byte(agentID)); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("send agent id: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next(ctx context.Context) (claims.Event, error) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == CloseUnauthorized {
				return claims.Event{}, ErrUnauthenticated
			}
			return claims.Event{}, fmt.Errorf("read: %w", err)
		}

		compression := msgcodec.CompressionNone
		if typ == websocket.MessageBinary {
			compression = msgcodec.CompressionZstd
		}
		ev, err := Decode(data, compression)
		if err != nil {
			slog.Warn("dropping malformed push frame", "error", err, "size", len(data))
			continue
		}
		return ev, nil
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
