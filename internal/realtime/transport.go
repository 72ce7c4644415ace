package realtime

import (
	"context"
	"errors"

	"github.com/leapmux/claimsync/internal/claims"
)

// ErrUnauthenticated is returned by Dial or Next when the server rejects the
// agent's credentials. The channel stops reconnecting when it sees it.
var ErrUnauthenticated = errors.New("realtime: unauthenticated")

// Transport opens push streams for one agent.
type Transport interface {
	Dial(ctx context.Context, agentID, token string) (Stream, error)
}

// Stream delivers decoded pushes in transport order. Next blocks until an
// event arrives, the stream fails, or ctx is done.
type Stream interface {
	Next(ctx context.Context) (claims.Event, error)
	Close() error
}
