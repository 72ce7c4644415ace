package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"connectrpc.com/connect"
)

type contextKey int

const agentKey contextKey = iota

// WithAgent stores the authenticated agent id in the context.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentKey, agentID)
}

// AgentFromContext returns the authenticated agent id, or "".
func AgentFromContext(ctx context.Context) string {
	a, _ := ctx.Value(agentKey).(string)
	return a
}

// MustGetAgent returns the authenticated agent id, or an Unauthenticated
// error when there is none.
func MustGetAgent(ctx context.Context) (string, error) {
	a := AgentFromContext(ctx)
	if a == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("not authenticated"))
	}
	return a, nil
}

// TokenFromHeader extracts a Bearer token from an Authorization header value.
func TokenFromHeader(authHeader string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(authHeader, prefix) {
		return strings.TrimPrefix(authHeader, prefix)
	}
	return ""
}

// TokenValidator resolves a bearer token to an agent id.
type TokenValidator func(ctx context.Context, token string) (agentID string, err error)

// authInterceptor validates Bearer tokens on incoming calls.
type authInterceptor struct {
	validate TokenValidator
}

// NewAuthInterceptor creates a handler interceptor that validates Bearer
// tokens and attaches the agent id to the context.
func NewAuthInterceptor(validate TokenValidator) connect.Interceptor {
	return &authInterceptor{validate: validate}
}

func (a *authInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		token := TokenFromHeader(req.Header().Get("Authorization"))
		if token == "" {
			return nil, connect.NewError(connect.CodeUnauthenticated, nil)
		}
		agentID, err := a.validate(ctx, token)
		if err != nil {
			return nil, connect.NewError(connect.CodeUnauthenticated, err)
		}
		return next(WithAgent(ctx, agentID), req)
	}
}

func (a *authInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (a *authInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next // The claim service has no streaming procedures.
}

// timeoutInterceptor enforces a default deadline on unary RPCs whose context
// has none.
type timeoutInterceptor struct {
	defaultTimeout func() time.Duration
}

// NewTimeoutInterceptor creates an interceptor that applies a default timeout
// to unary RPCs without a deadline. It works on both clients and handlers.
func NewTimeoutInterceptor(defaultTimeout func() time.Duration) connect.Interceptor {
	return &timeoutInterceptor{defaultTimeout: defaultTimeout}
}

func (t *timeoutInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.defaultTimeout())
			defer cancel()
		}
		return next(ctx, req)
	}
}

func (t *timeoutInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (t *timeoutInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// shutdownInterceptor rejects all RPCs once the shutdown channel is closed.
type shutdownInterceptor struct {
	shutdownCh <-chan struct{}
}

// NewShutdownInterceptor creates an interceptor that rejects calls with
// CodeUnavailable once shutdownCh is closed. It should come first in the
// chain so draining requests skip auth.
func NewShutdownInterceptor(shutdownCh <-chan struct{}) connect.Interceptor {
	return &shutdownInterceptor{shutdownCh: shutdownCh}
}

func (s *shutdownInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		select {
		case <-s.shutdownCh:
			return nil, connect.NewError(connect.CodeUnavailable, fmt.Errorf("server is shutting down"))
		default:
		}
		return next(ctx, req)
	}
}

func (s *shutdownInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (s *shutdownInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
