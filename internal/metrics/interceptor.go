package metrics

import (
	"context"
	"strings"
	"time"

	"connectrpc.com/connect"
)

// interceptor implements connect.Interceptor and records metrics for
// unary RPCs on either side of the wire.
type interceptor struct{}

// NewInterceptor returns a ConnectRPC interceptor that records RPC
// request count and duration per service/method/code. It is installed on
// the gateway client and on the dev server handlers.
func NewInterceptor() connect.Interceptor {
	return &interceptor{}
}

func (i *interceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		svc, method := ParseProcedure(req.Spec().Procedure)
		start := time.Now()

		resp, err := next(ctx, req)

		RPCRequestsTotal.WithLabelValues(svc, method, codeOf(err)).Inc()
		RPCRequestDuration.WithLabelValues(svc, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

func (i *interceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next // The gateway is unary only.
}

func (i *interceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// ParseProcedure extracts the service and method names from a
// ConnectRPC procedure string like "/claimsync.v1.ClaimService/CreateClaim".
func ParseProcedure(procedure string) (service, method string) {
	procedure = strings.TrimPrefix(procedure, "/")
	parts := strings.SplitN(procedure, "/", 2)
	if len(parts) != 2 {
		return "unknown", "unknown"
	}
	svc := parts[0]
	if idx := strings.LastIndex(svc, "."); idx >= 0 {
		svc = svc[idx+1:]
	}
	return svc, parts[1]
}

func codeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return connect.CodeOf(err).String()
}
