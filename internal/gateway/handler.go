package gateway

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/leapmux/claimsync/internal/claims"
)

// Service is the server side of the claim service. Implementations read the
// caller with MustGetAgent and may return claims errors directly; the
// handler turns them into connect codes.
type Service interface {
	CreateClaim(ctx context.Context, req *CreateClaimRequest) (*CreateClaimResponse, error)
	RemoveClaim(ctx context.Context, req *RemoveClaimRequest) (*RemoveClaimResponse, error)
	TransferClaim(ctx context.Context, req *TransferClaimRequest) (*TransferClaimResponse, error)
	ListClaims(ctx context.Context, req *ListClaimsRequest) (*ListClaimsResponse, error)
	Lookup(ctx context.Context, req *LookupRequest) (*LookupResponse, error)
	SweepUnread(ctx context.Context, req *SweepUnreadRequest) (*SweepUnreadResponse, error)
	QueueCounts(ctx context.Context, req *QueueCountsRequest) (*QueueCountsResponse, error)
}

// NewHandler mounts svc under the service path. Every call is
// authenticated with validate; opts are applied after the JSON codec and the
// auth interceptor, so interceptors passed here run outside auth.
func NewHandler(svc Service, validate TokenValidator, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	opts = append(opts, connect.WithInterceptors(NewAuthInterceptor(validate)))

	mux := http.NewServeMux()
	mux.Handle(CreateClaimProcedure, connect.NewUnaryHandler(CreateClaimProcedure, unary(svc.CreateClaim), opts...))
	mux.Handle(RemoveClaimProcedure, connect.NewUnaryHandler(RemoveClaimProcedure, unary(svc.RemoveClaim), opts...))
	mux.Handle(TransferClaimProcedure, connect.NewUnaryHandler(TransferClaimProcedure, unary(svc.TransferClaim), opts...))
	mux.Handle(ListClaimsProcedure, connect.NewUnaryHandler(ListClaimsProcedure, unary(svc.ListClaims), opts...))
	mux.Handle(LookupProcedure, connect.NewUnaryHandler(LookupProcedure, unary(svc.Lookup), opts...))
	mux.Handle(SweepUnreadProcedure, connect.NewUnaryHandler(SweepUnreadProcedure, unary(svc.SweepUnread), opts...))
	mux.Handle(QueueCountsProcedure, connect.NewUnaryHandler(QueueCountsProcedure, unary(svc.QueueCounts), opts...))
	return "/" + ServiceName + "/", mux
}

func unary[Req, Res any](fn func(context.Context, *Req) (*Res, error)) func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error) {
	return func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
		res, err := fn(ctx, req.Msg)
		if err != nil {
			return nil, ToConnectError(err)
		}
		return connect.NewResponse(res), nil
	}
}

// ToConnectError maps claims errors to connect codes. Errors that already
// are connect errors pass through.
func ToConnectError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return err
	}
	if dup, ok := claims.IsDuplicate(err); ok {
		ce := connect.NewError(connect.CodeAlreadyExists, err)
		if dup.ClaimedUserID != "" {
			ce.Meta().Set(ClaimedUserIDMeta, dup.ClaimedUserID)
		}
		return ce
	}
	if errors.Is(err, claims.ErrNotFound) {
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
