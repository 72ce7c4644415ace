// Package gateway is the claim service boundary: a ConnectRPC client the
// console issues claim calls through, and the matching handler constructor
// the dev server mounts.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/id"
	"github.com/leapmux/claimsync/internal/logging"
	"github.com/leapmux/claimsync/internal/metrics"
)

// DefaultTimeout bounds calls whose context carries no deadline.
const DefaultTimeout = 15 * time.Second

// RequestIDHeader carries a per-call id for correlating logs.
const RequestIDHeader = logging.RequestIDHeader

// ErrUnauthenticated is returned when the server rejects the agent's token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Gateway is the set of claim service calls the console depends on.
type Gateway interface {
	CreateClaim(ctx context.Context, in claims.ClaimIntent) (claims.ClaimedEntry, error)
	RemoveClaim(ctx context.Context, key claims.Key, reason claims.Reason) error
	TransferClaim(ctx context.Context, key claims.Key, targetUserID string) error
	ListClaims(ctx context.Context) ([]claims.ClaimedEntry, error)
	Lookup(ctx context.Context, key claims.Key) (claims.Lookup, error)
	SweepUnread(ctx context.Context, keys []claims.Key) ([]claims.Key, error)
	QueueCounts(ctx context.Context) (claims.Counts, error)
	SetToken(token string)
}

// Client talks to the claim service over ConnectRPC with JSON bodies.
type Client struct {
	creds *credentials

	create   *connect.Client[CreateClaimRequest, CreateClaimResponse]
	remove   *connect.Client[RemoveClaimRequest, RemoveClaimResponse]
	transfer *connect.Client[TransferClaimRequest, TransferClaimResponse]
	list     *connect.Client[ListClaimsRequest, ListClaimsResponse]
	lookup   *connect.Client[LookupRequest, LookupResponse]
	sweep    *connect.Client[SweepUnreadRequest, SweepUnreadResponse]
	counts   *connect.Client[QueueCountsRequest, QueueCountsResponse]
}

var _ Gateway = (*Client)(nil)

// New creates a client for the service at baseURL. With useH2C set the
// client speaks HTTP/2 over cleartext.
func New(baseURL string, useH2C bool) *Client {
	httpClient := http.DefaultClient
	if useH2C {
		httpClient = newH2CClient()
	}
	return NewWithHTTPClient(httpClient, baseURL)
}

// NewWithHTTPClient creates a client using the provided HTTP client.
func NewWithHTTPClient(httpClient connect.HTTPClient, baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	creds := &credentials{}
	opts := []connect.ClientOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(
			metrics.NewInterceptor(),
			NewTimeoutInterceptor(func() time.Duration { return DefaultTimeout }),
			creds,
		),
	}
	return &Client{
		creds:    creds,
		create:   connect.NewClient[CreateClaimRequest, CreateClaimResponse](httpClient, baseURL+CreateClaimProcedure, opts...),
		remove:   connect.NewClient[RemoveClaimRequest, RemoveClaimResponse](httpClient, baseURL+RemoveClaimProcedure, opts...),
		transfer: connect.NewClient[TransferClaimRequest, TransferClaimResponse](httpClient, baseURL+TransferClaimProcedure, opts...),
		list:     connect.NewClient[ListClaimsRequest, ListClaimsResponse](httpClient, baseURL+ListClaimsProcedure, opts...),
		lookup:   connect.NewClient[LookupRequest, LookupResponse](httpClient, baseURL+LookupProcedure, opts...),
		sweep:    connect.NewClient[SweepUnreadRequest, SweepUnreadResponse](httpClient, baseURL+SweepUnreadProcedure, opts...),
		counts:   connect.NewClient[QueueCountsRequest, QueueCountsResponse](httpClient, baseURL+QueueCountsProcedure, opts...),
	}
}

// newH2CClient creates an HTTP client that speaks HTTP/2 cleartext (h2c).
func newH2CClient() *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
	}
}

// SetToken sets the bearer token sent with every call.
func (c *Client) SetToken(token string) {
	c.creds.set(token)
}

// CreateClaim asks the server to assign key to the agent.
func (c *Client) CreateClaim(ctx context.Context, in claims.ClaimIntent) (claims.ClaimedEntry, error) {
	resp, err := c.create.CallUnary(ctx, connect.NewRequest(&CreateClaimRequest{
		Key:          in.Key,
		TicketID:     in.TicketID,
		CustomerID:   in.CustomerID,
		CustomerName: in.CustomerName,
		OrderID:      in.OrderID,
		Continuous:   in.Continuous,
		ProviderID:   in.ProviderID,
	}))
	if err != nil {
		return claims.ClaimedEntry{}, mapError("create claim", in.Key, err)
	}
	e := resp.Msg.Claim.Entry()
	if e.Key == "" {
		e.Key = in.Key
	}
	return e, nil
}

// RemoveClaim releases key on the server.
func (c *Client) RemoveClaim(ctx context.Context, key claims.Key, reason claims.Reason) error {
	_, err := c.remove.CallUnary(ctx, connect.NewRequest(&RemoveClaimRequest{Key: key, Reason: reason.String()}))
	if err != nil {
		return mapError("remove claim", key, err)
	}
	return nil
}

// TransferClaim hands key to another agent.
func (c *Client) TransferClaim(ctx context.Context, key claims.Key, targetUserID string) error {
	_, err := c.transfer.CallUnary(ctx, connect.NewRequest(&TransferClaimRequest{Key: key, TargetUserID: targetUserID}))
	if err != nil {
		return mapError("transfer claim", key, err)
	}
	return nil
}

// ListClaims returns every claim the server attributes to the agent.
func (c *Client) ListClaims(ctx context.Context) ([]claims.ClaimedEntry, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(&ListClaimsRequest{}))
	if err != nil {
		return nil, mapError("list claims", "", err)
	}
	out := make([]claims.ClaimedEntry, 0, len(resp.Msg.Claims))
	for _, cl := range resp.Msg.Claims {
		out = append(out, cl.Entry())
	}
	return out, nil
}

// Lookup resolves key to its customer and current owner.
func (c *Client) Lookup(ctx context.Context, key claims.Key) (claims.Lookup, error) {
	resp, err := c.lookup.CallUnary(ctx, connect.NewRequest(&LookupRequest{Key: key}))
	if err != nil {
		return claims.Lookup{}, mapError("lookup", key, err)
	}
	return claims.Lookup{
		CustomerID:    resp.Msg.CustomerID,
		CustomerName:  resp.Msg.CustomerName,
		ClaimedUserID: resp.Msg.ClaimedUserID,
	}, nil
}

// SweepUnread returns the subset of keys with new inbound messages.
func (c *Client) SweepUnread(ctx context.Context, keys []claims.Key) ([]claims.Key, error) {
	resp, err := c.sweep.CallUnary(ctx, connect.NewRequest(&SweepUnreadRequest{Keys: keys}))
	if err != nil {
		return nil, mapError("sweep unread", "", err)
	}
	return resp.Msg.Keys, nil
}

// QueueCounts returns the unclaimed and pending queue sizes.
func (c *Client) QueueCounts(ctx context.Context) (claims.Counts, error) {
	resp, err := c.counts.CallUnary(ctx, connect.NewRequest(&QueueCountsRequest{}))
	if err != nil {
		return claims.Counts{}, mapError("queue counts", "", err)
	}
	return claims.Counts{Unclaimed: resp.Msg.Unclaimed, Pending: resp.Msg.Pending}, nil
}

// mapError translates a connect error into the claims error taxonomy.
func mapError(op string, key claims.Key, err error) error {
	switch connect.CodeOf(err) {
	case connect.CodeAlreadyExists:
		dup := &claims.DuplicateClaimError{Key: key}
		var ce *connect.Error
		if errors.As(err, &ce) {
			dup.ClaimedUserID = ce.Meta().Get(ClaimedUserIDMeta)
		}
		return dup
	case connect.CodeNotFound:
		return fmt.Errorf("%s %s: %w", op, key, claims.ErrNotFound)
	case connect.CodeUnauthenticated:
		return fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded, connect.CodeUnknown,
		connect.CodeAborted, connect.CodeResourceExhausted, connect.CodeCanceled:
		return &claims.TransientError{Op: op, Err: err}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// credentials attaches the bearer token and a request id to outgoing calls.
type credentials struct {
	mu    sync.RWMutex
	token string
}

func (c *credentials) set(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *credentials) get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *credentials) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			if token := c.get(); token != "" {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			req.Header().Set(RequestIDHeader, id.Generate())
		}
		return next(ctx, req)
	}
}

func (c *credentials) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (c *credentials) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
