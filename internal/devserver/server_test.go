package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/console"
	"github.com/leapmux/claimsync/internal/gateway"
	"github.com/leapmux/claimsync/internal/realtime"
	"github.com/leapmux/claimsync/internal/unread"
	"github.com/leapmux/claimsync/internal/util/testutil"
)

type harness struct {
	srv *Server
	url string
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	srv.Store().AddAgent("agent-a", "tok-a")
	srv.Store().AddAgent("agent-b", "tok-b")
	require.NoError(t, srv.Store().AddConversation(gateway.Claim{Key: "+100", CustomerID: "c-100", CustomerName: "Ada"}))
	require.NoError(t, srv.Store().AddConversation(gateway.Claim{Key: "+200", CustomerID: "c-200", CustomerName: "Bob"}))
	return &harness{srv: srv, url: ts.URL}
}

func (h *harness) wsURL() string {
	return "ws" + strings.TrimPrefix(h.url, "http") + "/events"
}

type agent struct {
	console *console.Console
	channel *realtime.Channel
}

// signIn builds the full client stack for one agent and waits until its
// push websocket is registered.
func (h *harness) signIn(t *testing.T, agentID, token string) *agent {
	t.Helper()
	cache, err := claims.NewCache(unread.NewMemoryStore())
	require.NoError(t, err)

	ch := realtime.NewChannel(realtime.NewWebSocketTransport(h.wsURL()), cache.ApplyPush)
	con := console.New(gateway.New(h.url, false), cache, ch, console.Options{
		MessagePollInterval: time.Hour,
		CountPollInterval:   time.Hour,
	})
	ch.OnConnect = con.Resync
	t.Cleanup(con.SignOut)

	require.NoError(t, con.SignIn(context.Background(), agentID, token))
	testutil.RequireEventually(t, func() bool { return h.srv.Hub().Connections(agentID) == 1 })
	return &agent{console: con, channel: ch}
}

func (h *harness) admin(t *testing.T, path string, body adminRequest) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.url+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func hasClaim(a *agent, key claims.Key) bool {
	_, ok := a.console.Cache().Snapshot().Claim(key)
	return ok
}

func TestEndToEnd_ClaimAndDuplicate(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.signIn(t, "agent-a", "tok-a")
	b := h.signIn(t, "agent-b", "tok-b")
	ctx := context.Background()

	require.NoError(t, a.console.Claim(ctx, claims.ClaimIntent{Key: "+100", CustomerName: "Ada"}))
	e, ok := a.console.Cache().Snapshot().Claim("+100")
	require.True(t, ok)
	assert.False(t, e.Pending)
	assert.NotEmpty(t, e.TicketID)
	assert.Equal(t, e.TicketID, a.console.ActiveTicket())

	err := b.console.Claim(ctx, claims.ClaimIntent{Key: "+100"})
	dup, ok := claims.IsDuplicate(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "agent-a", dup.ClaimedUserID)
	assert.False(t, hasClaim(b, "+100"))
	v, ok := b.console.Cache().Snapshot().View("+100")
	require.True(t, ok)
	assert.Equal(t, "agent-a", v.ClaimedUserID)
}

func TestEndToEnd_Transfer(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.signIn(t, "agent-a", "tok-a")
	b := h.signIn(t, "agent-b", "tok-b")
	ctx := context.Background()

	require.NoError(t, a.console.Claim(ctx, claims.ClaimIntent{Key: "+100"}))
	require.NoError(t, a.console.Transfer(ctx, "+100", "agent-b"))
	assert.False(t, hasClaim(a, "+100"))

	testutil.RequireEventually(t, func() bool { return hasClaim(b, "+100") })
	e, _ := b.console.Cache().Snapshot().Claim("+100")
	assert.Equal(t, "agent-a", e.TransferredBy)
	assert.False(t, e.Viewed)
	assert.Equal(t, "Ada", e.CustomerName)

	// The echo sent to the previous owner must not resurrect anything.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, hasClaim(a, "+100"))
}

func TestEndToEnd_AdminPushes(t *testing.T) {
	h := newHarness(t, Config{Compress: true})
	a := h.signIn(t, "agent-a", "tok-a")
	ctx := context.Background()

	require.NoError(t, a.console.Claim(ctx, claims.ClaimIntent{Key: "+100"}))
	require.NoError(t, a.console.Claim(ctx, claims.ClaimIntent{Key: "+200"}))

	assert.Equal(t, http.StatusNoContent, h.admin(t, "/admin/swap", adminRequest{Key: "+100", NewKey: "+101"}))
	testutil.RequireEventually(t, func() bool { return hasClaim(a, "+101") && !hasClaim(a, "+100") })

	assert.Equal(t, http.StatusNoContent, h.admin(t, "/admin/revoke", adminRequest{Key: "+200"}))
	testutil.RequireEventually(t, func() bool { return !hasClaim(a, "+200") })
	// +200 was the open conversation, so the agent keeps a read-only view.
	_, viewing := a.console.Cache().Snapshot().View("+200")
	assert.True(t, viewing)

	assert.Equal(t, http.StatusNotFound, h.admin(t, "/admin/revoke", adminRequest{Key: "+404"}))

	assert.Equal(t, http.StatusNoContent, h.admin(t, "/admin/transfer", adminRequest{Key: "+200", To: "agent-a"}))
	testutil.RequireEventually(t, func() bool { return hasClaim(a, "+200") })
}

func TestEndToEnd_UnreadSweep(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.signIn(t, "agent-a", "tok-a")
	ctx := context.Background()
	// Pausing waits for the sweeps armed by sign-in, so only the explicit
	// sweeps below touch the cache.
	a.console.SetVisible(false)

	require.NoError(t, a.console.Claim(ctx, claims.ClaimIntent{Key: "+100"}))
	a.console.Open(claims.QueuePage)

	assert.Equal(t, http.StatusNoContent, h.admin(t, "/admin/message", adminRequest{Key: "+100"}))
	require.NoError(t, a.console.SweepMessages(ctx))
	assert.True(t, a.console.Cache().Snapshot().IsUnread("+100"))

	a.console.Open(claims.ConversationPage("+100"))
	assert.False(t, a.console.Cache().Snapshot().IsUnread("+100"))

	require.NoError(t, a.console.SweepCounts(ctx))
	assert.Equal(t, claims.Counts{Unclaimed: 1}, a.console.Cache().Snapshot().Counts())
}

func TestEndToEnd_Resolve(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.signIn(t, "agent-a", "tok-a")
	ctx := context.Background()

	require.NoError(t, a.console.Claim(ctx, claims.ClaimIntent{Key: "+100"}))
	require.NoError(t, a.console.Resolve(ctx, "+100"))
	assert.Empty(t, h.srv.Store().Owner("+100"))

	// The server no longer knows the conversation; a second resolve is
	// refused locally.
	assert.ErrorIs(t, a.console.Resolve(ctx, "+100"), console.ErrNotClaimed)
}

func TestEndToEnd_ResyncOnReconnect(t *testing.T) {
	h := newHarness(t, Config{})
	a := h.signIn(t, "agent-a", "tok-a")

	// A claim made behind the client's back shows up on the next resync.
	_, err := h.srv.Store().CreateClaim(gateway.WithAgent(context.Background(), "agent-a"), &gateway.CreateClaimRequest{Key: "+200"})
	require.NoError(t, err)
	a.console.Resync(context.Background())
	assert.True(t, hasClaim(a, "+200"))
}

func TestEvents_Unauthorized(t *testing.T) {
	h := newHarness(t, Config{})

	var rejected atomic.Bool
	ch := realtime.NewChannel(realtime.NewWebSocketTransport(h.wsURL()), func(claims.Event) {})
	ch.OnUnauthorized = func() { rejected.Store(true) }
	ch.Subscribe("agent-a", "wrong")
	t.Cleanup(ch.Unsubscribe)

	testutil.RequireEventually(t, rejected.Load)
	assert.False(t, ch.Active())

	mismatch := realtime.NewChannel(realtime.NewWebSocketTransport(h.wsURL()), func(claims.Event) {})
	var mismatched atomic.Bool
	mismatch.OnUnauthorized = func() { mismatched.Store(true) }
	mismatch.Subscribe("agent-b", "tok-a")
	t.Cleanup(mismatch.Unsubscribe)
	testutil.RequireEventually(t, mismatched.Load, "agent id must match the token")
}

func TestGateway_Unauthenticated(t *testing.T) {
	h := newHarness(t, Config{})
	gw := gateway.New(h.url, false)
	gw.SetToken("wrong")
	_, err := gw.ListClaims(context.Background())
	assert.ErrorIs(t, err, gateway.ErrUnauthenticated)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, Config{})
	resp, err := http.Get(h.url + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
