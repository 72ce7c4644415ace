package devserver

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/gateway"
)

type recordingPusher struct {
	mu     sync.Mutex
	events map[string][]claims.Event
}

func (p *recordingPusher) Push(agentID string, ev claims.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]claims.Event)
	}
	p.events[agentID] = append(p.events[agentID], ev)
}

func (p *recordingPusher) eventsFor(agentID string) []claims.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[agentID]
}

func newTestStore(t *testing.T) (*Store, *recordingPusher) {
	t.Helper()
	p := &recordingPusher{}
	s := NewStore(p)
	s.AddAgent("a", "tok-a")
	s.AddAgent("b", "tok-b")
	require.NoError(t, s.AddConversation(gateway.Claim{Key: "+1", CustomerID: "c1", CustomerName: "Ada"}))
	require.NoError(t, s.AddConversation(gateway.Claim{Key: "+2", CustomerName: "Bob", OrderID: "o-2"}))
	return s, p
}

func as(agentID string) context.Context {
	return gateway.WithAgent(context.Background(), agentID)
}

func TestValidateToken(t *testing.T) {
	s, _ := newTestStore(t)
	agentID, err := s.ValidateToken(context.Background(), "tok-a")
	require.NoError(t, err)
	assert.Equal(t, "a", agentID)

	_, err = s.ValidateToken(context.Background(), "nope")
	assert.Error(t, err)

	tok := s.AddAgent("c", "")
	assert.NotEmpty(t, tok)
	agentID, err = s.ValidateToken(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "c", agentID)
}

func TestCreateClaim(t *testing.T) {
	s, _ := newTestStore(t)

	res, err := s.CreateClaim(as("a"), &gateway.CreateClaimRequest{Key: "+1", TicketID: "T1"})
	require.NoError(t, err)
	assert.Equal(t, "T1", res.Claim.TicketID)
	assert.Equal(t, "Ada", res.Claim.CustomerName)
	assert.Equal(t, "a", s.Owner("+1"))

	again, err := s.CreateClaim(as("a"), &gateway.CreateClaimRequest{Key: "+1"})
	require.NoError(t, err, "the owner may claim again")
	assert.Equal(t, res.Claim, again.Claim)

	_, err = s.CreateClaim(as("b"), &gateway.CreateClaimRequest{Key: "+1"})
	dup, ok := claims.IsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, "a", dup.ClaimedUserID)

	res, err = s.CreateClaim(as("b"), &gateway.CreateClaimRequest{Key: "+9", CustomerName: "New"})
	require.NoError(t, err, "unknown keys start a conversation")
	assert.NotEmpty(t, res.Claim.TicketID)

	_, err = s.CreateClaim(context.Background(), &gateway.CreateClaimRequest{Key: "+3"})
	assert.Error(t, err, "no agent in context")
}

func TestRemoveClaim(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.CreateClaim(as("a"), &gateway.CreateClaimRequest{Key: "+1"})
	require.NoError(t, err)
	_, err = s.CreateClaim(as("a"), &gateway.CreateClaimRequest{Key: "+2"})
	require.NoError(t, err)

	_, err = s.RemoveClaim(as("b"), &gateway.RemoveClaimRequest{Key: "+1", Reason: "resolve"})
	assert.ErrorIs(t, err, errNotOwner)

	_, err = s.RemoveClaim(as("a"), &gateway.RemoveClaimRequest{Key: "+1", Reason: "bogus"})
	assert.ErrorIs(t, err, errInvalidReason)

	_, err = s.RemoveClaim(as("a"), &gateway.RemoveClaimRequest{Key: "+1", Reason: claims.ReasonDecline.String()})
	require.NoError(t, err)
	assert.Empty(t, s.Owner("+1"))
	l, err := s.Lookup(as("b"), &gateway.LookupRequest{Key: "+1"})
	require.NoError(t, err, "a declined conversation stays in the queue")
	assert.Empty(t, l.ClaimedUserID)

	_, err = s.RemoveClaim(as("a"), &gateway.RemoveClaimRequest{Key: "+2", Reason: claims.ReasonResolve.String()})
	require.NoError(t, err)
	_, err = s.Lookup(as("a"), &gateway.LookupRequest{Key: "+2"})
	assert.ErrorIs(t, err, claims.ErrNotFound)
}

func TestTransferClaim(t *testing.T) {
	s, p := newTestStore(t)
	_, err := s.CreateClaim(as("a"), &gateway.CreateClaimRequest{Key: "+1", TicketID: "T1"})
	require.NoError(t, err)

	_, err = s.TransferClaim(as("a"), &gateway.TransferClaimRequest{Key: "+1", TargetUserID: "nobody"})
	assert.ErrorIs(t, err, errUnknownAgent)
	_, err = s.TransferClaim(as("b"), &gateway.TransferClaimRequest{Key: "+1", TargetUserID: "b"})
	assert.ErrorIs(t, err, errNotOwner)

	_, err = s.TransferClaim(as("a"), &gateway.TransferClaimRequest{Key: "+1", TargetUserID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", s.Owner("+1"))

	toB := p.eventsFor("b")
	require.Len(t, toB, 1)
	assert.Equal(t, claims.EventClaimTransferred, toB[0].Kind)
	assert.Equal(t, "b", toB[0].ToUserID)
	assert.Equal(t, "a", toB[0].TransferredBy)
	assert.Equal(t, "T1", toB[0].TicketID)
	assert.NotEmpty(t, toB[0].ID)

	toA := p.eventsFor("a")
	require.Len(t, toA, 1, "the previous owner learns it lost the claim")
	assert.NotEqual(t, toB[0].ID, toA[0].ID)

	list, err := s.ListClaims(as("b"), &gateway.ListClaimsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Claims, 1)
	assert.Equal(t, "a", list.Claims[0].TransferredBy)
}

func TestListClaims_Sorted(t *testing.T) {
	s, _ := newTestStore(t)
	for _, k := range []claims.Key{"+3", "+1", "+2"} {
		_, err := s.CreateClaim(as("a"), &gateway.CreateClaimRequest{Key: k})
		require.NoError(t, err)
	}
	res, err := s.ListClaims(as("a"), &gateway.ListClaimsRequest{})
	require.NoError(t, err)
	var keys []claims.Key
	for _, c := range res.Claims {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []claims.Key{"+1", "+2", "+3"}, keys)

	res, err = s.ListClaims(as("b"), &gateway.ListClaimsRequest{})
	require.NoError(t, err)
	assert.NotNil(t, res.Claims)
	assert.Empty(t, res.Claims)
}

func TestSweepUnread(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := as("a")

	res, err := s.SweepUnread(ctx, &gateway.SweepUnreadRequest{Keys: []claims.Key{"+1", "+2", "+404"}})
	require.NoError(t, err)
	assert.Empty(t, res.Keys)

	require.NoError(t, s.Message("+2"))
	require.NoError(t, s.Message("+2"))
	res, err = s.SweepUnread(ctx, &gateway.SweepUnreadRequest{Keys: []claims.Key{"+1", "+2"}})
	require.NoError(t, err)
	assert.Equal(t, []claims.Key{"+2"}, res.Keys)

	res, err = s.SweepUnread(ctx, &gateway.SweepUnreadRequest{Keys: []claims.Key{"+1", "+2"}})
	require.NoError(t, err)
	assert.Empty(t, res.Keys, "watermark advanced")

	res, err = s.SweepUnread(as("b"), &gateway.SweepUnreadRequest{Keys: []claims.Key{"+2"}})
	require.NoError(t, err)
	assert.Equal(t, []claims.Key{"+2"}, res.Keys, "watermarks are per agent")

	assert.ErrorIs(t, s.Message("+404"), claims.ErrNotFound)
}

func TestQueueCounts(t *testing.T) {
	s, _ := newTestStore(t)
	res, err := s.QueueCounts(as("a"), &gateway.QueueCountsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Unclaimed)
	assert.Equal(t, 1, res.Pending)

	_, err = s.CreateClaim(as("a"), &gateway.CreateClaimRequest{Key: "+2"})
	require.NoError(t, err)
	res, err = s.QueueCounts(as("a"), &gateway.QueueCountsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unclaimed)
	assert.Equal(t, 0, res.Pending)
}

func TestAdminOperations(t *testing.T) {
	s, p := newTestStore(t)
	_, err := s.CreateClaim(as("a"), &gateway.CreateClaimRequest{Key: "+1"})
	require.NoError(t, err)

	t.Run("update", func(t *testing.T) {
		yes := true
		require.NoError(t, s.Update("+1", "o-9", "", &yes))
		evs := p.eventsFor("a")
		require.NotEmpty(t, evs)
		last := evs[len(evs)-1]
		assert.Equal(t, claims.EventClaimUpdated, last.Kind)
		assert.Equal(t, "o-9", last.OrderID)
		require.NotNil(t, last.Continuous)
		assert.True(t, *last.Continuous)
	})

	t.Run("swap", func(t *testing.T) {
		require.NoError(t, s.Message("+1"))
		require.NoError(t, s.Swap("+1", "+10"))
		assert.Equal(t, "a", s.Owner("+10"))
		assert.Empty(t, s.Owner("+1"))

		evs := p.eventsFor("a")
		last := evs[len(evs)-1]
		assert.Equal(t, claims.EventClaimSwapped, last.Kind)
		assert.Equal(t, claims.Key("+1"), last.Key)
		assert.Equal(t, claims.Key("+10"), last.NewKey)

		assert.ErrorIs(t, s.Swap("+10", "+2"), errKeyInUse)
		assert.ErrorIs(t, s.Swap("+404", "+5"), claims.ErrNotFound)
	})

	t.Run("revoke", func(t *testing.T) {
		require.NoError(t, s.Revoke("+10", "supervisor"))
		assert.Empty(t, s.Owner("+10"))

		evs := p.eventsFor("a")
		last := evs[len(evs)-1]
		assert.Equal(t, claims.EventClaimRemoved, last.Kind)
		assert.Equal(t, "supervisor", last.RemovedBy)

		n := len(p.eventsFor("a"))
		require.NoError(t, s.Revoke("+10", "supervisor"))
		assert.Len(t, p.eventsFor("a"), n, "no owner, no push")
	})

	t.Run("admin transfer", func(t *testing.T) {
		require.NoError(t, s.Transfer("+2", "b", "supervisor"))
		assert.Equal(t, "b", s.Owner("+2"))
		evs := p.eventsFor("b")
		require.NotEmpty(t, evs)
		assert.Equal(t, "supervisor", evs[len(evs)-1].TransferredBy)
	})
}
