package devserver

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/gateway"
	"github.com/leapmux/claimsync/internal/id"
)

var (
	errUnknownToken  = errors.New("unknown token")
	errNotOwner      = errors.New("conversation is not claimed by the caller")
	errUnknownAgent  = errors.New("unknown agent")
	errKeyInUse      = errors.New("key already exists")
	errMissingKey    = errors.New("key is required")
	errInvalidReason = errors.New("invalid reason")
)

// Pusher delivers an event to every connection of one agent.
type Pusher interface {
	Push(agentID string, ev claims.Event)
}

type conversation struct {
	claim    gateway.Claim
	owner    string
	messages int
}

// Store is the server of record: agents and their tokens, conversations and
// who owns them, and per-agent message watermarks for unread sweeps. It
// implements gateway.Service.
type Store struct {
	pusher Pusher

	mu     sync.Mutex
	tokens map[string]string
	agents map[string]bool
	convs  map[claims.Key]*conversation
	seen   map[string]map[claims.Key]int
}

var _ gateway.Service = (*Store)(nil)

// NewStore returns an empty store that reports ownership changes to pusher.
func NewStore(pusher Pusher) *Store {
	return &Store{
		pusher: pusher,
		tokens: make(map[string]string),
		agents: make(map[string]bool),
		convs:  make(map[claims.Key]*conversation),
		seen:   make(map[string]map[claims.Key]int),
	}
}

// AddAgent registers agentID with token. An empty token is generated.
func (s *Store) AddAgent(agentID, token string) string {
	if token == "" {
		token = id.Generate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = agentID
	s.agents[agentID] = true
	return token
}

// ValidateToken resolves a bearer token to its agent.
func (s *Store) ValidateToken(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agentID, ok := s.tokens[token]
	if !ok {
		return "", errUnknownToken
	}
	return agentID, nil
}

// AddConversation puts an unclaimed conversation in the inbound queue.
func (s *Store) AddConversation(c gateway.Claim) error {
	if c.Key == "" {
		return errMissingKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[c.Key]; ok {
		return fmt.Errorf("%w: %s", errKeyInUse, c.Key)
	}
	s.convs[c.Key] = &conversation{claim: c}
	return nil
}

// Owner returns the agent holding key, or "".
func (s *Store) Owner(key claims.Key) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[key]; ok {
		return c.owner
	}
	return ""
}

func (s *Store) push(agentID string, ev claims.Event) {
	if agentID == "" || s.pusher == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Time = time.Now().UTC()
	s.pusher.Push(agentID, ev)
}

func (s *Store) ownedBy(key claims.Key, agentID string) (*conversation, error) {
	c, ok := s.convs[key]
	if !ok || c.owner != agentID {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("%w: %s", errNotOwner, key))
	}
	return c, nil
}

func (s *Store) CreateClaim(ctx context.Context, req *gateway.CreateClaimRequest) (*gateway.CreateClaimResponse, error) {
	agentID, err := gateway.MustGetAgent(ctx)
	if err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[req.Key]
	if !ok {
		c = &conversation{claim: gateway.Claim{Key: req.Key}}
		s.convs[req.Key] = c
	}
	switch c.owner {
	case agentID:
		return &gateway.CreateClaimResponse{Claim: c.claim}, nil
	case "":
	default:
		return nil, &claims.DuplicateClaimError{Key: req.Key, ClaimedUserID: c.owner}
	}

	fill(&c.claim.TicketID, req.TicketID)
	fill(&c.claim.CustomerID, req.CustomerID)
	fill(&c.claim.CustomerName, req.CustomerName)
	fill(&c.claim.OrderID, req.OrderID)
	fill(&c.claim.ProviderID, req.ProviderID)
	c.claim.Continuous = c.claim.Continuous || req.Continuous
	if c.claim.TicketID == "" {
		c.claim.TicketID = id.Prefixed("tkt")
	}
	c.claim.TransferredBy = ""
	c.owner = agentID
	return &gateway.CreateClaimResponse{Claim: c.claim}, nil
}

func fill(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// RemoveClaim releases the caller's claim. A resolved or returned
// conversation leaves the queue; a declined one goes back to it.
func (s *Store) RemoveClaim(ctx context.Context, req *gateway.RemoveClaimRequest) (*gateway.RemoveClaimResponse, error) {
	agentID, err := gateway.MustGetAgent(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ownedBy(req.Key, agentID)
	if err != nil {
		return nil, err
	}
	switch req.Reason {
	case claims.ReasonResolve.String(), claims.ReasonProviderReturn.String():
		delete(s.convs, req.Key)
	case claims.ReasonDecline.String():
		c.owner = ""
		c.claim.TicketID = ""
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%w: %q", errInvalidReason, req.Reason))
	}
	return &gateway.RemoveClaimResponse{}, nil
}

func (s *Store) TransferClaim(ctx context.Context, req *gateway.TransferClaimRequest) (*gateway.TransferClaimResponse, error) {
	agentID, err := gateway.MustGetAgent(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedBy(req.Key, agentID); err != nil {
		return nil, err
	}
	if err := s.transferLocked(req.Key, req.TargetUserID, agentID); err != nil {
		return nil, err
	}
	return &gateway.TransferClaimResponse{}, nil
}

// transferLocked moves key to target. The new owner gets the full claim;
// the previous owner learns it lost it.
func (s *Store) transferLocked(key claims.Key, target, by string) error {
	if !s.agents[target] {
		return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%w: %s", errUnknownAgent, target))
	}
	c, ok := s.convs[key]
	if !ok {
		return fmt.Errorf("%w: %s", claims.ErrNotFound, key)
	}
	prev := c.owner
	c.owner = target
	c.claim.TransferredBy = by

	continuous := c.claim.Continuous
	ev := claims.Event{
		Kind:          claims.EventClaimTransferred,
		Key:           key,
		ToUserID:      target,
		TransferredBy: by,
		TicketID:      c.claim.TicketID,
		CustomerID:    c.claim.CustomerID,
		CustomerName:  c.claim.CustomerName,
		OrderID:       c.claim.OrderID,
		ProviderID:    c.claim.ProviderID,
		Continuous:    &continuous,
	}
	s.push(target, ev)
	if prev != "" && prev != target {
		s.push(prev, ev)
	}
	return nil
}

func (s *Store) ListClaims(ctx context.Context, _ *gateway.ListClaimsRequest) (*gateway.ListClaimsResponse, error) {
	agentID, err := gateway.MustGetAgent(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := []gateway.Claim{}
	for _, c := range s.convs {
		if c.owner == agentID {
			list = append(list, c.claim)
		}
	}
	slices.SortFunc(list, func(a, b gateway.Claim) int { return cmp.Compare(a.Key, b.Key) })
	return &gateway.ListClaimsResponse{Claims: list}, nil
}

func (s *Store) Lookup(ctx context.Context, req *gateway.LookupRequest) (*gateway.LookupResponse, error) {
	if _, err := gateway.MustGetAgent(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[req.Key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", claims.ErrNotFound, req.Key)
	}
	return &gateway.LookupResponse{
		CustomerID:    c.claim.CustomerID,
		CustomerName:  c.claim.CustomerName,
		ClaimedUserID: c.owner,
	}, nil
}

// SweepUnread returns the keys that received messages since the caller's
// previous sweep and advances the caller's watermarks.
func (s *Store) SweepUnread(ctx context.Context, req *gateway.SweepUnreadRequest) (*gateway.SweepUnreadResponse, error) {
	agentID, err := gateway.MustGetAgent(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := s.seen[agentID]
	if seen == nil {
		seen = make(map[claims.Key]int)
		s.seen[agentID] = seen
	}
	keys := []claims.Key{}
	for _, k := range req.Keys {
		c, ok := s.convs[k]
		if !ok {
			continue
		}
		if c.messages > seen[k] {
			keys = append(keys, k)
			seen[k] = c.messages
		}
	}
	return &gateway.SweepUnreadResponse{Keys: keys}, nil
}

// QueueCounts counts unclaimed conversations; those carrying an order are
// also counted as pending orders.
func (s *Store) QueueCounts(ctx context.Context, _ *gateway.QueueCountsRequest) (*gateway.QueueCountsResponse, error) {
	if _, err := gateway.MustGetAgent(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res gateway.QueueCountsResponse
	for _, c := range s.convs {
		if c.owner != "" {
			continue
		}
		res.Unclaimed++
		if c.claim.OrderID != "" {
			res.Pending++
		}
	}
	return &res, nil
}

// Revoke takes key away from its owner as an administrator.
func (s *Store) Revoke(key claims.Key, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[key]
	if !ok {
		return fmt.Errorf("%w: %s", claims.ErrNotFound, key)
	}
	prev := c.owner
	c.owner = ""
	s.push(prev, claims.Event{Kind: claims.EventClaimRemoved, Key: key, RemovedBy: by})
	return nil
}

// Transfer reassigns key to target as an administrator.
func (s *Store) Transfer(key claims.Key, target, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferLocked(key, target, by)
}

// Swap re-keys a conversation, e.g. after the customer changed numbers.
func (s *Store) Swap(oldKey, newKey claims.Key) error {
	if newKey == "" {
		return errMissingKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[oldKey]
	if !ok {
		return fmt.Errorf("%w: %s", claims.ErrNotFound, oldKey)
	}
	if _, ok := s.convs[newKey]; ok {
		return fmt.Errorf("%w: %s", errKeyInUse, newKey)
	}
	delete(s.convs, oldKey)
	c.claim.Key = newKey
	s.convs[newKey] = c
	for _, seen := range s.seen {
		if n, ok := seen[oldKey]; ok {
			seen[newKey] = n
			delete(seen, oldKey)
		}
	}
	s.push(c.owner, claims.Event{Kind: claims.EventClaimSwapped, Key: oldKey, NewKey: newKey})
	return nil
}

// Update changes a conversation's order fields and tells its owner.
func (s *Store) Update(key claims.Key, orderID, providerID string, continuous *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[key]
	if !ok {
		return fmt.Errorf("%w: %s", claims.ErrNotFound, key)
	}
	fill(&c.claim.OrderID, orderID)
	fill(&c.claim.ProviderID, providerID)
	if continuous != nil {
		c.claim.Continuous = *continuous
	}
	s.push(c.owner, claims.Event{
		Kind:       claims.EventClaimUpdated,
		Key:        key,
		TicketID:   c.claim.TicketID,
		OrderID:    orderID,
		ProviderID: providerID,
		Continuous: continuous,
	})
	return nil
}

// Message records an inbound customer message on key.
func (s *Store) Message(key claims.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[key]
	if !ok {
		return fmt.Errorf("%w: %s", claims.ErrNotFound, key)
	}
	c.messages++
	return nil
}
