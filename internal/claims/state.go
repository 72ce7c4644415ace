package claims

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// State is one immutable snapshot of the claim cache. Every method returns a
// new State and leaves the receiver untouched, so a snapshot handed to a
// subscriber never changes underneath it.
//
// Operations on the same key re-check the current entry by key and
// generation instead of trusting the state they were issued against. That is
// what makes a push win over a late confirmation regardless of arrival order.
type State struct {
	self    string
	claimed []ClaimedEntry
	viewed  []ViewedEntry
	unread  map[Key]bool
	active  Page
	counts  Counts
	gen     uint64

	// removed holds the generation at which each key last left claimed.
	removed map[Key]uint64
	// lookups holds the active page at the time a view lookup started.
	lookups map[Key]Page
}

// NewState returns an empty cache for agent self, seeded with persisted
// unread flags.
func NewState(self string, unread map[Key]bool) State {
	s := State{
		self:    self,
		unread:  make(map[Key]bool, len(unread)),
		removed: make(map[Key]uint64),
		lookups: make(map[Key]Page),
	}
	for k, v := range unread {
		if v {
			s.unread[k] = true
		}
	}
	return s
}

// Self returns the signed-in agent's user id.
func (s State) Self() string { return s.self }

// Claimed returns a copy of the claimed entries in insertion order.
func (s State) Claimed() []ClaimedEntry { return slices.Clone(s.claimed) }

// Viewed returns a copy of the viewed entries in insertion order.
func (s State) Viewed() []ViewedEntry { return slices.Clone(s.viewed) }

// Claim returns the claimed entry for key.
func (s State) Claim(key Key) (ClaimedEntry, bool) {
	if i := s.indexClaim(key); i >= 0 {
		return s.claimed[i], true
	}
	return ClaimedEntry{}, false
}

// View returns the viewed entry for key.
func (s State) View(key Key) (ViewedEntry, bool) {
	if i := s.indexView(key); i >= 0 {
		return s.viewed[i], true
	}
	return ViewedEntry{}, false
}

// Unread returns a copy of the unread flags.
func (s State) Unread() map[Key]bool { return maps.Clone(s.unread) }

// IsUnread reports whether key has an unread message.
func (s State) IsUnread(key Key) bool { return s.unread[key] }

// Active returns the agent's active page.
func (s State) Active() Page { return s.active }

// Counts returns the last polled queue counts.
func (s State) Counts() Counts { return s.counts }

// Keys returns every claimed and viewed key, the input of the message sweep.
func (s State) Keys() []Key {
	keys := make([]Key, 0, len(s.claimed)+len(s.viewed))
	for _, e := range s.claimed {
		keys = append(keys, e.Key)
	}
	for _, e := range s.viewed {
		keys = append(keys, e.Key)
	}
	return keys
}

// Generation returns the latest generation handed out. Record it before
// fetching a claim list and pass it to SyncClaims.
func (s State) Generation() uint64 { return s.gen }

// Validate checks the structural invariants: one claimed entry per key, one
// viewed entry per key, and no key both claimed and viewed.
func (s State) Validate() error {
	claimed := make(map[Key]bool, len(s.claimed))
	for _, e := range s.claimed {
		if claimed[e.Key] {
			return fmt.Errorf("key %s claimed twice", e.Key)
		}
		claimed[e.Key] = true
	}
	viewed := make(map[Key]bool, len(s.viewed))
	for _, e := range s.viewed {
		if viewed[e.Key] {
			return fmt.Errorf("key %s viewed twice", e.Key)
		}
		if claimed[e.Key] {
			return fmt.Errorf("key %s both claimed and viewed", e.Key)
		}
		viewed[e.Key] = true
	}
	return nil
}

func (s State) clone() State {
	n := s
	n.claimed = slices.Clone(s.claimed)
	n.viewed = slices.Clone(s.viewed)
	n.unread = maps.Clone(s.unread)
	if n.unread == nil {
		n.unread = make(map[Key]bool)
	}
	n.removed = maps.Clone(s.removed)
	if n.removed == nil {
		n.removed = make(map[Key]uint64)
	}
	n.lookups = maps.Clone(s.lookups)
	if n.lookups == nil {
		n.lookups = make(map[Key]Page)
	}
	return n
}

func (s State) indexClaim(key Key) int {
	return slices.IndexFunc(s.claimed, func(e ClaimedEntry) bool { return e.Key == key })
}

func (s State) indexView(key Key) int {
	return slices.IndexFunc(s.viewed, func(e ViewedEntry) bool { return e.Key == key })
}

func (s State) isActive(key Key) bool {
	return s.active.Kind == PageConversation && s.active.Key == key
}

// The helpers below mutate and must only be called on a clone.

func (s *State) nextGen() uint64 {
	s.gen++
	return s.gen
}

func (s *State) removeClaimAt(i int) ClaimedEntry {
	old := s.claimed[i]
	s.claimed = slices.Delete(s.claimed, i, i+1)
	delete(s.unread, old.Key)
	s.removed[old.Key] = s.nextGen()
	return old
}

func (s *State) removeView(key Key) {
	if i := s.indexView(key); i >= 0 {
		s.viewed = slices.Delete(s.viewed, i, i+1)
	}
}

// putView inserts or replaces a viewed entry. Callers make sure the key is
// not claimed.
func (s *State) putView(v ViewedEntry) {
	if i := s.indexView(v.Key); i >= 0 {
		s.viewed[i] = v
		return
	}
	s.viewed = append(s.viewed, v)
}

// navigate moves the active page and applies what opening a page implies.
func (s *State) navigate(p Page) Effect {
	s.open(p)
	return Navigate{To: p}
}

func (s *State) open(p Page) {
	s.active = p
	if p.Kind != PageConversation {
		return
	}
	if i := s.indexClaim(p.Key); i >= 0 {
		s.claimed[i].Viewed = true
	}
	delete(s.unread, p.Key)
}

// dropClaim removes a claim the server took away. When the agent has a
// confirmed conversation open it keeps a read-only view of it; an unconfirmed
// one is discarded and the agent sent back to the queue.
func (s *State) dropClaim(i int, claimedUserID string) []Effect {
	old := s.removeClaimAt(i)
	effects := []Effect{Notice{Kind: NoticeClaimRemoved, Key: old.Key, Name: old.CustomerName}}
	if !s.isActive(old.Key) {
		return effects
	}
	if old.Pending {
		return append(effects, s.navigate(QueuePage))
	}
	s.putView(ViewedEntry{
		Key:           old.Key,
		CustomerID:    old.CustomerID,
		CustomerName:  old.CustomerName,
		ClaimedUserID: claimedUserID,
	})
	return append(effects, ViewOnly{Key: old.Key, ClaimedUserID: claimedUserID})
}

// BeginClaim optimistically inserts a pending entry for the intent and
// returns the generation the REST confirmation must carry. A zero generation
// means the key is already claimed and there is nothing to send.
func (s State) BeginClaim(in ClaimIntent) (State, uint64, []Effect) {
	if s.indexClaim(in.Key) >= 0 {
		n := s.clone()
		return n, 0, []Effect{n.navigate(ConversationPage(in.Key))}
	}

	n := s.clone()
	gen := n.nextGen()
	n.removeView(in.Key)
	n.claimed = append(n.claimed, ClaimedEntry{
		Key:          in.Key,
		TicketID:     in.TicketID,
		CustomerID:   in.CustomerID,
		CustomerName: in.CustomerName,
		OrderID:      in.OrderID,
		Continuous:   in.Continuous,
		ProviderID:   in.ProviderID,
		Viewed:       true,
		Pending:      true,
		Generation:   gen,
	})
	return n, gen, nil
}

func (s State) pendingAt(key Key, gen uint64) int {
	i := s.indexClaim(key)
	if i < 0 || !s.claimed[i].Pending || s.claimed[i].Generation != gen {
		return -1
	}
	return i
}

// ConfirmClaim commits the pending entry of generation gen with the server's
// canonical fields. It returns ErrStaleOperation when a push replaced or
// removed the entry in the meantime.
func (s State) ConfirmClaim(gen uint64, canonical ClaimedEntry) (State, []Effect, error) {
	i := s.pendingAt(canonical.Key, gen)
	if i < 0 {
		return s, nil, ErrStaleOperation
	}

	n := s.clone()
	old := n.claimed[i]
	e := canonical
	if e.TicketID == "" {
		e.TicketID = old.TicketID
	}
	if e.CustomerID == "" {
		e.CustomerID = old.CustomerID
	}
	if e.CustomerName == "" {
		e.CustomerName = old.CustomerName
	}
	if e.OrderID == "" {
		e.OrderID = old.OrderID
	}
	if e.ProviderID == "" {
		e.ProviderID = old.ProviderID
	}
	e.Viewed = old.Viewed || e.Viewed
	e.Pending = false
	e.Generation = n.nextGen()
	n.claimed[i] = e
	return n, nil, nil
}

// RejectClaim rolls back the pending entry of generation gen. A duplicate
// claim turns it into a view that records who owns the conversation.
func (s State) RejectClaim(key Key, gen uint64, err error) (State, []Effect, error) {
	i := s.pendingAt(key, gen)
	if i < 0 {
		return s, nil, ErrStaleOperation
	}

	n := s.clone()
	old := n.removeClaimAt(i)

	if dup, ok := IsDuplicate(err); ok {
		n.putView(ViewedEntry{
			Key:           key,
			CustomerID:    old.CustomerID,
			CustomerName:  old.CustomerName,
			ClaimedUserID: dup.ClaimedUserID,
		})
		effects := []Effect{Notice{Kind: NoticeDuplicateClaim, Key: key, Name: old.CustomerName, Err: err}}
		if n.isActive(key) {
			effects = append(effects, ViewOnly{Key: key, ClaimedUserID: dup.ClaimedUserID})
		}
		return n, effects, nil
	}

	kind := NoticeClaimFailed
	if IsTransient(err) {
		kind = NoticeNetworkError
	}
	effects := []Effect{Notice{Kind: kind, Key: key, Name: old.CustomerName, Err: err}}
	if n.isActive(key) {
		effects = append(effects, n.navigate(QueuePage))
	}
	return n, effects, nil
}

// RemoveClaim releases a claim locally. Removal never waits for the server
// and is never rolled back. Removing an absent key is a no-op.
func (s State) RemoveClaim(key Key, _ Reason) (State, []Effect) {
	i := s.indexClaim(key)
	if i < 0 {
		return s, nil
	}
	n := s.clone()
	n.removeClaimAt(i)
	if n.isActive(key) {
		return n, []Effect{n.navigate(QueuePage)}
	}
	return n, nil
}

// BeginView handles a view request. When the key is already claimed or
// viewed it only navigates; otherwise it reports that a lookup is needed and
// remembers the page the agent was on.
func (s State) BeginView(key Key) (State, bool, []Effect) {
	n := s.clone()
	if s.indexClaim(key) >= 0 || s.indexView(key) >= 0 {
		return n, false, []Effect{n.navigate(ConversationPage(key))}
	}
	n.lookups[key] = n.active
	return n, true, nil
}

// ResolveView inserts the looked-up view, unless a claim or view for the key
// appeared while the lookup was in flight. It navigates to the view only if
// the agent stayed on the page the lookup started from.
func (s State) ResolveView(key Key, l Lookup) (State, []Effect) {
	n := s.clone()
	from, tracked := n.lookups[key]
	delete(n.lookups, key)
	if n.indexClaim(key) < 0 && n.indexView(key) < 0 {
		claimedBy := l.ClaimedUserID
		if claimedBy == n.self {
			claimedBy = ""
		}
		n.viewed = append(n.viewed, ViewedEntry{
			Key:           key,
			CustomerID:    l.CustomerID,
			CustomerName:  l.CustomerName,
			ClaimedUserID: claimedBy,
		})
	}
	if tracked && n.active != from {
		return n, nil
	}
	return n, []Effect{n.navigate(ConversationPage(key))}
}

// FailView reports a failed lookup.
func (s State) FailView(key Key, err error) (State, []Effect) {
	kind := NoticeNetworkError
	if errors.Is(err, ErrNotFound) {
		kind = NoticeNotFound
	}
	n := s
	if _, ok := s.lookups[key]; ok {
		n = s.clone()
		delete(n.lookups, key)
	}
	return n, []Effect{Notice{Kind: kind, Key: key, Err: err}}
}

// CloseView drops a viewed entry.
func (s State) CloseView(key Key) (State, []Effect) {
	if s.indexView(key) < 0 {
		return s, nil
	}
	n := s.clone()
	n.removeView(key)
	if n.isActive(key) {
		return n, []Effect{n.navigate(QueuePage)}
	}
	return n, nil
}

// ApplyPush merges one realtime event. Applying the same event twice leaves
// the state as applying it once. Any push touching a key bumps its
// generation so an in-flight confirmation for that key goes stale.
func (s State) ApplyPush(ev Event) (State, []Effect, error) {
	switch ev.Kind {
	case EventClaimRemoved:
		return s.pushRemoved(ev)
	case EventClaimTransferred:
		return s.pushTransferred(ev)
	case EventClaimUpdated:
		return s.pushUpdated(ev)
	case EventClaimSwapped:
		return s.pushSwapped(ev)
	default:
		return s, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.RawKind)
	}
}

func (s State) pushRemoved(ev Event) (State, []Effect, error) {
	i := s.indexClaim(ev.Key)
	if i < 0 {
		return s, nil, nil
	}
	n := s.clone()
	return n, n.dropClaim(i, ev.RemovedBy), nil
}

func (s State) pushTransferred(ev Event) (State, []Effect, error) {
	i := s.indexClaim(ev.Key)

	if ev.ToUserID != "" && ev.ToUserID != s.self {
		// Ownership moved to someone else; the push beats whatever we hold.
		if i >= 0 {
			n := s.clone()
			return n, n.dropClaim(i, ev.ToUserID), nil
		}
		if j := s.indexView(ev.Key); j >= 0 && s.viewed[j].ClaimedUserID != ev.ToUserID {
			n := s.clone()
			n.viewed[j].ClaimedUserID = ev.ToUserID
			return n, nil, nil
		}
		return s, nil, nil
	}

	entry := ClaimedEntry{
		Key:           ev.Key,
		TicketID:      ev.TicketID,
		CustomerID:    ev.CustomerID,
		CustomerName:  ev.CustomerName,
		OrderID:       ev.OrderID,
		ProviderID:    ev.ProviderID,
		TransferredBy: ev.TransferredBy,
	}
	if ev.Continuous != nil {
		entry.Continuous = *ev.Continuous
	}

	if i >= 0 {
		old := s.claimed[i]
		if ev.Continuous == nil {
			entry.Continuous = old.Continuous
		}
		merged := mergeClaim(old, entry)
		if !old.Pending && sameClaim(old, merged) {
			return s, nil, nil
		}
		n := s.clone()
		merged.Pending = false
		merged.Generation = n.nextGen()
		n.claimed[i] = merged
		return n, nil, nil
	}

	n := s.clone()
	entry.Generation = n.nextGen()
	entry.Viewed = n.isActive(ev.Key)
	n.removeView(ev.Key)
	n.claimed = append(n.claimed, entry)
	return n, []Effect{Notice{Kind: NoticeIncomingTransfer, Key: ev.Key, Name: entry.CustomerName}}, nil
}

func (s State) pushUpdated(ev Event) (State, []Effect, error) {
	i := s.indexClaim(ev.Key)
	if i < 0 {
		return s, nil, nil
	}
	old := s.claimed[i]
	patch := ClaimedEntry{
		TicketID:      ev.TicketID,
		CustomerID:    ev.CustomerID,
		CustomerName:  ev.CustomerName,
		OrderID:       ev.OrderID,
		ProviderID:    ev.ProviderID,
		TransferredBy: ev.TransferredBy,
		Continuous:    old.Continuous,
	}
	if ev.Continuous != nil {
		patch.Continuous = *ev.Continuous
	}
	merged := mergeClaim(old, patch)
	if !old.Pending && sameClaim(old, merged) {
		return s, nil, nil
	}
	n := s.clone()
	merged.Pending = false
	merged.Generation = n.nextGen()
	n.claimed[i] = merged
	return n, []Effect{Notice{Kind: NoticeClaimUpdated, Key: ev.Key, Name: merged.CustomerName}}, nil
}

func (s State) pushSwapped(ev Event) (State, []Effect, error) {
	i := s.indexClaim(ev.Key)
	if i < 0 || ev.NewKey == "" || ev.NewKey == ev.Key {
		return s, nil, nil
	}

	n := s.clone()
	moved := n.claimed[i]
	moved.Key = ev.NewKey
	moved.Pending = false
	moved.Generation = n.nextGen()

	if j := n.indexClaim(ev.NewKey); j >= 0 {
		// Already holding the new key: the old entry just goes away.
		n.claimed = slices.Delete(n.claimed, i, i+1)
	} else {
		n.claimed[i] = moved
	}
	n.removed[ev.Key] = moved.Generation
	n.removeView(ev.NewKey)

	if n.unread[ev.Key] {
		n.unread[ev.NewKey] = true
	}
	delete(n.unread, ev.Key)

	effects := []Effect{Notice{Kind: NoticeClaimSwapped, Key: ev.NewKey, Name: moved.CustomerName}}
	if n.isActive(ev.Key) {
		effects = append(effects, n.navigate(ConversationPage(ev.NewKey)))
	}
	return n, effects, nil
}

// mergeClaim overlays the non-empty fields of patch on old.
func mergeClaim(old, patch ClaimedEntry) ClaimedEntry {
	e := old
	if patch.TicketID != "" {
		e.TicketID = patch.TicketID
	}
	if patch.CustomerID != "" {
		e.CustomerID = patch.CustomerID
	}
	if patch.CustomerName != "" {
		e.CustomerName = patch.CustomerName
	}
	if patch.OrderID != "" {
		e.OrderID = patch.OrderID
	}
	if patch.ProviderID != "" {
		e.ProviderID = patch.ProviderID
	}
	if patch.TransferredBy != "" {
		e.TransferredBy = patch.TransferredBy
	}
	e.Continuous = patch.Continuous
	return e
}

// sameClaim compares the server-owned fields of two entries.
func sameClaim(a, b ClaimedEntry) bool {
	return a.Key == b.Key &&
		a.TicketID == b.TicketID &&
		a.CustomerID == b.CustomerID &&
		a.CustomerName == b.CustomerName &&
		a.OrderID == b.OrderID &&
		a.Continuous == b.Continuous &&
		a.ProviderID == b.ProviderID &&
		a.TransferredBy == b.TransferredBy
}

// ApplyPollResult merges the keys the message sweep reported as having new
// messages. Keys the agent neither claims nor views are ignored. The active
// conversation gets a refresh signal instead of an unread flag, and one
// aggregate notice covers every other key.
func (s State) ApplyPollResult(keys []Key) (State, []Effect) {
	n := s.clone()
	var effects []Effect
	flagged := 0
	seen := make(map[Key]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if n.indexClaim(k) < 0 && n.indexView(k) < 0 {
			continue
		}
		if n.isActive(k) {
			effects = append(effects, NewMessageOnPage{Key: k})
			continue
		}
		n.unread[k] = true
		flagged++
	}
	if flagged > 0 {
		effects = append(effects, Notice{Kind: NoticeNewMessages, Count: flagged})
	}
	return n, effects
}

// ClearUnread clears the unread flag of key.
func (s State) ClearUnread(key Key) State {
	if !s.unread[key] {
		return s
	}
	n := s.clone()
	delete(n.unread, key)
	return n
}

// OpenPage records the agent's navigation. Opening a conversation marks a
// transferred claim as viewed and clears its unread flag.
func (s State) OpenPage(p Page) State {
	n := s.clone()
	n.open(p)
	return n
}

// SetCounts stores the last polled queue counts.
func (s State) SetCounts(c Counts) State {
	n := s
	n.counts = c
	return n
}

// SyncClaims reconciles the cache against a server claim list requested when
// the cache stood at generation since. The list is authoritative for
// confirmed entries that have not changed since then. Pending entries, and
// entries claimed, pushed or released after since, are newer than the list
// and are left alone.
func (s State) SyncClaims(since uint64, server []ClaimedEntry) (State, []Effect) {
	n := s.clone()
	var effects []Effect
	onServer := make(map[Key]bool, len(server))

	for _, e := range server {
		onServer[e.Key] = true
		i := n.indexClaim(e.Key)
		if i < 0 {
			if n.removed[e.Key] > since {
				continue
			}
			e.Pending = false
			e.Generation = n.nextGen()
			e.Viewed = e.Viewed || n.isActive(e.Key)
			n.removeView(e.Key)
			n.claimed = append(n.claimed, e)
			continue
		}
		old := n.claimed[i]
		if old.Pending || old.Generation > since || sameClaim(old, e) {
			continue
		}
		e.Viewed = old.Viewed
		e.Pending = false
		e.Generation = n.nextGen()
		n.claimed[i] = e
	}

	for i := len(n.claimed) - 1; i >= 0; i-- {
		e := n.claimed[i]
		if e.Pending || e.Generation > since || onServer[e.Key] {
			continue
		}
		effects = append(effects, n.dropClaim(i, "")...)
	}
	return n, effects
}

// Reset empties the cache for a new session of agent self. Unread flags
// survive because they are persisted independently of the session.
func (s State) Reset(self string) State {
	n := NewState(self, s.unread)
	n.gen = s.gen
	return n
}
