package claims

import "time"

// EventKind enumerates the ownership changes the server pushes.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventClaimRemoved
	EventClaimTransferred
	EventClaimUpdated
	EventClaimSwapped
)

// Wire names of the push kinds. "claim_transfered" is spelled the way the
// server sends it.
const (
	KindClaimRemoved     = "claim_removed"
	KindClaimTransferred = "claim_transfered"
	KindClaimUpdated     = "claim_updated"
	KindClaimSwapped     = "claim_swapped"
)

// ParseEventKind maps a wire name to an EventKind. Unrecognized names map to
// EventUnknown.
func ParseEventKind(s string) EventKind {
	switch s {
	case KindClaimRemoved:
		return EventClaimRemoved
	case KindClaimTransferred:
		return EventClaimTransferred
	case KindClaimUpdated:
		return EventClaimUpdated
	case KindClaimSwapped:
		return EventClaimSwapped
	default:
		return EventUnknown
	}
}

func (k EventKind) String() string {
	switch k {
	case EventClaimRemoved:
		return KindClaimRemoved
	case EventClaimTransferred:
		return KindClaimTransferred
	case EventClaimUpdated:
		return KindClaimUpdated
	case EventClaimSwapped:
		return KindClaimSwapped
	default:
		return "unknown"
	}
}

// Event is one decoded push. Fields not carried by a kind are left zero.
type Event struct {
	ID   string
	Kind EventKind
	// RawKind is the wire name, kept for logging unknown kinds.
	RawKind string
	Time    time.Time

	Key Key

	// claim_transfered
	ToUserID      string
	TransferredBy string

	// claim_transfered, claim_updated
	TicketID     string
	CustomerID   string
	CustomerName string
	OrderID      string
	ProviderID   string
	Continuous   *bool

	// claim_swapped
	NewKey Key

	// claim_removed
	RemovedBy string
}
