// Package claims holds the agent-side claim cache: the conversations the
// signed-in agent exclusively owns, the conversations it is peeking at, and
// the reconciliation rules that merge local intents, realtime pushes and poll
// results into one consistent view.
package claims

// Key identifies a conversation. It is the customer's phone number and is
// stable across claim, transfer and resolve; only a claim_swapped push
// re-keys an entry.
type Key string

// ClaimedEntry is a conversation exclusively owned by the signed-in agent.
type ClaimedEntry struct {
	Key           Key    `json:"key"`
	TicketID      string `json:"ticket_id"`
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name"`
	OrderID       string `json:"order_id,omitempty"`
	Continuous    bool   `json:"continuous,omitempty"`
	ProviderID    string `json:"provider_id,omitempty"`
	TransferredBy string `json:"transferred_by,omitempty"`

	// Viewed is false for a freshly transferred conversation the agent has
	// not opened yet.
	Viewed bool `json:"viewed"`

	// Pending is set while the claimCreate call is in flight.
	Pending bool `json:"pending"`

	// Generation tags the last write to this entry. A confirmation carrying
	// an older generation is stale.
	Generation uint64 `json:"-"`
}

// ViewedEntry is a read-only peek at a conversation the agent does not own.
type ViewedEntry struct {
	Key          Key    `json:"key"`
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name"`

	// ClaimedUserID is the agent currently holding the claim, if any.
	ClaimedUserID string `json:"claimed_user_id,omitempty"`
}

// Counts are the queue badges refreshed by the count sweep.
type Counts struct {
	Unclaimed int `json:"unclaimed"`
	Pending   int `json:"pending"`
}

// PageKind is the kind of screen the agent currently has open.
type PageKind int

const (
	PageOther PageKind = iota
	PageQueue
	PageConversation
)

func (k PageKind) String() string {
	switch k {
	case PageQueue:
		return "queue"
	case PageConversation:
		return "conversation"
	default:
		return "other"
	}
}

// Page is the agent's active page. Key is only set for PageConversation.
type Page struct {
	Kind PageKind
	Key  Key
}

// QueuePage is where the agent lands after the open conversation goes away.
var QueuePage = Page{Kind: PageQueue}

// ConversationPage returns the page for one conversation.
func ConversationPage(key Key) Page {
	return Page{Kind: PageConversation, Key: key}
}

// Reason says why a claim is being released.
type Reason int

const (
	ReasonResolve Reason = iota
	ReasonDecline
	ReasonProviderReturn
	ReasonTransferOut
)

func (r Reason) String() string {
	switch r {
	case ReasonResolve:
		return "resolve"
	case ReasonDecline:
		return "decline"
	case ReasonProviderReturn:
		return "provider_return"
	case ReasonTransferOut:
		return "transfer_out"
	default:
		return "unknown"
	}
}

// ClaimIntent is the agent's request to claim a conversation.
type ClaimIntent struct {
	Key          Key
	TicketID     string
	CustomerID   string
	CustomerName string
	OrderID      string
	Continuous   bool
	ProviderID   string
}

// Lookup is the result of resolving a key for a view request.
type Lookup struct {
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name"`
	ClaimedUserID string `json:"claimed_user_id,omitempty"`
}
