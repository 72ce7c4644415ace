package claims

// Effect is a side-effect instruction for the notification bridge. The set is
// closed: Notice, Navigate, ViewOnly and NewMessageOnPage.
type Effect interface {
	effect()
}

// NoticeKind classifies a user-facing notice.
type NoticeKind int

const (
	NoticeDuplicateClaim NoticeKind = iota
	NoticeClaimFailed
	NoticeNetworkError
	NoticeRemovalFailed
	NoticeClaimRemoved
	NoticeIncomingTransfer
	NoticeClaimUpdated
	NoticeClaimSwapped
	NoticeNewMessages
	NoticeNotFound
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeDuplicateClaim:
		return "duplicate_claim"
	case NoticeClaimFailed:
		return "claim_failed"
	case NoticeNetworkError:
		return "network_error"
	case NoticeRemovalFailed:
		return "removal_failed"
	case NoticeClaimRemoved:
		return "claim_removed"
	case NoticeIncomingTransfer:
		return "incoming_transfer"
	case NoticeClaimUpdated:
		return "claim_updated"
	case NoticeClaimSwapped:
		return "claim_swapped"
	case NoticeNewMessages:
		return "new_messages"
	case NoticeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Notice asks the bridge to show a toast.
type Notice struct {
	Kind NoticeKind
	Key  Key
	// Name is the customer's display name, untrusted.
	Name string
	// Count is set on NoticeNewMessages.
	Count int
	// Err is set on failure notices.
	Err error
}

// Navigate asks the bridge to move the agent to another page.
type Navigate struct {
	To Page
}

// ViewOnly tells the open conversation page it lost the claim and must
// switch to read-only mode.
type ViewOnly struct {
	Key           Key
	ClaimedUserID string
}

// NewMessageOnPage tells the open conversation page to refresh instead of
// badging itself.
type NewMessageOnPage struct {
	Key Key
}

func (Notice) effect()           {}
func (Navigate) effect()         {}
func (ViewOnly) effect()         {}
func (NewMessageOnPage) effect() {}
