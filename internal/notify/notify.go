// Package notify turns claim cache effects into toasts and navigation for
// whatever surface the agent is using.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapmux/claimsync/internal/claims"
	"github.com/leapmux/claimsync/internal/id"
	"github.com/leapmux/claimsync/internal/util/sanitize"
)

// maxNameLen caps customer names shown in toasts.
const maxNameLen = 64

// Toast is a dismissible notice.
type Toast struct {
	ID    string
	Level slog.Level
	Kind  claims.NoticeKind
	Key   claims.Key
	Text  string
}

// Sink is the UI side of the bridge.
type Sink interface {
	Toast(t Toast)
	Navigate(p claims.Page)
	// Refresh tells the open conversation page new messages arrived.
	Refresh(key claims.Key)
	// ViewOnly tells the open conversation page it lost its claim.
	ViewOnly(key claims.Key, claimedUserID string)
}

// Bridge dispatches effects to a Sink.
type Bridge struct {
	sink Sink
}

// NewBridge creates a bridge writing to sink.
func NewBridge(sink Sink) *Bridge {
	return &Bridge{sink: sink}
}

// Run dispatches every update received on sub until ctx is done.
func (b *Bridge) Run(ctx context.Context, sub *claims.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-sub.C():
			b.Dispatch(u.Effects)
		}
	}
}

// Dispatch hands effects to the sink in order.
func (b *Bridge) Dispatch(effects []claims.Effect) {
	for _, e := range effects {
		switch e := e.(type) {
		case claims.Notice:
			b.sink.Toast(ToastFor(e))
		case claims.Navigate:
			b.sink.Navigate(e.To)
		case claims.ViewOnly:
			b.sink.ViewOnly(e.Key, e.ClaimedUserID)
		case claims.NewMessageOnPage:
			b.sink.Refresh(e.Key)
		}
	}
}

// ToastFor renders a notice. Customer names are sanitized; the key stands
// in when there is no usable name.
func ToastFor(n claims.Notice) Toast {
	name := sanitize.DisplayText(n.Name, maxNameLen)
	if name == "" {
		name = string(n.Key)
	}

	t := Toast{ID: id.Prefixed("toast"), Level: slog.LevelInfo, Kind: n.Kind, Key: n.Key}
	switch n.Kind {
	case claims.NoticeDuplicateClaim:
		t.Level = slog.LevelWarn
		t.Text = fmt.Sprintf("%s is already being handled by another agent", name)
	case claims.NoticeClaimFailed:
		t.Level = slog.LevelError
		t.Text = fmt.Sprintf("Could not claim %s", name)
	case claims.NoticeNetworkError:
		t.Level = slog.LevelError
		t.Text = "Network error, please try again"
	case claims.NoticeRemovalFailed:
		t.Level = slog.LevelWarn
		t.Text = fmt.Sprintf("The server did not confirm releasing %s", name)
	case claims.NoticeClaimRemoved:
		t.Level = slog.LevelWarn
		t.Text = fmt.Sprintf("%s is no longer assigned to you", name)
	case claims.NoticeIncomingTransfer:
		t.Text = fmt.Sprintf("%s was transferred to you", name)
	case claims.NoticeClaimUpdated:
		t.Text = fmt.Sprintf("Details for %s changed", name)
	case claims.NoticeClaimSwapped:
		t.Text = fmt.Sprintf("%s moved to a new number", name)
	case claims.NoticeNewMessages:
		if n.Count == 1 {
			t.Text = "New message in 1 conversation"
		} else {
			t.Text = fmt.Sprintf("New messages in %d conversations", n.Count)
		}
	case claims.NoticeNotFound:
		t.Level = slog.LevelWarn
		t.Text = fmt.Sprintf("No conversation found for %s", n.Key)
	default:
		t.Text = n.Kind.String()
	}
	return t
}

// LogSink writes everything to slog. The headless agent uses it.
type LogSink struct{}

func (LogSink) Toast(t Toast) {
	slog.Log(context.Background(), t.Level, t.Text, "kind", t.Kind.String(), "key", t.Key, "toast_id", t.ID)
}

func (LogSink) Navigate(p claims.Page) {
	slog.Info("navigate", "page", p.Kind.String(), "key", p.Key)
}

func (LogSink) Refresh(key claims.Key) {
	slog.Info("new message on open conversation", "key", key)
}

func (LogSink) ViewOnly(key claims.Key, claimedUserID string) {
	slog.Warn("conversation switched to view-only", "key", key, "claimed_user_id", claimedUserID)
}
