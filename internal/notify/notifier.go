package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/EternisAI/mailbroker/internal/engine"
)

// Notifier renders engine notices as chat messages.
type Notifier struct {
	sender Sender
}

func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

func (n *Notifier) Notify(ctx context.Context, notice engine.Notice) error {
	return n.sender.Send(ctx, notice.RequesterID, Render(notice))
}

func Render(n engine.Notice) string {
	switch n.Kind {
	case engine.NoticeDelivered:
		var b strings.Builder
		fmt.Fprintf(&b, "New message for %s\n", n.Address)
		if n.Code != "" {
			fmt.Fprintf(&b, "Code: %s\n", n.Code)
		} else {
			b.WriteString("No code found in the message.\n")
		}
		if n.Content != "" {
			fmt.Fprintf(&b, "\n%s", n.Content)
		}
		return strings.TrimRight(b.String(), "\n")
	case engine.NoticeProgress:
		return fmt.Sprintf("Still waiting for a message at %s (%d checks so far).", n.Address, n.Attempt)
	case engine.NoticeTimeout:
		return fmt.Sprintf("Stopped waiting for a message at %s after %d checks. The account was released.", n.Address, n.Attempt)
	default:
		return fmt.Sprintf("Update for %s.", n.Address)
	}
}

var _ engine.Notifier = (*Notifier)(nil)
