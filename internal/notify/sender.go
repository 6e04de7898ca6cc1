// Package notify sends text messages to requesters over the chat transport.
package notify

import (
	"context"
	"log/slog"
)

// Sender delivers one text message to one recipient.
type Sender interface {
	Send(ctx context.Context, recipient string, text string) error
}

// LogSender writes messages to the log instead of a chat. Used when no bot
// token is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, recipient string, text string) error {
	slog.Info("Outbound message", "recipient", recipient, "text", text)
	return nil
}
