package engine

import "context"

type NoticeKind string

const (
	NoticeDelivered NoticeKind = "delivered"
	NoticeProgress  NoticeKind = "progress"
	NoticeTimeout   NoticeKind = "timeout"
)

// Notice is an outbound message produced by a polling loop.
type Notice struct {
	Kind        NoticeKind
	RequesterID string
	Address     string
	// Code is empty when no code could be extracted from Content.
	Code    string
	Content string
	Attempt int
}

// Notifier delivers notices to requesters. Errors are logged by the engine
// and never retried.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

type NotifierFunc func(ctx context.Context, n Notice) error

func (f NotifierFunc) Notify(ctx context.Context, n Notice) error {
	return f(ctx, n)
}
