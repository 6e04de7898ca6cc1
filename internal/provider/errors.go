package provider

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// KindTransport covers timeouts, connection failures and non-2xx replies.
	KindTransport Kind = "transport"
	// KindUpstream is a well-formed reply whose payload reports failure.
	KindUpstream Kind = "upstream"
	// KindValidation is rejected locally and never sent.
	KindValidation Kind = "validation"
	// KindDecode is a reply that could not be understood.
	KindDecode Kind = "decode"
)

var (
	ErrInvalidHandle = errors.New("resource handle needs an address and a three-part credential")
	ErrNoMessage     = errors.New("mailbox has no message yet")
)

// Error is returned by every Client call that did not succeed.
type Error struct {
	Op      string
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason is the text shown to requesters.
func (e *Error) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func KindOf(err error) (Kind, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return "", false
}
