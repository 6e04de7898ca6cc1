package dispatch

type Kind string

const (
	KindOK           Kind = "ok"
	KindValidation   Kind = "validation"
	KindNotActivated Kind = "not_activated"
	KindConflict     Kind = "conflict"
	KindProvider     Kind = "provider"
	KindStore        Kind = "store"
	KindUnrecognized Kind = "unrecognized"
)

// Result is what a command produced. Message is plain text for the requester;
// Data carries structured fields for clients that render their own replies.
type Result struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type AcquisitionData struct {
	MailType string `json:"mail_type"`
	Address  string `json:"address"`
	Handle   string `json:"handle"`
}

type StatusData struct {
	Address string `json:"address"`
	Handle  string `json:"handle"`
}

type UsageData struct {
	Count int64 `json:"count"`
}

const (
	msgStart        = "Welcome! Activate your access with /act CODE, then request an account with /buyacc."
	msgUnrecognized = "Unrecognized command. Available: /start, /act CODE, /buyacc [type], /name, /mycount, /deleteacc."
	msgNotActivated = "Your access is not activated. Use /act CODE to activate it."
	msgStoreFailure = "Something went wrong on our side. Please try again."
)
