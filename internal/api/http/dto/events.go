package dto

// EventRequest is one requester command. Either Command (with Args) or the
// raw chat Text is set.
type EventRequest struct {
	RequesterID string   `json:"requester_id" binding:"required"`
	Command     string   `json:"command"`
	Args        []string `json:"args"`
	Text        string   `json:"text"`
}

type EventResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
