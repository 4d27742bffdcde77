package websocket

import "github.com/stemsi/exstem-practice/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSave   Action = "save"
	ActionView   Action = "view"
	ActionStatus Action = "status"
	ActionPing   Action = "ping"
)

// RequestPayload is every client message of the mock-test stream.
// Fields not used by an action are ignored.
type RequestPayload struct {
	Action           Action `json:"action"`
	QuestionID       int64  `json:"question_id"`
	OptionID         *int64 `json:"option_id,omitempty"`
	Status           string `json:"status,omitempty"`
	RemainingSeconds *int   `json:"remaining_seconds,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError  Event = "error"
	EventSaved  Event = "saved"
	EventStatus Event = "status"
	EventClock  Event = "clock"
	EventPong   Event = "pong"
)

// SavedResponse acknowledges a provisional answer or a view.
type SavedResponse struct {
	Event      Event             `json:"event"`
	QuestionID int64             `json:"question_id"`
	MockStatus *model.MockStatus `json:"mock_status,omitempty"`
}

// ClockResponse is pushed periodically with the mock countdown.
// Expired is set once the deadline has passed; the client must finalize.
type ClockResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int64 `json:"remaining_seconds"`
	Expired          bool  `json:"expired"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
