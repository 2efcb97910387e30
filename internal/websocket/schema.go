package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionRecord    Action = "record"
	ActionSubmit    Action = "submit"
	ActionIntegrity Action = "integrity"
	ActionPing      Action = "ping"
)

// Request carries every client action. Fields not used by an action are
// left empty.
type Request struct {
	Action    Action `json:"action"`
	RequestID string `json:"request_id,omitempty"`

	// record
	QuestionID string          `json:"question_id,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`

	// submit
	Responses map[string]json.RawMessage `json:"responses,omitempty"`

	// integrity
	Kind    string          `json:"kind,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventState     Event = "state"
	EventRecorded  Event = "recorded"
	EventSubmitted Event = "submitted"
	EventIntegrity Event = "integrity"
	EventPong      Event = "pong"
	// EventAttempt forwards a domain event of the attempt, such as the
	// final grade or an expiry, as it happens.
	EventAttempt Event = "attempt"
)

// Response answers one request, echoing its request id.
type Response struct {
	Event     Event       `json:"event"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

type ErrorResponse struct {
	Event     Event  `json:"event"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}
