package model

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// IntegrityEvent is a client-reported signal such as a tab switch or a lost
// fullscreen, recorded against a running attempt.
type IntegrityEvent struct {
	AttemptID    uuid.UUID       `json:"attempt_id"`
	AssessmentID string          `json:"assessment_id"`
	LearnerID    string          `json:"learner_id"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// IntegrityOutcome is returned to the client after reporting an event.
type IntegrityOutcome struct {
	Violations int  `json:"violations"`
	Limit      int  `json:"limit"`
	Abandoned  bool `json:"abandoned"`
}

// ReportIntegrityRequest is the payload of a client integrity report.
type ReportIntegrityRequest struct {
	Kind    string          `json:"kind" binding:"required,oneof=tab_switch focus_lost fullscreen_exit copy_paste devtools_open screenshot"`
	Payload json.RawMessage `json:"payload"`
}

// IntegrityKinds lists the signals clients may report.
var IntegrityKinds = []string{"tab_switch", "focus_lost", "fullscreen_exit", "copy_paste", "devtools_open", "screenshot"}

// ValidIntegrityKind reports whether kind is one of IntegrityKinds.
func ValidIntegrityKind(kind string) bool {
	return slices.Contains(IntegrityKinds, kind)
}
