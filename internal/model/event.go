package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptEventType names the domain events emitted by the engine.
type AttemptEventType string

const (
	EventAttemptStarted   AttemptEventType = "attempt.started"
	EventResponseRecorded AttemptEventType = "attempt.response_recorded"
	EventAttemptSubmitted AttemptEventType = "attempt.submitted"
	EventAttemptExpired   AttemptEventType = "attempt.expired"
	EventAttemptAbandoned AttemptEventType = "attempt.abandoned"
	EventAttemptGraded    AttemptEventType = "attempt.graded"
	EventIntegrityFlagged AttemptEventType = "attempt.integrity_flagged"
)

// AttemptEvent is published on every observable change of an attempt.
type AttemptEvent struct {
	Type         AttemptEventType `json:"type"`
	AttemptID    uuid.UUID        `json:"attempt_id"`
	AssessmentID string           `json:"assessment_id"`
	LearnerID    string           `json:"learner_id"`
	State        AttemptState     `json:"state"`
	QuestionID   string           `json:"question_id,omitempty"`
	Score        *float64         `json:"score,omitempty"`
	Passed       *bool            `json:"passed,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// NewAttemptEvent builds an event from the attempt's current state.
func NewAttemptEvent(t AttemptEventType, a *Attempt, at time.Time) *AttemptEvent {
	return &AttemptEvent{
		Type:         t,
		AttemptID:    a.ID,
		AssessmentID: a.AssessmentID,
		LearnerID:    a.LearnerID,
		State:        a.State,
		Score:        a.FinalScore,
		Passed:       a.Passed,
		Reason:       a.ClosedReason,
		OccurredAt:   at,
	}
}
