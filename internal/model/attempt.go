package model

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// AttemptState enumerates the lifecycle states of an attempt.
type AttemptState string

const (
	AttemptStateCreated    AttemptState = "CREATED"
	AttemptStateInProgress AttemptState = "IN_PROGRESS"
	AttemptStateSubmitted  AttemptState = "SUBMITTED"
	AttemptStateExpired    AttemptState = "EXPIRED"
	AttemptStateGraded     AttemptState = "GRADED"
	AttemptStateAbandoned  AttemptState = "ABANDONED"
)

// ActiveAttemptStates are the non-terminal states; a learner holds at most
// one attempt in these per assessment.
var ActiveAttemptStates = []AttemptState{AttemptStateCreated, AttemptStateInProgress}

// GradableAttemptStates are the states in which grade records may change.
var GradableAttemptStates = []AttemptState{AttemptStateSubmitted, AttemptStateExpired}

var attemptTransitions = map[AttemptState][]AttemptState{
	AttemptStateCreated:    {AttemptStateInProgress, AttemptStateAbandoned},
	AttemptStateInProgress: {AttemptStateSubmitted, AttemptStateExpired, AttemptStateAbandoned},
	AttemptStateSubmitted:  {AttemptStateGraded, AttemptStateAbandoned},
	AttemptStateExpired:    {AttemptStateGraded, AttemptStateAbandoned},
}

// IsActive reports whether the learner can still work on the attempt.
func (s AttemptState) IsActive() bool {
	return s == AttemptStateCreated || s == AttemptStateInProgress
}

// IsGradable reports whether grades may still be recorded.
func (s AttemptState) IsGradable() bool {
	return s == AttemptStateSubmitted || s == AttemptStateExpired
}

// IsFinal reports whether no further transition is possible.
func (s AttemptState) IsFinal() bool {
	return s == AttemptStateGraded || s == AttemptStateAbandoned
}

// CanTransition reports whether the lifecycle permits from -> to.
func (s AttemptState) CanTransition(to AttemptState) bool {
	for _, next := range attemptTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// SourceStates returns every state from which to is reachable.
func SourceStates(to AttemptState) []AttemptState {
	var from []AttemptState
	for s, targets := range attemptTransitions {
		for _, t := range targets {
			if t == to {
				from = append(from, s)
			}
		}
	}
	return from
}

// Attempt is a single learner's try at an assessment.
type Attempt struct {
	ID            uuid.UUID    `json:"id"`
	AssessmentID  string       `json:"assessment_id"`
	LearnerID     string       `json:"learner_id"`
	AttemptNumber int          `json:"attempt_number"`
	State         AttemptState `json:"state"`
	QuestionOrder []string     `json:"question_order"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	DeadlineAt    *time.Time   `json:"deadline_at,omitempty"`
	SubmittedAt   *time.Time   `json:"submitted_at,omitempty"`
	EndedAt       *time.Time   `json:"ended_at,omitempty"`
	GradedAt      *time.Time   `json:"graded_at,omitempty"`
	FinalScore    *float64     `json:"final_score,omitempty"`
	Passed        *bool        `json:"passed,omitempty"`
	ClosedReason  string       `json:"closed_reason,omitempty"`
	Version       int          `json:"version"`
	CreatedAt     time.Time    `json:"created_at"`
}

// RemainingSeconds returns the whole seconds left before the deadline, or
// nil for untimed or no longer running attempts.
func (a *Attempt) RemainingSeconds(now time.Time) *int {
	if a.DeadlineAt == nil || a.State != AttemptStateInProgress {
		return nil
	}
	left := int(math.Ceil(a.DeadlineAt.Sub(now).Seconds()))
	if left < 0 {
		left = 0
	}
	return &left
}

// QuestionIndex returns the presentation index of a question, or -1.
func (a *Attempt) QuestionIndex(questionID string) int {
	for i, id := range a.QuestionOrder {
		if id == questionID {
			return i
		}
	}
	return -1
}

// Response is the learner's latest answer to one question of an attempt.
type Response struct {
	AttemptID  uuid.UUID       `json:"attempt_id"`
	QuestionID string          `json:"question_id"`
	Value      json.RawMessage `json:"value"`
	AnsweredAt time.Time       `json:"answered_at"`
}

// StartAttemptRequest is the payload for starting an attempt.
type StartAttemptRequest struct {
	EntryCode string `json:"entry_code" binding:"omitempty,max=64"`
}

// RecordResponseRequest is the payload for saving one answer.
type RecordResponseRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// SubmitAttemptRequest optionally carries answers to apply before submission.
type SubmitAttemptRequest struct {
	Responses map[string]json.RawMessage `json:"responses" binding:"omitempty,max=500"`
}

// AbandonAttemptRequest carries the reason an attempt was abandoned.
type AbandonAttemptRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=64"`
}
