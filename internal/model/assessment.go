package model

import (
	"time"
)

// AssessmentKind distinguishes low-stakes quizzes from scheduled exams.
type AssessmentKind string

const (
	AssessmentKindQuiz AssessmentKind = "quiz"
	AssessmentKindExam AssessmentKind = "exam"
)

// GradingPolicy decides which questions need a human grader.
type GradingPolicy string

const (
	GradingPolicyAuto   GradingPolicy = "auto"
	GradingPolicyManual GradingPolicy = "manual"
	GradingPolicyMixed  GradingPolicy = "mixed"
)

// PartialCreditPolicy controls multi-select scoring.
type PartialCreditPolicy string

const (
	PartialCreditAllOrNothing PartialCreditPolicy = "all_or_nothing"
	PartialCreditProportional PartialCreditPolicy = "proportional"
)

// AssessmentDefinition is the read-only description of a quiz or exam as
// supplied by the content catalog.
type AssessmentDefinition struct {
	ID                     string              `json:"id"`
	Title                  string              `json:"title"`
	Kind                   AssessmentKind      `json:"kind"`
	Questions              []Question          `json:"questions"`
	TimeLimitSeconds       int                 `json:"time_limit_seconds,omitempty"`
	MaxAttempts            int                 `json:"max_attempts,omitempty"`
	PassingScore           float64             `json:"passing_score"`
	GradingPolicy          GradingPolicy       `json:"grading_policy"`
	PartialCredit          PartialCreditPolicy `json:"partial_credit,omitempty"`
	Randomize              bool                `json:"randomize"`
	Published              bool                `json:"published"`
	OpensAt                *time.Time          `json:"opens_at,omitempty"`
	ClosesAt               *time.Time          `json:"closes_at,omitempty"`
	EntryCodeHash          string              `json:"entry_code_hash,omitempty"`
	MaxIntegrityViolations int                 `json:"max_integrity_violations,omitempty"`
	SubmitGraceSeconds     int                 `json:"submit_grace_seconds,omitempty"`
}

// IsTimed reports whether attempts at this assessment carry a deadline.
func (d *AssessmentDefinition) IsTimed() bool {
	return d.TimeLimitSeconds > 0
}

// TimeLimit returns the per-attempt time limit.
func (d *AssessmentDefinition) TimeLimit() time.Duration {
	return time.Duration(d.TimeLimitSeconds) * time.Second
}

// SubmitGrace returns the tolerance applied to submissions arriving after the deadline.
func (d *AssessmentDefinition) SubmitGrace() time.Duration {
	return time.Duration(d.SubmitGraceSeconds) * time.Second
}

// IsOpen reports whether a new attempt may be started at now.
// Scheduling windows only apply to exams.
func (d *AssessmentDefinition) IsOpen(now time.Time) bool {
	if !d.Published {
		return false
	}
	if d.Kind != AssessmentKindExam {
		return true
	}
	if d.OpensAt != nil && now.Before(*d.OpensAt) {
		return false
	}
	if d.ClosesAt != nil && !now.Before(*d.ClosesAt) {
		return false
	}
	return true
}

// Question looks up a question by id.
func (d *AssessmentDefinition) Question(id string) (*Question, bool) {
	for i := range d.Questions {
		if d.Questions[i].ID == id {
			return &d.Questions[i], true
		}
	}
	return nil, false
}

// QuestionIDs returns the authored question order.
func (d *AssessmentDefinition) QuestionIDs() []string {
	ids := make([]string, len(d.Questions))
	for i, q := range d.Questions {
		ids[i] = q.ID
	}
	return ids
}

// TotalMarks is the maximum obtainable score.
func (d *AssessmentDefinition) TotalMarks() float64 {
	var total float64
	for _, q := range d.Questions {
		total += q.Marks
	}
	return total
}

// PartialCreditPolicy returns the configured policy, defaulting to all-or-nothing.
func (d *AssessmentDefinition) PartialCreditPolicy() PartialCreditPolicy {
	if d.PartialCredit == "" {
		return PartialCreditAllOrNothing
	}
	return d.PartialCredit
}
