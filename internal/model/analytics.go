package model

import (
	"github.com/google/uuid"
)

// AnalyticsEventKind distinguishes the two increments the aggregator applies.
type AnalyticsEventKind string

const (
	AnalyticsEventGraded AnalyticsEventKind = "graded"
	AnalyticsEventClosed AnalyticsEventKind = "closed"
)

// QuestionOutcome is the per-question contribution of one graded attempt.
type QuestionOutcome struct {
	QuestionID  string   `json:"question_id"`
	Correct     bool     `json:"correct"`
	TimeSeconds *float64 `json:"time_seconds,omitempty"`
}

// AnalyticsEvent is the queued increment produced when an attempt is graded
// or stops being answered. Events are applied at most once per
// (attempt, kind).
type AnalyticsEvent struct {
	Kind         AnalyticsEventKind `json:"kind"`
	AttemptID    uuid.UUID          `json:"attempt_id"`
	AssessmentID string             `json:"assessment_id"`

	// graded
	Score     float64           `json:"score,omitempty"`
	Passed    bool              `json:"passed,omitempty"`
	Questions []QuestionOutcome `json:"questions,omitempty"`

	// closed
	QuestionCount int  `json:"question_count,omitempty"`
	Progress      int  `json:"progress,omitempty"`
	Completed     bool `json:"completed,omitempty"`
}

// QuestionAnalytics are the running counters for one question.
type QuestionAnalytics struct {
	AssessmentID     string  `json:"assessment_id"`
	QuestionID       string  `json:"question_id"`
	TotalAttempts    int     `json:"total_attempts"`
	CorrectCount     int     `json:"correct_count"`
	TotalTimeSeconds float64 `json:"total_time_seconds"`
	TimedCount       int     `json:"timed_count"`
}

// AssessmentAnalytics are the running counters for one assessment.
type AssessmentAnalytics struct {
	AssessmentID  string  `json:"assessment_id"`
	TotalAttempts int     `json:"total_attempts"`
	ScoreSum      float64 `json:"score_sum"`
	PassedCount   int     `json:"passed_count"`
}

// DropoffCounter counts, for one question position, how many closed attempts
// reached it and how many stopped there.
type DropoffCounter struct {
	AssessmentID  string `json:"assessment_id"`
	QuestionIndex int    `json:"question_index"`
	Reached       int    `json:"reached"`
	Stalled       int    `json:"stalled"`
}

// QuestionReport is the read view of one question's statistics.
type QuestionReport struct {
	QuestionID         string     `json:"question_id"`
	TotalAttempts      int        `json:"total_attempts"`
	CorrectPct         float64    `json:"correct_pct"`
	Difficulty         Difficulty `json:"difficulty,omitempty"`
	ObservedDifficulty Difficulty `json:"observed_difficulty,omitempty"`
	AverageTimeSeconds float64    `json:"average_time_seconds"`
}

// AnalyticsReport is the read view served to reporting.
type AnalyticsReport struct {
	AssessmentID  string           `json:"assessment_id"`
	Title         string           `json:"title"`
	TotalAttempts int              `json:"total_attempts"`
	AverageScore  float64          `json:"average_score"`
	PassRate      float64          `json:"pass_rate"`
	PerQuestion   []QuestionReport `json:"per_question"`
}

// DropoffPoint is one row of the drop-off analysis.
type DropoffPoint struct {
	QuestionIndex int     `json:"question_index"`
	QuestionID    string  `json:"question_id,omitempty"`
	Reached       int     `json:"reached"`
	Stalled       int     `json:"stalled"`
	StallRate     float64 `json:"stall_rate"`
}

// DropoffReport lists where learners stopped answering.
type DropoffReport struct {
	AssessmentID string         `json:"assessment_id"`
	TotalClosed  int            `json:"total_closed"`
	Points       []DropoffPoint `json:"points"`
}

// DropoffRows returns the question positions a closed attempt reached and,
// aligned with them, 1 where the learner stopped answering.
func (ev *AnalyticsEvent) DropoffRows() (indices []int, stalled []int) {
	n := ev.QuestionCount
	if n <= 0 {
		return nil, nil
	}

	last := n - 1
	stallAt := -1
	if !ev.Completed {
		last = ev.Progress
		if last > n-1 {
			last = n - 1
		}
		if last < 0 {
			last = 0
		}
		stallAt = last
	}

	indices = make([]int, 0, last+1)
	stalled = make([]int, 0, last+1)
	for i := 0; i <= last; i++ {
		indices = append(indices, i)
		if i == stallAt {
			stalled = append(stalled, 1)
		} else {
			stalled = append(stalled, 0)
		}
	}
	return indices, stalled
}
