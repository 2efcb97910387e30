package model

import (
	"time"

	"github.com/google/uuid"
)

// GradeRecord holds the auto and manual score of one question in an attempt.
type GradeRecord struct {
	AttemptID    uuid.UUID          `json:"attempt_id"`
	QuestionID   string             `json:"question_id"`
	AutoScore    *float64           `json:"auto_score,omitempty"`
	ManualScore  *float64           `json:"manual_score,omitempty"`
	RubricScores map[string]float64 `json:"rubric_scores,omitempty"`
	GraderID     string             `json:"grader_id,omitempty"`
	GradedAt     *time.Time         `json:"graded_at,omitempty"`
	Feedback     string             `json:"feedback,omitempty"`
}

// EffectiveScore returns the manual score when present, else the auto score.
// The second value is false when the question has not been scored yet.
func (g *GradeRecord) EffectiveScore() (float64, bool) {
	if g.ManualScore != nil {
		return *g.ManualScore, true
	}
	if g.AutoScore != nil {
		return *g.AutoScore, true
	}
	return 0, false
}

// GradeQuestionRequest is the payload for a grader scoring one question.
// Exactly one of Score and RubricScores must be set.
type GradeQuestionRequest struct {
	Score        *float64           `json:"score" binding:"omitempty,min=0"`
	RubricScores map[string]float64 `json:"rubric_scores" binding:"omitempty,max=50"`
	Feedback     string             `json:"feedback" binding:"omitempty,max=4000"`
}

// BulkGradeItem is one entry of a bulk grading request. Items are checked
// one by one while grading so a bad entry fails alone.
type BulkGradeItem struct {
	AttemptID    string             `json:"attempt_id"`
	QuestionID   string             `json:"question_id"`
	Score        *float64           `json:"score"`
	RubricScores map[string]float64 `json:"rubric_scores"`
	Feedback     string             `json:"feedback"`
}

// BulkGradeRequest grades many questions at once.
type BulkGradeRequest struct {
	Items    []BulkGradeItem `json:"items" binding:"required,min=1,max=500"`
	Finalize bool            `json:"finalize"`
}
