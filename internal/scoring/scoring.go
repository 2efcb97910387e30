// Package scoring implements deterministic auto-grading and rubric sums.
// Nothing here performs I/O; the same inputs always yield the same scores.
package scoring

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// RequiresManual reports whether a question needs a human grader under the
// given policy. Objective questions are auto-scored unless the policy is
// manual. Short answers are auto-scored only under the auto policy and only
// when a model answer exists. Essays always need a grader.
func RequiresManual(q *model.Question, policy model.GradingPolicy) bool {
	if policy == model.GradingPolicyManual {
		return true
	}
	switch q.Type {
	case model.QuestionTypeMCQ, model.QuestionTypeTrueFalse:
		return false
	case model.QuestionTypeShort:
		return policy != model.GradingPolicyAuto || strings.TrimSpace(q.ModelAnswer) == ""
	default:
		return true
	}
}

// ScoreObjective scores every auto-gradable question of def against the
// given responses. Unanswered or malformed answers score 0. Questions that
// need manual grading are absent from the result.
func ScoreObjective(def *model.AssessmentDefinition, responses map[string]json.RawMessage) map[string]float64 {
	scores := make(map[string]float64, len(def.Questions))
	for i := range def.Questions {
		q := &def.Questions[i]
		if RequiresManual(q, def.GradingPolicy) {
			continue
		}
		raw, ok := responses[q.ID]
		if !ok {
			scores[q.ID] = 0
			continue
		}
		ans, err := ParseAnswer(q, raw)
		if err != nil {
			scores[q.ID] = 0
			continue
		}
		scores[q.ID] = ScoreAnswer(q, ans, def.PartialCreditPolicy())
	}
	return scores
}

// ScoreAnswer scores one parsed answer of an auto-gradable question.
func ScoreAnswer(q *model.Question, ans *Answer, partial model.PartialCreditPolicy) float64 {
	switch q.Type {
	case model.QuestionTypeMCQ, model.QuestionTypeTrueFalse:
		return scoreChoice(q, ans.Options, partial)
	case model.QuestionTypeShort:
		if normalize(ans.Text) == normalize(q.ModelAnswer) {
			return q.Marks
		}
	}
	return 0
}

// scoreChoice compares the selected options against the correct set.
// Under proportional credit any wrong pick zeroes the question, otherwise
// each correct pick earns an equal share of the marks.
func scoreChoice(q *model.Question, selected []string, partial model.PartialCreditPolicy) float64 {
	correct := q.CorrectOptions()
	if len(correct) == 0 {
		return 0
	}

	hits := 0
	for _, id := range selected {
		if _, ok := correct[id]; !ok {
			return 0
		}
		hits++
	}

	if hits == len(correct) {
		return q.Marks
	}
	if partial == model.PartialCreditProportional && hits > 0 {
		return round2(q.Marks * float64(hits) / float64(len(correct)))
	}
	return 0
}

// IsCorrect decides whether a question counts as answered correctly for
// analytics. Auto-scored questions need full marks, manually graded ones
// need at least half.
func IsCorrect(q *model.Question, policy model.GradingPolicy, score float64) bool {
	if q.Marks <= 0 {
		return false
	}
	if RequiresManual(q, policy) {
		return score >= q.Marks/2
	}
	return score >= q.Marks
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
