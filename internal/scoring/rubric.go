package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// ErrInvalidScore reports a manual or rubric score outside the allowed range.
var ErrInvalidScore = errors.New("invalid score")

// ScoreRubric sums per-criterion points. Each criterion is clamped to
// [0, max_points] (or [0, marks] when the question has no rubric) and the
// total is capped at the question's marks. Unknown criteria are rejected.
func ScoreRubric(q *model.Question, points map[string]float64) (float64, error) {
	if len(points) == 0 {
		return 0, fmt.Errorf("%w: no rubric scores given", ErrInvalidScore)
	}

	var total float64
	for key, p := range points {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return 0, fmt.Errorf("%w: criterion %q is not a number", ErrInvalidScore, key)
		}
		limit := q.Marks
		if len(q.Rubric) > 0 {
			c, ok := q.Criterion(key)
			if !ok {
				return 0, fmt.Errorf("%w: unknown criterion %q", ErrInvalidScore, key)
			}
			limit = c.MaxPoints
		}
		total += clamp(p, 0, limit)
	}

	return clamp(total, 0, q.Marks), nil
}

// CheckManualScore validates a direct manual score.
func CheckManualScore(q *model.Question, score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 || score > q.Marks {
		return fmt.Errorf("%w: %v is outside [0, %v]", ErrInvalidScore, score, q.Marks)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
