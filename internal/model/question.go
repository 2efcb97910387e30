package model

// QuestionType enumerates the supported answer shapes.
type QuestionType string

const (
	QuestionTypeMCQ       QuestionType = "mcq"
	QuestionTypeTrueFalse QuestionType = "true_false"
	QuestionTypeShort     QuestionType = "short"
	QuestionTypeEssay     QuestionType = "essay"
)

// Difficulty is the author-assigned or observed difficulty bucket.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Option is a selectable choice of an mcq or true_false question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// RubricCriterion is one scored dimension of a rubric-graded question.
type RubricCriterion struct {
	Key       string  `json:"key"`
	MaxPoints float64 `json:"max_points"`
}

// Question represents a single assessment question.
type Question struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Type        QuestionType      `json:"type"`
	Difficulty  Difficulty        `json:"difficulty,omitempty"`
	Marks       float64           `json:"marks"`
	Options     []Option          `json:"options,omitempty"`
	ModelAnswer string            `json:"model_answer,omitempty"`
	Rubric      []RubricCriterion `json:"rubric,omitempty"`
}

// IsObjective reports whether the question can always be scored by comparing
// against the correct option set.
func (q *Question) IsObjective() bool {
	return q.Type == QuestionTypeMCQ || q.Type == QuestionTypeTrueFalse
}

// HasOption reports whether id names one of the question's options.
func (q *Question) HasOption(id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// CorrectOptions returns the set of option ids flagged correct. A
// true_false question authored without options uses its model answer
// ("true" or "false") instead.
func (q *Question) CorrectOptions() map[string]struct{} {
	set := make(map[string]struct{})
	for _, o := range q.Options {
		if o.Correct {
			set[o.ID] = struct{}{}
		}
	}
	if len(q.Options) == 0 && q.Type == QuestionTypeTrueFalse {
		if q.ModelAnswer == "true" || q.ModelAnswer == "false" {
			set[q.ModelAnswer] = struct{}{}
		}
	}
	return set
}

// Criterion looks up a rubric criterion by key.
func (q *Question) Criterion(key string) (RubricCriterion, bool) {
	for _, c := range q.Rubric {
		if c.Key == key {
			return c, true
		}
	}
	return RubricCriterion{}, false
}
