package scoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

const (
	maxShortAnswerRunes = 1024
	maxEssayRunes       = 20000
)

// ErrInvalidAnswerFormat reports a response whose shape does not fit the
// question type. Callers must correct the value and retry.
var ErrInvalidAnswerFormat = errors.New("invalid answer format")

// Answer is a decoded response value.
type Answer struct {
	Options []string
	Text    string
}

// ParseAnswer decodes and validates raw against the question type.
//
//   - mcq: an option id string, or an array of distinct option ids
//   - true_false: a boolean, or an option id string
//   - short, essay: a string
func ParseAnswer(q *model.Question, raw json.RawMessage) (*Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidAnswerFormat)
	}

	switch q.Type {
	case model.QuestionTypeMCQ:
		ids, err := decodeOptionIDs(raw)
		if err != nil {
			return nil, err
		}
		if err := checkOptions(q, ids); err != nil {
			return nil, err
		}
		return &Answer{Options: ids}, nil

	case model.QuestionTypeTrueFalse:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			id := "false"
			if b {
				id = "true"
			}
			if len(q.Options) > 0 && !q.HasOption(id) {
				return nil, fmt.Errorf("%w: question has no %q option", ErrInvalidAnswerFormat, id)
			}
			return &Answer{Options: []string{id}}, nil
		}
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("%w: expected boolean or option id", ErrInvalidAnswerFormat)
		}
		if err := checkOptions(q, []string{id}); err != nil {
			return nil, err
		}
		return &Answer{Options: []string{id}}, nil

	case model.QuestionTypeShort, model.QuestionTypeEssay:
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: expected text", ErrInvalidAnswerFormat)
		}
		limit := maxShortAnswerRunes
		if q.Type == model.QuestionTypeEssay {
			limit = maxEssayRunes
		}
		if utf8.RuneCountInString(text) > limit {
			return nil, fmt.Errorf("%w: answer longer than %d characters", ErrInvalidAnswerFormat, limit)
		}
		return &Answer{Text: text}, nil
	}

	return nil, fmt.Errorf("%w: unsupported question type %q", ErrInvalidAnswerFormat, q.Type)
}

// ValidateAnswer checks raw against the question without keeping the result.
func ValidateAnswer(q *model.Question, raw json.RawMessage) error {
	_, err := ParseAnswer(q, raw)
	return err
}

func decodeOptionIDs(raw json.RawMessage) ([]string, error) {
	if raw[0] == '[' {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, fmt.Errorf("%w: expected an array of option ids", ErrInvalidAnswerFormat)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: no option selected", ErrInvalidAnswerFormat)
		}
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("%w: option %q selected twice", ErrInvalidAnswerFormat, id)
			}
			seen[id] = struct{}{}
		}
		return ids, nil
	}

	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("%w: expected an option id", ErrInvalidAnswerFormat)
	}
	return []string{id}, nil
}

func checkOptions(q *model.Question, ids []string) error {
	for _, id := range ids {
		if !q.HasOption(id) {
			return fmt.Errorf("%w: unknown option %q", ErrInvalidAnswerFormat, id)
		}
	}
	return nil
}
