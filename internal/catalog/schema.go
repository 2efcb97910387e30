package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

//go:embed schema.json
var definitionSchema []byte

const schemaURL = "schema://assessment-definition.json"

// ErrInvalidDefinition wraps every problem found in a definition document.
var ErrInvalidDefinition = errors.New("invalid assessment definition")

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(definitionSchema))
		if err != nil {
			compileErr = fmt.Errorf("parse schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Parse validates a definition document against the schema and the
// structural rules the scorer relies on, then decodes it.
func Parse(raw []byte) (*model.AssessmentDefinition, error) {
	s, err := schema()
	if err != nil {
		return nil, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	var def model.AssessmentDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := checkStructure(&def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return &def, nil
}

func checkStructure(def *model.AssessmentDefinition) error {
	seen := make(map[string]struct{}, len(def.Questions))
	for _, q := range def.Questions {
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}

		optionIDs := make(map[string]struct{}, len(q.Options))
		correct := 0
		for _, o := range q.Options {
			if _, dup := optionIDs[o.ID]; dup {
				return fmt.Errorf("question %q: duplicate option id %q", q.ID, o.ID)
			}
			optionIDs[o.ID] = struct{}{}
			if o.Correct {
				correct++
			}
		}

		switch q.Type {
		case model.QuestionTypeMCQ:
			if len(q.Options) < 2 {
				return fmt.Errorf("question %q: mcq needs at least two options", q.ID)
			}
			if correct == 0 {
				return fmt.Errorf("question %q: mcq needs a correct option", q.ID)
			}
		case model.QuestionTypeTrueFalse:
			if len(q.Options) > 0 && correct != 1 {
				return fmt.Errorf("question %q: true_false needs exactly one correct option", q.ID)
			}
			if len(q.Options) == 0 && q.ModelAnswer != "true" && q.ModelAnswer != "false" {
				return fmt.Errorf("question %q: true_false needs options or a true/false model answer", q.ID)
			}
		}

		keys := make(map[string]struct{}, len(q.Rubric))
		for _, c := range q.Rubric {
			if _, dup := keys[c.Key]; dup {
				return fmt.Errorf("question %q: duplicate rubric key %q", q.ID, c.Key)
			}
			keys[c.Key] = struct{}{}
		}
	}

	if def.OpensAt != nil && def.ClosesAt != nil && !def.OpensAt.Before(*def.ClosesAt) {
		return errors.New("opens_at must be before closes_at")
	}
	if def.PassingScore > def.TotalMarks() {
		return fmt.Errorf("passing_score %.2f exceeds total marks %.2f", def.PassingScore, def.TotalMarks())
	}
	return nil
}
