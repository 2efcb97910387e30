package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadDefinitions_Array(t *testing.T) {
	defs, err := readDefinitions("../../internal/catalog/testdata/catalog.json")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "algebra-quiz-1", defs[0].ID)
	assert.Equal(t, "physics-final", defs[1].ID)
}

func TestReadDefinitions_SingleDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.json")
	doc := `{"id": "solo", "title": "Solo", "kind": "quiz", "passing_score": 1, "grading_policy": "auto",
		"published": true, "questions": [{"id": "q1", "type": "true_false", "marks": 1, "model_answer": "true"}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	defs, err := readDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "solo", defs[0].ID)
}

func TestReadDefinitions_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "x"}]`), 0o600))

	_, err := readDefinitions(path)
	assert.ErrorContains(t, err, "definition 0")
}
