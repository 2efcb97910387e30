package catalog

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	valid := `{
		"id": "quiz-1", "title": "Quiz", "kind": "quiz", "grading_policy": "auto",
		"passing_score": 1,
		"questions": [
			{"id": "q1", "type": "mcq", "marks": 1, "options": [{"id": "a", "correct": true}, {"id": "b"}]}
		]
	}`

	def, err := Parse([]byte(valid))
	require.NoError(t, err)
	assert.Equal(t, "quiz-1", def.ID)
	assert.Equal(t, model.AssessmentKindQuiz, def.Kind)
	require.Len(t, def.Questions, 1)

	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing questions", `{"id": "x", "title": "t", "kind": "quiz", "grading_policy": "auto"}`},
		{"unknown kind", `{"id": "x", "title": "t", "kind": "survey", "grading_policy": "auto",
			"questions": [{"id": "q1", "type": "essay", "marks": 1}]}`},
		{"zero marks", `{"id": "x", "title": "t", "kind": "quiz", "grading_policy": "auto",
			"questions": [{"id": "q1", "type": "essay", "marks": 0}]}`},
		{"duplicate question", `{"id": "x", "title": "t", "kind": "quiz", "grading_policy": "manual",
			"questions": [{"id": "q1", "type": "essay", "marks": 1}, {"id": "q1", "type": "essay", "marks": 1}]}`},
		{"mcq without correct option", `{"id": "x", "title": "t", "kind": "quiz", "grading_policy": "auto",
			"questions": [{"id": "q1", "type": "mcq", "marks": 1, "options": [{"id": "a"}, {"id": "b"}]}]}`},
		{"passing above total", `{"id": "x", "title": "t", "kind": "quiz", "grading_policy": "manual", "passing_score": 5,
			"questions": [{"id": "q1", "type": "essay", "marks": 1}]}`},
		{"window inverted", `{"id": "x", "title": "t", "kind": "exam", "grading_policy": "manual",
			"opens_at": "2026-01-02T00:00:00Z", "closes_at": "2026-01-01T00:00:00Z",
			"questions": [{"id": "q1", "type": "essay", "marks": 1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestLoadFile(t *testing.T) {
	src, err := LoadFile("testdata/catalog.json")
	require.NoError(t, err)

	published, err := src.ListPublished(context.Background())
	require.NoError(t, err)
	assert.Len(t, published, 2)

	def, err := src.Get(context.Background(), "physics-final")
	require.NoError(t, err)
	assert.Equal(t, 5, def.SubmitGraceSeconds)

	_, err = src.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestCache_ReadThroughAndRefresh(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	src := NewMemorySource(&model.AssessmentDefinition{ID: "a1", Title: "First", Published: true})
	cache := NewCache(src, rdb, zerolog.Nop())

	def, err := cache.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "First", def.Title)
	assert.True(t, mr.Exists(config.CacheKey.DefinitionKey("a1")))

	// The cached copy wins until refreshed.
	require.NoError(t, src.Upsert(ctx, &model.AssessmentDefinition{ID: "a1", Title: "Second", Published: true}))
	def, err = cache.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "First", def.Title)

	_, err = cache.Refresh(ctx, "a1")
	require.NoError(t, err)
	def, err = cache.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Second", def.Title)

	_, err = cache.Get(ctx, "unknown")
	assert.ErrorIs(t, err, ErrDefinitionNotFound)
}

func TestCache_Prewarm(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	src := NewMemorySource(
		&model.AssessmentDefinition{ID: "a1", Published: true},
		&model.AssessmentDefinition{ID: "a2", Published: false},
	)
	require.NoError(t, NewCache(src, rdb, zerolog.Nop()).Prewarm(context.Background()))

	assert.True(t, mr.Exists(config.CacheKey.DefinitionKey("a1")))
	assert.False(t, mr.Exists(config.CacheKey.DefinitionKey("a2")))
}

func TestCache_FallsBackWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	src := NewMemorySource(&model.AssessmentDefinition{ID: "a1", Title: "Direct"})
	def, err := NewCache(src, rdb, zerolog.Nop()).Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Direct", def.Title)
}
