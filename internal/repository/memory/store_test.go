package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAttempt(learner, assessment string) *model.Attempt {
	return &model.Attempt{
		ID:            uuid.New(),
		LearnerID:     learner,
		AssessmentID:  assessment,
		QuestionOrder: []string{"q1", "q2", "q3"},
	}
}

func startAttempt(t *testing.T, s *Store, a *model.Attempt, deadline *time.Time) *model.Attempt {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, a, 0))
	started, err := s.Transition(ctx, repository.Transition{
		ID:              a.ID,
		ExpectedVersion: a.Version,
		To:              model.AttemptStateInProgress,
		At:              time.Now(),
		DeadlineAt:      deadline,
	})
	require.NoError(t, err)
	return started
}

func TestCreate_AssignsNumbersAndEnforcesRules(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	first := newAttempt("l1", "a1")
	require.NoError(t, s.Create(ctx, first, 2))
	assert.Equal(t, 1, first.AttemptNumber)
	assert.Equal(t, model.AttemptStateCreated, first.State)
	assert.Equal(t, 1, first.Version)

	err := s.Create(ctx, newAttempt("l1", "a1"), 2)
	assert.ErrorIs(t, err, repository.ErrActiveAttemptExists)

	_, err = s.Transition(ctx, repository.Transition{
		ID: first.ID, ExpectedVersion: 1, To: model.AttemptStateAbandoned, At: time.Now(),
	})
	require.NoError(t, err)

	second := newAttempt("l1", "a1")
	require.NoError(t, s.Create(ctx, second, 2))
	assert.Equal(t, 2, second.AttemptNumber)

	_, err = s.Transition(ctx, repository.Transition{
		ID: second.ID, ExpectedVersion: 1, To: model.AttemptStateAbandoned, At: time.Now(),
	})
	require.NoError(t, err)

	err = s.Create(ctx, newAttempt("l1", "a1"), 2)
	assert.ErrorIs(t, err, repository.ErrAttemptLimitReached)

	// Other learners are unaffected.
	require.NoError(t, s.Create(ctx, newAttempt("l2", "a1"), 2))
}

func TestCreate_ConcurrentStartsYieldOneActive(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Create(ctx, newAttempt("l1", "a1"), 0); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestTransition_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	deadline := time.Now().Add(time.Hour)
	a := startAttempt(t, s, newAttempt("l1", "a1"), &deadline)
	require.NotNil(t, a.StartedAt)
	require.NotNil(t, a.DeadlineAt)

	_, err := s.Transition(ctx, repository.Transition{
		ID: a.ID, ExpectedVersion: a.Version - 1, To: model.AttemptStateSubmitted, At: time.Now(),
	})
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	_, err = s.Transition(ctx, repository.Transition{
		ID: a.ID, ExpectedVersion: a.Version, To: model.AttemptStateGraded, At: time.Now(),
	})
	assert.ErrorIs(t, err, repository.ErrVersionConflict, "IN_PROGRESS -> GRADED is not allowed")

	later := deadline.Add(time.Hour)
	submitted, err := s.Transition(ctx, repository.Transition{
		ID: a.ID, ExpectedVersion: a.Version, To: model.AttemptStateSubmitted, At: time.Now(), DeadlineAt: &later,
	})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStateSubmitted, submitted.State)
	assert.True(t, submitted.DeadlineAt.Equal(deadline), "deadline must not move once set")
	assert.NotNil(t, submitted.SubmittedAt)
	assert.NotNil(t, submitted.EndedAt)

	_, err = s.Transition(ctx, repository.Transition{
		ID: uuid.New(), ExpectedVersion: 1, To: model.AttemptStateSubmitted, At: time.Now(),
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpsert_RejectsOutsideRunningWindow(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	deadline := time.Now().Add(time.Minute)
	a := startAttempt(t, s, newAttempt("l1", "a1"), &deadline)

	first := &model.Response{AttemptID: a.ID, QuestionID: "q1", Value: json.RawMessage(`"a"`), AnsweredAt: time.Now()}
	require.NoError(t, s.Upsert(ctx, first))

	overwrite := &model.Response{AttemptID: a.ID, QuestionID: "q1", Value: json.RawMessage(`"b"`), AnsweredAt: time.Now()}
	require.NoError(t, s.Upsert(ctx, overwrite))

	late := &model.Response{AttemptID: a.ID, QuestionID: "q2", Value: json.RawMessage(`"c"`), AnsweredAt: deadline}
	assert.ErrorIs(t, s.Upsert(ctx, late), repository.ErrNotInProgress)

	responses, err := s.ListByAttempt(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.JSONEq(t, `"b"`, string(responses[0].Value))

	_, err = s.Transition(ctx, repository.Transition{
		ID: a.ID, ExpectedVersion: a.Version, To: model.AttemptStateSubmitted, At: time.Now(),
	})
	require.NoError(t, err)

	after := &model.Response{AttemptID: a.ID, QuestionID: "q3", Value: json.RawMessage(`"d"`), AnsweredAt: time.Now()}
	assert.ErrorIs(t, s.Upsert(ctx, after), repository.ErrNotInProgress)
}

func TestGrades_ManualBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	a := startAttempt(t, s, newAttempt("l1", "a1"), nil)
	assert.ErrorIs(t, s.UpsertAuto(ctx, a.ID, map[string]float64{"q1": 1}), repository.ErrNotGradable)

	submitted, err := s.Transition(ctx, repository.Transition{
		ID: a.ID, ExpectedVersion: a.Version, To: model.AttemptStateSubmitted, At: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, s.UpsertAuto(ctx, a.ID, map[string]float64{"q1": 1, "q2": 0}))

	manual := 3.5
	now := time.Now()
	require.NoError(t, s.SetManual(ctx, &model.GradeRecord{
		AttemptID: a.ID, QuestionID: "q3", ManualScore: &manual, GraderID: "g1", GradedAt: &now,
	}))

	current, err := s.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, submitted.Version+1, current.Version)

	grades, err := s.ListGrades(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, grades, 3)
	assert.Equal(t, "q3", grades[2].QuestionID)
	score, ok := grades[2].EffectiveScore()
	assert.True(t, ok)
	assert.Equal(t, 3.5, score)
}

func TestAnalytics_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	attemptID := uuid.New()
	secs := 12.0
	graded := &model.AnalyticsEvent{
		Kind:         model.AnalyticsEventGraded,
		AttemptID:    attemptID,
		AssessmentID: "a1",
		Score:        8,
		Passed:       true,
		Questions: []model.QuestionOutcome{
			{QuestionID: "q1", Correct: true, TimeSeconds: &secs},
			{QuestionID: "q2", Correct: false},
		},
	}

	applied, err := s.Apply(ctx, graded)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Apply(ctx, graded)
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, s.ApplyBatch(ctx, []*model.AnalyticsEvent{graded, {
		Kind:          model.AnalyticsEventClosed,
		AttemptID:     attemptID,
		AssessmentID:  "a1",
		QuestionCount: 3,
		Progress:      1,
	}}))

	totals, questions, err := s.GetAssessment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, totals.TotalAttempts)
	assert.Equal(t, 8.0, totals.ScoreSum)
	assert.Equal(t, 1, totals.PassedCount)
	require.Len(t, questions, 2)
	assert.Equal(t, 1, questions[0].CorrectCount)
	assert.Equal(t, 1, questions[0].TimedCount)
	assert.Equal(t, 0, questions[1].TimedCount)

	dropoff, err := s.GetDropoff(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, dropoff, 2)
	assert.Equal(t, 0, dropoff[0].Stalled)
	assert.Equal(t, 1, dropoff[1].Stalled)

	_, err = s.Apply(ctx, &model.AnalyticsEvent{Kind: "bogus", AttemptID: uuid.New(), AssessmentID: "a1"})
	assert.Error(t, err)
}
