package handler_test

import (
	"net/http"
	"testing"

	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptHandler_StartAndResume(t *testing.T) {
	s := newServer(t, quiz("quiz"))
	tok := s.token(t, "learner-1", model.RoleLearner)

	status, env := s.call(t, http.MethodPost, "/api/v1/learner/assessments/quiz/attempts", tok, nil)
	require.Equal(t, http.StatusCreated, status)
	started := decode[service.AttemptView](t, env.Data)
	assert.Equal(t, model.AttemptStateInProgress, started.Attempt.State)
	assert.ElementsMatch(t, []string{"q1", "q2"}, started.Attempt.QuestionOrder)
	assert.Nil(t, started.RemainingSeconds, "untimed quizzes have no countdown")

	status, env = s.call(t, http.MethodPost, "/api/v1/learner/assessments/quiz/attempts", tok, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ATTEMPT_ALREADY_ACTIVE", env.Error.Code)

	status, env = s.call(t, http.MethodGet, "/api/v1/learner/assessments/quiz/attempts/active", tok, nil)
	require.Equal(t, http.StatusOK, status)
	resumed := decode[service.AttemptView](t, env.Data)
	assert.Equal(t, started.Attempt.ID, resumed.Attempt.ID)
}

func TestAttemptHandler_StartErrors(t *testing.T) {
	hidden := quiz("hidden")
	hidden.Published = false
	s := newServer(t, quiz("quiz"), hidden)
	tok := s.token(t, "learner-1", model.RoleLearner)

	status, env := s.call(t, http.MethodPost, "/api/v1/learner/assessments/hidden/attempts", tok, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ASSESSMENT_NOT_AVAILABLE", env.Error.Code)

	status, env = s.call(t, http.MethodGet, "/api/v1/learner/assessments/quiz/attempts/active", tok, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "ATTEMPT_NOT_FOUND", env.Error.Code)

	status, env = s.call(t, http.MethodGet, "/api/v1/learner/attempts/not-a-uuid", tok, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ID", env.Error.Code)

	grader := s.token(t, "grader-1", model.RoleGrader)
	status, env = s.call(t, http.MethodPost, "/api/v1/learner/assessments/quiz/attempts", grader, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "PERMISSION_DENIED", env.Error.Code)
}

func TestAttemptHandler_RecordAndSubmit(t *testing.T) {
	s := newServer(t, quiz("quiz"))
	tok := s.token(t, "learner-1", model.RoleLearner)
	a := s.start(t, "learner-1", "quiz")
	base := "/api/v1/learner/attempts/" + a.ID.String()

	status, env := s.call(t, http.MethodPut, base+"/responses/q1", tok, map[string]any{"value": "a"})
	require.Equal(t, http.StatusOK, status)

	status, env = s.call(t, http.MethodPut, base+"/responses/q1", tok, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "value")

	status, env = s.call(t, http.MethodPut, base+"/responses/q9", tok, map[string]any{"value": "a"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "QUESTION_NOT_FOUND", env.Error.Code)

	status, env = s.call(t, http.MethodPut, base+"/responses/q2", tok, map[string]any{"value": 42})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INVALID_ANSWER_FORMAT", env.Error.Code)

	status, env = s.call(t, http.MethodGet, base, tok, nil)
	require.Equal(t, http.StatusOK, status)
	view := decode[service.AttemptView](t, env.Data)
	require.Len(t, view.Responses, 1)
	assert.JSONEq(t, `"a"`, string(view.Responses[0].Value))

	status, env = s.call(t, http.MethodPost, base+"/submit", tok, nil)
	require.Equal(t, http.StatusOK, status)
	result := decode[service.SubmitResult](t, env.Data)
	assert.Equal(t, model.AttemptStateGraded, result.Attempt.State)
	assert.Equal(t, 1.0, result.ProvisionalScore)
	assert.False(t, result.PendingManual)

	// Resubmission returns the recorded outcome.
	status, env = s.call(t, http.MethodPost, base+"/submit", tok, nil)
	require.Equal(t, http.StatusOK, status)
	again := decode[service.SubmitResult](t, env.Data)
	assert.Equal(t, result.Attempt.ID, again.Attempt.ID)
	assert.Equal(t, model.AttemptStateGraded, again.Attempt.State)
}

func TestAttemptHandler_SubmitPendingManual(t *testing.T) {
	s := newServer(t, essay("essay"))
	tok := s.token(t, "learner-1", model.RoleLearner)
	a := s.start(t, "learner-1", "essay")

	status, env := s.call(t, http.MethodPost, "/api/v1/learner/attempts/"+a.ID.String()+"/submit", tok,
		map[string]any{"responses": map[string]any{"e1": "An answer"}})
	require.Equal(t, http.StatusAccepted, status)
	result := decode[service.SubmitResult](t, env.Data)
	assert.True(t, result.PendingManual)
	assert.Equal(t, []string{"e1"}, result.PendingQuestions)
	assert.Equal(t, model.AttemptStateSubmitted, result.Attempt.State)
}

func TestAttemptHandler_ReportIntegrity(t *testing.T) {
	def := quiz("proctored")
	def.MaxIntegrityViolations = 1
	s := newServer(t, def)
	tok := s.token(t, "learner-1", model.RoleLearner)
	a := s.start(t, "learner-1", "proctored")
	path := "/api/v1/learner/attempts/" + a.ID.String() + "/integrity"

	status, env := s.call(t, http.MethodPost, path, tok, map[string]any{"kind": "smoke_signal"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	status, env = s.call(t, http.MethodPost, path, tok, map[string]any{"kind": "tab_switch"})
	require.Equal(t, http.StatusOK, status)
	first := decode[model.IntegrityOutcome](t, env.Data)
	assert.Equal(t, model.IntegrityOutcome{Violations: 1, Limit: 1}, first)

	status, env = s.call(t, http.MethodPost, path, tok, map[string]any{"kind": "focus_lost"})
	require.Equal(t, http.StatusOK, status)
	second := decode[model.IntegrityOutcome](t, env.Data)
	assert.True(t, second.Abandoned)

	status, env = s.call(t, http.MethodGet, "/api/v1/learner/attempts/"+a.ID.String(), tok, nil)
	require.Equal(t, http.StatusOK, status)
	view := decode[service.AttemptView](t, env.Data)
	assert.Equal(t, model.AttemptStateAbandoned, view.Attempt.State)
}
