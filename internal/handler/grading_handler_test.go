package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// submitted starts and submits an essay attempt awaiting a grader.
func (s *testServer) submitted(t *testing.T, learnerID string) *model.Attempt {
	t.Helper()
	a := s.start(t, learnerID, "essay")
	res, err := s.app.Attempts.SubmitAttempt(context.Background(), a.ID, learnerID,
		map[string]json.RawMessage{"e1": json.RawMessage(`"My essay"`)})
	require.NoError(t, err)
	require.True(t, res.PendingManual)
	return res.Attempt
}

func TestGradingHandler_RubricGradeAndFinalize(t *testing.T) {
	s := newServer(t, essay("essay"))
	grader := s.token(t, "grader-1", model.RoleGrader)
	a := s.submitted(t, "learner-1")
	base := "/api/v1/grading/attempts/" + a.ID.String()

	status, env := s.call(t, http.MethodPost, base+"/finalize", grader, nil)
	require.Equal(t, http.StatusAccepted, status)
	pending := decode[struct {
		Status           string   `json:"status"`
		PendingQuestions []string `json:"pending_questions"`
	}](t, env.Data)
	assert.Equal(t, "PENDING_MANUAL_GRADE", pending.Status)
	assert.Equal(t, []string{"e1"}, pending.PendingQuestions)

	status, env = s.call(t, http.MethodPost, base+"/questions/e1", grader,
		map[string]any{"rubric_scores": map[string]float64{"content": 7}})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INVALID_SCORE", env.Error.Code)
	assert.NotEmpty(t, env.Error.Message)

	status, _ = s.call(t, http.MethodPost, base+"/questions/e1", grader,
		map[string]any{"rubric_scores": map[string]float64{"content": 5, "style": 3}, "feedback": "Clear"})
	require.Equal(t, http.StatusOK, status)

	status, env = s.call(t, http.MethodGet, base+"/grades", grader, nil)
	require.Equal(t, http.StatusOK, status)
	grades := decode[struct {
		Grades []model.GradeRecord `json:"grades"`
	}](t, env.Data)
	require.Len(t, grades.Grades, 1)
	require.NotNil(t, grades.Grades[0].ManualScore)
	assert.Equal(t, 8.0, *grades.Grades[0].ManualScore)
	assert.Equal(t, "grader-1", grades.Grades[0].GraderID)

	status, env = s.call(t, http.MethodPost, base+"/finalize", grader, nil)
	require.Equal(t, http.StatusOK, status)
	final := decode[struct {
		Status     string   `json:"status"`
		FinalScore *float64 `json:"final_score"`
		Passed     *bool    `json:"passed"`
	}](t, env.Data)
	assert.Equal(t, "GRADED", final.Status)
	require.NotNil(t, final.FinalScore)
	assert.Equal(t, 8.0, *final.FinalScore)
	assert.True(t, *final.Passed)

	status, env = s.call(t, http.MethodPost, base+"/questions/e1", grader, map[string]any{"score": 1})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ATTEMPT_ALREADY_GRADED", env.Error.Code)
}

func TestGradingHandler_GradeRunningAttempt(t *testing.T) {
	s := newServer(t, essay("essay"))
	grader := s.token(t, "grader-1", model.RoleGrader)
	a := s.start(t, "learner-1", "essay")

	status, env := s.call(t, http.MethodPost, "/api/v1/grading/attempts/"+a.ID.String()+"/questions/e1", grader,
		map[string]any{"score": 5})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ATTEMPT_NOT_GRADABLE", env.Error.Code)

	status, env = s.call(t, http.MethodPost, "/api/v1/grading/attempts/"+uuid.NewString()+"/finalize", grader, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "ATTEMPT_NOT_FOUND", env.Error.Code)
}

func TestGradingHandler_BulkGrade(t *testing.T) {
	s := newServer(t, essay("essay"))
	grader := s.token(t, "grader-1", model.RoleGrader)
	first := s.submitted(t, "learner-1")
	second := s.submitted(t, "learner-2")

	status, env := s.call(t, http.MethodPost, "/api/v1/grading/bulk", grader, map[string]any{
		"finalize": true,
		"items": []map[string]any{
			{"attempt_id": first.ID.String(), "question_id": "e1", "score": 9},
			{"attempt_id": second.ID.String(), "question_id": "e1", "score": 12},
			{"attempt_id": second.ID.String(), "question_id": "nope", "score": 1},
		},
	})
	require.Equal(t, http.StatusOK, status)

	type item struct {
		AttemptID  string `json:"attempt_id"`
		QuestionID string `json:"question_id"`
		OK         bool   `json:"ok"`
		Error      *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	result := decode[struct {
		Items     []item      `json:"items"`
		Failed    int         `json:"failed"`
		Finalized []struct {
			Status  string        `json:"status"`
			Attempt model.Attempt `json:"attempt"`
		} `json:"finalized"`
	}](t, env.Data)

	require.Len(t, result.Items, 3)
	assert.True(t, result.Items[0].OK)
	assert.False(t, result.Items[1].OK)
	assert.Equal(t, "INVALID_SCORE", result.Items[1].Error.Code)
	assert.Equal(t, "QUESTION_NOT_FOUND", result.Items[2].Error.Code)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Finalized, 1)
	assert.Equal(t, first.ID, result.Finalized[0].Attempt.ID)
	assert.Equal(t, "GRADED", result.Finalized[0].Status)

	third := s.submitted(t, "learner-3")
	status, env = s.call(t, http.MethodPost, "/api/v1/grading/bulk", grader, map[string]any{
		"items": []map[string]any{
			{"attempt_id": third.ID.String(), "question_id": "e1", "score": 7},
			{"attempt_id": "not-a-uuid", "question_id": "e1", "score": 1},
			{"attempt_id": third.ID.String(), "question_id": "e1", "score": -1},
		},
	})
	require.Equal(t, http.StatusOK, status)
	mixed := decode[struct {
		Items  []item `json:"items"`
		Failed int    `json:"failed"`
	}](t, env.Data)
	require.Len(t, mixed.Items, 3)
	assert.True(t, mixed.Items[0].OK)
	assert.Equal(t, "ATTEMPT_NOT_FOUND", mixed.Items[1].Error.Code)
	assert.Equal(t, "INVALID_SCORE", mixed.Items[2].Error.Code)
	assert.Equal(t, 2, mixed.Failed)

	status, env = s.call(t, http.MethodGet, "/api/v1/grading/attempts/"+third.ID.String()+"/grades", grader, nil)
	require.Equal(t, http.StatusOK, status)
	grades := decode[struct {
		Grades []model.GradeRecord `json:"grades"`
	}](t, env.Data).Grades
	require.Len(t, grades, 1)
	require.NotNil(t, grades[0].ManualScore)
	assert.Equal(t, 7.0, *grades[0].ManualScore)

	status, env = s.call(t, http.MethodPost, "/api/v1/grading/bulk", grader, map[string]any{
		"items": []map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestGradingHandler_Abandon(t *testing.T) {
	s := newServer(t, quiz("quiz"))
	grader := s.token(t, "grader-1", model.RoleGrader)
	a := s.start(t, "learner-1", "quiz")
	path := "/api/v1/grading/attempts/" + a.ID.String() + "/abandon"

	status, env := s.call(t, http.MethodPost, path, grader, map[string]any{"reason": "proctor_closed"})
	require.Equal(t, http.StatusOK, status)
	out := decode[struct {
		Attempt model.Attempt `json:"attempt"`
	}](t, env.Data)
	assert.Equal(t, model.AttemptStateAbandoned, out.Attempt.State)
	assert.Equal(t, "proctor_closed", out.Attempt.ClosedReason)

	learner := s.token(t, "learner-1", model.RoleLearner)
	status, _ = s.call(t, http.MethodPost, path, learner, nil)
	assert.Equal(t, http.StatusForbidden, status)
}
