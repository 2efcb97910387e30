package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/report"
	"github.com/stemsi/exstem-attempt-engine/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func (s *testServer) takeQuiz(t *testing.T, learnerID string, answers map[string]string) {
	t.Helper()
	a := s.start(t, learnerID, "quiz")
	final := make(map[string]json.RawMessage, len(answers))
	for q, v := range answers {
		final[q] = json.RawMessage(`"` + v + `"`)
	}
	_, err := s.app.Attempts.SubmitAttempt(context.Background(), a.ID, learnerID, final)
	require.NoError(t, err)
}

func TestReportHandler_AnalyticsAndDropoff(t *testing.T) {
	s := newServer(t, quiz("quiz"))
	grader := s.token(t, "grader-1", model.RoleGrader)

	s.takeQuiz(t, "learner-1", map[string]string{"q1": "a", "q2": "b"})
	s.takeQuiz(t, "learner-2", map[string]string{"q1": "b"})

	var rep model.AnalyticsReport
	require.Eventually(t, func() bool {
		status, env := s.call(t, http.MethodGet, "/api/v1/reports/assessments/quiz/analytics", grader, nil)
		if status != http.StatusOK {
			return false
		}
		rep = decode[model.AnalyticsReport](t, env.Data)
		return rep.TotalAttempts == 2
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, "Quiz quiz", rep.Title)
	assert.Equal(t, 1.0, rep.AverageScore)
	assert.Equal(t, 0.5, rep.PassRate)
	require.Len(t, rep.PerQuestion, 2)
	assert.Equal(t, 50.0, rep.PerQuestion[0].CorrectPct)

	resp := s.request(t, http.MethodGet, "/api/v1/reports/assessments/quiz/dropoff", grader, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "private, max-age=30", resp.Header.Get("Cache-Control"))

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	drop := decode[model.DropoffReport](t, env.Data)
	assert.Equal(t, "quiz", drop.AssessmentID)
}

func TestReportHandler_ExportWorkbook(t *testing.T) {
	s := newServer(t, quiz("quiz"))
	grader := s.token(t, "grader-1", model.RoleGrader)
	s.takeQuiz(t, "learner-1", map[string]string{"q1": "a", "q2": "b"})

	resp := s.request(t, http.MethodGet, "/api/v1/reports/assessments/quiz/analytics.xlsx", grader, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="analytics-quiz.xlsx"`)

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{report.SummarySheet, report.QuestionsSheet, report.DropoffSheet}, f.GetSheetList())
}

func TestMonitorHandler_StreamsSnapshotThenEvents(t *testing.T) {
	s := newServer(t, quiz("quiz"))
	grader := s.token(t, "grader-1", model.RoleGrader)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.srv.URL+"/api/v1/reports/assessments/quiz/monitor", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+grader)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	stream := &sseReader{scanner: bufio.NewScanner(resp.Body)}

	var snap struct {
		Type string                  `json:"type"`
		Data service.MonitorSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(stream.next(t), &snap))
	assert.Equal(t, "snapshot", snap.Type)
	assert.Equal(t, "quiz", snap.Data.AssessmentID)
	assert.Equal(t, 2, snap.Data.TotalQuestions)
	assert.Zero(t, snap.Data.Active)

	// The subscription is live once the snapshot arrived.
	a := s.start(t, "learner-1", "quiz")

	var ev model.AttemptEvent
	require.NoError(t, json.Unmarshal(stream.next(t), &ev))
	assert.Equal(t, model.EventAttemptStarted, ev.Type)
	assert.Equal(t, a.ID, ev.AttemptID)
}

func TestMonitorHandler_RequiresReportsPermission(t *testing.T) {
	s := newServer(t, quiz("quiz"))
	learner := s.token(t, "learner-1", model.RoleLearner)

	status, env := s.call(t, http.MethodGet, "/api/v1/reports/assessments/quiz/monitor", learner, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "PERMISSION_DENIED", env.Error.Code)
}
