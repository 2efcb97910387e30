package handler_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsMessage struct {
	Event     string          `json:"event"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Code      string          `json:"code"`
	Error     string          `json:"error"`
}

func (s *testServer) dial(t *testing.T, attemptID, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") +
		"/ws/v1/learner/attempts/" + attemptID + "/stream?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

// readUntil skips pushed attempt events until the reply with requestID.
func readUntil(t *testing.T, conn *websocket.Conn, requestID string) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event != "attempt" && msg.RequestID == requestID {
			return msg
		}
	}
}

func TestWSHandler_AttemptStream(t *testing.T) {
	s := newServer(t, quiz("quiz"))
	tok := s.token(t, "learner-1", model.RoleLearner)
	a := s.start(t, "learner-1", "quiz")

	conn, _, err := s.dial(t, a.ID.String(), tok)
	require.NoError(t, err)
	defer conn.Close()

	var state wsMessage
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, "state", state.Event)
	view := decode[service.AttemptView](t, state.Data)
	assert.Equal(t, a.ID, view.Attempt.ID)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "ping", "request_id": "p1"}))
	assert.Equal(t, "pong", readUntil(t, conn, "p1").Event)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "record", "request_id": "r1", "question_id": "q1", "value": "a"}))
	recorded := readUntil(t, conn, "r1")
	assert.Equal(t, "recorded", recorded.Event)
	saved := decode[model.Response](t, recorded.Data)
	assert.Equal(t, "q1", saved.QuestionID)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "record", "request_id": "r2", "question_id": "q1", "value": 7}))
	bad := readUntil(t, conn, "r2")
	assert.Equal(t, "error", bad.Event)
	assert.Equal(t, "INVALID_ANSWER_FORMAT", bad.Code)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "integrity", "request_id": "i1", "kind": "bogus"}))
	assert.Equal(t, "VALIDATION_ERROR", readUntil(t, conn, "i1").Code)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "dance", "request_id": "d1"}))
	assert.Equal(t, "INVALID_PAYLOAD", readUntil(t, conn, "d1").Code)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":     "submit",
		"request_id": "s1",
		"responses":  map[string]any{"q2": "b"},
	}))
	submitted := readUntil(t, conn, "s1")
	assert.Equal(t, "submitted", submitted.Event)
	result := decode[service.SubmitResult](t, submitted.Data)
	assert.Equal(t, model.AttemptStateGraded, result.Attempt.State)
	assert.Equal(t, 2.0, result.ProvisionalScore)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "record", "request_id": "r3", "question_id": "q1", "value": "b"}))
	assert.Equal(t, "ATTEMPT_NOT_IN_PROGRESS", readUntil(t, conn, "r3").Code)
}

func TestWSHandler_PushesDomainEvents(t *testing.T) {
	s := newServer(t, quiz("quiz"))
	tok := s.token(t, "learner-1", model.RoleLearner)
	a := s.start(t, "learner-1", "quiz")

	conn, _, err := s.dial(t, a.ID.String(), tok)
	require.NoError(t, err)
	defer conn.Close()

	var state wsMessage
	require.NoError(t, conn.ReadJSON(&state))

	// A grader closing the attempt reaches the learner's stream.
	_, err = s.app.Attempts.AbandonAttempt(t.Context(), a.ID, "", "proctor_closed")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var pushed wsMessage
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, "attempt", pushed.Event)
	ev := decode[model.AttemptEvent](t, pushed.Data)
	assert.Equal(t, model.EventAttemptAbandoned, ev.Type)
	assert.Equal(t, "proctor_closed", ev.Reason)
}

func TestWSHandler_RejectsBeforeUpgrade(t *testing.T) {
	s := newServer(t, quiz("quiz"))
	a := s.start(t, "learner-1", "quiz")

	_, resp, err := s.dial(t, a.ID.String(), s.token(t, "learner-2", model.RoleLearner))
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = s.dial(t, a.ID.String(), "garbage")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
