package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/app"
	"github.com/stemsi/exstem-attempt-engine/internal/auth"
	"github.com/stemsi/exstem-attempt-engine/internal/catalog"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/repository/memory"
	"github.com/stemsi/exstem-attempt-engine/internal/validator"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	validator.Setup()
	os.Exit(m.Run())
}

type testServer struct {
	app    *app.App
	srv    *httptest.Server
	tokens *auth.JWTManager
	source *catalog.MemorySource
}

// newServer wires the full engine over the memory store and miniredis.
func newServer(t *testing.T, defs ...*model.AssessmentDefinition) *testServer {
	t.Helper()
	cfg := &config.Config{
		GinMode:            "test",
		StorageDriver:      config.StorageDriverMemory,
		AuthProvider:       config.AuthProviderJWT,
		JWTSecret:          "handler-secret",
		JWTIssuer:          "attempt-engine",
		JWTExpiry:          time.Hour,
		EventsDriver:       config.EventsDriverNone,
		ExpiryWorkers:      1,
		AnalyticsBatchSize: 1,
		IntegrityBatchSize: 1,
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	source := catalog.NewMemorySource(defs...)
	a, err := app.Build(cfg, zerolog.Nop(), rdb, app.MemoryStores(memory.NewStore(), source))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	require.NoError(t, a.Start(ctx, &wg))

	srv := httptest.NewServer(a.Router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		wg.Wait()
		a.Close()
	})

	return &testServer{
		app:    a,
		srv:    srv,
		tokens: auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiry),
		source: source,
	}
}

func (s *testServer) token(t *testing.T, userID string, role model.Role) string {
	t.Helper()
	tok, err := s.tokens.Issue(userID, role)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func (s *testServer) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (s *testServer) call(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	resp := s.request(t, method, path, token, body)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (s *testServer) start(t *testing.T, learnerID, assessmentID string) *model.Attempt {
	t.Helper()
	a, err := s.app.Attempts.StartAttempt(context.Background(), learnerID, assessmentID, "")
	require.NoError(t, err)
	return a
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// sseReader yields the payload of each "data:" line of an event stream.
type sseReader struct {
	scanner *bufio.Scanner
}

func (r *sseReader) next(t *testing.T) []byte {
	t.Helper()
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: "))
		}
	}
	t.Fatalf("event stream ended: %v", r.scanner.Err())
	return nil
}

func quiz(id string) *model.AssessmentDefinition {
	return &model.AssessmentDefinition{
		ID:            id,
		Title:         "Quiz " + id,
		Kind:          model.AssessmentKindQuiz,
		PassingScore:  1,
		GradingPolicy: model.GradingPolicyAuto,
		Published:     true,
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMCQ, Marks: 1, Options: []model.Option{{ID: "a", Correct: true}, {ID: "b"}}},
			{ID: "q2", Type: model.QuestionTypeMCQ, Marks: 1, Options: []model.Option{{ID: "a"}, {ID: "b", Correct: true}}},
		},
	}
}

func essay(id string) *model.AssessmentDefinition {
	return &model.AssessmentDefinition{
		ID:            id,
		Title:         "Essay " + id,
		Kind:          model.AssessmentKindQuiz,
		PassingScore:  5,
		GradingPolicy: model.GradingPolicyManual,
		Published:     true,
		Questions: []model.Question{
			{ID: "e1", Type: model.QuestionTypeEssay, Marks: 10, Rubric: []model.RubricCriterion{
				{Key: "content", MaxPoints: 6},
				{Key: "style", MaxPoints: 4},
			}},
		},
	}
}
