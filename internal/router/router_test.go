package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/auth"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/handler"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(origins []string) http.Handler {
	cfg := &config.Config{GinMode: "test", AllowedOrigins: origins}
	verifier := auth.NewJWTManager("secret", "attempt-engine", time.Hour)
	handlers := &Handlers{
		Attempt: &handler.AttemptHandler{},
		Grading: &handler.GradingHandler{},
		Report:  &handler.ReportHandler{},
		Monitor: &handler.MonitorHandler{},
		WS:      &handler.WSHandler{},
		Catalog: &handler.CatalogHandler{},
		System:  &handler.SystemHandler{},
	}
	return SetupRouter(verifier, nil, handlers, cfg, zerolog.Nop())
}

func TestSetupRouter_HealthAndHeaders(t *testing.T) {
	r := newTestRouter(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Body.String(), `"request_id":"abc-123"`)
}

func TestSetupRouter_CORS(t *testing.T) {
	r := newTestRouter([]string{"https://lms.example.com"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/learner/attempts/x", nil)
	req.Header.Set("Origin", "https://lms.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://lms.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodOptions, "/api/v1/learner/attempts/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSetupRouter_UnauthenticatedGroups(t *testing.T) {
	r := newTestRouter(nil)

	for _, path := range []string{
		"/api/v1/learner/attempts/x",
		"/api/v1/grading/attempts/x/grades",
		"/api/v1/reports/assessments/x/analytics",
		"/api/v1/admin/system/status",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}
