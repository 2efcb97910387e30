package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/auth"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/handler"
	"github.com/stemsi/exstem-attempt-engine/internal/middleware"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	Grading *handler.GradingHandler
	Report  *handler.ReportHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
	Catalog *handler.CatalogHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// A nil limiter disables rate limiting.
func SetupRouter(
	verifier auth.TokenVerifier,
	limiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	authenticated := []gin.HandlerFunc{middleware.Authenticate(verifier)}
	if limiter != nil {
		authenticated = append(authenticated, limiter.Middleware())
	}

	// ─── 1. Learner Group ──────────────────────────────────────────────
	learnerAPI := router.Group("/api/v1/learner")
	learnerAPI.Use(authenticated...)
	learnerAPI.Use(
		middleware.RequirePermission(model.PermissionAttemptsTake),
		middleware.NoStore(),
	)
	{
		learnerAPI.POST("/assessments/:assessment_id/attempts", handlers.Attempt.StartAttempt)
		learnerAPI.GET("/assessments/:assessment_id/attempts/active", handlers.Attempt.ResumeAttempt)
		learnerAPI.GET("/attempts/:attempt_id", handlers.Attempt.GetAttempt)
		learnerAPI.PUT("/attempts/:attempt_id/responses/:question_id", handlers.Attempt.RecordResponse)
		learnerAPI.POST("/attempts/:attempt_id/submit", handlers.Attempt.SubmitAttempt)
		learnerAPI.POST("/attempts/:attempt_id/integrity", handlers.Attempt.ReportIntegrity)
	}

	// ─── 2. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.Authenticate(verifier))
	{
		ws.GET("/learner/attempts/:attempt_id/stream",
			middleware.RequirePermission(model.PermissionAttemptsTake),
			handlers.WS.AttemptStream,
		)
	}

	// ─── 3. Grading Group ──────────────────────────────────────────────
	gradingAPI := router.Group("/api/v1/grading")
	gradingAPI.Use(authenticated...)
	gradingAPI.Use(middleware.NoStore())
	{
		gradingAPI.GET("/attempts/:attempt_id/grades",
			middleware.RequirePermission(model.PermissionGradingRead),
			handlers.Grading.ListGrades,
		)
		gradingAPI.POST("/attempts/:attempt_id/questions/:question_id",
			middleware.RequirePermission(model.PermissionGradingWrite),
			handlers.Grading.GradeQuestion,
		)
		gradingAPI.POST("/attempts/:attempt_id/finalize",
			middleware.RequirePermission(model.PermissionGradingWrite),
			handlers.Grading.FinalizeAttempt,
		)
		gradingAPI.POST("/bulk",
			middleware.RequirePermission(model.PermissionGradingWrite),
			handlers.Grading.BulkGrade,
		)
		gradingAPI.POST("/attempts/:attempt_id/abandon",
			middleware.RequirePermission(model.PermissionAttemptsAbandon),
			handlers.Grading.AbandonAttempt,
		)
	}

	// ─── 4. Reports Group ──────────────────────────────────────────────
	reportsAPI := router.Group("/api/v1/reports")
	reportsAPI.Use(authenticated...)
	reportsAPI.Use(middleware.RequirePermission(model.PermissionReportsRead))
	{
		reportsAPI.GET("/assessments/:assessment_id/analytics", middleware.CacheControl(30), handlers.Report.GetAnalytics)
		reportsAPI.GET("/assessments/:assessment_id/analytics.xlsx", handlers.Report.ExportAnalytics)
		reportsAPI.GET("/assessments/:assessment_id/dropoff", middleware.CacheControl(30), handlers.Report.GetDropoff)
		reportsAPI.GET("/assessments/:assessment_id/monitor", handlers.Monitor.MonitorAssessmentSSE)
	}

	// ─── 5. Admin Group ────────────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(authenticated...)
	{
		adminAPI.POST("/assessments/:assessment_id/refresh-cache",
			middleware.RequirePermission(model.PermissionCatalogRefresh),
			handlers.Catalog.RefreshCache,
		)
		adminAPI.GET("/system/status",
			middleware.RequirePermission(model.PermissionSystemRead),
			handlers.System.GetStatus,
		)
		adminAPI.GET("/system/metrics",
			middleware.RequirePermission(model.PermissionSystemRead),
			handlers.System.SystemMetricsSSE,
		)
	}

	return router
}
