package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/middleware"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/response"
	"github.com/stemsi/exstem-attempt-engine/internal/service"
	"github.com/stemsi/exstem-attempt-engine/internal/validator"
)

// GradingHandler handles grader endpoints.
type GradingHandler struct {
	grading  *service.GradingService
	attempts *service.AttemptService
	log      zerolog.Logger
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(grading *service.GradingService, attempts *service.AttemptService, log zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		grading:  grading,
		attempts: attempts,
		log:      log.With().Str("component", "grading_handler").Logger(),
	}
}

// bulkItemView is one bulk grading outcome with its error code.
type bulkItemView struct {
	AttemptID  string              `json:"attempt_id"`
	QuestionID string              `json:"question_id"`
	OK         bool                `json:"ok"`
	Grade      *model.GradeRecord  `json:"grade,omitempty"`
	Error      *response.ErrorBody `json:"error,omitempty"`
}

// GradeQuestion godoc
// POST /api/v1/grading/attempts/:attempt_id/questions/:question_id
func (h *GradingHandler) GradeQuestion(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}
	questionID := c.Param("question_id")
	if !validator.ValidQuestionID(questionID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.GradeQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	grade, err := h.grading.GradeQuestion(c.Request.Context(), service.GradeInput{
		AttemptID:    attemptID,
		QuestionID:   questionID,
		GraderID:     claims.UserID,
		Score:        req.Score,
		RubricScores: req.RubricScores,
		Feedback:     req.Feedback,
	})
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"grade": grade})
}

// FinalizeAttempt godoc
// POST /api/v1/grading/attempts/:attempt_id/finalize
// Responds 202 while questions still wait for a grader.
func (h *GradingHandler) FinalizeAttempt(c *gin.Context) {
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	result, err := h.grading.FinalizeAttempt(c.Request.Context(), attemptID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	if result.Status == service.FinalizeStatusPendingManualGrade {
		response.Accepted(c, result)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// BulkGrade godoc
// POST /api/v1/grading/bulk
// Items are applied independently; failures are reported per item.
func (h *GradingHandler) BulkGrade(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.BulkGradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result := h.grading.BulkGrade(c.Request.Context(), claims.UserID, &req)

	items := make([]bulkItemView, 0, len(result.Items))
	for _, it := range result.Items {
		view := bulkItemView{AttemptID: it.AttemptID, QuestionID: it.QuestionID, OK: it.OK, Grade: it.Grade}
		if it.Err != nil {
			_, code, detail := classify(it.Err)
			if detail == "" {
				detail = response.GetMessage(code)
			}
			view.Error = &response.ErrorBody{Code: code, Message: detail}
		}
		items = append(items, view)
	}

	h.log.Info().
		Str("grader_id", claims.UserID).
		Int("items", len(items)).
		Int("failed", result.Failed).
		Int("finalized", len(result.Finalized)).
		Msg("Bulk grading applied")

	response.Success(c, http.StatusOK, gin.H{
		"items":     items,
		"failed":    result.Failed,
		"finalized": result.Finalized,
	})
}

// ListGrades godoc
// GET /api/v1/grading/attempts/:attempt_id/grades
func (h *GradingHandler) ListGrades(c *gin.Context) {
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	grades, err := h.grading.ListGrades(c.Request.Context(), attemptID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	if grades == nil {
		grades = []model.GradeRecord{}
	}
	response.Success(c, http.StatusOK, gin.H{"grades": grades})
}

// AbandonAttempt godoc
// POST /api/v1/grading/attempts/:attempt_id/abandon
func (h *GradingHandler) AbandonAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	var req model.AbandonAttemptRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attempts.AbandonAttempt(c.Request.Context(), attemptID, "", req.Reason)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	h.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("by", claims.UserID).
		Str("reason", attempt.ClosedReason).
		Msg("Attempt abandoned")
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}
