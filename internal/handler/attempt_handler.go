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

// AttemptHandler handles learner-facing attempt endpoints.
type AttemptHandler struct {
	attempts  *service.AttemptService
	ledger    *service.LedgerService
	integrity *service.IntegrityService
	log       zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(
	attempts *service.AttemptService,
	ledger *service.LedgerService,
	integrity *service.IntegrityService,
	log zerolog.Logger,
) *AttemptHandler {
	return &AttemptHandler{
		attempts:  attempts,
		ledger:    ledger,
		integrity: integrity,
		log:       log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/learner/assessments/:assessment_id/attempts
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attempts.StartAttempt(c.Request.Context(), claims.UserID, c.Param("assessment_id"), req.EntryCode)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	view, err := h.attempts.GetAttemptState(c.Request.Context(), attempt.ID, claims.UserID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, view)
}

// ResumeAttempt godoc
// GET /api/v1/learner/assessments/:assessment_id/attempts/active
func (h *AttemptHandler) ResumeAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	view, err := h.attempts.ResumeAttempt(c.Request.Context(), claims.UserID, c.Param("assessment_id"))
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// GetAttempt godoc
// GET /api/v1/learner/attempts/:attempt_id
// Returns the state, remaining time and saved responses of an attempt.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	view, err := h.attempts.GetAttemptState(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// RecordResponse godoc
// PUT /api/v1/learner/attempts/:attempt_id/responses/:question_id
func (h *AttemptHandler) RecordResponse(c *gin.Context) {
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

	var req model.RecordResponseRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	saved, err := h.ledger.RecordResponse(c.Request.Context(), attemptID, claims.UserID, questionID, req.Value)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"response": saved})
}

// SubmitAttempt godoc
// POST /api/v1/learner/attempts/:attempt_id/submit
// Answers in the body are recorded before the attempt closes. A result
// that still needs a grader is reported with 202.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attempts.SubmitAttempt(c.Request.Context(), attemptID, claims.UserID, req.Responses)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	if result.PendingManual {
		response.Accepted(c, result)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// ReportIntegrity godoc
// POST /api/v1/learner/attempts/:attempt_id/integrity
func (h *AttemptHandler) ReportIntegrity(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}

	var req model.ReportIntegrityRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	outcome, err := h.integrity.ReportEvent(c.Request.Context(), attemptID, claims.UserID, req.Kind, req.Payload)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, outcome)
}
