package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/repository"
	"github.com/stemsi/exstem-attempt-engine/internal/response"
	"github.com/stemsi/exstem-attempt-engine/internal/service"
)

// errorMapping pairs a service error with its HTTP status and code.
type errorMapping struct {
	err    error
	status int
	code   response.ErrCode
	// detail exposes the wrapped message, for errors the caller can fix.
	detail bool
}

var errorMappings = []errorMapping{
	{service.ErrAttemptNotFound, http.StatusNotFound, response.ErrAttemptNotFound, false},
	{service.ErrQuestionNotFound, http.StatusNotFound, response.ErrQuestionNotFound, false},
	{service.ErrNotAttemptOwner, http.StatusForbidden, response.ErrNotAttemptOwner, false},
	{service.ErrInvalidEntryCode, http.StatusForbidden, response.ErrInvalidEntryCode, false},
	{service.ErrAssessmentNotAvailable, http.StatusForbidden, response.ErrAssessmentNotAvailable, false},
	{service.ErrAttemptAlreadyActive, http.StatusConflict, response.ErrAttemptAlreadyActive, false},
	{service.ErrAttemptLimitExceeded, http.StatusConflict, response.ErrAttemptLimitExceeded, false},
	{service.ErrAttemptNotInProgress, http.StatusConflict, response.ErrAttemptNotInProgress, false},
	{service.ErrAttemptNotGradable, http.StatusConflict, response.ErrAttemptNotGradable, false},
	{service.ErrAttemptAlreadyGraded, http.StatusConflict, response.ErrAttemptAlreadyGraded, false},
	{service.ErrInvalidAnswerFormat, http.StatusUnprocessableEntity, response.ErrInvalidAnswerFormat, true},
	{service.ErrInvalidScore, http.StatusUnprocessableEntity, response.ErrInvalidScore, true},
	{repository.ErrVersionConflict, http.StatusConflict, response.ErrConflict, false},
}

// classify resolves an error to its status and code. Unknown errors are
// internal.
func classify(err error) (int, response.ErrCode, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			if m.detail {
				return m.status, m.code, err.Error()
			}
			return m.status, m.code, ""
		}
	}
	return http.StatusInternalServerError, response.ErrInternal, ""
}

// failWithError writes the envelope for a service error and logs the
// unexpected ones.
func failWithError(c *gin.Context, log zerolog.Logger, err error) {
	status, code, detail := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.FailWithDetail(c, status, code, detail)
}

// attemptIDParam parses the :attempt_id path parameter, writing the error
// response itself when it is malformed.
func attemptIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
