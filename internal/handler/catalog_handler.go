package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/catalog"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/response"
)

// CatalogRefresher reloads a cached assessment definition from its source.
type CatalogRefresher interface {
	Refresh(ctx context.Context, assessmentID string) (*model.AssessmentDefinition, error)
}

// CatalogHandler handles catalog cache administration.
type CatalogHandler struct {
	refresher CatalogRefresher
	log       zerolog.Logger
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(refresher CatalogRefresher, log zerolog.Logger) *CatalogHandler {
	return &CatalogHandler{
		refresher: refresher,
		log:       log.With().Str("component", "catalog_handler").Logger(),
	}
}

// RefreshCache godoc
// POST /api/v1/admin/assessments/:assessment_id/refresh-cache
func (h *CatalogHandler) RefreshCache(c *gin.Context) {
	assessmentID := c.Param("assessment_id")

	def, err := h.refresher.Refresh(c.Request.Context(), assessmentID)
	if errors.Is(err, catalog.ErrDefinitionNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"assessment_id": def.ID,
		"title":         def.Title,
		"questions":     len(def.Questions),
	})
}
