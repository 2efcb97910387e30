package handler

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/response"
	"github.com/stemsi/exstem-attempt-engine/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportHandler serves the pre-aggregated analytics of an assessment.
type ReportHandler struct {
	analytics *service.AnalyticsService
	log       zerolog.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(analytics *service.AnalyticsService, log zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		analytics: analytics,
		log:       log.With().Str("component", "report_handler").Logger(),
	}
}

// GetAnalytics godoc
// GET /api/v1/reports/assessments/:assessment_id/analytics
func (h *ReportHandler) GetAnalytics(c *gin.Context) {
	report, err := h.analytics.GetAssessmentAnalytics(c.Request.Context(), c.Param("assessment_id"))
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// GetDropoff godoc
// GET /api/v1/reports/assessments/:assessment_id/dropoff
func (h *ReportHandler) GetDropoff(c *gin.Context) {
	report, err := h.analytics.GetDropoffAnalysis(c.Request.Context(), c.Param("assessment_id"))
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// ExportAnalytics godoc
// GET /api/v1/reports/assessments/:assessment_id/analytics.xlsx
// The workbook is built in memory so a failure still yields a JSON error.
func (h *ReportHandler) ExportAnalytics(c *gin.Context) {
	assessmentID := c.Param("assessment_id")

	var buf bytes.Buffer
	if err := h.analytics.ExportAssessmentAnalytics(c.Request.Context(), assessmentID, &buf); err != nil {
		failWithError(c, h.log, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="analytics-%s.xlsx"`, assessmentID))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
