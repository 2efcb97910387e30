package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/middleware"
	"github.com/stemsi/exstem-attempt-engine/internal/response"
	"github.com/stemsi/exstem-attempt-engine/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	rdb     *redis.Client
	monitor *service.MonitorService
	log     zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, monitor *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:     rdb,
		monitor: monitor,
		log:     log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorAssessmentSSE godoc
// GET /api/v1/reports/assessments/:assessment_id/monitor
// Streams a snapshot, then every attempt event of the assessment, with a
// refreshed snapshot after activity and a periodic ping.
func (h *MonitorHandler) MonitorAssessmentSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID := c.Param("assessment_id")
	reqCtx := c.Request.Context()

	snapshot, err := h.snapshotPayload(reqCtx, assessmentID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	// Subscribe before the snapshot goes out so no event falls in between.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.AssessmentMonitorChannel(assessmentID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Str("assessment_id", assessmentID).Msg("Monitor subscription failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}
	ch := pubsub.Channel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	writeSSE(c, snapshot)

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Snapshots are only rebuilt after events arrived
	dirty := false

	h.log.Info().Str("assessment_id", assessmentID).Str("user_id", claims.UserID).Msg("Proctor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("assessment_id", assessmentID).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed
			writeSSE(c, []byte(msg.Payload))
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			if payload, err := h.snapshotPayload(reqCtx, assessmentID); err == nil {
				writeSSE(c, payload)
				dirty = false
			} else {
				h.log.Warn().Err(err).Msg("Failed to refresh monitor snapshot")
			}

		case <-keepAliveTicker.C:
			writeSSE(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) snapshotPayload(parentCtx context.Context, assessmentID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	snap, err := h.monitor.GetSnapshot(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{
		"type": "snapshot",
		"data": snap,
	})
}

func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
