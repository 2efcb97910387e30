package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/middleware"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/response"
	"github.com/stemsi/exstem-attempt-engine/internal/service"
	"github.com/stemsi/exstem-attempt-engine/internal/validator"
	ws "github.com/stemsi/exstem-attempt-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the learner attempt stream.
type WSHandler struct {
	rdb       *redis.Client
	attempts  *service.AttemptService
	ledger    *service.LedgerService
	integrity *service.IntegrityService
	log       zerolog.Logger
	upgrader  websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	rdb *redis.Client,
	attempts *service.AttemptService,
	ledger *service.LedgerService,
	integrity *service.IntegrityService,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		rdb:       rdb,
		attempts:  attempts,
		ledger:    ledger,
		integrity: integrity,
		log:       log.With().Str("component", "ws_handler").Logger(),
		upgrader:  buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/learner/attempts/:attempt_id/stream
// Carries record, submit and integrity actions and pushes every event of
// the attempt, including expiry and the final grade, as it happens.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := attemptIDParam(c)
	if !ok {
		return
	}
	learnerID := claims.UserID

	// Ownership is checked before the upgrade so failures keep their HTTP status.
	view, err := h.attempts.GetAttemptState(c.Request.Context(), attemptID, learnerID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsLog := h.log.With().
		Str("learner_id", learnerID).
		Str("attempt_id", attemptID.String()).
		Logger()

	pubsub := h.rdb.Subscribe(ctx, config.CacheKey.AttemptChannel(attemptID.String()))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		wsLog.Warn().Err(err).Msg("Attempt event subscription failed")
	} else {
		go h.forwardEvents(ctx, conn, pubsub.Channel())
	}

	if err := conn.WriteEvent(ws.EventState, "", view); err != nil {
		return
	}

	wsLog.Info().Msg("Learner connected")

	for {
		var req ws.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch req.Action {
		case ws.ActionRecord:
			h.handleRecord(ctx, conn, attemptID, learnerID, &req)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, wsLog, attemptID, learnerID, &req)
		case ws.ActionIntegrity:
			h.handleIntegrity(ctx, conn, attemptID, learnerID, &req)
		case ws.ActionPing:
			conn.WriteEvent(ws.EventPong, req.RequestID, nil)
		default:
			wsLog.Warn().Str("action", string(req.Action)).Msg("Unknown action")
			conn.WriteError(req.RequestID, string(response.ErrInvalidPayload), "unknown action: "+string(req.Action))
		}
	}
}

func (h *WSHandler) forwardEvents(ctx context.Context, conn *ws.Conn, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteEvent(ws.EventAttempt, "", json.RawMessage(msg.Payload)); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) handleRecord(ctx context.Context, conn *ws.Conn, attemptID uuid.UUID, learnerID string, req *ws.Request) {
	if !validator.ValidQuestionID(req.QuestionID) || len(req.Value) == 0 {
		conn.WriteError(req.RequestID, string(response.ErrValidation), "question_id and value are required")
		return
	}

	saved, err := h.ledger.RecordResponse(ctx, attemptID, learnerID, req.QuestionID, req.Value)
	if err != nil {
		writeWSError(conn, h.log, req.RequestID, err)
		return
	}
	conn.WriteEvent(ws.EventRecorded, req.RequestID, saved)
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, learnerID string, req *ws.Request) {
	result, err := h.attempts.SubmitAttempt(ctx, attemptID, learnerID, req.Responses)
	if err != nil {
		writeWSError(conn, h.log, req.RequestID, err)
		return
	}

	wsLog.Info().
		Str("state", string(result.Attempt.State)).
		Bool("pending_manual", result.PendingManual).
		Msg("Attempt submitted over stream")
	conn.WriteEvent(ws.EventSubmitted, req.RequestID, result)
}

func (h *WSHandler) handleIntegrity(ctx context.Context, conn *ws.Conn, attemptID uuid.UUID, learnerID string, req *ws.Request) {
	if !model.ValidIntegrityKind(req.Kind) {
		conn.WriteError(req.RequestID, string(response.ErrValidation), "kind must be one of "+strings.Join(model.IntegrityKinds, ", "))
		return
	}

	outcome, err := h.integrity.ReportEvent(ctx, attemptID, learnerID, req.Kind, req.Payload)
	if err != nil {
		writeWSError(conn, h.log, req.RequestID, err)
		return
	}
	conn.WriteEvent(ws.EventIntegrity, req.RequestID, outcome)
}

func writeWSError(conn *ws.Conn, log zerolog.Logger, requestID string, err error) {
	status, code, detail := classify(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Stream action failed")
	}
	if detail == "" {
		detail = response.GetMessage(code)
	}
	conn.WriteError(requestID, string(code), detail)
}
