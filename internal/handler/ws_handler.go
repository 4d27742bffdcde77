package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/middleware"
	"github.com/stemsi/exstem-practice/internal/model"
	"github.com/stemsi/exstem-practice/internal/response"
	"github.com/stemsi/exstem-practice/internal/service"
	ws "github.com/stemsi/exstem-practice/internal/websocket"
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

// WSHandler handles the mock-test WebSocket stream.
type WSHandler struct {
	sessionService *service.PracticeSessionService
	recorder       *service.AttemptRecorder
	clockInterval  time.Duration
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	sessionService *service.PracticeSessionService,
	recorder *service.AttemptRecorder,
	clockInterval time.Duration,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	if clockInterval <= 0 {
		clockInterval = 15 * time.Second
	}
	return &WSHandler{
		sessionService: sessionService,
		recorder:       recorder,
		clockInterval:  clockInterval,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// MockStream godoc
// WS /ws/v1/practice/sessions/:session_id/stream
// Upgrades to WebSocket for provisional answers, palette updates and the
// countdown of a mock test.
func (h *WSHandler) MockStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	principalID := claims.UserID

	// Reject before upgrading so the client sees a regular HTTP error.
	sess, err := h.sessionService.ActiveMock(c.Request.Context(), principalID, sessionID)
	if err != nil {
		status, code := errorStatus(err)
		response.Fail(c, status, code)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("principal_id", principalID).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Principal connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.pushClock(ctx, conn, wsLog, sess)

	for {
		var msg ws.RequestPayload
		err := ws.ReadJSON(conn, &msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionSave:
			h.handleRecord(ctx, conn, wsLog, principalID, sessionID, model.EventSave, &msg)
		case ws.ActionView:
			h.handleRecord(ctx, conn, wsLog, principalID, sessionID, model.EventView, &msg)
		case ws.ActionStatus:
			h.handleStatus(ctx, conn, wsLog, principalID, sessionID, &msg)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

// pushClock sends the countdown every clockInterval until the connection
// closes or the deadline passes.
func (h *WSHandler) pushClock(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, sess *model.PracticeSession) {
	ticker := time.NewTicker(h.clockInterval)
	defer ticker.Stop()

	send := func() bool {
		remaining, err := h.sessionService.RemainingSeconds(ctx, sess)
		if err != nil {
			wsLog.Error().Err(err).Msg("Clock read failed")
			return true
		}
		expired := remaining <= 0
		if err := ws.WriteTyped(conn, ws.ClockResponse{
			Event:            ws.EventClock,
			RemainingSeconds: remaining,
			Expired:          expired,
		}); err != nil {
			return false
		}
		return !expired
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}

// handleRecord forwards a save or view event to the attempt recorder.
func (h *WSHandler) handleRecord(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, principalID int, sessionID uuid.UUID, event model.EventKind, msg *ws.RequestPayload) {
	if msg.QuestionID <= 0 {
		ws.WriteError(conn, "question_id is required")
		return
	}
	if event == model.EventSave && msg.OptionID == nil {
		ws.WriteError(conn, "option_id is required")
		return
	}

	result, err := h.recorder.Record(ctx, principalID, sessionID, service.RecordInput{
		QuestionID:       msg.QuestionID,
		OptionID:         msg.OptionID,
		Event:            event,
		RemainingSeconds: msg.RemainingSeconds,
	})
	if err != nil {
		h.writeFailure(conn, wsLog, err)
		return
	}

	ws.WriteTyped(conn, ws.SavedResponse{
		Event:      ws.EventSaved,
		QuestionID: msg.QuestionID,
		MockStatus: result.Attempt.MockStatus,
	})
}

// handleStatus changes the palette state of a question.
func (h *WSHandler) handleStatus(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, principalID int, sessionID uuid.UUID, msg *ws.RequestPayload) {
	if msg.QuestionID <= 0 || msg.Status == "" {
		ws.WriteError(conn, "question_id and status are required")
		return
	}

	attempt, err := h.recorder.UpdateMockStatus(ctx, principalID, sessionID, msg.QuestionID, model.MockStatus(msg.Status))
	if err != nil {
		h.writeFailure(conn, wsLog, err)
		return
	}

	ws.WriteTyped(conn, ws.SavedResponse{
		Event:      ws.EventStatus,
		QuestionID: msg.QuestionID,
		MockStatus: attempt.MockStatus,
	})
}

func (h *WSHandler) writeFailure(conn *ws.Conn, wsLog zerolog.Logger, err error) {
	_, code := errorStatus(err)
	if code == response.ErrInternal {
		wsLog.Error().Err(err).Msg("Stream action failed")
	}
	ws.WriteError(conn, response.GetMessage(code))
}
