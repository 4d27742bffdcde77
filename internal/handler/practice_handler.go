package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/middleware"
	"github.com/stemsi/exstem-practice/internal/model"
	"github.com/stemsi/exstem-practice/internal/response"
	"github.com/stemsi/exstem-practice/internal/service"
	"github.com/stemsi/exstem-practice/internal/validator"
)

// PracticeHandler handles the practice session endpoints.
type PracticeHandler struct {
	sessionService *service.PracticeSessionService
	recorder       *service.AttemptRecorder
	gate           *service.EntitlementGate
	log            zerolog.Logger
}

// NewPracticeHandler creates a new PracticeHandler.
func NewPracticeHandler(
	sessionService *service.PracticeSessionService,
	recorder *service.AttemptRecorder,
	gate *service.EntitlementGate,
	log zerolog.Logger,
) *PracticeHandler {
	return &PracticeHandler{
		sessionService: sessionService,
		recorder:       recorder,
		gate:           gate,
		log:            log.With().Str("component", "practice_handler").Logger(),
	}
}

// CreateSession godoc
// POST /api/v1/practice/sessions
// Selects a question pool and starts (or refreshes) a practice session.
func (h *PracticeHandler) CreateSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.Create(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": session})
}

// GetSession godoc
// GET /api/v1/practice/sessions/:session_id
// Returns the session snapshot, clocks and recorded attempts.
// This endpoint covers page reloads.
func (h *PracticeHandler) GetSession(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	state, err := h.sessionService.State(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// PauseSession godoc
// POST /api/v1/practice/sessions/:session_id/pause
func (h *PracticeHandler) PauseSession(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Pause(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// ResumeSession godoc
// POST /api/v1/practice/sessions/:session_id/resume
func (h *PracticeHandler) ResumeSession(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Resume(c.Request.Context(), claims.UserID, sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// RecordAttempt godoc
// POST /api/v1/practice/sessions/:session_id/attempts
// Records an answer check, provisional save, skip, expiry or view.
func (h *PracticeHandler) RecordAttempt(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req model.RecordAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.recorder.Record(c.Request.Context(), claims.UserID, sessionID, service.RecordInput{
		QuestionID:       req.QuestionID,
		OptionID:         req.OptionID,
		Event:            model.EventKind(req.Event),
		RemainingSeconds: req.RemainingSeconds,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// UpdateMockStatus godoc
// PUT /api/v1/practice/sessions/:session_id/attempts/:question_id/status
// Changes the mock-test palette state of a question.
func (h *PracticeHandler) UpdateMockStatus(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	questionID, err := strconv.ParseInt(c.Param("question_id"), 10, 64)
	if err != nil || questionID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.UpdateMockStatusRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.recorder.UpdateMockStatus(c.Request.Context(), claims.UserID, sessionID, questionID, model.MockStatus(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// FinalizeSession godoc
// POST /api/v1/practice/sessions/:session_id/finalize
// Seals the session into a summary, or discards it when nothing was attempted.
func (h *PracticeHandler) FinalizeSession(c *gin.Context) {
	claims, sessionID, ok := h.sessionParams(c)
	if !ok {
		return
	}

	var req model.FinalizeSessionRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	outcome, err := h.sessionService.Finalize(c.Request.Context(), claims.UserID, sessionID, model.EndReason(req.EndReason))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, outcome)
}

// CheckAccess godoc
// GET /api/v1/practice/access?course_id=
// Reports whether the principal may start or answer right now.
func (h *PracticeHandler) CheckAccess(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var ac model.AccessContext
	if raw := c.Query("course_id"); raw != "" {
		courseID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || courseID <= 0 {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		ac.CourseID = &courseID
	}

	status, err := h.gate.CheckAccess(c.Request.Context(), claims.UserID, ac)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// ────────────────────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────────────────────

func (h *PracticeHandler) sessionParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, sessionID, true
}

// fail maps service errors onto the response envelope.
func (h *PracticeHandler) fail(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}

	var ve *service.ValidationError
	if errors.As(err, &ve) {
		response.FailWithFields(c, status, code, map[string]string{ve.Field: ve.Reason})
		return
	}
	response.Fail(c, status, code)
}

func errorStatus(err error) (int, response.ErrCode) {
	var denied *service.AccessDeniedError
	if errors.As(err, &denied) {
		switch denied.Reason {
		case model.DenyExhausted:
			return http.StatusForbidden, response.ErrEntitlementUsedUp
		case model.DenyExpired:
			return http.StatusForbidden, response.ErrEntitlementExpired
		case model.DenyCourseAccess:
			return http.StatusForbidden, response.ErrCourseAccessDenied
		default:
			return http.StatusForbidden, response.ErrNoEntitlement
		}
	}

	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, service.ErrQuestionNotInSession):
		return http.StatusBadRequest, response.ErrQuestionNotInSession
	case errors.Is(err, service.ErrScopeViolation):
		return http.StatusForbidden, response.ErrScopeViolation
	case errors.Is(err, service.ErrOwnershipMismatch):
		return http.StatusForbidden, response.ErrNotSessionOwner
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, response.ErrInvalidState
	case errors.Is(err, service.ErrNoQuestionsFound):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, service.ErrInsufficientQuestions):
		return http.StatusUnprocessableEntity, response.ErrInsufficientQuestions
	}
	return http.StatusInternalServerError, response.ErrInternal
}
