package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/interview-engine/internal/answer"
	"github.com/stemsi/interview-engine/internal/engine"
	"github.com/stemsi/interview-engine/internal/model"
	"github.com/stemsi/interview-engine/internal/response"
	"github.com/stemsi/interview-engine/internal/validator"
)

// SessionHost is the part of *host.SessionHost the handlers use.
type SessionHost interface {
	Attach(ctx context.Context, id model.ID) (*engine.Controller, bool, error)
	Get(id model.ID) (*engine.Controller, error)
	Detach(ctx context.Context, id model.ID) error
	Subscribe(id model.ID) (<-chan engine.Event, func(), error)
}

// EventLister reads the persisted journal. *repository.SessionEventRepository
// satisfies it.
type EventLister interface {
	ListBySession(ctx context.Context, sessionID model.ID, page, perPage int) ([]model.JournalEvent, int, error)
}

// SessionHandler exposes the session engine over REST.
type SessionHandler struct {
	host   SessionHost
	events EventLister
	log    zerolog.Logger
}

// NewSessionHandler creates a SessionHandler. events may be nil when the
// journal is disabled.
func NewSessionHandler(host SessionHost, events EventLister, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		host:   host,
		events: events,
		log:    log.With().Str("component", "session_handler").Logger(),
	}
}

// AttachSession godoc
// POST /api/v1/sessions/:session_id/attach
// Loads the session into an engine, or returns the one already running.
func (h *SessionHandler) AttachSession(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}

	ctrl, created, err := h.host.Attach(c.Request.Context(), id)
	if err != nil {
		h.fail(c, nil, err)
		return
	}

	view := ctrl.View()
	if view.State == engine.StateAborted {
		response.FailWithData(c, http.StatusBadGateway, response.ErrSessionLoadFailed, view)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, view)
}

// GetSession godoc
// GET /api/v1/sessions/:session_id
func (h *SessionHandler) GetSession(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, ctrl.View())
}

// SetAnswer godoc
// PUT /api/v1/sessions/:session_id/questions/:question_id/answer
// Replaces the draft of the current question. Nothing is sent to the API.
func (h *SessionHandler) SetAnswer(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	questionID := c.Param("question_id")
	if !validator.IsResourceID(questionID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SetAnswerRequest
	if errs := validator.Bind(c, &req); errs != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, errs)
		return
	}

	if err := ctrl.SetAnswer(c.Request.Context(), model.ID(questionID), draftFrom(req)); err != nil {
		h.fail(c, ctrl, err)
		return
	}
	response.Success(c, http.StatusOK, ctrl.View())
}

// Advance godoc
// POST /api/v1/sessions/:session_id/advance
// Submits the current answer if needed and moves to the next question.
func (h *SessionHandler) Advance(c *gin.Context) {
	h.command(c, (*engine.Controller).Advance)
}

// Back godoc
// POST /api/v1/sessions/:session_id/back
func (h *SessionHandler) Back(c *gin.Context) {
	h.command(c, (*engine.Controller).Back)
}

// CompleteSession godoc
// POST /api/v1/sessions/:session_id/complete
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	h.command(c, (*engine.Controller).Complete)
}

// RetryCompletion godoc
// POST /api/v1/sessions/:session_id/complete/retry
func (h *SessionHandler) RetryCompletion(c *gin.Context) {
	h.command(c, (*engine.Controller).RetryCompletion)
}

// DetachSession godoc
// DELETE /api/v1/sessions/:session_id
// Stops the engine without completing the session. Drafts stay mirrored.
func (h *SessionHandler) DetachSession(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	if err := h.host.Detach(c.Request.Context(), id); err != nil {
		h.fail(c, nil, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListEvents godoc
// GET /api/v1/sessions/:session_id/events?page=1&per_page=50
func (h *SessionHandler) ListEvents(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	if h.events == nil {
		response.Fail(c, http.StatusNotFound, response.ErrJournalDisabled)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	events, total, err := h.events.ListBySession(c.Request.Context(), id, page, perPage)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", id.String()).Msg("List session events failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"events": events}, response.NewPagination(page, perPage, total))
}

func (h *SessionHandler) command(c *gin.Context, run func(*engine.Controller, context.Context) error) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := run(ctrl, c.Request.Context()); err != nil {
		h.fail(c, ctrl, err)
		return
	}
	response.Success(c, http.StatusOK, ctrl.View())
}

func (h *SessionHandler) controller(c *gin.Context) (*engine.Controller, bool) {
	id, ok := sessionParam(c)
	if !ok {
		return nil, false
	}
	ctrl, err := h.host.Get(id)
	if err != nil {
		h.fail(c, nil, err)
		return nil, false
	}
	return ctrl, true
}

// fail writes err with the current view attached, when there is one.
func (h *SessionHandler) fail(c *gin.Context, ctrl *engine.Controller, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Session command failed")
	}
	if ctrl == nil {
		response.Fail(c, status, code)
		return
	}
	response.FailWithData(c, status, code, ctrl.View())
}

func sessionParam(c *gin.Context) (model.ID, bool) {
	id := c.Param("session_id")
	if !validator.IsResourceID(id) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return "", false
	}
	return model.ID(id), true
}

// draftFrom picks the draft field the request set. An empty request clears
// the draft.
func draftFrom(req model.SetAnswerRequest) answer.Draft {
	switch {
	case req.SelectedOption != nil:
		return answer.OptionDraft(*req.SelectedOption)
	case req.AnswerText != nil:
		return answer.TextDraft(*req.AnswerText)
	default:
		return answer.Draft{}
	}
}
