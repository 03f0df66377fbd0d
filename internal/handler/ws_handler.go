package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/interview-engine/internal/engine"
	"github.com/stemsi/interview-engine/internal/model"
	"github.com/stemsi/interview-engine/internal/response"
	ws "github.com/stemsi/interview-engine/internal/websocket"
)

const (
	maxMessageSize = 64 << 10
	actionTimeout  = 30 * time.Second
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

// WSHandler streams a running session to a client and takes its actions.
type WSHandler struct {
	host     SessionHost
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(host SessionHost, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		host:     host,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:session_id/stream
// Pushes state changes and ticks; accepts set_answer, advance, back,
// complete, retry_completion and ping actions.
func (h *WSHandler) SessionStream(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	ctrl, err := h.host.Get(id)
	if err != nil {
		status, code := statusFor(err)
		response.Fail(c, status, code)
		return
	}
	events, unsubscribe, err := h.host.Subscribe(id)
	if err != nil {
		status, code := statusFor(err)
		response.Fail(c, status, code)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("session_id", id.String()).
		Str("instance_id", ctrl.InstanceID().String()).
		Logger()
	wsLog.Info().Msg("Client connected")

	out := make(chan interface{}, 16)
	stop := make(chan struct{})
	writerDone := make(chan struct{})
	out <- ws.StateMessage{Event: ws.EventState, View: ctrl.View()}
	go h.writeLoop(conn, wsLog, ctrl, events, out, stop, writerDone)

	ctx := c.Request.Context()
	ws.PrepareRead(conn, maxMessageSize)
	for {
		var req ws.Request
		if err := ws.ReadJSON(conn, &req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		reply := h.dispatch(ctx, ctrl, req)
		select {
		case out <- reply:
		case <-writerDone:
		}
	}

	close(stop)
	<-writerDone
}

// writeLoop owns every write to conn.
func (h *WSHandler) writeLoop(conn *websocket.Conn, log zerolog.Logger, ctrl *engine.Controller, events <-chan engine.Event, out <-chan interface{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()

	ping := time.NewTicker(ws.PingPeriod)
	defer ping.Stop()

	for {
		var msg interface{}
		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				_ = ws.WriteTyped(conn, ws.StateMessage{Event: ws.EventClosed, View: ctrl.View()})
				_ = ws.WriteClose(conn, "session closed")
				return
			}
			msg = ws.FromEngine(ev)
		case msg = <-out:
		case <-ping.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
			continue
		}
		if err := ws.WriteTyped(conn, msg); err != nil {
			log.Debug().Err(err).Msg("Write failed")
			return
		}
	}
}

func (h *WSHandler) dispatch(parent context.Context, ctrl *engine.Controller, req ws.Request) interface{} {
	ctx, cancel := context.WithTimeout(parent, actionTimeout)
	defer cancel()

	var err error
	switch req.Action {
	case ws.ActionPing:
		return ws.PongResponse{Event: ws.EventPong, RequestID: req.RequestID}
	case ws.ActionSetAnswer:
		err = ctrl.SetAnswer(ctx, model.ID(req.QuestionID), draftFrom(model.SetAnswerRequest{
			SelectedOption: req.SelectedOption,
			AnswerText:     req.AnswerText,
		}))
	case ws.ActionAdvance:
		err = ctrl.Advance(ctx)
	case ws.ActionBack:
		err = ctrl.Back(ctx)
	case ws.ActionComplete:
		err = ctrl.Complete(ctx)
	case ws.ActionRetryCompletion:
		err = ctrl.RetryCompletion(ctx)
	default:
		return ws.ErrorResponse{
			Event:     ws.EventError,
			Action:    req.Action,
			RequestID: req.RequestID,
			Code:      string(response.ErrInvalidPayload),
			Error:     "unknown action: " + string(req.Action),
		}
	}

	view := ctrl.View()
	if err != nil {
		_, code := statusFor(err)
		return ws.ErrorResponse{
			Event:     ws.EventError,
			Action:    req.Action,
			RequestID: req.RequestID,
			Code:      string(code),
			Error:     err.Error(),
			View:      &view,
		}
	}
	return ws.AckMessage{Event: ws.EventAck, Action: req.Action, RequestID: req.RequestID, View: view}
}
