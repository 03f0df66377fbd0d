package websocket

import (
	"github.com/stemsi/interview-engine/internal/countdown"
	"github.com/stemsi/interview-engine/internal/engine"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSetAnswer       Action = "set_answer"
	ActionAdvance         Action = "advance"
	ActionBack            Action = "back"
	ActionComplete        Action = "complete"
	ActionRetryCompletion Action = "retry_completion"
	ActionPing            Action = "ping"
)

// Request is one client action. QuestionID, SelectedOption and AnswerText
// are only read for set_answer. RequestID is echoed back in the reply.
type Request struct {
	Action         Action  `json:"action"`
	RequestID      string  `json:"request_id,omitempty"`
	QuestionID     string  `json:"question_id,omitempty"`
	SelectedOption *int    `json:"selected_option,omitempty"`
	AnswerText     *string `json:"answer_text,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState  Event = "state"
	EventTick   Event = "tick"
	EventAck    Event = "ack"
	EventError  Event = "error"
	EventPong   Event = "pong"
	EventClosed Event = "closed"
)

// StateMessage carries a full view after every state change.
type StateMessage struct {
	Event Event       `json:"event"`
	View  engine.View `json:"view"`
}

// TickMessage is the once-a-second countdown update.
type TickMessage struct {
	Event            Event          `json:"event"`
	RemainingSeconds int            `json:"remaining_seconds"`
	Band             countdown.Band `json:"band"`
	Neutral          bool           `json:"neutral"`
	Timeout          bool           `json:"timeout"`
}

// AckMessage confirms an action and returns the view it produced.
type AckMessage struct {
	Event     Event       `json:"event"`
	Action    Action      `json:"action"`
	RequestID string      `json:"request_id,omitempty"`
	View      engine.View `json:"view"`
}

type ErrorResponse struct {
	Event     Event        `json:"event"`
	Action    Action       `json:"action,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Code      string       `json:"code,omitempty"`
	Error     string       `json:"error"`
	View      *engine.View `json:"view,omitempty"`
}

type PongResponse struct {
	Event     Event  `json:"event"`
	RequestID string `json:"request_id,omitempty"`
}

// FromEngine converts a controller event into its wire message.
func FromEngine(ev engine.Event) interface{} {
	switch ev.Type {
	case engine.EventTick:
		if ev.Tick != nil {
			return TickMessage{
				Event:            EventTick,
				RemainingSeconds: ev.Tick.Seconds,
				Band:             ev.Tick.Band,
				Neutral:          ev.Tick.Neutral,
				Timeout:          ev.Tick.Timeout,
			}
		}
	case engine.EventError:
		v := ev.View
		msg := ErrorResponse{Event: EventError, View: &v}
		if ev.Err != nil {
			msg.Error = ev.Err.Error()
			msg.Code = string(engine.KindOf(ev.Err))
		}
		return msg
	}
	return StateMessage{Event: EventState, View: ev.View}
}
