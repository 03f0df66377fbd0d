package engine

import (
	"github.com/google/uuid"

	"github.com/stemsi/interview-engine/internal/countdown"
	"github.com/stemsi/interview-engine/internal/model"
)

// State is the controller lifecycle state.
type State string

const (
	StateLoading    State = "loading"
	StateActive     State = "active"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Trigger records what started finalization.
type Trigger string

const (
	TriggerUser    Trigger = "user"
	TriggerTimeout Trigger = "timeout"
	// TriggerServer means the API already reported the session completed.
	TriggerServer Trigger = "server"
)

// QuestionView is the current question as a host should render it.
type QuestionView struct {
	ID             model.ID           `json:"id"`
	Kind           model.QuestionKind `json:"question_type"`
	Prompt         string             `json:"question_text"`
	Options        []string           `json:"options,omitempty"`
	SelectedOption *int               `json:"selected_option,omitempty"`
	AnswerText     string             `json:"answer_text,omitempty"`
	Answered       bool               `json:"answered"`
	Submitted      bool               `json:"submitted"`
	ReadOnly       bool               `json:"read_only"`
}

// View is an immutable snapshot of the controller.
type View struct {
	SessionID   model.ID  `json:"session_id"`
	InstanceID  uuid.UUID `json:"instance_id"`
	State       State     `json:"state"`
	SessionType string    `json:"session_type,omitempty"`
	Difficulty  string    `json:"difficulty,omitempty"`

	Position  int           `json:"position"`
	Total     int           `json:"total"`
	Submitted int           `json:"submitted"`
	Question  *QuestionView `json:"question,omitempty"`

	RemainingSeconds int            `json:"remaining_seconds"`
	Band             countdown.Band `json:"band"`
	TimerNeutral     bool           `json:"timer_neutral"`

	Pending            bool                     `json:"pending"`
	Trigger            Trigger                  `json:"trigger,omitempty"`
	CanRetryCompletion bool                     `json:"can_retry_completion"`
	LastError          string                   `json:"last_error,omitempty"`
	LastErrorKind      Kind                     `json:"last_error_kind,omitempty"`
	Summary            *model.CompletionSummary `json:"summary,omitempty"`
}

// EventType tags controller events.
type EventType string

const (
	EventState EventType = "state"
	EventTick  EventType = "tick"
	EventError EventType = "error"
)

// Event is delivered to the listener on every state change, timer tick and
// surfaced error.
type Event struct {
	Type EventType
	View View
	Tick *countdown.Tick
	Err  error
}
