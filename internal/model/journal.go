package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JournalEventType enumerates the engine transitions worth auditing.
type JournalEventType string

const (
	JournalSessionLoaded      JournalEventType = "session_loaded"
	JournalSessionAborted     JournalEventType = "session_aborted"
	JournalAnswerSubmitted    JournalEventType = "answer_submitted"
	JournalSubmissionFailed   JournalEventType = "submission_failed"
	JournalFinalizing         JournalEventType = "finalizing"
	JournalFinalizationFailed JournalEventType = "finalization_failed"
	JournalSessionCompleted   JournalEventType = "session_completed"
	JournalTimerAnomaly       JournalEventType = "timer_anomaly"
)

// JournalEvent is one audit entry. InstanceID identifies the controller
// instance that produced it, so two attaches of the same session can be told
// apart.
type JournalEvent struct {
	ID         uuid.UUID        `json:"id"`
	SessionID  ID               `json:"session_id"`
	InstanceID uuid.UUID        `json:"instance_id"`
	Type       JournalEventType `json:"type"`
	QuestionID ID               `json:"question_id,omitempty"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
