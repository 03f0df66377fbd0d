package model

import (
	"errors"
	"fmt"
)

// SessionStatus enumerates interview session states as reported by the API.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
)

// SessionMode distinguishes a full mock interview from a short micro session.
type SessionMode string

const (
	SessionModeFull  SessionMode = "full"
	SessionModeMicro SessionMode = "micro"
)

// ErrSessionAlreadyCompleted is matched (via errors.Is) by sink errors that
// report the session was completed by an earlier call.
var ErrSessionAlreadyCompleted = errors.New("session already completed")

// Session is the read-only session header handed to the engine by the API.
// EndsAt is kept as the raw wire value; the countdown parses it and treats
// an unparseable value as a timer anomaly rather than a load failure.
type Session struct {
	ID         ID            `json:"id"`
	Type       string        `json:"type"`
	Difficulty string        `json:"difficulty"`
	Mode       SessionMode   `json:"mode,omitempty"`
	StartedAt  string        `json:"started_at,omitempty"`
	EndsAt     string        `json:"ends_at"`
	Status     SessionStatus `json:"status"`
	Score      *float64      `json:"overall_score,omitempty"`

	QuestionIDs []ID `json:"question_ids,omitempty"`
}

// Completed reports whether the API already considers the session finished.
func (s Session) Completed() bool {
	return s.Status == SessionStatusCompleted
}

// Snapshot is everything the loader returns for one session.
type Snapshot struct {
	Session   Session    `json:"session"`
	Questions []Question `json:"questions"`
}

// Normalize derives the ordered question id list from the question slice and
// fills in an in_progress status when the API omits it.
func (s *Snapshot) Normalize() {
	s.Session.QuestionIDs = make([]ID, 0, len(s.Questions))
	for _, q := range s.Questions {
		s.Session.QuestionIDs = append(s.Session.QuestionIDs, q.ID)
	}
	if s.Session.Status == "" {
		s.Session.Status = SessionStatusInProgress
	}
}

// Validate rejects snapshots the engine cannot run: no questions, duplicate
// ids, or multiple_choice questions without options.
func (s *Snapshot) Validate() error {
	if s.Session.ID == "" {
		return errors.New("session id is empty")
	}
	if len(s.Questions) == 0 {
		return errors.New("session has no questions")
	}
	seen := make(map[ID]struct{}, len(s.Questions))
	for i, q := range s.Questions {
		if q.ID == "" {
			return fmt.Errorf("question %d has no id", i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("duplicate question id %s", q.ID)
		}
		seen[q.ID] = struct{}{}
		switch q.Kind {
		case QuestionKindMultipleChoice:
			if len(q.Options) == 0 {
				return fmt.Errorf("question %s: multiple_choice without options", q.ID)
			}
		case QuestionKindFreeText:
		default:
			return fmt.Errorf("question %s: unsupported kind %q", q.ID, q.Kind)
		}
	}
	return nil
}
