package engine

import (
	"errors"
	"fmt"

	"github.com/stemsi/interview-engine/internal/model"
)

// Kind classifies engine failures.
type Kind string

const (
	// KindLoad is fatal: the session is aborted.
	KindLoad Kind = "load"
	// KindValidation is local and recoverable; nothing was sent.
	KindValidation Kind = "validation"
	// KindSubmission leaves the question unsubmitted and retryable.
	KindSubmission Kind = "submission"
	// KindFinalization keeps the session in finalizing; only a completion
	// retry is possible.
	KindFinalization Kind = "finalization"
	// KindTimer reports a missing or unparseable deadline.
	KindTimer Kind = "timer"
)

var (
	ErrNotStarted         = errors.New("session not started")
	ErrAlreadyStarted     = errors.New("session already started")
	ErrSessionClosed      = errors.New("session is finalizing or closed")
	ErrNavigationPending  = errors.New("a submission is already in progress")
	ErrAnswerRequired     = errors.New("an answer is required before continuing")
	ErrNoNextQuestion     = errors.New("already at the last question")
	ErrNoPreviousQuestion = errors.New("already at the first question")
	ErrReadOnly           = errors.New("question already submitted")
	ErrUnknownQuestion    = errors.New("question not part of this session")
	ErrNotCurrentQuestion = errors.New("question is not the current question")
	ErrInvalidOption      = errors.New("selected option out of range")
	ErrNothingToRetry     = errors.New("no failed completion to retry")
)

// Error carries the failure kind and, where relevant, the question it
// concerns.
type Error struct {
	Kind       Kind
	QuestionID model.ID
	Err        error
}

func (e *Error) Error() string {
	if e.QuestionID != "" {
		return fmt.Sprintf("%s: question %s: %v", e.Kind, e.QuestionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" when err is not an engine Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func validation(id model.ID, err error) error {
	return &Error{Kind: KindValidation, QuestionID: id, Err: err}
}
