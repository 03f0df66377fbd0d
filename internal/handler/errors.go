package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/stemsi/interview-engine/internal/engine"
	"github.com/stemsi/interview-engine/internal/host"
	"github.com/stemsi/interview-engine/internal/response"
)

// statusFor maps engine and host errors to an HTTP status and error code.
func statusFor(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, host.ErrNotAttached), errors.Is(err, engine.ErrNotStarted):
		return http.StatusNotFound, response.ErrSessionNotAttached
	case errors.Is(err, host.ErrShuttingDown):
		return http.StatusServiceUnavailable, response.ErrInternal
	case errors.Is(err, engine.ErrSessionClosed):
		return http.StatusConflict, response.ErrSessionClosed
	case errors.Is(err, engine.ErrAnswerRequired):
		return http.StatusUnprocessableEntity, response.ErrAnswerRequired
	case errors.Is(err, engine.ErrInvalidOption):
		return http.StatusUnprocessableEntity, response.ErrInvalidOption
	case errors.Is(err, engine.ErrReadOnly):
		return http.StatusConflict, response.ErrQuestionReadOnly
	case errors.Is(err, engine.ErrNotCurrentQuestion):
		return http.StatusConflict, response.ErrNotCurrentQuestion
	case errors.Is(err, engine.ErrUnknownQuestion):
		return http.StatusNotFound, response.ErrUnknownQuestion
	case errors.Is(err, engine.ErrNoNextQuestion), errors.Is(err, engine.ErrNoPreviousQuestion):
		return http.StatusConflict, response.ErrNavigationBoundary
	case errors.Is(err, engine.ErrNavigationPending):
		return http.StatusConflict, response.ErrSubmissionPending
	case errors.Is(err, engine.ErrNothingToRetry):
		return http.StatusConflict, response.ErrNothingToRetry
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, response.ErrInternal
	}

	switch engine.KindOf(err) {
	case engine.KindSubmission:
		return http.StatusBadGateway, response.ErrSubmissionFailed
	case engine.KindFinalization:
		return http.StatusBadGateway, response.ErrFinalizationFailed
	case engine.KindLoad:
		return http.StatusBadGateway, response.ErrSessionLoadFailed
	case engine.KindValidation:
		return http.StatusUnprocessableEntity, response.ErrValidation
	}
	return http.StatusInternalServerError, response.ErrInternal
}
