package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrSessionNotAttached ErrCode = "SESSION_NOT_ATTACHED"
	ErrSessionLoadFailed  ErrCode = "SESSION_LOAD_FAILED"
	ErrSessionClosed      ErrCode = "SESSION_CLOSED"
	ErrFinalizationFailed ErrCode = "FINALIZATION_FAILED"
	ErrNothingToRetry     ErrCode = "NOTHING_TO_RETRY"

	// ─── Answers & navigation ──────────────────────────────────────────
	ErrAnswerRequired     ErrCode = "ANSWER_REQUIRED"
	ErrQuestionReadOnly   ErrCode = "QUESTION_READ_ONLY"
	ErrInvalidOption      ErrCode = "INVALID_OPTION"
	ErrNotCurrentQuestion ErrCode = "NOT_CURRENT_QUESTION"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrNavigationBoundary ErrCode = "NAVIGATION_BOUNDARY"
	ErrSubmissionPending  ErrCode = "SUBMISSION_PENDING"
	ErrSubmissionFailed   ErrCode = "SUBMISSION_FAILED"

	// ─── Journal ───────────────────────────────────────────────────────
	ErrJournalDisabled ErrCode = "JOURNAL_DISABLED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrSessionNotAttached:
		return "This session is not running. Attach it first."
	case ErrSessionLoadFailed:
		return "The interview session could not be loaded."
	case ErrSessionClosed:
		return "This session is being completed and no longer accepts changes."
	case ErrFinalizationFailed:
		return "The session could not be completed. Please retry completion."
	case ErrNothingToRetry:
		return "There is no failed completion to retry."

	// ─── Answers & navigation ──────────────────────────────────────────
	case ErrAnswerRequired:
		return "Please answer this question before continuing."
	case ErrQuestionReadOnly:
		return "This question has already been submitted."
	case ErrInvalidOption:
		return "The selected option does not exist."
	case ErrNotCurrentQuestion:
		return "Only the current question can be answered."
	case ErrUnknownQuestion:
		return "This question is not part of the session."
	case ErrNavigationBoundary:
		return "There is no question in that direction."
	case ErrSubmissionPending:
		return "An answer is still being submitted."
	case ErrSubmissionFailed:
		return "Your answer could not be saved. Please try again."

	// ─── Journal ───────────────────────────────────────────────────────
	case ErrJournalDisabled:
		return "The session journal is not enabled on this server."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
