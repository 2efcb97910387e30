package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden        ErrCode = "FORBIDDEN"
	ErrPermissionDenied ErrCode = "PERMISSION_DENIED"
	ErrNotAttemptOwner  ErrCode = "NOT_ATTEMPT_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation          ErrCode = "VALIDATION_ERROR"
	ErrInvalidID           ErrCode = "INVALID_ID"
	ErrInvalidPayload      ErrCode = "INVALID_PAYLOAD"
	ErrInvalidAnswerFormat ErrCode = "INVALID_ANSWER_FORMAT"
	ErrInvalidScore        ErrCode = "INVALID_SCORE"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrAttemptNotFound  ErrCode = "ATTEMPT_NOT_FOUND"
	ErrQuestionNotFound ErrCode = "QUESTION_NOT_FOUND"
	ErrConflict         ErrCode = "CONFLICT"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrAssessmentNotAvailable ErrCode = "ASSESSMENT_NOT_AVAILABLE"
	ErrInvalidEntryCode       ErrCode = "INVALID_ENTRY_CODE"
	ErrAttemptAlreadyActive   ErrCode = "ATTEMPT_ALREADY_ACTIVE"
	ErrAttemptLimitExceeded   ErrCode = "ATTEMPT_LIMIT_EXCEEDED"
	ErrAttemptNotInProgress   ErrCode = "ATTEMPT_NOT_IN_PROGRESS"

	// ─── Grading ───────────────────────────────────────────────────────
	ErrAttemptNotGradable   ErrCode = "ATTEMPT_NOT_GRADABLE"
	ErrAttemptAlreadyGraded ErrCode = "ATTEMPT_ALREADY_GRADED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You are not allowed to access this resource."
	case ErrPermissionDenied:
		return "Permission denied."
	case ErrNotAttemptOwner:
		return "This attempt belongs to another learner."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidAnswerFormat:
		return "The answer does not match the question type."
	case ErrInvalidScore:
		return "The score is outside the allowed range."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrAttemptNotFound:
		return "Attempt not found."
	case ErrQuestionNotFound:
		return "Question is not part of this assessment."
	case ErrConflict:
		return "The resource was changed concurrently. Please retry."

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	case ErrAssessmentNotAvailable:
		return "This assessment is not currently available."
	case ErrInvalidEntryCode:
		return "Invalid entry code."
	case ErrAttemptAlreadyActive:
		return "An attempt is already in progress for this assessment."
	case ErrAttemptLimitExceeded:
		return "Maximum number of attempts reached."
	case ErrAttemptNotInProgress:
		return "The attempt is no longer accepting answers."

	// ─── Grading ───────────────────────────────────────────────────────
	case ErrAttemptNotGradable:
		return "The attempt is not awaiting grading."
	case ErrAttemptAlreadyGraded:
		return "The attempt has already been graded."

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
