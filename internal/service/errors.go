package service

import (
	"errors"

	"github.com/stemsi/exstem-attempt-engine/internal/scoring"
)

// Attempt engine errors. Handlers map them to response codes.
var (
	ErrAttemptNotFound        = errors.New("attempt not found")
	ErrAttemptAlreadyActive   = errors.New("an attempt is already in progress for this assessment")
	ErrAttemptLimitExceeded   = errors.New("maximum number of attempts reached")
	ErrAssessmentNotAvailable = errors.New("assessment is not available")
	ErrAttemptNotInProgress   = errors.New("attempt is not in progress")
	ErrInvalidAnswerFormat    = scoring.ErrInvalidAnswerFormat
	ErrInvalidEntryCode       = errors.New("invalid entry code")
	ErrQuestionNotFound       = errors.New("question not found in assessment")
	ErrAttemptNotGradable     = errors.New("attempt is not awaiting grading")
	ErrInvalidScore           = scoring.ErrInvalidScore
	ErrAttemptAlreadyGraded   = errors.New("attempt is already graded")
	ErrNotAttemptOwner        = errors.New("attempt belongs to another learner")
)

// maxTransitionRetries bounds the read/compare/write loop of a transition.
// Each retry follows a committed change by someone else, and an attempt
// has at most a handful of transitions.
const maxTransitionRetries = 8
