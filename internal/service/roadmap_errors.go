package service

import (
	"errors"
	"fmt"

	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

var (
	// ErrInvalidArgument marks precondition failures detected before any I/O.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoSelection indicates an operation needs a selected roadmap.
	ErrNoSelection = errors.New("no roadmap selected")
	// ErrRoadmapNotFound indicates the server no longer knows the roadmap or course.
	ErrRoadmapNotFound = errors.New("roadmap not found")
	// ErrInvalidRequest indicates the server rejected the request as malformed.
	ErrInvalidRequest = errors.New("invalid roadmap request")
	// ErrRegenerationInProgress indicates the order already has a regeneration in flight.
	ErrRegenerationInProgress = errors.New("course regeneration already in progress")
	// ErrCourseAlreadyCompleted indicates the course cannot be submitted again.
	ErrCourseAlreadyCompleted = errors.New("course already completed")
	// ErrGenerationTimeout is the terminal poller error.
	ErrGenerationTimeout = errors.New("timed out waiting for AI generation")
	// ErrPollerRunning indicates Start was called while polling.
	ErrPollerRunning = errors.New("roadmap generation already polling")
	// ErrRetryNotAllowed indicates Retry was called outside the timed-out state.
	ErrRetryNotAllowed = errors.New("retry is only allowed after a timeout")
	// ErrEvidenceTooLarge indicates the evidence exceeded the size limit.
	ErrEvidenceTooLarge = errors.New("evidence file exceeds maximum allowed size")
	// ErrEvidenceTypeNotAllowed indicates the evidence MIME type is rejected.
	ErrEvidenceTypeNotAllowed = errors.New("evidence file type not allowed")
)

// IsTransient reports whether the user can simply retry.
func IsTransient(err error) bool {
	return careerapi.IsTransient(err)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// classifyAPIError maps career API failures onto the orchestrator taxonomy while keeping the cause.
func classifyAPIError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, careerapi.ErrMissingCredential):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, careerapi.ErrNotFound):
		return fmt.Errorf("%s: %w: %w", op, ErrRoadmapNotFound, err)
	case errors.Is(err, careerapi.ErrBadRequest):
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidRequest, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
