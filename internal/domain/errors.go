package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable marks transient failures of the code host or
	// embedding provider. Retried with backoff, never fatal on its own.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")

	// ErrConsistencyViolation means a checkpoint advancement would break
	// the write-then-advance ordering. Fatal for the ingestion run.
	ErrConsistencyViolation = errors.New("ingestion consistency violation")

	// ErrAmbiguousIntent means the oracle could not produce a usable
	// classification. The router falls back to a plain query.
	ErrAmbiguousIntent = errors.New("ambiguous intent classification")

	// ErrScheduleConflict means another engine instance claimed the due
	// window first. The loser skips the window.
	ErrScheduleConflict = errors.New("schedule window already claimed")

	// ErrSyncInProgress means an ingestion run for the same tenant and
	// repository is already in flight.
	ErrSyncInProgress = errors.New("ingestion already running for repository")
)

// ValidationError reports a missing or invalid intent parameter. It is
// surfaced to the caller synchronously and produces no side effects.
type ValidationError struct {
	Intent IntentKind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s request: %s %s", e.Intent, e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for one bad parameter.
func NewValidationError(intent IntentKind, field, reason string) *ValidationError {
	return &ValidationError{Intent: intent, Field: field, Reason: reason}
}

// IsValidation reports whether err is a parameter validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
