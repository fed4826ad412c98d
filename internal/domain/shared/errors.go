// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrStale            = errors.New("stale data")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Infrastructure errors
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTimeout          = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "learning", "gamification", "leaderboard"
	Op      string // Operation that failed, e.g., "Apply", "Award"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Learning domain errors
var (
	ErrInvalidEvent      = NewDomainError("learning", "Validate", ErrValidation, "learning event failed validation")
	ErrUnknownEventKind  = NewDomainError("learning", "Validate", ErrInvalidInput, "unknown event kind")
	ErrProgressNotFound  = NewDomainError("learning", "Find", ErrNotFound, "concept progress not found")
	ErrInvalidTransition = NewDomainError("learning", "Apply", ErrStateTransition, "progress status cannot move backwards")
	ErrEventAlreadySeen  = NewDomainError("learning", "Dedup", ErrAlreadyProcessed, "event already processed")
	ErrInvalidScore      = NewDomainError("learning", "Validate", ErrValueOutOfRange, "score must be between 0.0 and 1.0")
	ErrEventFromFuture   = NewDomainError("learning", "Validate", ErrFutureTimestamp, "event timestamp is in the future")
	ErrMissingStudentID  = NewDomainError("learning", "Validate", ErrEmptyValue, "student ID is required")
	ErrMissingConceptID  = NewDomainError("learning", "Validate", ErrEmptyValue, "concept ID is required")
)

// Gamification domain errors
var (
	ErrAccountNotFound  = NewDomainError("gamification", "Find", ErrNotFound, "gamification account not found")
	ErrInvalidAward     = NewDomainError("gamification", "Award", ErrInvalidInput, "point award must be positive")
	ErrStaleActivity    = NewDomainError("gamification", "Advance", ErrStale, "activity date precedes current streak day")
	ErrBadgeNotFound    = NewDomainError("gamification", "FindBadge", ErrNotFound, "badge not found")
	ErrBadgeAlreadyHeld = NewDomainError("gamification", "Unlock", ErrAlreadyExists, "badge already unlocked")
)

// Leaderboard domain errors
var (
	ErrLeaderboardNotFound = NewDomainError("leaderboard", "Find", ErrNotFound, "leaderboard not found")
	ErrInvalidTimeframe    = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "invalid leaderboard timeframe")
	ErrLeaderboardStale    = NewDomainError("leaderboard", "Refresh", ErrStale, "leaderboard projection is stale")
)

// Persistence errors
var (
	ErrPersistenceTimeout = NewDomainError("persistence", "Commit", ErrTimeout, "persistence operation timed out")
	ErrTxConflict         = NewDomainError("persistence", "Commit", ErrConcurrentModification, "transaction conflict")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrFutureTimestamp)
}

// IsStale checks if the error signals out-of-order or outdated data.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
