// Package shared contains common domain types, errors and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")
	ErrConflict = errors.New("entity modified concurrently")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")

	ErrRateLimited = errors.New("rate limited")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "leveling", "achievement", "storage"
	Op      string // Operation that failed, e.g., "ClaimDaily", "Load"
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

// Leveling error kinds.
var (
	// ErrAlreadyClaimedToday is expected and user-facing: the daily reward
	// for the current calendar date was already taken.
	ErrAlreadyClaimedToday = errors.New("daily reward already claimed today")

	// ErrCooldownActive marks a message that arrived inside the cooldown window.
	// The facade never surfaces it; it is used internally and by the guard.
	ErrCooldownActive = errors.New("message xp cooldown active")

	// ErrStorageUnavailable is returned when the storage backend failed to read or write.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidAchievementCatalog is fatal at startup.
	ErrInvalidAchievementCatalog = errors.New("invalid achievement catalog")
)

// Leveling domain errors
var (
	ErrInvalidUserID  = NewDomainError("leveling", "Validate", ErrInvalidID, "invalid user ID")
	ErrInvalidGuildID = NewDomainError("leveling", "Validate", ErrInvalidID, "invalid guild ID")
	ErrGoalNotFound   = NewDomainError("leveling", "FindGoal", ErrNotFound, "daily goal not found")
)

// StorageError wraps a backend failure so callers can match ErrStorageUnavailable.
func StorageError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return WrapError(backend, op, ErrStorageUnavailable, "storage operation failed", err)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if a write lost an optimistic concurrency check.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsAlreadyClaimed checks if the error means the daily reward was already taken.
func IsAlreadyClaimed(err error) bool {
	return errors.Is(err, ErrAlreadyClaimedToday)
}

// IsStorageUnavailable checks if the error came from a failing storage backend.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
