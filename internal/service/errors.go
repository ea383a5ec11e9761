package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/multichannel-posting-api/internal/validation"
)

var (
	// ErrNotFound is returned when a referenced entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidPrimaryChannel is returned when the primary channel is not
	// part of the post's channel group
	ErrInvalidPrimaryChannel = errors.New("primary channel does not belong to the channel group")

	// ErrNotReady is returned when publish preconditions are not met
	ErrNotReady = errors.New("variant is not ready")

	ErrNoSourceText           = errors.New("no source text to translate")
	ErrLanguageMissing        = errors.New("language is not set")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrCannotTranslatePrimary = errors.New("primary variant cannot be translated")

	// ErrTranslationSuperseded is returned when a translation result is
	// dropped because the variant was edited or moved on in the meantime
	ErrTranslationSuperseded = errors.New("variant no longer awaits translation")

	// ErrDuplicate is returned when a unique entity already exists
	ErrDuplicate = errors.New("already exists")

	// ErrUnavailable is returned when a synchronous gateway call failed
	// transiently; the caller may try again
	ErrUnavailable = errors.New("gateway unavailable")
)

// ValidationError carries field-level input errors. It is never retried.
type ValidationError struct {
	Errors []validation.ValidationError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = ve.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NotReadyError explains why a variant cannot be published, edited or
// deleted remotely. It matches ErrNotReady with errors.Is.
type NotReadyError struct {
	Reason string
}

func (e *NotReadyError) Error() string {
	return e.Reason
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

func notReady(reason string) error {
	return &NotReadyError{Reason: reason}
}

// RetryError asks the task processor to run the task again later. When the
// attempt ceiling is reached the handler's give-up hook receives Err.
type RetryError struct {
	Err error
	// After overrides the computed backoff when positive
	After time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry: %v", e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Retry wraps err as a retryable task failure
func Retry(err error) *RetryError {
	return &RetryError{Err: err}
}

func transition(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
