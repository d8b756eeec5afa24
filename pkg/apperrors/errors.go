// Package apperrors defines the error taxonomy shared across services and
// handlers. Components wrap low-level failures into one of these sentinels so
// that handlers can map them onto HTTP status codes with errors.Is.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed requests, unknown enum values, or bad
	// limits/thresholds. Surfaced as HTTP 422.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks missing rows: no memories to consolidate, unknown
	// session. Surfaced as HTTP 404 where applicable.
	ErrNotFound = errors.New("not found")

	// ErrRepository marks database failures. Repository calls are retried
	// once with backoff before this surfaces as HTTP 500.
	ErrRepository = errors.New("repository error")

	// ErrProvider marks embedding or LLM provider failures. Callers degrade
	// gracefully: pseudo-vectors for embeddings, a canned reply for chat.
	ErrProvider = errors.New("provider error")

	// ErrClassification marks malformed classifier output. Callers fall back
	// to the deterministic keyword rules.
	ErrClassification = errors.New("classification error")
)

// Validation wraps a message into an ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps a message into an ErrNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Repository wraps a cause into an ErrRepository, preserving the cause's
// message for logs while keeping the sentinel matchable.
func Repository(cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRepository, cause)
}

// Provider wraps a cause into an ErrProvider.
func Provider(cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrProvider, cause)
}
