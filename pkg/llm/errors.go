package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies what part of the provider configuration or
// infrastructure caused an error.
type ErrorType string

const (
	ErrorTypeNone     ErrorType = ""
	ErrorTypeEndpoint ErrorType = "endpoint"
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeModel    ErrorType = "model"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error is a structured provider error carrying classification and call context.
type Error struct {
	Type       ErrorType // Classification of the error
	Message    string    // Human-readable message
	Retryable  bool      // Whether the operation can be retried
	Cause      error     // Underlying error
	StatusCode int       // HTTP status code if applicable
	Model      string    // Model name if known
	Endpoint   string    // Endpoint URL if known
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
// This allows the retry package to check retryability without importing llm.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a structured provider error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// NewErrorWithContext creates a structured provider error with call context.
func NewErrorWithContext(errType ErrorType, message string, retryable bool, cause error, model, endpoint string, statusCode int) *Error {
	return &Error{
		Type:       errType,
		Message:    message,
		Retryable:  retryable,
		Cause:      cause,
		Model:      model,
		Endpoint:   endpoint,
		StatusCode: statusCode,
	}
}

// sniffStatusCode pulls a recognizable HTTP status code out of an error
// string. Best effort only; provider SDKs rarely expose the code directly.
func sniffStatusCode(s string) int {
	for _, code := range []int{400, 401, 403, 404, 429, 500, 502, 503, 504} {
		if strings.Contains(s, fmt.Sprintf("%d", code)) {
			return code
		}
	}
	return 0
}

// ClassifyError turns an arbitrary provider error into a structured *Error.
// An error that already is (or wraps) an *Error passes through unchanged.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)
	status := sniffStatusCode(errStr)

	classified := func(errType ErrorType, message string, retryable bool) *Error {
		e := NewError(errType, message, retryable, err)
		e.StatusCode = status
		return e
	}

	switch {
	case strings.Contains(errStr, "401"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "invalid api key"):
		return classified(ErrorTypeAuth, "authentication failed", false)

	case strings.Contains(lower, "model") &&
		(strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		return classified(ErrorTypeModel, "model not found", false)

	case strings.Contains(errStr, "404"):
		return classified(ErrorTypeEndpoint, "endpoint not found", false)

	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "no such host"):
		return classified(ErrorTypeEndpoint, "connection failed", true)

	case strings.Contains(lower, "timeout"),
		strings.Contains(lower, "deadline exceeded"),
		strings.Contains(lower, "context canceled"):
		return classified(ErrorTypeEndpoint, "request timeout", true)

	case strings.Contains(errStr, "429"),
		strings.Contains(lower, "rate limit"):
		return classified(ErrorTypeUnknown, "rate limited", true)

	case strings.Contains(errStr, "500"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"):
		return classified(ErrorTypeEndpoint, "server error", true)
	}

	return classified(ErrorTypeUnknown, "llm error", false)
}

// IsRetryable returns true if the error is a retryable provider error.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
