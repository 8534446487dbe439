// Package errors defines the structured error type used across the
// ingestion core, with category-based retryability and HTTP status mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("rate limited")
	ErrConnectionFailed = errors.New("connection failed")
	ErrDuplicate        = errors.New("duplicate")
	ErrInternalError    = errors.New("internal error")
)

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeParse      ErrorType = "parse"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeInternal   ErrorType = "internal"
)

// IngestError is a structured error for ingestion and tracking operations.
type IngestError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "poll_rule", "fetch_counters")
	Provider   string // Provider name where the error occurred
	Err        error  // Underlying error
	StatusCode int    // HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *IngestError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is matching on category for the base error types.
func (e *IngestError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrUnauthorized, ErrForbidden:
		return e.Type == ErrorTypeAuth
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrRateLimited:
		return e.Type == ErrorTypeRateLimit
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnection
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation || e.Type == ErrorTypeParse
	case ErrDuplicate:
		return e.Type == ErrorTypeConflict
	}

	return errors.Is(e.Err, target)
}

// New creates a new IngestError.
func New(errorType ErrorType, op, provider string, err error) *IngestError {
	return &IngestError{
		Type:      errorType,
		Op:        op,
		Provider:  provider,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType, err),
	}
}

// WithStatusCode adds an HTTP status code and re-derives retryability.
func (e *IngestError) WithStatusCode(code int) *IngestError {
	e.StatusCode = code
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	if code == http.StatusTooManyRequests {
		e.Type = ErrorTypeRateLimit
		e.Retryable = true
	}
	return e
}

func isRetryable(errorType ErrorType, err error) bool {
	switch errorType {
	case ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	case ErrorTypeAuth, ErrorTypeValidation, ErrorTypeParse, ErrorTypeNotFound, ErrorTypeConflict:
		return false
	default: // ErrorTypeInternal, ErrorTypeAPI
		if err != nil {
			return !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrForbidden)
		}
		return true
	}
}

// Wrap helpers

// WrapParse wraps a payload parse failure. Parse errors are reported per
// item and never abort a batch.
func WrapParse(op, provider string, err error) error {
	return New(ErrorTypeParse, op, provider, err)
}

// WrapConnection wraps a connection error with context.
func WrapConnection(op, provider string, err error) error {
	return New(ErrorTypeConnection, op, provider, err)
}

// WrapAPI wraps a provider API error with context.
func WrapAPI(op, provider string, err error, statusCode int) error {
	return New(ErrorTypeAPI, op, provider, err).WithStatusCode(statusCode)
}

// WrapNotFound wraps a lookup miss (e.g., a deleted item during refresh).
func WrapNotFound(op, provider string, err error) error {
	return New(ErrorTypeNotFound, op, provider, err)
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrRateLimited)
}

// IsNotFound checks if an error represents a provider or store lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRateLimited checks if an error represents a provider rate limit.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// HTTPStatus maps an error to the wire status code.
func HTTPStatus(err error) int {
	var ie *IngestError
	if errors.As(err, &ie) {
		if ie.StatusCode != 0 {
			return ie.StatusCode
		}
		switch ie.Type {
		case ErrorTypeValidation, ErrorTypeParse:
			return http.StatusBadRequest
		case ErrorTypeAuth:
			return http.StatusUnauthorized
		case ErrorTypeNotFound:
			return http.StatusNotFound
		case ErrorTypeConflict:
			return http.StatusConflict
		case ErrorTypeRateLimit:
			return http.StatusTooManyRequests
		}
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
