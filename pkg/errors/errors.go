package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType classifies an error for retry and circuit breaker decisions
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeUnavailable    ErrorType = "unavailable"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeConnection     ErrorType = "connection"
	ErrorTypeExternal       ErrorType = "external"
	ErrorTypeInternal       ErrorType = "internal"
)

// AppError represents an application error with classification and context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewAuthenticationError(service string) *AppError {
	return NewAppError(ErrorTypeAuthentication, "AUTHENTICATION_ERROR",
		fmt.Sprintf("authentication against %s failed", service)).
		WithDetail("service", service)
}

func NewAuthorizationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthorization, "AUTHORIZATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, "CONFLICT", message)
}

func NewRateLimitError(service string) *AppError {
	return NewAppError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED",
		fmt.Sprintf("%s is rate limiting requests", service)).
		WithDetail("service", service)
}

func NewUnavailableError(service string) *AppError {
	return NewAppError(ErrorTypeUnavailable, "SERVICE_UNAVAILABLE",
		fmt.Sprintf("%s is unavailable", service)).
		WithDetail("service", service)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

func NewConnectionError(service string) *AppError {
	return NewAppError(ErrorTypeConnection, "CONNECTION_ERROR",
		fmt.Sprintf("connection to %s failed", service)).
		WithDetail("service", service)
}

func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", message).
		WithDetail("service", service)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

// IsType checks whether err (or anything it wraps) is an AppError of the given type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetType returns the ErrorType of err, or ErrorTypeInternal for untyped errors
func GetType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsNotFound checks whether err represents a missing resource
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsRetryable reports whether an error is worth retrying. Rate limiting,
// unavailability, timeouts, connection failures and generic upstream errors
// are transient; authentication, authorization, validation and not-found
// failures are permanent and surface immediately. Errors that carry no
// classification default to retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return true
	}

	switch appErr.Type {
	case ErrorTypeRateLimit, ErrorTypeUnavailable, ErrorTypeTimeout,
		ErrorTypeConnection, ErrorTypeExternal:
		return true
	case ErrorTypeAuthentication, ErrorTypeAuthorization, ErrorTypeValidation,
		ErrorTypeNotFound, ErrorTypeConflict:
		return false
	default:
		return true
	}
}

// IsCountableFailure reports whether an error should count against a circuit
// breaker: failures indicating the upstream service itself is unhealthy.
// Permanent request errors and programmer errors do not move breaker state.
func IsCountableFailure(err error) bool {
	if err == nil {
		return false
	}

	switch GetType(err) {
	case ErrorTypeRateLimit, ErrorTypeUnavailable, ErrorTypeTimeout,
		ErrorTypeConnection, ErrorTypeExternal:
		return true
	default:
		return false
	}
}
