package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// LLM error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrEmptyResponse      ErrorCode = "EMPTY_RESPONSE"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
)

// API error codes
const (
	ErrInternal             ErrorCode = "INTERNAL_ERROR"
	ErrPayloadTooLarge      ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrUnsupportedMediaType ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
	ErrMethodNotAllowed     ErrorCode = "METHOD_NOT_ALLOWED"
)

// Reasoning error codes
const (
	ErrInvalidConfig   ErrorCode = "INVALID_CONFIG"
	ErrUnknownStrategy ErrorCode = "UNKNOWN_STRATEGY"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewConfigError reports an invalid constructor parameter.
func NewConfigError(format string, args ...any) *Error {
	return NewError(ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
