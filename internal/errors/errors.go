// Package errors provides unified error handling with structured error codes.
// Codes are shared between the pipeline, the control surface, and logs.
package errors

import (
	"fmt"
	"net/http"
)

// Code identifies an error category.
type Code string

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInternal        Code = "INTERNAL"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeTimeout         Code = "TIMEOUT"
	CodeRateLimited     Code = "RATE_LIMITED"

	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeSessionConflict Code = "SESSION_CONFLICT"
	CodeSessionEnded    Code = "SESSION_ENDED"

	CodeTranscribeFailed Code = "TRANSCRIBE_FAILED"
	CodeLLMFailed        Code = "LLM_FAILED"
	CodeSummarizeFailed  Code = "SUMMARIZE_FAILED"
	CodeStoreFailed      Code = "STORE_FAILED"
)

// httpStatusMap maps codes to HTTP status codes for the control surface.
var httpStatusMap = map[Code]int{
	CodeUnknown:          http.StatusInternalServerError,
	CodeInternal:         http.StatusInternalServerError,
	CodeInvalidArgument:  http.StatusBadRequest,
	CodeUnavailable:      http.StatusServiceUnavailable,
	CodeTimeout:          http.StatusGatewayTimeout,
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeSessionNotFound:  http.StatusNotFound,
	CodeSessionConflict:  http.StatusConflict,
	CodeSessionEnded:     http.StatusConflict,
	CodeTranscribeFailed: http.StatusBadGateway,
	CodeLLMFailed:        http.StatusBadGateway,
	CodeSummarizeFailed:  http.StatusInternalServerError,
	CodeStoreFailed:      http.StatusInternalServerError,
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// HTTPStatus returns the corresponding HTTP status code.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpStatusMap[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the error code from any error (CodeUnknown if untagged).
func CodeOf(err error) Code {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable returns true if the error is potentially transient.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeTimeout, CodeRateLimited:
		return true
	default:
		return false
	}
}
