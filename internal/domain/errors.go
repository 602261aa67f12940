// Package domain provides shared domain-level errors and the error code
// taxonomy used across the control plane.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// Code identifies an error class. Callers branch on codes, not error types.
type Code string

const (
	CodeAuthFailed        Code = "AUTH_FAILED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeInvalidBody       Code = "INVALID_BODY"
	CodeValidationError   Code = "VALIDATION_ERROR"
	CodeToolNotInRegistry Code = "TOOL_NOT_IN_REGISTRY"
	CodeToolNotAllowed    Code = "TOOL_NOT_ALLOWED"
	CodeArgsValidation    Code = "ARGS_VALIDATION_ERROR"
	CodeRequestInProgress Code = "REQUEST_IN_PROGRESS"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeRequestExpired    Code = "REQUEST_EXPIRED"
	CodeIntegrityError    Code = "INTEGRITY_ERROR"
	CodeExecutionError    Code = "EXECUTION_ERROR"
	CodeInternalError     Code = "INTERNAL_ERROR"
)

// Error is a coded error carried through the execution pipeline and
// serialized into the response envelope.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Help    string `json:"help,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E creates a coded error with a formatted message.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured details (e.g. per-field validation errors).
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// WithHelp attaches a remediation hint.
func (e *Error) WithHelp(format string, args ...any) *Error {
	e.Help = fmt.Sprintf(format, args...)
	return e
}

// AsError unwraps err to a *Error, normalizing anything else to
// INTERNAL_ERROR so the response envelope never leaks raw error text
// from unexpected failures.
func AsError(err error) *Error {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}
	return &Error{Code: CodeInternalError, Message: "internal error"}
}

// CodeOf returns the code of err, or INTERNAL_ERROR for uncoded errors.
func CodeOf(err error) Code {
	return AsError(err).Code
}

// Retryable reports whether a caller may safely retry the same requestId.
// Transient codes rely on idempotency to make the retry safe.
func Retryable(code Code) bool {
	switch code {
	case CodeRequestInProgress, CodeRateLimitExceeded, CodeExecutionError, CodeInternalError:
		return true
	default:
		return false
	}
}
