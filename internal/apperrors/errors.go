// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrStorage      = errors.New("storage failure")
	ErrRemoteAccess = errors.New("remote access failure")
	ErrSystem       = errors.New("system failure")
	ErrInternal     = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel   error  // Wrapped sentinel for errors.Is() classification
	Message    string // Human-readable message
	Field      string // For validation errors
	Resource   string // For not found/conflict (e.g., "job")
	Op         string // Operation that failed (e.g., "s3.GetObject")
	Path       string // Object path for storage failures
	StatusCode int    // Remote status code, 0 for transport errors
	Cause      error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so a storage failure
// caused by a missing object still matches ErrNotFound.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  fmt.Sprintf("%s %s: %s", resource, id, reason),
		Resource: resource,
	}
}

// Storage wraps any object store failure for path.
func Storage(op, path string, cause error) error {
	return &Error{
		Sentinel: ErrStorage,
		Message:  fmt.Sprintf("%s %s: %v", op, path, cause),
		Op:       op,
		Path:     path,
		Cause:    cause,
	}
}

// RemoteAccess reports a non-2xx response (status > 0) or a transport
// error (status == 0) from the compute service.
func RemoteAccess(op string, status int, body string, cause error) error {
	msg := fmt.Sprintf("%s: status %d: %s", op, status, body)
	if status == 0 {
		msg = fmt.Sprintf("%s: %v", op, cause)
	}
	return &Error{
		Sentinel:   ErrRemoteAccess,
		Message:    msg,
		Op:         op,
		StatusCode: status,
		Cause:      cause,
	}
}

// System reports a missing local resource.
func System(op, message string) error {
	return &Error{
		Sentinel: ErrSystem,
		Message:  fmt.Sprintf("%s: %s", op, message),
		Op:       op,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// IsRemoteNotFound reports whether err is a compute service 404.
func IsRemoteNotFound(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Sentinel == ErrRemoteAccess {
		return appErr.StatusCode == 404
	}
	return false
}
