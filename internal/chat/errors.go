package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a submission is already outstanding.
	ErrBusy = errors.New("a generation is already in progress")
	// ErrKindMismatch is returned when a request targets a session of another kind.
	ErrKindMismatch = errors.New("request kind does not match session kind")
	// ErrNotFound is returned for unknown sessions, folders or jobs.
	ErrNotFound = errors.New("not found")
	// ErrSuperseded is returned by a select whose result lost to a newer select.
	ErrSuperseded = errors.New("superseded by a newer selection")
	// ErrFinalized is returned when mutating the content of a finalized message.
	ErrFinalized = errors.New("message is finalized")
)

// NetworkError wraps a transport failure or a non-2xx response.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError means credentials are missing or could not be refreshed.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "authentication required"
	}
	return "authentication required: " + e.Reason
}

// ValidationError rejects a request before it leaves the client.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validationf builds a ValidationError.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// JobFailureError carries the backend's failure description.
type JobFailureError struct {
	TaskID  string
	Message string
}

func (e *JobFailureError) Error() string {
	if e.Message == "" {
		return "job failed"
	}
	return "job failed: " + e.Message
}

// JobTimeoutError is synthesized after the poll budget is exhausted.
type JobTimeoutError struct {
	TaskID   string
	Attempts int
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %d polls", e.TaskID, e.Attempts)
}

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNetwork reports whether err is, or wraps, a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
