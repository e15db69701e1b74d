package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is the single outward error for every failed
	// authentication. Unknown usernames, wrong passwords and disabled
	// accounts all map to it; the precise cause lives in the audit log.
	ErrInvalidCredentials = errors.New("auth: invalid username or password")

	ErrInvalidResetToken = errors.New("auth: invalid or expired reset token")
	ErrNotFound          = errors.New("auth: not found")
	ErrAlreadyExists     = errors.New("auth: already exists")
	ErrForbidden         = errors.New("auth: forbidden")
)

// ValidationError reports one rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("auth: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InternalError wraps an unexpected downstream failure. The transport layer
// maps it to a generic 500; the cause stays in the logs.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string { return fmt.Sprintf("auth: %s: %v", e.Op, e.Err) }

func (e *InternalError) Unwrap() error { return e.Err }

func internal(op string, err error) *InternalError {
	return &InternalError{Op: op, Err: err}
}
