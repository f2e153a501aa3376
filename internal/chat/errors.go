package chat

import (
	"errors"
	"fmt"
)

// PreconditionError rejects bad input. Never retried.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// NewPrecondition builds a PreconditionError.
func NewPrecondition(format string, args ...interface{}) *PreconditionError {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError marks an unknown user or message. Surfaced, not retried.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// Conflict codes surfaced to clients so they can react specifically.
const CodeAlreadyDeleted = "ALREADY_DELETED"

// ConflictError marks an operation that clashes with current state.
type ConflictError struct {
	Code string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Code
}

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return asErr(err, &pe)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return asErr(err, &nf)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return asErr(err, &ce)
}

func asErr(err error, target interface{}) bool {
	return errors.As(err, target)
}
