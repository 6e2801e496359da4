package types

import "fmt"

// ErrorKind enumerates the error categories from spec.md §7. These are not
// distinct Go error types; they are carried as a field on SupervisorError so
// callers can branch on category without a type switch per kind.
type ErrorKind string

const (
	ErrValidation ErrorKind = "validation"
	ErrCapacity   ErrorKind = "capacity"
	ErrOS         ErrorKind = "os"
	ErrTimeout    ErrorKind = "timeout"
	ErrProtocol   ErrorKind = "protocol"
	ErrTransport  ErrorKind = "transport"
	ErrFatal      ErrorKind = "fatal"
	ErrNotFound   ErrorKind = "not_found"
	ErrConflict   ErrorKind = "conflict"
)

// SupervisorError wraps an underlying error with the category the control
// surface needs to pick a stable response code (spec.md §7).
type SupervisorError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func NewError(kind ErrorKind, message string, err error) *SupervisorError {
	return &SupervisorError{Kind: kind, Message: message, Err: err}
}

func (e *SupervisorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SupervisorError) Unwrap() error {
	return e.Err
}

// Code maps an ErrorKind to the short stable string the control surface
// returns to callers (spec.md §7 "User-visible errors ... return short
// stable codes").
func (e *SupervisorError) Code() string {
	switch e.Kind {
	case ErrValidation:
		return "validation"
	case ErrCapacity:
		return "capacity"
	case ErrNotFound:
		return "not_found"
	case ErrConflict:
		return "conflict"
	case ErrTimeout:
		return "timeout"
	default:
		return "internal"
	}
}
