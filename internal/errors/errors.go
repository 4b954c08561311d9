// Package errors provides coded application errors shared by the repository,
// service and handler layers. Handlers translate the code into an HTTP status
// or a gRPC status code; callers branch on the code, never on the message.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an application error.
type Code string

const (
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	ErrCodeConflict     Code = "CONFLICT"
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	ErrCodeInternal     Code = "INTERNAL"

	// Workflow engine taxonomy.
	ErrCodeInvalidWorkflow        Code = "INVALID_WORKFLOW"
	ErrCodeMissingArtifact        Code = "MISSING_ARTIFACT"
	ErrCodeTaskAlreadyClosed      Code = "TASK_ALREADY_CLOSED"
	ErrCodeWorkflowNotFound       Code = "WORKFLOW_NOT_FOUND"
	ErrCodeMissingRejectionReason Code = "MISSING_REJECTION_REASON"
	ErrCodePreconditionFailed     Code = "PRECONDITION_FAILED"
)

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so sentinel comparisons like
// errors.Is(err, errors.New(errors.ErrCodeTaskAlreadyClosed, "")) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. An error that is
// already coded keeps its original code.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	var coded *Error
	if stderrors.As(err, &coded) {
		return err
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource of the given kind.
func NotFound(kind, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s not found: %s", kind, id)}
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Field: field, Message: message}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when err carries no code.
func CodeOf(err error) Code {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// As and Is re-export the standard helpers so callers need a single import.
func As(err error, target any) bool { return stderrors.As(err, target) }

func Is(err, target error) bool { return stderrors.Is(err, target) }
