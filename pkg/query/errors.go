package query

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the step at which a worker failed.
type ErrorKind string

// Error kinds. A failed row count is not among them: it degrades to an
// unknown total and is never reported.
const (
	ErrorKindPreparation ErrorKind = "preparation"
	ErrorKindExecution   ErrorKind = "execution"
	ErrorKindFetch       ErrorKind = "fetch"
)

// Error is the structured error a worker emits. Message carries the
// engine's text verbatim.
type Error struct {
	Kind      ErrorKind
	Message   string
	Statement string
	Err       error
}

func newError(kind ErrorKind, stmt, msg string, err error) *Error {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &Error{Kind: kind, Message: msg, Statement: stmt, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var qe *Error
	return errors.As(err, &qe) && qe.Kind == kind
}
