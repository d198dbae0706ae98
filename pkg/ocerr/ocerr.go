// Package ocerr defines the error taxonomy used across the copy engine.
//
// Every error that crosses a component boundary is one of the kinds below.
// Controllers switch on kind (via errors.As) to decide whether to retry,
// clean up, or surface a single-line message to the caller.
package ocerr

import (
	"fmt"

	"github.com/pingcap/errors"
)

// Kind classifies an error for the purposes of retry and cleanup decisions.
type Kind int

const (
	KindParse Kind = iota
	KindValidation
	KindPrecondition
	KindTransientDB
	KindFatalDB
	KindIO
	KindCancelled
	KindCleanup
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindValidation:
		return "ValidationError"
	case KindPrecondition:
		return "PreconditionError"
	case KindTransientDB:
		return "TransientDBError"
	case KindFatalDB:
		return "FatalDBError"
	case KindIO:
		return "IOError"
	case KindCancelled:
		return "CancelledError"
	case KindCleanup:
		return "CleanupError"
	}
	return "UnknownError"
}

// Error is the concrete error type carried across the engine. SQLState is
// populated for DB-originated errors when available so that the top-level
// message can report the primary cause.
type Error struct {
	Kind     Kind
	SQLState string
	Reason   string
	cause    error
}

func (e *Error) Error() string {
	if e.SQLState != "" {
		return fmt.Sprintf("%s: %s (sqlstate=%s)", e.Kind, e.Reason, e.SQLState)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind, annotating it with pingcap/errors
// so a stack trace is retained the way the rest of this codebase annotates
// errors (see pkg/dbconn).
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, cause: errors.New(reason)}
}

// Wrap attaches a kind to an existing error, keeping it as the cause so
// errors.Is/As still reaches the original.
func Wrap(kind Kind, cause error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, cause: cause}
}

// WithSQLState attaches a SQLSTATE code, returning the same *Error for
// chaining at the construction site.
func (e *Error) WithSQLState(state string) *Error {
	e.SQLState = state
	return e
}

// Is implements errors.Is comparison by Kind so callers can write
// errors.Is(err, ocerr.New(ocerr.KindCancelled, "")) style checks, though
// the more common pattern is errors.As with a *Error and a Kind switch.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
