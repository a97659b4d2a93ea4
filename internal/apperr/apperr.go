// Package apperr defines the error kinds surfaced to launcher hosts.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for the host.
type Kind string

const (
	PermissionDenied Kind = "PermissionDenied"
	AppNotFound      Kind = "AppNotFound"
	LaunchFailed     Kind = "LaunchFailed"
	ScriptMissing    Kind = "ScriptMissing"
	ExecutionError   Kind = "ExecutionError"
	ProbeTransient   Kind = "ProbeTransientError"
	InvalidArgument  Kind = "InvalidArgument"
	Internal         Kind = "Internal"
)

// Error carries a kind and a human-readable detail string.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind with a formatted detail.
func New(kind Kind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Detail: fmt.Sprintf(format, args...)})
}

// Wrap attaches a kind and detail to err. A nil err yields nil.
func Wrap(err error, kind Kind, detail string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, Detail: detail, Err: err})
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Detail returns the human-readable detail of err.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Detail, e.Err)
		}
		return e.Detail
	}
	return err.Error()
}
