// Package errors defines the error kinds surfaced by the graph and
// relationship stores.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: no persisted graph, or no such phrase or pair.
	ErrNotFound = errors.New("not found")
	// ErrCorruptData: malformed persisted graph or undecodable stored field.
	ErrCorruptData = errors.New("corrupt data")
	// ErrStoreUnavailable: store not opened or connection lost.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrExecutionFailed: constraint violation or I/O failure during a write.
	ErrExecutionFailed = errors.New("execution failed")
)

// Error ties a kind sentinel to the failing operation and its cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func New(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an Error whose cause is a formatted message.
func Newf(kind error, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	kind := "error"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", kind, e.Err)
	}
	return kind
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
