package sandbox

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed run by the stage that failed.
type ErrorKind string

// Error kinds surfaced by the engine.
const (
	KindContextInit      ErrorKind = "context_initialization"
	KindCyclicReference  ErrorKind = "cyclic_reference"
	KindUnsupportedValue ErrorKind = "unsupported_value"
	KindCompile          ErrorKind = "compile"
	KindRuntime          ErrorKind = "runtime"
	KindDisposal         ErrorKind = "disposal"
)

// Kind sentinels for use with errors.Is.
var (
	ErrContextInit      = &Error{Kind: KindContextInit}
	ErrCyclicReference  = &Error{Kind: KindCyclicReference}
	ErrUnsupportedValue = &Error{Kind: KindUnsupportedValue}
	ErrCompile          = &Error{Kind: KindCompile}
	ErrRuntime          = &Error{Kind: KindRuntime}
	ErrDisposal         = &Error{Kind: KindDisposal}
)

// ErrInterrupted is returned by guest callbacks when the isolate was
// interrupted by a deadline or cancellation.
var ErrInterrupted = errors.New("isolate interrupted")

// Error is the single failure value a run produces.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error

	// Secondary holds a disposal failure that happened after the run had
	// already failed for another reason.
	Secondary error
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Secondary != nil {
		msg += fmt.Sprintf(" (secondary: %v)", e.Secondary)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
