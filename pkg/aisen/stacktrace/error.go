package stacktrace

import (
	"fmt"
	"runtime"
)

// Error is an error that records the stack at the point it was created.
type Error struct {
	msg   string
	cause error
	pcs   []uintptr
}

// New returns an error with the given message and the caller's stack.
func New(msg string) error {
	return &Error{msg: msg, pcs: pcs(1)}
}

// Errorf formats an error and records the caller's stack. The %w verb is
// honored.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &Error{cause: err, pcs: pcs(1)}
}

// Wrap attaches the caller's stack to err. It returns err unchanged when err
// is nil or already carries a stack.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(Tracer); ok {
		return err
	}
	return &Error{cause: err, pcs: pcs(1)}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Callers returns the recorded program counters.
func (e *Error) Callers() []uintptr { return e.pcs }

func pcs(skip int) []uintptr {
	pc := make([]uintptr, Limit()+internalSlack)
	n := runtime.Callers(skip+2, pc)
	return pc[:n]
}
