// Package stacktrace computes raw call stacks for captured values.
//
// Frames are resolved with runtime.Callers and runtime.CallersFrames and are
// returned innermost first: Frames[0] is the crash site (or the caller of the
// capture API), the last frame is the outermost call.
package stacktrace

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync/atomic"
)

// DefaultLimit is the capture depth used until SetLimit is called.
const DefaultLimit = 10

// WrapMarker is part of the function name of the instrumentation boundary
// frame. Traces are cut just below it so framework plumbing stays out.
const WrapMarker = "instrumentedHandleEvent"

// internalSlack bounds how many frames above a panic origin (deferred
// handlers, runtime frames) are captured in addition to the limit.
const internalSlack = 48

var limit atomic.Int32

func init() {
	limit.Store(DefaultLimit)
}

// SetLimit sets the number of frames captured per trace. Values below 1 are
// ignored.
func SetLimit(n int) {
	if n > 0 {
		limit.Store(int32(n))
	}
}

// Limit returns the current capture depth.
func Limit() int {
	return int(limit.Load())
}

// Frame is one raw call site.
type Frame struct {
	Function string
	File     string
	Line     int
	Column   int
}

// Trace is the result of computing a stack for a value.
type Trace struct {
	Name    string
	Message string
	Frames  []Frame

	// Failed is set when the value has no error semantics and no stack could
	// be computed for it.
	Failed bool
}

// Tracer is implemented by errors that recorded their own call stack.
type Tracer interface {
	Callers() []uintptr
}

// Compute returns the trace of v. Errors carrying a stack (see Tracer) use
// it. Other errors use the current goroutine stack from the panic origin
// when called while a panic is unwinding, and get no frames otherwise: the
// current stack would be the caller's reporting code, not the failure site.
// Non-error values produce a failed trace.
func Compute(v any) Trace {
	err, ok := v.(error)
	if !ok || err == nil {
		return Trace{Message: fmt.Sprint(v), Failed: true}
	}

	t := Trace{
		Name:    TypeName(err),
		Message: err.Error(),
	}

	var tracer Tracer
	if errors.As(err, &tracer) {
		t.Frames = resolve(tracer.Callers())
	} else if frames, ok := panicOrigin(callers(1, Limit()+internalSlack)); ok {
		t.Frames = frames
	}
	t.Frames = cut(t.Frames)
	return t
}

// Synthetic captures the current stack for values that carry none. skip 0
// starts at the caller of Synthetic.
func Synthetic(skip int) Trace {
	frames, _ := panicOrigin(callers(skip+1, Limit()+internalSlack))
	return Trace{Frames: cut(frames)}
}

// TypeName returns a printable type name for an error, looking through the
// stack-carrying wrapper of this package.
func TypeName(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := err.(*Error); ok {
		if se.cause == nil {
			return "Error"
		}
		return TypeName(se.cause)
	}
	name := reflect.TypeOf(err).String()
	if opaqueTypes[name] {
		return "Error"
	}
	return name
}

// opaqueTypes are the standard library's anonymous error types. Their type
// names say nothing about the failure.
var opaqueTypes = map[string]bool{
	"*errors.errorString": true,
	"*errors.joinError":   true,
	"*fmt.wrapError":      true,
	"*fmt.wrapErrors":     true,
}

// callers captures up to max frames, skipping runtime.Callers, callers and
// skip more frames.
func callers(skip, max int) []Frame {
	pc := make([]uintptr, max)
	n := runtime.Callers(skip+2, pc)
	if n == 0 {
		return nil
	}
	return resolve(pc[:n])
}

func resolve(pcs []uintptr) []Frame {
	if len(pcs) == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs)
	out := make([]Frame, 0, len(pcs))
	for {
		fr, more := frames.Next()
		out = append(out, Frame{
			Function: fr.Function,
			File:     fr.File,
			Line:     fr.Line,
		})
		if !more {
			break
		}
	}
	return out
}

// panicOrigin drops everything above the outermost runtime.gopanic frame
// plus the runtime frames that raised the panic (sigpanic, panicIndex, ...).
// Re-raised panics stack several gopanic frames; the outermost one belongs to
// the original panic. Without a gopanic frame, frames are returned unchanged
// and ok is false.
func panicOrigin(frames []Frame) (_ []Frame, ok bool) {
	origin := -1
	for i, f := range frames {
		if f.Function == "runtime.gopanic" {
			origin = i
		}
	}
	if origin < 0 {
		return frames, false
	}
	rest := frames[origin+1:]
	for len(rest) > 0 && strings.HasPrefix(rest[0].Function, "runtime.") {
		rest = rest[1:]
	}
	return rest, true
}

// cut applies the capture limit and stops at the instrumentation boundary,
// keeping the boundary frame itself as the last entry.
func cut(frames []Frame) []Frame {
	for i, f := range frames {
		if strings.Contains(f.Function, WrapMarker) {
			frames = frames[:i+1]
			break
		}
	}
	if n := Limit(); len(frames) > n {
		frames = frames[:n]
	}
	return frames
}
