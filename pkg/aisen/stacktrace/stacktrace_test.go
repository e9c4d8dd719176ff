package stacktrace

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

type customError struct{}

func (customError) Error() string { return "custom" }

func TestCompute_NonError(t *testing.T) {
	trace := Compute(map[string]int{"a": 1})

	if !trace.Failed {
		t.Error("non-error values should produce a failed trace")
	}
	if len(trace.Frames) != 0 {
		t.Errorf("Frames = %v, want none", trace.Frames)
	}

	if !Compute(nil).Failed {
		t.Error("nil should produce a failed trace")
	}
}

func TestCompute_StackCarryingError(t *testing.T) {
	err := New("boom")

	trace := Compute(err)

	if trace.Failed {
		t.Fatal("trace should not fail for errors")
	}
	if trace.Name != "Error" || trace.Message != "boom" {
		t.Errorf("Name/Message = %q/%q", trace.Name, trace.Message)
	}
	if len(trace.Frames) == 0 {
		t.Fatal("expected frames")
	}
	if !strings.Contains(trace.Frames[0].Function, "TestCompute_StackCarryingError") {
		t.Errorf("innermost frame = %q, want the creating function", trace.Frames[0].Function)
	}
	if trace.Frames[0].Line == 0 || !strings.HasSuffix(trace.Frames[0].File, "stacktrace_test.go") {
		t.Errorf("innermost frame = %+v", trace.Frames[0])
	}
}

func TestCompute_WrappedStackCarryingError(t *testing.T) {
	inner := New("inner")
	err := fmt.Errorf("outer: %w", inner)

	trace := Compute(err)

	if trace.Message != "outer: inner" {
		t.Errorf("Message = %q", trace.Message)
	}
	if trace.Name != "Error" {
		t.Errorf("Name = %q, want Error", trace.Name)
	}
	if len(trace.Frames) == 0 || !strings.Contains(trace.Frames[0].Function, "TestCompute_WrappedStackCarryingError") {
		t.Errorf("frames should come from the inner error: %+v", trace.Frames)
	}
}

func TestCompute_PlainErrorOutsidePanic(t *testing.T) {
	trace := Compute(errors.New("fetch failed"))

	if trace.Failed {
		t.Fatal("trace should not fail for errors")
	}
	if trace.Name != "Error" || trace.Message != "fetch failed" {
		t.Errorf("Name/Message = %q/%q", trace.Name, trace.Message)
	}
	if len(trace.Frames) != 0 {
		t.Errorf("Frames = %+v, want none: the reporting stack is not the failure site", trace.Frames)
	}
}

func TestCompute_PanicOrigin(t *testing.T) {
	var trace Trace
	func() {
		defer func() {
			r := recover()
			trace = Compute(r.(error))
		}()
		panicWith(customError{})
	}()

	if trace.Name != "stacktrace.customError" {
		t.Errorf("Name = %q", trace.Name)
	}
	if len(trace.Frames) == 0 {
		t.Fatal("expected frames")
	}
	if !strings.HasSuffix(trace.Frames[0].Function, "stacktrace.panicWith") {
		t.Errorf("innermost frame = %q, want panicWith", trace.Frames[0].Function)
	}
}

func panicWith(v any) {
	panic(v)
}

func TestCompute_RuntimePanic(t *testing.T) {
	var trace Trace
	func() {
		defer func() {
			trace = Compute(recover())
		}()
		var m map[string]int
		m["x"] = 1
	}()

	if trace.Failed {
		t.Fatal("runtime errors are errors")
	}
	if !strings.Contains(trace.Message, "nil map") {
		t.Errorf("Message = %q", trace.Message)
	}
	if !strings.Contains(trace.Frames[0].Function, "TestCompute_RuntimePanic") {
		t.Errorf("innermost frame = %q, want the faulting function", trace.Frames[0].Function)
	}
}

func TestSynthetic(t *testing.T) {
	trace := Synthetic(0)

	if len(trace.Frames) == 0 {
		t.Fatal("expected frames")
	}
	if !strings.Contains(trace.Frames[0].Function, "TestSynthetic") {
		t.Errorf("innermost frame = %q, want TestSynthetic", trace.Frames[0].Function)
	}
}

func TestSetLimit(t *testing.T) {
	prev := Limit()
	defer SetLimit(prev)

	SetLimit(2)
	if got := len(deep(10)); got != 2 {
		t.Errorf("frames = %d, want 2", got)
	}

	SetLimit(0)
	if Limit() != 2 {
		t.Errorf("SetLimit(0) should be ignored, Limit = %d", Limit())
	}
}

func deep(n int) []Frame {
	if n == 0 {
		return Synthetic(0).Frames
	}
	return deep(n - 1)
}

type boundary struct{}

func (boundary) instrumentedHandleEvent(fn func()) { fn() }

func TestCut_StopsAtWrapMarker(t *testing.T) {
	var trace Trace
	boundary{}.instrumentedHandleEvent(func() {
		trace = Synthetic(0)
	})

	last := trace.Frames[len(trace.Frames)-1]
	if !strings.Contains(last.Function, WrapMarker) {
		t.Errorf("last frame = %q, want the wrap boundary", last.Function)
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{New("x"), "Error"},
		{errors.New("x"), "Error"},
		{fmt.Errorf("x: %w", errors.New("y")), "Error"},
		{Wrap(customError{}), "stacktrace.customError"},
		{&customPtrError{}, "*stacktrace.customPtrError"},
		{nil, ""},
	}

	for _, tt := range tests {
		if got := TypeName(tt.err); got != tt.want {
			t.Errorf("TypeName(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

type customPtrError struct{}

func (*customPtrError) Error() string { return "ptr" }

func TestWrap(t *testing.T) {
	if Wrap(nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}

	base := errors.New("base")
	wrapped := Wrap(base)
	if !errors.Is(wrapped, base) {
		t.Error("Wrap should preserve the chain")
	}
	if Wrap(wrapped) != wrapped {
		t.Error("Wrap should not rewrap a stack-carrying error")
	}

	err := Errorf("read %s: %w", "cfg", base)
	if !errors.Is(err, base) || err.Error() != "read cfg: base" {
		t.Errorf("Errorf = %v", err)
	}
}
