// recover.go provides the Recover helper for standalone panic recovery.
// Use this in HTTP handlers, goroutines, or other code outside of a Realm.

package aisen

import (
	"context"
	"fmt"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/stacktrace"
)

// Recover captures a panic, records it to the collector, and returns the recovered value.
// Unlike instrumented callbacks, Recover does NOT re-panic after recording.
//
// Use in defer:
//
//	func handler(ctx context.Context) {
//	    defer aisen.Recover(ctx, collector)
//	    // code that might panic
//	}
//
// recover only stops a panic when called directly by the deferred function,
// so Recover must itself be the deferred call. To inspect the value, recover
// yourself and hand it to CapturePanic:
//
//	defer func() {
//	    if r := recover(); r != nil {
//	        aisen.CapturePanic(ctx, collector, r, aisen.Mechanism{Type: "recover", Handled: true})
//	        err = fmt.Errorf("panic: %v", r)
//	    }
//	}()
func Recover(ctx context.Context, collector Collector) any {
	r := recover()
	if r == nil {
		return nil
	}

	CapturePanic(ctx, collector, r, Mechanism{Type: "recover", Handled: true})
	return r
}

// CapturePanic builds a fatal event for a recovered panic value and captures
// it. Call it from the deferred function that recovered, so the stack still
// shows the panic site. It returns the event ID, or "" if the event was dropped.
func CapturePanic(ctx context.Context, collector Collector, recovered any, mech Mechanism) string {
	if collector == nil || IsOwnRequest(recovered) {
		return ""
	}

	synthetic := stacktrace.Synthetic(1)
	event := EventFromUnknownInput(recovered, &synthetic)
	EnsureExceptionTypeValue(event, Truncate(formatRecovered(recovered), DefaultMaxValueLength), "")
	AddExceptionMechanism(event, mech)
	event.Level = LevelFatal

	return collector.CaptureEvent(ctx, event, &Hint{OriginalException: recovered})
}

// formatRecovered formats a recovered panic value as a string.
func formatRecovered(recovered any) string {
	if recovered == nil {
		return "<nil>"
	}
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", recovered)
}
