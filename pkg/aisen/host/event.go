package host

import (
	"reflect"
)

// Listener receives events dispatched by the realm: target events, timer
// ticks, animation frames and request callbacks.
type Listener interface {
	HandleEvent(ev *Event)
}

// ListenerFunc adapts a function to Listener. Function values cannot be
// compared, so a ListenerFunc cannot be removed again; use a pointer type
// for listeners that need RemoveEventListener.
type ListenerFunc func(ev *Event)

// HandleEvent calls f(ev).
func (f ListenerFunc) HandleEvent(ev *Event) {
	f(ev)
}

// Event is passed to listeners.
type Event struct {
	// Type is the event name, e.g. "message", "timeout", "load".
	Type string

	// Target is the object that dispatched the event.
	Target any

	// Data is the event payload.
	Data any

	frame *frame
}

// frame is one synchronous listener invocation.
type frame struct {
	suppressed bool
}

// SuppressUncaught marks the current listener invocation so that a panic
// escaping it is not reported through the realm's error handler as a fresh
// failure. Capture layers call it after reporting the panic themselves.
func (e *Event) SuppressUncaught() {
	if e != nil && e.frame != nil {
		e.frame.suppressed = true
	}
}

// SameListener reports whether a and b are the same listener. Listeners of
// non-comparable dynamic types (such as ListenerFunc) never match.
func SameListener(a, b Listener) (same bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	// Comparable struct types may still hold functions in interface fields.
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
