package instrument

import (
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/host"
	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/stacktrace"
)

// MechanismInstrument is the mechanism type of failures captured by a
// wrapped listener.
const MechanismInstrument = "instrument"

// Wrapped is implemented by listeners returned from Wrapper.Wrap.
type Wrapped interface {
	host.Listener
	Unwrap() host.Listener
}

// Unwrap returns the original of a wrapped listener, or l itself.
func Unwrap(l host.Listener) host.Listener {
	if w, ok := l.(Wrapped); ok {
		return w.Unwrap()
	}
	return l
}

// Wrapper wraps listeners so that a panic is captured before it escapes.
// A wrapper is returned unchanged by Wrap. Originals registered on an event
// target (see Register) keep their wrapper until every registration is
// released, so removal can find it; other originals get a fresh wrapper per
// call and nothing is retained for them. Only listeners of comparable types
// (pointers, most structs) can be registered.
type Wrapper struct {
	collector aisen.Collector
	cfg       config

	mu         sync.Mutex
	registered map[host.Listener]*registration
}

// registration is a wrapper shared by every (target, event type) pair the
// original was added to.
type registration struct {
	wrapper *wrappedListener
	sites   map[site]struct{}
}

type site struct {
	target    *host.EventTarget
	eventType string
}

// NewWrapper creates a Wrapper reporting to collector.
func NewWrapper(collector aisen.Collector, opts ...Option) *Wrapper {
	return &Wrapper{
		collector:  collector,
		cfg:        newConfig(opts),
		registered: make(map[host.Listener]*registration),
	}
}

// Wrap returns a listener that calls l with the same event. If l panics, the
// panic is captured with mech attached, the dispatch is marked so the
// realm's uncaught channel ignores it, and the panic is re-raised.
func (w *Wrapper) Wrap(l host.Listener, mech aisen.Mechanism) host.Listener {
	if l == nil {
		return nil
	}
	if _, ok := l.(Wrapped); ok {
		return l
	}
	if isComparable(l) {
		w.mu.Lock()
		reg := w.lookup(l)
		w.mu.Unlock()
		if reg != nil {
			return reg.wrapper
		}
	}
	return &wrappedListener{wrapper: w, original: l, mech: mech}
}

// Register wraps l for a listener registration of eventType on target and
// records it, so that Release can resolve l to the same wrapper. Registering
// the same original again returns its existing wrapper.
func (w *Wrapper) Register(target *host.EventTarget, eventType string, l host.Listener, mech aisen.Mechanism) host.Listener {
	if l == nil {
		return nil
	}
	if _, ok := l.(Wrapped); ok {
		return l
	}
	if !isComparable(l) {
		return &wrappedListener{wrapper: w, original: l, mech: mech}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	reg := w.lookup(l)
	if reg == nil {
		reg = &registration{
			wrapper: &wrappedListener{wrapper: w, original: l, mech: mech},
			sites:   make(map[site]struct{}),
		}
		if !w.store(l, reg) {
			return reg.wrapper
		}
	}
	reg.sites[site{target: target, eventType: eventType}] = struct{}{}
	return reg.wrapper
}

// Release drops the registration of l for eventType on target and returns
// the wrapper that was registered, or l itself when there is none. l may be
// the original or its wrapper. The original is forgotten once its last
// registration is released.
func (w *Wrapper) Release(target *host.EventTarget, eventType string, l host.Listener) host.Listener {
	original := Unwrap(l)
	if original == nil || !isComparable(original) {
		return l
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	reg := w.lookup(original)
	if reg == nil {
		return l
	}
	delete(reg.sites, site{target: target, eventType: eventType})
	if len(reg.sites) == 0 {
		delete(w.registered, original)
	}
	return reg.wrapper
}

// WrapperOf returns the registered wrapper of original, or original itself
// when it is not registered.
func (w *Wrapper) WrapperOf(original host.Listener) host.Listener {
	if original == nil || !isComparable(original) {
		return original
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if reg := w.lookup(original); reg != nil {
		return reg.wrapper
	}
	return original
}

// registrations returns the number of originals currently registered.
func (w *Wrapper) registrations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.registered)
}

// lookup and store hash l. A comparable struct can still hold an
// uncomparable value in an interface field; hashing it panics.
func (w *Wrapper) lookup(l host.Listener) (reg *registration) {
	defer func() {
		if recover() != nil {
			reg = nil
		}
	}()
	return w.registered[l]
}

func (w *Wrapper) store(l host.Listener, reg *registration) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	w.registered[l] = reg
	return true
}

// capture reports a panic recovered by a wrapped listener. It must run in
// the deferred function that recovered v.
func (w *Wrapper) capture(v any, mech aisen.Mechanism) {
	if !aisen.IsActive(w.collector) || aisen.IsOwnRequest(v) {
		return
	}
	w.cfg.safeCall("capture", func() {
		synthetic := stacktrace.Synthetic(2)
		event := aisen.EventFromUnknownInput(v, &synthetic)
		aisen.EnsureExceptionTypeValue(event, "", "")
		aisen.AddExceptionMechanism(event, mech)
		w.collector.CaptureEvent(w.cfg.ctx, event, &aisen.Hint{OriginalException: v})
	})
}

type wrappedListener struct {
	wrapper  *Wrapper
	original host.Listener
	mech     aisen.Mechanism
}

func (l *wrappedListener) HandleEvent(ev *host.Event) {
	l.instrumentedHandleEvent(ev)
}

// instrumentedHandleEvent is the boundary frame: stack traces are cut at
// its name (stacktrace.WrapMarker).
func (l *wrappedListener) instrumentedHandleEvent(ev *host.Event) {
	defer func() {
		if v := recover(); v != nil {
			ev.SuppressUncaught()
			l.wrapper.capture(v, l.mech)
			panic(v)
		}
	}()
	l.original.HandleEvent(ev)
}

func (l *wrappedListener) Unwrap() host.Listener {
	return l.original
}

func isComparable(l host.Listener) bool {
	t := reflect.TypeOf(l)
	return t != nil && t.Comparable()
}

// instrumentMechanism builds the mechanism attached by TryCatch.
func instrumentMechanism(data map[string]string) aisen.Mechanism {
	return aisen.Mechanism{Type: MechanismInstrument, Handled: true, Data: data}
}

// listenerName names a listener for mechanism data: the function name of a
// ListenerFunc, the type name otherwise.
func listenerName(l host.Listener) string {
	l = Unwrap(l)
	if l == nil {
		return "<anonymous>"
	}
	if fn, ok := l.(host.ListenerFunc); ok {
		if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
			name := f.Name()
			if i := strings.LastIndex(name, "/"); i >= 0 {
				name = name[i+1:]
			}
			return name
		}
		return "<anonymous>"
	}
	return reflect.TypeOf(l).String()
}
