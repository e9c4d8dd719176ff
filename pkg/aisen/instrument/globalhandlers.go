package instrument

import (
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/host"
	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/stacktrace"
)

// Mechanism types of the realm's terminal channels.
const (
	MechanismOnError              = "onerror"
	MechanismOnUnhandledRejection = "onunhandledrejection"
)

// uncaughtMessage splits an uncaught-error report into an error type and a
// value.
var uncaughtMessage = regexp.MustCompile(`(?s)^(?:[Uu]ncaught (?:exception: )?)?(?:((?:[\w.*]+)?Error): )?(.*)$`)

// GlobalHandlers captures failures reaching a realm's uncaught-error and
// unhandled-rejection slots. Handlers installed earlier are chained: they
// still run after the capture, and their result is returned to the realm.
type GlobalHandlers struct {
	realm     *host.Realm
	collector aisen.Collector
	cfg       config

	mu                sync.Mutex
	onErrorInstalled  bool
	onRejectInstalled bool
	ready             atomic.Bool
}

// NewGlobalHandlers creates the handlers. Nothing is installed until Setup.
func NewGlobalHandlers(realm *host.Realm, collector aisen.Collector, opts ...Option) *GlobalHandlers {
	return &GlobalHandlers{
		realm:     realm,
		collector: collector,
		cfg:       newConfig(opts),
	}
}

// Setup installs the enabled channels. Calling it again installs nothing.
func (g *GlobalHandlers) Setup() {
	stacktrace.SetLimit(HostStackLimit)
	if loc := g.realm.Location(); loc != "" {
		aisen.SetLocation(loc)
	}

	if g.cfg.onError {
		g.installOnError()
	}
	if g.cfg.onRejection {
		g.installOnRejection()
	}
	g.ready.Store(true)
}

func (g *GlobalHandlers) installOnError() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.onErrorInstalled {
		return
	}
	g.realm.UseErrorHandler(func(next host.ErrorHandler) host.ErrorHandler {
		return func(msg, file string, line, column int, raw any) bool {
			if !g.skip(raw) {
				g.cfg.safeCall("onerror", func() {
					g.captureError(msg, file, line, column, raw)
				})
			}
			if next != nil {
				return next(msg, file, line, column, raw)
			}
			return false
		}
	})
	g.onErrorInstalled = true
	g.cfg.logf("Global Handler attached: onerror")
}

func (g *GlobalHandlers) installOnRejection() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.onRejectInstalled {
		return
	}
	g.realm.UseRejectionHandler(func(next host.RejectionHandler) host.RejectionHandler {
		return func(rejection any) bool {
			reason := rejectionReason(rejection)
			if !g.skip(reason) {
				g.cfg.safeCall("onunhandledrejection", func() {
					g.captureRejection(reason)
				})
			}
			if next != nil {
				return next(rejection)
			}
			return false
		}
	})
	g.onRejectInstalled = true
	g.cfg.logf("Global Handler attached: onunhandledrejection")
}

// skip reports whether a failure must not be captured: the handlers are not
// set up, the collector is inactive, a wrapped listener already reported the
// failure, or it comes from the pipeline's own delivery.
func (g *GlobalHandlers) skip(v any) bool {
	return !g.ready.Load() ||
		!aisen.IsActive(g.collector) ||
		g.realm.ShouldIgnoreOnError() ||
		aisen.IsOwnRequest(v)
}

func (g *GlobalHandlers) captureError(msg, file string, line, column int, raw any) {
	var event *aisen.Event
	if aisen.IsPrimitive(raw) {
		event = eventFromIncompleteError(msg, file, line, column)
	} else {
		event = aisen.EventFromUnknownInput(raw, nil)
		enhanceWithInitialFrame(event, file, line, column)
	}

	fallback := msg
	if !isFalsy(raw) {
		fallback = fmt.Sprint(raw)
	}
	aisen.EnsureExceptionTypeValue(event, aisen.Truncate(fallback, g.cfg.maxValueLength), "Error")
	aisen.AddExceptionMechanism(event, aisen.Mechanism{Type: MechanismOnError, Handled: false})

	g.collector.CaptureEvent(g.cfg.ctx, event, &aisen.Hint{OriginalException: raw})
}

func (g *GlobalHandlers) captureRejection(reason any) {
	var event *aisen.Event
	if trace := stacktrace.Compute(reason); trace.Failed {
		event = eventFromIncompleteRejection(reason)
	} else {
		event = aisen.EventFromStackTrace(trace)
	}

	fallback := aisen.Truncate(fmt.Sprint(reason), g.cfg.maxValueLength)
	aisen.EnsureExceptionTypeValue(event, fallback, "UnhandledRejection")
	aisen.AddExceptionMechanism(event, aisen.Mechanism{Type: MechanismOnUnhandledRejection, Handled: false})

	g.collector.CaptureEvent(g.cfg.ctx, event, &aisen.Hint{OriginalException: reason})
}

// eventFromIncompleteError builds an event from the report message alone,
// used when the raw value carries no stack.
func eventFromIncompleteError(msg, file string, line, column int) *aisen.Event {
	typ, value := "", msg
	if m := uncaughtMessage.FindStringSubmatch(msg); m != nil {
		typ, value = m[1], m[2]
	}
	event := &aisen.Event{
		Exception: &aisen.ExceptionList{
			Values: []aisen.Exception{{Type: typ, Value: value}},
		},
	}
	enhanceWithInitialFrame(event, file, line, column)
	return event
}

// enhanceWithInitialFrame gives the primary exception a single frame at the
// reported location when it has none.
func enhanceWithInitialFrame(event *aisen.Event, file string, line, column int) {
	if event.Exception == nil {
		event.Exception = &aisen.ExceptionList{}
	}
	if len(event.Exception.Values) == 0 {
		event.Exception.Values = append(event.Exception.Values, aisen.Exception{})
	}
	ex := &event.Exception.Values[0]
	if ex.Stacktrace == nil {
		ex.Stacktrace = &aisen.Stacktrace{}
	}
	if len(ex.Stacktrace.Frames) > 0 {
		return
	}
	if file == "" {
		file = aisen.Location()
	}
	ex.Stacktrace.Frames = append(ex.Stacktrace.Frames, aisen.StackFrame{
		Filename: file,
		Function: "?",
		Lineno:   line,
		Colno:    column,
		InApp:    true,
	})
}

func eventFromIncompleteRejection(reason any) *aisen.Event {
	event := &aisen.Event{Level: aisen.LevelError}

	var value string
	if aisen.IsPrimitive(reason) {
		value = fmt.Sprintf("Non-Error promise rejection captured with value: %v", reason)
	} else {
		keys := aisen.ObjectKeys(reason)
		value = "Non-Error promise rejection captured with keys: " + aisen.KeysForMessage(keys, aisen.DefaultKeysMaxLength)
		event.Extra = map[string]any{
			"__serialized__": aisen.NormalizeToSize(reason, aisen.DefaultNormalizeDepth, aisen.DefaultNormalizeMaxSize),
		}
	}
	event.Exception = &aisen.ExceptionList{
		Values: []aisen.Exception{{Type: "UnhandledRejection", Value: value}},
	}
	return event
}

type reasoner interface {
	RejectionReason() any
}

// rejectionReason unwraps a rejection event. A panicking accessor yields the
// rejection itself.
func rejectionReason(rejection any) (reason any) {
	r, ok := rejection.(reasoner)
	if !ok {
		return rejection
	}
	defer func() {
		if recover() != nil {
			reason = rejection
		}
	}()
	return r.RejectionReason()
}

// isFalsy reports whether v is nil or the zero value of a primitive.
func isFalsy(v any) bool {
	if v == nil {
		return true
	}
	if !aisen.IsPrimitive(v) {
		return false
	}
	return reflect.ValueOf(v).IsZero()
}
