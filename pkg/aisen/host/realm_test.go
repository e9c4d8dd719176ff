package host

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a comparable listener that records the events it receives.
type recorder struct {
	mu     sync.Mutex
	events []*Event
	panic  any
}

func (r *recorder) HandleEvent(ev *Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if r.panic != nil {
		panic(r.panic)
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type uncaught struct {
	msg    string
	file   string
	line   int
	raw    any
	ignore bool
}

func captureUncaught(r *Realm, handled bool) *[]uncaught {
	var got []uncaught
	r.SetErrorHandler(func(msg, file string, line, column int, raw any) bool {
		got = append(got, uncaught{msg: msg, file: file, line: line, raw: raw, ignore: r.ShouldIgnoreOnError()})
		return handled
	})
	return &got
}

func TestRealm_PostRunsInOrder(t *testing.T) {
	r := NewRealm()
	defer r.Close()

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		r.Post(func() { order = append(order, i) })
	}
	r.Drain()

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestRealm_UncaughtPanic(t *testing.T) {
	var buf bytes.Buffer
	r := NewRealm(WithLogger(log.New(&buf, "", 0)))
	defer r.Close()
	got := captureUncaught(r, false)

	r.Post(func() { panic("boom") })
	r.Drain()

	require.Len(t, *got, 1)
	u := (*got)[0]
	assert.Equal(t, "Uncaught boom", u.msg)
	assert.Equal(t, "boom", u.raw)
	assert.True(t, strings.HasSuffix(u.file, "realm_test.go"), u.file)
	assert.Greater(t, u.line, 0)
	assert.False(t, u.ignore)
	assert.Contains(t, buf.String(), "Uncaught boom")
}

func TestRealm_UncaughtErrorMessage(t *testing.T) {
	r := NewRealm()
	defer r.Close()
	got := captureUncaught(r, true)

	r.Post(func() { panic(errors.New("bad input")) })
	r.Drain()

	require.Len(t, *got, 1)
	assert.Equal(t, "Uncaught Error: bad input", (*got)[0].msg)
}

func TestRealm_HandledSuppressesConsole(t *testing.T) {
	var buf bytes.Buffer
	r := NewRealm(WithLogger(log.New(&buf, "", 0)))
	defer r.Close()
	captureUncaught(r, true)

	r.Post(func() { panic("quiet") })
	r.Drain()

	assert.Empty(t, buf.String())
}

func TestRealm_PanickingHandlerIsContained(t *testing.T) {
	var buf bytes.Buffer
	r := NewRealm(WithLogger(log.New(&buf, "", 0)))
	defer r.Close()
	r.SetErrorHandler(func(msg, file string, line, column int, raw any) bool {
		panic("handler bug")
	})

	ran := false
	r.Post(func() { panic("first") })
	r.Post(func() { ran = true })
	r.Drain()

	assert.True(t, ran, "loop should keep running")
	assert.Contains(t, buf.String(), "handler bug")
	assert.Contains(t, buf.String(), "Uncaught first")
}

func TestRealm_UseErrorHandlerChains(t *testing.T) {
	r := NewRealm()
	defer r.Close()

	var calls []string
	r.UseErrorHandler(func(next ErrorHandler) ErrorHandler {
		assert.Nil(t, next)
		return func(msg, file string, line, column int, raw any) bool {
			calls = append(calls, "first")
			return false
		}
	})
	r.UseErrorHandler(func(next ErrorHandler) ErrorHandler {
		require.NotNil(t, next)
		return func(msg, file string, line, column int, raw any) bool {
			calls = append(calls, "second")
			return next(msg, file, line, column, raw)
		}
	})

	r.Post(func() { panic("x") })
	r.Drain()

	assert.Equal(t, []string{"second", "first"}, calls)
}

func TestRealm_SuppressUncaught(t *testing.T) {
	r := NewRealm()
	defer r.Close()
	got := captureUncaught(r, true)

	target := r.NewTarget("EventTarget")
	target.AddEventListener("ping", ListenerFunc(func(ev *Event) {
		ev.SuppressUncaught()
		panic("already reported")
	}))
	second := &recorder{panic: "fresh"}
	target.AddEventListener("ping", second)

	target.Emit("ping", nil)
	r.Drain()

	require.Len(t, *got, 2)
	assert.True(t, (*got)[0].ignore, "suppressed frame should set ShouldIgnoreOnError")
	assert.False(t, (*got)[1].ignore, "suppression is per listener invocation")
	assert.False(t, r.ShouldIgnoreOnError())
	assert.Equal(t, 1, second.count(), "dispatch continues after a panicking listener")
}

func TestEventTarget_AddRemove(t *testing.T) {
	r := NewRealm()
	defer r.Close()
	target := r.NewTarget("Worker")

	l := &recorder{}
	target.AddEventListener("message", l)
	target.AddEventListener("message", l)
	assert.Len(t, target.Listeners("message"), 1, "duplicate registration is ignored")

	target.DispatchEvent(&Event{Type: "message", Data: "hi"})
	require.Equal(t, 1, l.count())
	assert.Equal(t, "hi", l.events[0].Data)
	assert.Same(t, target, l.events[0].Target)

	target.RemoveEventListener("message", l)
	assert.Empty(t, target.Listeners("message"))
}

func TestEventTarget_UnknownTypeUsesPrivateProto(t *testing.T) {
	r := NewRealm()
	defer r.Close()

	assert.Nil(t, r.Proto("Custom"))
	target := r.NewTarget("Custom")
	l := &recorder{}
	target.AddEventListener("x", l)
	target.DispatchEvent(&Event{Type: "x"})
	assert.Equal(t, 1, l.count())
}

func TestRealm_ProtosForCatalog(t *testing.T) {
	r := NewRealm()
	defer r.Close()

	for _, name := range TargetTypes {
		p := r.Proto(name)
		require.NotNil(t, p, name)
		assert.Equal(t, name, p.Name())
	}
}

func TestSameListener(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	fn := ListenerFunc(func(*Event) {})

	assert.True(t, SameListener(a, a))
	assert.False(t, SameListener(a, b))
	assert.False(t, SameListener(fn, fn), "functions are never comparable")
	assert.True(t, SameListener(nil, nil))
	assert.False(t, SameListener(a, nil))
}

func TestMethod_PatchOncePerKey(t *testing.T) {
	m := newMethod("op", func(n int) int { return n })

	applied := m.Patch("double", func(orig func(int) int) func(int) int {
		return func(n int) int { return orig(n) * 2 }
	})
	again := m.Patch("double", func(orig func(int) int) func(int) int {
		return func(n int) int { return orig(n) * 100 }
	})

	assert.True(t, applied)
	assert.False(t, again)
	assert.True(t, m.Patched("double"))
	assert.Equal(t, 6, m.Get()(3))
	assert.Equal(t, "op", m.Name())
}

func TestRealm_Timers(t *testing.T) {
	r := NewRealm()
	defer r.Close()

	timeout := &recorder{}
	cleared := &recorder{}
	frame := &recorder{}
	r.SetTimeout(timeout, time.Millisecond)
	id := r.SetTimeout(cleared, time.Hour)
	r.RequestAnimationFrame(frame)
	r.ClearTimer(id)

	r.Drain()

	require.Equal(t, 1, timeout.count())
	assert.Equal(t, "timeout", timeout.events[0].Type)
	assert.Equal(t, 0, cleared.count())
	require.Equal(t, 1, frame.count())
	assert.Equal(t, "animationframe", frame.events[0].Type)
}

func TestRealm_Interval(t *testing.T) {
	r := NewRealm()
	defer r.Close()

	ticks := 0
	var id TimerID
	id = r.SetInterval(ListenerFunc(func(ev *Event) {
		ticks++
		if ticks == 3 {
			r.ClearTimer(id)
		}
	}), time.Millisecond)

	r.Drain()

	assert.Equal(t, 3, ticks)
}

func TestRealm_ClearTimerCancelsQueuedTicks(t *testing.T) {
	r := NewRealm()
	defer r.Close()

	interval, timeout := &recorder{}, &recorder{}
	var intervalID, timeoutID TimerID
	r.Post(func() {
		r.ClearTimer(intervalID)
		r.ClearTimer(timeoutID)
	})
	intervalID = r.SetInterval(interval, 0)
	timeoutID = r.SetTimeout(timeout, 0)
	// Let both timers fire so their ticks queue behind the clearing job.
	time.Sleep(20 * time.Millisecond)

	r.Drain()

	assert.Equal(t, 0, interval.count())
	assert.Equal(t, 0, timeout.count())
}

func TestRealm_IntervalSurvivesPanics(t *testing.T) {
	r := NewRealm()
	defer r.Close()
	got := captureUncaught(r, true)

	ticks := 0
	var id TimerID
	id = r.SetInterval(ListenerFunc(func(ev *Event) {
		ticks++
		if ticks == 2 {
			r.ClearTimer(id)
		}
		panic("tick")
	}), time.Millisecond)

	r.Drain()

	assert.Equal(t, 2, ticks)
	assert.Len(t, *got, 2)
}

func TestRealm_SetTimeoutNilListener(t *testing.T) {
	r := NewRealm()
	defer r.Close()

	assert.Equal(t, TimerID(0), r.SetTimeout(nil, 0))
	r.Drain()
}

func TestRealm_RunStopsOnCancel(t *testing.T) {
	r := NewRealm()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	r.Post(cancel)

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRealm_BackgroundPanicReraisedOnLoop(t *testing.T) {
	r := NewRealm()
	defer r.Close()
	got := captureUncaught(r, true)

	r.background(func(ctx context.Context) func() {
		panic("background")
	})
	r.Drain()

	require.Len(t, *got, 1)
	assert.Equal(t, "background", (*got)[0].raw)
}
