package host

import "time"

// FrameInterval is the delay before an animation frame callback runs.
const FrameInterval = 16 * time.Millisecond

// TimerID identifies a scheduled timer or animation frame. Zero is never a
// valid ID.
type TimerID int

// SetTimerFunc schedules l after delay.
type SetTimerFunc func(l Listener, delay time.Duration) TimerID

// FrameFunc schedules l for the next animation frame.
type FrameFunc func(l Listener) TimerID

// Global holds the realm's patchable scheduling functions.
type Global struct {
	SetTimeout            *Method[SetTimerFunc]
	SetInterval           *Method[SetTimerFunc]
	RequestAnimationFrame *Method[FrameFunc]
}

func newGlobal(r *Realm) *Global {
	return &Global{
		SetTimeout: newMethod("setTimeout", SetTimerFunc(func(l Listener, delay time.Duration) TimerID {
			return r.schedule("timeout", l, delay, false)
		})),
		SetInterval: newMethod("setInterval", SetTimerFunc(func(l Listener, delay time.Duration) TimerID {
			return r.schedule("interval", l, delay, true)
		})),
		RequestAnimationFrame: newMethod("requestAnimationFrame", FrameFunc(func(l Listener) TimerID {
			return r.schedule("animationframe", l, FrameInterval, false)
		})),
	}
}

// SetTimeout runs l once after delay.
func (r *Realm) SetTimeout(l Listener, delay time.Duration) TimerID {
	return r.global.SetTimeout.Get()(l, delay)
}

// SetInterval runs l every interval until cleared.
func (r *Realm) SetInterval(l Listener, interval time.Duration) TimerID {
	return r.global.SetInterval.Get()(l, interval)
}

// RequestAnimationFrame runs l on the next frame.
func (r *Realm) RequestAnimationFrame(l Listener) TimerID {
	return r.global.RequestAnimationFrame.Get()(l)
}

// ClearTimer cancels a timeout, interval or animation frame. Unknown or
// already fired IDs are ignored.
func (r *Realm) ClearTimer(id TimerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tm, ok := r.timers[id]
	if !ok {
		return
	}
	delete(r.timers, id)
	tm.cleared = true
	if tm.t != nil {
		tm.t.Stop()
	}
	r.outstanding--
}

type timer struct {
	id       TimerID
	kind     string
	listener Listener
	delay    time.Duration
	repeat   bool
	t        *time.Timer
	cleared  bool
}

func (r *Realm) schedule(kind string, l Listener, delay time.Duration, repeat bool) TimerID {
	if l == nil {
		return 0
	}
	if delay < 0 {
		delay = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextTimerID++
	tm := &timer{
		id:       r.nextTimerID,
		kind:     kind,
		listener: l,
		delay:    delay,
		repeat:   repeat,
	}
	r.timers[tm.id] = tm
	r.outstanding++
	tm.t = time.AfterFunc(delay, func() { r.fire(tm) })
	return tm.id
}

// fire runs on the timer goroutine and queues the tick.
func (r *Realm) fire(tm *timer) {
	r.mu.Lock()
	if tm.cleared {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, job{run: func() { r.runTimer(tm) }})
	r.mu.Unlock()
	r.signal()
}

// runTimer runs a queued tick unless the timer was cleared after it was
// queued. A one-shot timer stays clearable until its tick runs.
func (r *Realm) runTimer(tm *timer) {
	r.mu.Lock()
	if tm.cleared {
		r.mu.Unlock()
		return
	}
	if !tm.repeat {
		delete(r.timers, tm.id)
		r.outstanding--
	}
	r.mu.Unlock()

	r.dispatch(tm.listener, &Event{Type: tm.kind, Target: r.global, Data: tm.id})

	if tm.repeat {
		r.mu.Lock()
		if !tm.cleared {
			tm.t = time.AfterFunc(tm.delay, func() { r.fire(tm) })
		}
		r.mu.Unlock()
	}
}
