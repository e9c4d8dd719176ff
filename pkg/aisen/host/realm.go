// Package host implements Realm, a single-threaded event loop that runs
// application callbacks the way a browser or worker host does: jobs from a
// queue, timers, animation frames, event targets, request callbacks and
// promises, with terminal channels for uncaught panics and unhandled
// rejections.
//
// Every job and listener runs on the goroutine driving the loop (Run or
// Drain). Background I/O runs on goroutines tracked by an errgroup; its
// completion is posted back to the loop. The host functions that take
// callbacks (timers, addEventListener, request send) are patchable Method
// slots so capture layers can wrap them.
package host

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/stacktrace"
)

// ErrorHandler is the realm's uncaught-error slot. It receives the report
// message, the panic site and the raw panic value, and returns true when the
// failure was handled (suppressing the default console output).
type ErrorHandler func(msg, file string, line, column int, raw any) bool

// RejectionHandler is the realm's unhandled-rejection slot. rejection is a
// *RejectionEvent.
type RejectionHandler func(rejection any) bool

// RealmOption configures a Realm.
type RealmOption func(*realmConfig)

type realmConfig struct {
	logger        *log.Logger
	location      string
	transport     Transport
	maxBackground int
}

// WithLogger sets the realm console. Unhandled failures are printed there;
// nil keeps the realm silent.
func WithLogger(logger *log.Logger) RealmOption {
	return func(c *realmConfig) {
		c.logger = logger
	}
}

// WithLocation sets the realm's current location, reported for failures
// without a file.
func WithLocation(location string) RealmOption {
	return func(c *realmConfig) {
		c.location = location
	}
}

// WithTransport sets the transport used by requests.
func WithTransport(t Transport) RealmOption {
	return func(c *realmConfig) {
		c.transport = t
	}
}

// WithMaxBackground limits concurrent background operations. Zero means no
// limit.
func WithMaxBackground(n int) RealmOption {
	return func(c *realmConfig) {
		c.maxBackground = n
	}
}

type job struct {
	run func()
}

// Realm is a single-threaded event loop.
type Realm struct {
	logger    *log.Logger
	location  string
	transport Transport

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu          sync.Mutex
	queue       []job
	microtasks  []func()
	rejections  []*Promise
	outstanding int
	timers      map[TimerID]*timer
	nextTimerID TimerID
	wake        chan struct{}

	handlerMu   sync.RWMutex
	onError     ErrorHandler
	onRejection RejectionHandler

	ignoreOnError atomic.Bool

	global       *Global
	protos       map[string]*TargetProto
	protoMu      sync.Mutex
	extraProtos  map[string]*TargetProto
	requestProto *RequestProto

	loopMu sync.Mutex
}

// NewRealm creates a realm with its global object, a prototype for every
// type in TargetTypes and the request prototype.
func NewRealm(opts ...RealmOption) *Realm {
	cfg := &realmConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.transport == nil {
		cfg.transport = HTTPTransport(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	if cfg.maxBackground > 0 {
		group.SetLimit(cfg.maxBackground)
	}

	r := &Realm{
		logger:      cfg.logger,
		location:    cfg.location,
		transport:   cfg.transport,
		ctx:         ctx,
		cancel:      cancel,
		group:       group,
		timers:      make(map[TimerID]*timer),
		wake:        make(chan struct{}, 1),
		protos:      make(map[string]*TargetProto, len(TargetTypes)),
		extraProtos: make(map[string]*TargetProto),
	}
	r.global = newGlobal(r)
	for _, name := range TargetTypes {
		r.protos[name] = newTargetProto(name)
	}
	r.requestProto = newRequestProto()
	return r
}

// Location returns the realm's current location.
func (r *Realm) Location() string {
	return r.location
}

// Global returns the realm's global object.
func (r *Realm) Global() *Global {
	return r.global
}

// Proto returns the prototype of a type from TargetTypes, or nil.
func (r *Realm) Proto(typeName string) *TargetProto {
	return r.protos[typeName]
}

// RequestProto returns the request prototype.
func (r *Realm) RequestProto() *RequestProto {
	return r.requestProto
}

// SetErrorHandler replaces the uncaught-error slot.
func (r *Realm) SetErrorHandler(h ErrorHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onError = h
}

// ErrorHandler returns the current uncaught-error handler, or nil.
func (r *Realm) ErrorHandler() ErrorHandler {
	r.handlerMu.RLock()
	defer r.handlerMu.RUnlock()
	return r.onError
}

// UseErrorHandler installs mw around the current uncaught-error handler.
// next is nil when no handler was installed before.
func (r *Realm) UseErrorHandler(mw func(next ErrorHandler) ErrorHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onError = mw(r.onError)
}

// SetRejectionHandler replaces the unhandled-rejection slot.
func (r *Realm) SetRejectionHandler(h RejectionHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onRejection = h
}

// RejectionHandler returns the current unhandled-rejection handler, or nil.
func (r *Realm) RejectionHandler() RejectionHandler {
	r.handlerMu.RLock()
	defer r.handlerMu.RUnlock()
	return r.onRejection
}

// UseRejectionHandler installs mw around the current unhandled-rejection
// handler.
func (r *Realm) UseRejectionHandler(mw func(next RejectionHandler) RejectionHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.onRejection = mw(r.onRejection)
}

// ShouldIgnoreOnError reports whether the error handler is being called for
// a panic that a capture layer already reported (see Event.SuppressUncaught).
func (r *Realm) ShouldIgnoreOnError() bool {
	return r.ignoreOnError.Load()
}

// Post queues fn as a job. It is safe to call from any goroutine.
func (r *Realm) Post(fn func()) {
	if fn == nil {
		return
	}
	r.enqueue(job{run: fn}, false)
}

func (r *Realm) enqueue(j job, release bool) {
	r.mu.Lock()
	if release {
		r.outstanding--
	}
	r.queue = append(r.queue, j)
	r.mu.Unlock()
	r.signal()
}

func (r *Realm) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Realm) queueMicrotask(fn func()) {
	r.mu.Lock()
	r.microtasks = append(r.microtasks, fn)
	r.mu.Unlock()
}

func (r *Realm) trackRejection(p *Promise) {
	r.mu.Lock()
	r.rejections = append(r.rejections, p)
	r.mu.Unlock()
}

// Run drives the loop until ctx is done.
func (r *Realm) Run(ctx context.Context) error {
	return r.loop(ctx, false)
}

// Drain drives the loop until no jobs are queued and no timers or background
// operations are outstanding. An uncleared interval keeps Drain running.
func (r *Realm) Drain() {
	_ = r.loop(context.Background(), true)
}

// Close cancels background operations, stops timers and waits for background
// goroutines to finish.
func (r *Realm) Close() error {
	r.cancel()
	r.mu.Lock()
	for id, tm := range r.timers {
		tm.cleared = true
		if tm.t != nil {
			tm.t.Stop()
		}
		delete(r.timers, id)
	}
	r.mu.Unlock()
	if err := r.group.Wait(); err != nil {
		return fmt.Errorf("realm background: %w", err)
	}
	return nil
}

func (r *Realm) loop(ctx context.Context, untilIdle bool) error {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()

	// Settlements made outside any job are processed first.
	r.checkpoint()
	for {
		if j, ok := r.next(); ok {
			r.runJob(j)
			continue
		}

		r.mu.Lock()
		idle := r.outstanding == 0
		r.mu.Unlock()
		if idle && untilIdle {
			return nil
		}

		select {
		case <-r.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Realm) next() (job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return job{}, false
	}
	j := r.queue[0]
	r.queue[0] = job{}
	r.queue = r.queue[1:]
	return j, true
}

func (r *Realm) runJob(j job) {
	r.invoke(&frame{}, j.run)
	r.checkpoint()
}

// checkpoint runs microtasks until none are left, then reports promises
// that were rejected during the job and still have no handler.
func (r *Realm) checkpoint() {
	for {
		r.mu.Lock()
		tasks := r.microtasks
		r.microtasks = nil
		r.mu.Unlock()
		if len(tasks) == 0 {
			break
		}
		for _, fn := range tasks {
			r.invoke(&frame{}, fn)
		}
	}

	r.mu.Lock()
	rejected := r.rejections
	r.rejections = nil
	r.mu.Unlock()
	for _, p := range rejected {
		if !p.isHandled() {
			r.reportRejection(p)
		}
	}
}

// dispatch calls l in a fresh listener frame.
func (r *Realm) dispatch(l Listener, ev *Event) {
	fr := &frame{}
	ev.frame = fr
	r.invoke(fr, func() { l.HandleEvent(ev) })
}

// invoke runs fn, reporting an escaping panic through the error handler.
func (r *Realm) invoke(fr *frame, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			r.reportUncaught(fr, v)
		}
	}()
	fn()
}

// reportUncaught must be called from the deferred function that recovered v,
// so the panic site is still on the stack.
func (r *Realm) reportUncaught(fr *frame, v any) {
	file, line := r.location, 0
	if frames := stacktrace.Synthetic(1).Frames; len(frames) > 0 {
		file, line = frames[0].File, frames[0].Line
	}
	msg := "Uncaught " + describe(v)

	handled := false
	if h := r.ErrorHandler(); h != nil {
		r.ignoreOnError.Store(fr != nil && fr.suppressed)
		handled = r.callHandler(func() bool { return h(msg, file, line, 0, v) })
		r.ignoreOnError.Store(false)
	}
	if !handled {
		r.logf("%s\n    at %s:%d", msg, file, line)
	}
}

func (r *Realm) reportRejection(p *Promise) {
	ev := &RejectionEvent{Promise: p, Reason: p.Reason()}

	handled := false
	if h := r.RejectionHandler(); h != nil {
		handled = r.callHandler(func() bool { return h(ev) })
	}
	if !handled {
		r.logf("Uncaught (in promise) %s", describe(ev.Reason))
	}
}

// callHandler runs a failure handler. A panicking handler counts as
// unhandled and is logged; it never takes the loop down.
func (r *Realm) callHandler(fn func() bool) (handled bool) {
	defer func() {
		if v := recover(); v != nil {
			r.logf("realm: failure handler panicked: %v", v)
			handled = false
		}
	}()
	return fn()
}

// background runs work off the loop. The returned completion runs as a job.
// A panic in work is re-raised on the loop.
func (r *Realm) background(work func(ctx context.Context) func()) {
	r.mu.Lock()
	r.outstanding++
	r.mu.Unlock()

	r.group.Go(func() error {
		complete := func() (complete func()) {
			defer func() {
				if v := recover(); v != nil {
					complete = func() { panic(v) }
				}
			}()
			return work(r.ctx)
		}()
		if complete == nil {
			complete = func() {}
		}
		r.enqueue(job{run: complete}, true)
		return nil
	})
}

func (r *Realm) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

func describe(v any) string {
	if err, ok := v.(error); ok && err != nil {
		return stacktrace.TypeName(err) + ": " + err.Error()
	}
	return fmt.Sprint(v)
}
