// Package instrument connects a host.Realm to an aisen.Collector.
//
// GlobalHandlers installs the realm's terminal failure channels (uncaught
// panics and unhandled rejections). TryCatch patches the realm's
// callback-taking methods so listeners passed to timers, frame callbacks,
// event targets and request slots are wrapped by a Wrapper, which reports a
// panic with the listener's context before re-raising it.
//
//	realm := host.NewRealm(host.WithLogger(logger))
//	inst := instrument.Install(realm, collector, instrument.WithLogger(logger))
//	defer realm.Close()
//
// A panic inside a wrapped listener reaches both the wrapper and the realm's
// uncaught channel; the wrapper marks the dispatch so the global handler
// skips it, and the failure is reported once.
package instrument

import (
	"context"
	"log"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/host"
)

// HostStackLimit is the stack capture depth set when handlers are installed.
const HostStackLimit = 50

// Option configures GlobalHandlers, Wrapper and TryCatch.
type Option func(*config)

type config struct {
	onError        bool
	onRejection    bool
	maxValueLength int
	logger         *log.Logger
	ctx            context.Context
}

func newConfig(opts []Option) config {
	cfg := config{
		onError:        true,
		onRejection:    true,
		maxValueLength: aisen.DefaultMaxValueLength,
		ctx:            context.Background(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithOnError enables the uncaught-error channel (default true).
func WithOnError(enabled bool) Option {
	return func(c *config) {
		c.onError = enabled
	}
}

// WithOnUnhandledRejection enables the unhandled-rejection channel
// (default true).
func WithOnUnhandledRejection(enabled bool) Option {
	return func(c *config) {
		c.onRejection = enabled
	}
}

// WithMaxValueLength bounds exception values built from fallbacks.
// Values below 1 are ignored.
func WithMaxValueLength(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxValueLength = n
		}
	}
}

// WithLogger sets a logger for installation messages and internal faults.
func WithLogger(logger *log.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithContext sets the context passed to the collector for every captured
// event, e.g. one carrying aisen.WithContextID.
func WithContext(ctx context.Context) Option {
	return func(c *config) {
		if ctx != nil {
			c.ctx = ctx
		}
	}
}

func (c config) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// safeCall runs fn and logs a panic instead of propagating it. Every
// instrumentation site that runs inside host code goes through it.
func (c config) safeCall(site string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logf("instrument: %s failed: %v", site, r)
		}
	}()
	fn()
}

// Instrumentation is the result of Install.
type Instrumentation struct {
	GlobalHandlers *GlobalHandlers
	TryCatch       *TryCatch
}

// Install sets up GlobalHandlers and TryCatch on realm, both reporting to
// collector.
func Install(realm *host.Realm, collector aisen.Collector, opts ...Option) *Instrumentation {
	inst := &Instrumentation{
		GlobalHandlers: NewGlobalHandlers(realm, collector, opts...),
		TryCatch:       NewTryCatch(realm, NewWrapper(collector, opts...), opts...),
	}
	inst.GlobalHandlers.Setup()
	inst.TryCatch.Setup()
	return inst
}
