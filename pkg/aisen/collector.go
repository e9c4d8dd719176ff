// collector.go provides the central Collector interface and default implementation.

package aisen

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrCollectorClosed is returned by Flush after Close.
var ErrCollectorClosed = errors.New("aisen: collector closed")

// Collector accepts captured events, runs them through the event processor
// chain and hands accepted events to the sink.
type Collector interface {
	// CaptureEvent runs event through the processors and writes it to the
	// sink. It returns the event ID, or "" when the event was dropped.
	// Sink failures are logged, never returned: capture sites are host
	// callbacks that must not see pipeline errors.
	CaptureEvent(ctx context.Context, event *Event, hint *Hint) string

	// Flush ensures any buffered events are persisted.
	Flush(ctx context.Context) error

	// Close releases resources held by the collector.
	Close() error
}

// Activator is implemented by collectors that can be switched off.
type Activator interface {
	Active() bool
}

// IsActive reports whether c accepts events. Collectors that do not
// implement Activator are always active.
func IsActive(c Collector) bool {
	if c == nil {
		return false
	}
	if a, ok := c.(Activator); ok {
		return a.Active()
	}
	return true
}

// CollectorOption configures a Collector.
type CollectorOption func(*collectorConfig)

type collectorConfig struct {
	sink       Sink
	scrubber   *Scrubber
	processors []EventProcessor
	logger     *log.Logger
	startTime  time.Time
	system     bool
}

// WithSink sets the sink for the collector.
func WithSink(sink Sink) CollectorOption {
	return func(c *collectorConfig) {
		c.sink = sink
	}
}

// WithScrubber configures the collector with a custom scrubber configuration.
func WithScrubber(cfg ScrubberConfig) CollectorOption {
	return func(c *collectorConfig) {
		c.scrubber = NewScrubber(cfg)
	}
}

// WithDefaultScrubbing enables scrubbing with production-safe defaults.
func WithDefaultScrubbing() CollectorOption {
	return func(c *collectorConfig) {
		c.scrubber = NewScrubber(DefaultScrubberConfig())
	}
}

// WithEventProcessor appends p to the processor chain. Processors run in
// registration order.
func WithEventProcessor(p EventProcessor) CollectorOption {
	return func(c *collectorConfig) {
		if p != nil {
			c.processors = append(c.processors, p)
		}
	}
}

// WithLogger sets a logger for dropped events and sink failures.
func WithLogger(logger *log.Logger) CollectorOption {
	return func(c *collectorConfig) {
		c.logger = logger
	}
}

// WithSystemState attaches a SystemState snapshot to every event, measuring
// uptime from startTime.
func WithSystemState(startTime time.Time) CollectorOption {
	return func(c *collectorConfig) {
		c.system = true
		c.startTime = startTime
	}
}

// defaultCollector is the standard Collector implementation.
type defaultCollector struct {
	sink       Sink
	scrubber   *Scrubber
	processors []EventProcessor
	logger     *log.Logger
	startTime  time.Time
	system     bool
	closed     atomic.Bool
}

// NewCollector creates a new Collector with the given options.
func NewCollector(opts ...CollectorOption) Collector {
	cfg := &collectorConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Default to a noop sink if none provided
	if cfg.sink == nil {
		cfg.sink = &noopSinkInternal{}
	}

	return &defaultCollector{
		sink:       cfg.sink,
		scrubber:   cfg.scrubber,
		processors: cfg.processors,
		logger:     cfg.logger,
		startTime:  cfg.startTime,
		system:     cfg.system,
	}
}

// Active reports whether the collector still accepts events.
func (c *defaultCollector) Active() bool {
	return !c.closed.Load()
}

// CaptureEvent fills defaults, runs the processor chain, scrubs and writes.
func (c *defaultCollector) CaptureEvent(ctx context.Context, event *Event, hint *Hint) string {
	if event == nil || c.closed.Load() {
		return ""
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = LevelError
	}
	if event.ContextID == nil {
		if contextID, ok := ContextIDFromContext(ctx); ok {
			event.ContextID = &contextID
		}
	}
	if c.system && event.System == nil {
		event.System = CaptureSystemState(c.startTime)
	}

	current := event
	for _, p := range c.processors {
		current = c.runProcessor(ctx, p, current, hint)
		if current == nil {
			c.logf("aisen: event %s dropped by processor %T", event.EventID, p)
			return ""
		}
	}

	out := *current
	if c.scrubber != nil {
		out = c.scrubber.ScrubEvent(out)
	}

	if err := c.sink.Write(ctx, out); err != nil {
		c.logf("aisen: sink write failed for event %s: %v", out.EventID, err)
	}
	return out.EventID
}

// runProcessor invokes p, passing the event through unchanged if p panics.
func (c *defaultCollector) runProcessor(ctx context.Context, p EventProcessor, event *Event, hint *Hint) (out *Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logf("aisen: event processor %T panicked: %v", p, r)
			out = event
		}
	}()
	return p.ProcessEvent(ctx, event, hint)
}

// Flush delegates to the sink.
func (c *defaultCollector) Flush(ctx context.Context) error {
	if c.closed.Load() {
		return ErrCollectorClosed
	}
	return c.sink.Flush(ctx)
}

// Close delegates to the sink. Closing twice is a no-op.
func (c *defaultCollector) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.sink.Close()
}

func (c *defaultCollector) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// noopSinkInternal is an internal noop sink to avoid import cycles.
type noopSinkInternal struct{}

func (s *noopSinkInternal) Write(ctx context.Context, event Event) error {
	return nil
}

func (s *noopSinkInternal) Flush(ctx context.Context) error {
	return nil
}

func (s *noopSinkInternal) Close() error {
	return nil
}
