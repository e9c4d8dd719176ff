// Package async provides a sink wrapper with a bounded queue, so capture
// sites on a realm's loop never block on slow reporting. Events are written
// to the inner sink in the background; the oldest queued events are dropped
// when the queue is full.
package async

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("async sink is closed")

// AsyncSinkOption configures the async sink.
type AsyncSinkOption func(*asyncSinkConfig)

type asyncSinkConfig struct {
	queueSize     int
	flushInterval time.Duration
	onDropped     func(count int)
	logger        *log.Logger
}

// WithQueueSize sets the maximum number of queued events (default: 1000).
func WithQueueSize(size int) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithFlushInterval sets how often the inner sink is flushed while events
// are flowing (default: 100ms).
func WithFlushInterval(d time.Duration) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithOnDropped sets a callback invoked when events are dropped due to queue overflow.
func WithOnDropped(fn func(count int)) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		c.onDropped = fn
	}
}

// WithLogger logs inner sink failures. Without a logger they are discarded.
func WithLogger(logger *log.Logger) AsyncSinkOption {
	return func(c *asyncSinkConfig) {
		c.logger = logger
	}
}

// asyncSink wraps a sink with a bounded queue.
type asyncSink struct {
	inner         aisen.Sink
	queue         chan aisen.Event
	done          chan struct{}
	flushInterval time.Duration
	onDropped     func(count int)
	logger        *log.Logger

	// pending counts events accepted by Write and not yet written or dropped.
	pending atomic.Int64

	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

// NewAsyncSink wraps a sink with a bounded queue for async writes.
func NewAsyncSink(inner aisen.Sink, opts ...AsyncSinkOption) aisen.Sink {
	cfg := &asyncSinkConfig{
		queueSize:     1000,
		flushInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &asyncSink{
		inner:         inner,
		queue:         make(chan aisen.Event, cfg.queueSize),
		done:          make(chan struct{}),
		flushInterval: cfg.flushInterval,
		onDropped:     cfg.onDropped,
		logger:        cfg.logger,
	}

	s.wg.Add(1)
	go s.processLoop()

	return s
}

// processLoop drains the queue into the inner sink and flushes it
// periodically while there is something to flush.
func (s *asyncSink) processLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	dirty := false

	for {
		select {
		case event := <-s.queue:
			s.write(event)
			dirty = true
		case <-ticker.C:
			if dirty {
				if err := s.inner.Flush(context.Background()); err != nil {
					s.logf("aisen: async sink flush failed: %v", err)
				}
				dirty = false
			}
		case <-s.done:
			for {
				select {
				case event := <-s.queue:
					s.write(event)
				default:
					return
				}
			}
		}
	}
}

func (s *asyncSink) write(event aisen.Event) {
	defer s.pending.Add(-1)
	if err := s.inner.Write(context.Background(), event); err != nil {
		s.logf("aisen: async sink write failed for event %s: %v", event.EventID, err)
	}
}

// Write enqueues an event and returns immediately. If the queue is full, the
// oldest event is dropped.
func (s *asyncSink) Write(ctx context.Context, event aisen.Event) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	s.pending.Add(1)
	select {
	case s.queue <- event:
	default:
		s.dropOldestAndEnqueue(event)
	}
	return nil
}

// dropOldestAndEnqueue drops the oldest event and enqueues the new one.
func (s *asyncSink) dropOldestAndEnqueue(event aisen.Event) {
	select {
	case <-s.queue:
		s.dropped()
	default:
		// The processor emptied a slot in the meantime.
	}

	select {
	case s.queue <- event:
	default:
		s.dropped()
	}
}

func (s *asyncSink) dropped() {
	s.pending.Add(-1)
	if s.onDropped != nil {
		s.onDropped(1)
	}
}

// Flush blocks until every queued event has been handed to the inner sink,
// then flushes it.
func (s *asyncSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("async sink flush: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return s.inner.Flush(ctx)
}

// Close stops the processor after draining the queue and closes the inner sink.
func (s *asyncSink) Close() error {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		close(s.done)
		s.wg.Wait()
	})

	return s.inner.Close()
}

func (s *asyncSink) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
