// Package noop provides a sink that discards all events.
// Useful for tests and for running the capture pipeline with reporting disabled.
package noop

import (
	"context"
	"sync/atomic"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

// Sink discards events, counting them.
type Sink struct {
	discarded atomic.Uint64
}

// NewNoopSink creates a sink that discards all events.
func NewNoopSink() *Sink {
	return &Sink{}
}

// Write discards the event.
func (s *Sink) Write(ctx context.Context, event aisen.Event) error {
	s.discarded.Add(1)
	return nil
}

// Discarded returns the number of events written so far.
func (s *Sink) Discarded() uint64 {
	return s.discarded.Load()
}

// Flush returns nil.
func (s *Sink) Flush(ctx context.Context) error {
	return nil
}

// Close returns nil.
func (s *Sink) Close() error {
	return nil
}
