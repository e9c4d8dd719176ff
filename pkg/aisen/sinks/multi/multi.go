// Package multi provides a sink that fans out to multiple sinks.
// All sinks receive all events; errors are aggregated.
package multi

import (
	"context"
	"errors"
	"fmt"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

// multiSink fans out to multiple sinks.
type multiSink struct {
	sinks []aisen.Sink
}

// NewMultiSink creates a sink that writes to multiple sinks.
// Nil sinks are skipped. Each sink gets its own copy of the event's tags and
// extra maps, so a sink that mutates them does not affect the others.
func NewMultiSink(sinks ...aisen.Sink) aisen.Sink {
	s := &multiSink{}
	for _, sink := range sinks {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
	return s
}

// Write sends the event to all sinks, collecting any errors.
// All sinks are called even if some return errors.
func (s *multiSink) Write(ctx context.Context, event aisen.Event) error {
	var errs []error
	for i, sink := range s.sinks {
		if err := sink.Write(ctx, shallowCopy(event)); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Flush calls Flush on all sinks, collecting any errors.
func (s *multiSink) Flush(ctx context.Context) error {
	var errs []error
	for i, sink := range s.sinks {
		if err := sink.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close calls Close on all sinks, collecting any errors.
func (s *multiSink) Close() error {
	var errs []error
	for i, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func shallowCopy(event aisen.Event) aisen.Event {
	if event.Tags != nil {
		tags := make(map[string]string, len(event.Tags))
		for k, v := range event.Tags {
			tags[k] = v
		}
		event.Tags = tags
	}
	if event.Extra != nil {
		extra := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			extra[k] = v
		}
		event.Extra = extra
	}
	return event
}
