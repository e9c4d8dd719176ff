// processor.go defines the event processor chain run by the collector.

package aisen

import "context"

// EventProcessor inspects or transforms an event before it reaches the sink.
// Returning nil drops the event.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event *Event, hint *Hint) *Event
}

// EventProcessorFunc adapts a function to EventProcessor.
type EventProcessorFunc func(ctx context.Context, event *Event, hint *Hint) *Event

// ProcessEvent calls f.
func (f EventProcessorFunc) ProcessEvent(ctx context.Context, event *Event, hint *Hint) *Event {
	return f(ctx, event, hint)
}
