// sink.go defines the Sink interface for event destinations.

package aisen

import "context"

// Sink is the destination for accepted events.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Write persists an event. Called after the processor chain and scrubbing.
	// Implementations should be idempotent when possible.
	Write(ctx context.Context, event Event) error

	// Flush ensures any buffered events are persisted.
	// For synchronous sinks, this may be a no-op.
	Flush(ctx context.Context) error

	// Close releases resources held by the sink.
	// After Close is called, Write and Flush should return errors.
	Close() error
}
