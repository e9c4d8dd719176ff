// instrument.go provides Instrument, the entry point for capturing
// ai-agents-sdk failures.

package agentssdk

import (
	"log"

	"github.com/strongdm/ai-agents-sdk/pkg/agents"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

var _ Runner = (*agents.Runner)(nil)

// WrapOption configures a WrappedRunner.
type WrapOption func(*WrappedRunner)

// WithLogger logs capture failures.
func WithLogger(logger *log.Logger) WrapOption {
	return func(w *WrappedRunner) {
		w.logger = logger
	}
}

// WithEnrichmentStore sets the store correlating hook data with captured
// errors.
func WithEnrichmentStore(store EnrichmentStore) WrapOption {
	return func(w *WrappedRunner) {
		if store != nil {
			w.enrichments = store
		}
	}
}

// Instrument wraps a Runner with error and panic capture.
//
// Example:
//
//	collector := aisen.NewCollector(aisen.WithSink(sink))
//	runner := agents.NewRunner(client)
//	wrapped := agentssdk.Instrument(runner, collector)
//	result, err := wrapped.Run(ctx, agent, input, session, nil)
func Instrument(baseRunner Runner, collector aisen.Collector, opts ...WrapOption) *WrappedRunner {
	wrapper := NewWrappedRunner(baseRunner, collector, nil, nil)
	for _, opt := range opts {
		opt(wrapper)
	}
	return wrapper
}
