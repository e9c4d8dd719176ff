// wrapper.go implements WrappedRunner, which reports errors and panics that
// escape an agents.Runner. Hooks add enrichment and report hook panics.

package agentssdk

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/strongdm/ai-agents-sdk/pkg/agents"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

// Runner is the subset of *agents.Runner that WrappedRunner drives.
type Runner interface {
	Run(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (agents.RunResult, error)
	RunOnce(ctx context.Context, agent *agents.Agent, input string, cfg *agents.RunConfig) (agents.RunResult, error)
	RunStream(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (*agents.StreamingRun, error)
}

// WrappedRunner wraps a Runner to capture errors and panics.
type WrappedRunner struct {
	inner       Runner
	collector   aisen.Collector
	enrichments EnrichmentStore
	logger      *log.Logger
	startTime   time.Time
	newRunID    func() string
}

// NewWrappedRunner creates a WrappedRunner around inner. A nil store gets a
// fresh in-memory one; logger may be nil.
func NewWrappedRunner(inner Runner, collector aisen.Collector, store EnrichmentStore, logger *log.Logger) *WrappedRunner {
	if store == nil {
		store = NewEnrichmentStore()
	}
	return &WrappedRunner{
		inner:       inner,
		collector:   collector,
		enrichments: store,
		logger:      logger,
		startTime:   time.Now(),
		newRunID:    uuid.NewString,
	}
}

// Run executes the agent with the given input and session, capturing any errors or panics.
func (w *WrappedRunner) Run(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (agents.RunResult, error) {
	ctx, runID := w.begin(ctx)
	defer w.enrichments.Delete(runID)

	contextID := w.extractContextID(ctx, session)
	defer w.capturePanic(ctx, runID, contextID)

	result, err := w.inner.Run(ctx, agent, input, session, w.wrapRunConfig(cfg))
	if err != nil {
		w.captureError(ctx, runID, contextID, err)
	}
	return result, err
}

// RunOnce executes a single turn of the agent, capturing any errors or panics.
func (w *WrappedRunner) RunOnce(ctx context.Context, agent *agents.Agent, input string, cfg *agents.RunConfig) (agents.RunResult, error) {
	ctx, runID := w.begin(ctx)
	defer w.enrichments.Delete(runID)

	// no session, so only the context can carry a context ID
	contextID := w.extractContextID(ctx, nil)
	defer w.capturePanic(ctx, runID, contextID)

	result, err := w.inner.RunOnce(ctx, agent, input, w.wrapRunConfig(cfg))
	if err != nil {
		w.captureError(ctx, runID, contextID, err)
	}
	return result, err
}

// RunStream starts a streaming run. Only failures to start the stream are
// captured; the stream's enrichment is dropped when ctx is done.
func (w *WrappedRunner) RunStream(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (*agents.StreamingRun, error) {
	ctx, runID := w.begin(ctx)

	contextID := w.extractContextID(ctx, session)
	defer w.capturePanic(ctx, runID, contextID)

	stream, err := w.inner.RunStream(ctx, agent, input, session, w.wrapRunConfig(cfg))
	if err != nil {
		w.captureError(ctx, runID, contextID, err)
		w.enrichments.Delete(runID)
		return stream, err
	}
	context.AfterFunc(ctx, func() { w.enrichments.Delete(runID) })
	return stream, nil
}

func (w *WrappedRunner) begin(ctx context.Context) (context.Context, string) {
	runID := w.newRunID()
	return aisen.WithRunID(ctx, runID), runID
}

// extractContextID prefers the session's context ID over one attached to
// ctx. Zero means none.
func (w *WrappedRunner) extractContextID(ctx context.Context, session any) uint64 {
	id, _ := aisen.ResolveContextID(ctx, session)
	return id
}

// wrapRunConfig clones cfg and wraps its hooks with a HookAdapter.
func (w *WrappedRunner) wrapRunConfig(cfg *agents.RunConfig) *agents.RunConfig {
	var cloned agents.RunConfig
	if cfg != nil {
		cloned = *cfg
	}
	cloned.Hooks = NewHookAdapter(w.enrichments, cloned.Hooks, w.collector, w.logger)
	return &cloned
}

func (w *WrappedRunner) captureError(ctx context.Context, runID string, contextID uint64, err error) {
	if aisen.IsOwnRequest(err) {
		return
	}
	enrichment, _ := w.enrichments.Get(runID)
	w.record(ctx, buildErrorEvent(err, enrichment), contextID, err)
}

// capturePanic recovers a panic, records it unless a hook already did, and
// re-panics.
func (w *WrappedRunner) capturePanic(ctx context.Context, runID string, contextID uint64) {
	r := recover()
	if r == nil {
		return
	}
	enrichment, _ := w.enrichments.Get(runID)
	if !enrichment.PanicReported && !aisen.IsOwnRequest(r) {
		w.record(ctx, buildPanicEvent(r, enrichment), contextID, r)
	}
	panic(r)
}

func (w *WrappedRunner) record(ctx context.Context, event *aisen.Event, contextID uint64, original any) {
	if w.collector == nil {
		return
	}
	if contextID != 0 {
		event.ContextID = &contextID
	}
	event.System = aisen.CaptureSystemState(w.startTime)
	safeCapture(ctx, w.collector, event, original, w.logger)
}

// Inner returns the underlying runner.
func (w *WrappedRunner) Inner() Runner {
	return w.inner
}
