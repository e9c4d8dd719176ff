// context.go carries the agent run ID and the cxdb context ID on a
// context.Context so capture sites can link events to a conversation.

package aisen

import "context"

type ctxKey int

const (
	runIDKey ctxKey = iota
	contextIDKey
)

// WithRunID attaches the run ID that correlates hook enrichment with
// failures captured at the runner boundary.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run ID. An empty ID counts as unset.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(runIDKey).(string)
	return id, id != ""
}

// WithContextID attaches a cxdb context ID. Zero is a valid ID.
func WithContextID(ctx context.Context, contextID uint64) context.Context {
	return context.WithValue(ctx, contextIDKey, contextID)
}

// ContextIDFromContext returns the cxdb context ID attached with
// WithContextID.
func ContextIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(contextIDKey).(uint64)
	return id, ok
}

// ContextIDProvider is implemented by sessions that know their cxdb context,
// such as the ai-agents-sdk CXDBSession.
type ContextIDProvider interface {
	ContextID(ctx context.Context) (uint64, error)
}

// ResolveContextID asks source for a context ID when it is a
// ContextIDProvider and falls back to the ID attached to ctx. A provider
// error is treated as "no ID".
func ResolveContextID(ctx context.Context, source any) (uint64, bool) {
	if provider, ok := source.(ContextIDProvider); ok {
		if id, err := provider.ContextID(ctx); err == nil {
			return id, true
		}
	}
	return ContextIDFromContext(ctx)
}
