// builders.go turns runner errors and recovered panics into canonical events
// carrying the run's enrichment.

package agentssdk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
	"github.com/strongdm/ai-cxdb-capture/pkg/aisen/stacktrace"
)

// MechanismRunner marks events captured at the runner boundary.
const MechanismRunner = "agents.runner"

// Extra keys set on captured events.
const (
	ExtraOperationHistory = "operation_history"
	ExtraLLMSnapshot      = "llm_snapshot"
)

// buildErrorEvent creates an event for an error returned by a run.
func buildErrorEvent(err error, enrichment Enrichment) *aisen.Event {
	event := aisen.EventFromUnknownInput(err, nil)
	aisen.EnsureExceptionTypeValue(event, aisen.Truncate(err.Error(), aisen.DefaultMaxValueLength), "")
	aisen.AddExceptionMechanism(event, aisen.Mechanism{Type: MechanismRunner, Handled: true})
	event.Level = aisen.LevelError
	if enrichment.Operation != "" {
		enrichment.operationHistory = enrichment.operationHistory.clone()
		enrichment.UpdateLastOperation(enrichment.Operation, func(rec *OperationRecord) {
			if rec.Error == "" {
				rec.Error = aisen.Truncate(err.Error(), aisen.DefaultMaxValueLength)
			}
		})
	}
	applyEnrichment(event, enrichment)
	event.Tags["error_class"] = classifyError(err)
	return event
}

// buildPanicEvent creates an event for a recovered panic value. Call it from
// the deferred function that recovered so the stack starts at the panic.
func buildPanicEvent(recovered any, enrichment Enrichment) *aisen.Event {
	synthetic := stacktrace.Synthetic(1)
	event := aisen.EventFromUnknownInput(recovered, &synthetic)
	aisen.EnsureExceptionTypeValue(event, aisen.Truncate(formatRecovered(recovered), aisen.DefaultMaxValueLength), "")
	aisen.AddExceptionMechanism(event, aisen.Mechanism{Type: MechanismRunner, Handled: false})
	event.Level = aisen.LevelFatal
	applyEnrichment(event, enrichment)
	event.Tags["error_class"] = "panic"
	return event
}

// applyEnrichment copies the run context into tags and extra data.
func applyEnrichment(event *aisen.Event, enrichment Enrichment) {
	if event.Tags == nil {
		event.Tags = make(map[string]string)
	}
	setTag(event.Tags, "agent_name", enrichment.AgentName)
	setTag(event.Tags, "operation", enrichment.Operation)
	setTag(event.Tags, "operation_id", enrichment.OperationID)
	setTag(event.Tags, "tool_name", enrichment.ToolName)
	setTag(event.Tags, "tool_call_id", enrichment.ToolCallID)
	setTag(event.Tags, "model", enrichment.Model)

	history := enrichment.GetOperationHistory()
	if len(history) == 0 {
		return
	}
	if event.Extra == nil {
		event.Extra = make(map[string]any)
	}
	event.Extra[ExtraOperationHistory] = history
	if snapshot := lastLLMSnapshot(history); snapshot != nil {
		event.Extra[ExtraLLMSnapshot] = snapshot
	}
}

func setTag(tags map[string]string, key, value string) {
	if value != "" {
		tags[key] = value
	}
}

// safeCapture hands event to the collector. A panicking collector is logged
// and never replaces the failure being reported.
func safeCapture(ctx context.Context, collector aisen.Collector, event *aisen.Event, original any, logger *log.Logger) (id string) {
	defer func() {
		if r := recover(); r != nil {
			id = ""
			if logger != nil {
				logger.Printf("aisen: failed to record error: %v", r)
			}
		}
	}()
	return collector.CaptureEvent(ctx, event, &aisen.Hint{OriginalException: original})
}

// classifyError names the broad failure class of err.
func classifyError(err error) string {
	if err == nil {
		return "error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if containsGuardrailPattern(err.Error()) {
		return "guardrail"
	}
	return "error"
}

var guardrailPatterns = []string{
	"guardrail",
	"content policy",
	"safety filter",
	"blocked by policy",
}

// containsGuardrailPattern checks if an error message indicates a guardrail violation.
func containsGuardrailPattern(msg string) bool {
	msg = strings.ToLower(msg)
	for _, p := range guardrailPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// formatRecovered formats a recovered panic value as a string.
func formatRecovered(recovered any) string {
	if recovered == nil {
		return "<nil>"
	}
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", recovered)
}
