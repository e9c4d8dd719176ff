// hooks.go implements RunHooks for enrichment and hook panic capture.
// Runner errors themselves are captured by WrappedRunner.

package agentssdk

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"

	"github.com/strongdm/ai-cxdb-capture/pkg/aisen"
)

// MechanismHook marks events captured from a panicking user hook.
const MechanismHook = "agents.hook"

// HookAdapter implements agents.RunHooks. It records operation context for
// the run and reports panics raised by the inner hooks.
type HookAdapter struct {
	store     EnrichmentStore
	inner     agents.RunHooks
	collector aisen.Collector
	logger    *log.Logger
}

// NewHookAdapter wraps inner (which may be nil). Enrichment is written to
// store under the run ID found in the hook context. When collector is
// non-nil, a panic in an inner hook is captured once and then re-raised.
func NewHookAdapter(store EnrichmentStore, inner agents.RunHooks, collector aisen.Collector, logger *log.Logger) agents.RunHooks {
	if store == nil {
		store = NewEnrichmentStore()
	}
	return &HookAdapter{
		store:     store,
		inner:     inner,
		collector: collector,
		logger:    logger,
	}
}

// OnAgentStart captures the agent name for enrichment.
func (h *HookAdapter) OnAgentStart(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent) error {
	if agent != nil {
		h.update(ctx, func(e *Enrichment) {
			e.AgentName = agent.Name()
		})
	}

	if h.inner == nil {
		return nil
	}
	defer h.capturePanic(ctx, "OnAgentStart")
	return h.inner.OnAgentStart(ctx, runCtx, agent)
}

// OnAgentEnd delegates to inner hooks.
func (h *HookAdapter) OnAgentEnd(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent, result agents.RunResult) error {
	if h.inner == nil {
		return nil
	}
	defer h.capturePanic(ctx, "OnAgentEnd")
	return h.inner.OnAgentEnd(ctx, runCtx, agent, result)
}

// OnHandoff records the receiving agent.
func (h *HookAdapter) OnHandoff(ctx context.Context, runCtx *agents.RunContext, from *agents.Agent, to *agents.Agent) error {
	if to != nil {
		h.update(ctx, func(e *Enrichment) {
			e.AgentName = to.Name()
		})
	}

	if h.inner == nil {
		return nil
	}
	defer h.capturePanic(ctx, "OnHandoff")
	return h.inner.OnHandoff(ctx, runCtx, from, to)
}

// OnToolStart records the tool call.
func (h *HookAdapter) OnToolStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, call llmsdk.ToolCall) error {
	h.update(ctx, func(e *Enrichment) {
		rec := OperationRecord{
			Kind:      OperationTool,
			Timestamp: time.Now(),
			Tool:      buildToolOperation(tool, call),
		}
		if agent != nil {
			e.AgentName = agent.Name()
			rec.AgentName = e.AgentName
		}
		e.Operation = OperationTool
		e.ToolName = tool.Name
		e.ToolCallID = call.ID
		e.OperationID = call.ID
		e.RecordOperation(rec)
	})

	if h.inner == nil {
		return nil
	}
	defer h.capturePanic(ctx, "OnToolStart")
	return h.inner.OnToolStart(ctx, runCtx, agent, tool, call)
}

// OnToolEnd completes the tool record with its output size and duration.
func (h *HookAdapter) OnToolEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, output string) error {
	h.update(ctx, func(e *Enrichment) {
		e.UpdateLastOperation(OperationTool, func(rec *OperationRecord) {
			rec.Duration = time.Since(rec.Timestamp).Milliseconds()
			updateToolOperationWithOutput(rec.Tool, output)
		})
	})

	if h.inner == nil {
		return nil
	}
	defer h.capturePanic(ctx, "OnToolEnd")
	return h.inner.OnToolEnd(ctx, runCtx, agent, tool, output)
}

// OnLLMStart records the request metadata.
func (h *HookAdapter) OnLLMStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, req llmsdk.Request) error {
	h.update(ctx, func(e *Enrichment) {
		rec := OperationRecord{
			Kind:      OperationLLM,
			Timestamp: time.Now(),
			LLM:       buildLLMOperation(req),
		}
		if agent != nil {
			e.AgentName = agent.Name()
			rec.AgentName = e.AgentName
		}
		e.Operation = OperationLLM
		e.Model = req.Model
		e.RecordOperation(rec)
	})

	if h.inner == nil {
		return nil
	}
	defer h.capturePanic(ctx, "OnLLMStart")
	return h.inner.OnLLMStart(ctx, runCtx, agent, req)
}

// OnLLMEnd completes the LLM record with response metadata.
func (h *HookAdapter) OnLLMEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, resp llmsdk.Response) error {
	h.update(ctx, func(e *Enrichment) {
		e.UpdateLastOperation(OperationLLM, func(rec *OperationRecord) {
			rec.Duration = time.Since(rec.Timestamp).Milliseconds()
			updateLLMOperationWithResponse(rec.LLM, resp)
		})
	})

	if h.inner == nil {
		return nil
	}
	defer h.capturePanic(ctx, "OnLLMEnd")
	return h.inner.OnLLMEnd(ctx, runCtx, agent, resp)
}

func (h *HookAdapter) update(ctx context.Context, fn func(e *Enrichment)) {
	if runID, ok := aisen.RunIDFromContext(ctx); ok {
		h.store.Update(runID, fn)
	}
}

// capturePanic reports a panic raised by an inner hook and re-raises it.
// The run is marked so the runner boundary skips the same panic.
func (h *HookAdapter) capturePanic(ctx context.Context, method string) {
	r := recover()
	if r == nil {
		return
	}
	if h.collector != nil && !aisen.IsOwnRequest(r) {
		var enrichment Enrichment
		runID, hasRun := aisen.RunIDFromContext(ctx)
		if hasRun {
			enrichment, _ = h.store.Get(runID)
		}
		if !enrichment.PanicReported {
			event := buildPanicEvent(r, enrichment)
			aisen.AddExceptionMechanism(event, aisen.Mechanism{
				Type:    MechanismHook,
				Handled: true,
				Data: map[string]string{
					"function": method,
					"handler":  fmt.Sprintf("%T", h.inner),
				},
			})
			if id := safeCapture(ctx, h.collector, event, r, h.logger); id == "" && h.logger != nil {
				h.logger.Printf("aisen: hook panic in %s was not recorded", method)
			}
			if hasRun {
				h.store.Update(runID, func(e *Enrichment) {
					e.PanicReported = true
				})
			}
		}
	}
	panic(r)
}
