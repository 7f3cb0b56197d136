// hooks.go implements RunHooks that record tool and LLM calls as operations
// and leave breadcrumbs. Run-level errors are handled by WrappedRunner.

package agentssdk

import (
	"context"
	"time"

	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
	"go.uber.org/zap"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// HookAdapter implements agents.RunHooks. It delegates to an inner RunHooks
// and records what it sees against the run ID found in ctx.
type HookAdapter struct {
	store  EnrichmentStore
	inner  agents.RunHooks
	sink   aisen.IngestionSink
	logger *zap.Logger
}

// NewHookAdapter wraps inner (which may be nil). Completed tool and LLM calls
// are reported to sink when it is non-nil; enrichment is kept in store either
// way. Only the inner hooks' errors are returned.
func NewHookAdapter(store EnrichmentStore, inner agents.RunHooks, sink aisen.IngestionSink, logger *zap.Logger) agents.RunHooks {
	if store == nil {
		store = NewEnrichmentStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HookAdapter{
		store:  store,
		inner:  inner,
		sink:   sink,
		logger: logger,
	}
}

func (h *HookAdapter) OnAgentStart(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent) error {
	if agent != nil {
		h.update(ctx, func(e *Enrichment) { e.AgentName = agent.Name() })
		aisen.ScopeFromContext(ctx).AddBreadcrumb(aisen.Breadcrumb{
			Category: "agent",
			Message:  "start " + agent.Name(),
		})
	}

	if h.inner != nil {
		return h.inner.OnAgentStart(ctx, runCtx, agent)
	}
	return nil
}

func (h *HookAdapter) OnAgentEnd(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent, result agents.RunResult) error {
	if h.inner != nil {
		return h.inner.OnAgentEnd(ctx, runCtx, agent, result)
	}
	return nil
}

func (h *HookAdapter) OnHandoff(ctx context.Context, runCtx *agents.RunContext, from *agents.Agent, to *agents.Agent) error {
	if from != nil && to != nil {
		h.update(ctx, func(e *Enrichment) { e.AgentName = to.Name() })
		aisen.ScopeFromContext(ctx).AddBreadcrumb(aisen.Breadcrumb{
			Category: "agent",
			Message:  "handoff " + from.Name() + " -> " + to.Name(),
		})
	}

	if h.inner != nil {
		return h.inner.OnHandoff(ctx, runCtx, from, to)
	}
	return nil
}

func (h *HookAdapter) OnToolStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, call llmsdk.ToolCall) error {
	h.update(ctx, func(e *Enrichment) {
		if agent != nil {
			e.AgentName = agent.Name()
		}
		e.Operation = operationTool
		e.ToolName = tool.Name
		e.ToolCallID = call.ID
		e.OperationID = call.ID
		e.Pending = true
		e.StartedAt = time.Now()
	})
	aisen.ScopeFromContext(ctx).AddBreadcrumb(aisen.Breadcrumb{
		Category: "tool",
		Message:  "call " + tool.Name,
		Data: map[string]any{
			"call_id":     call.ID,
			"input_bytes": len(call.Arguments),
		},
	})

	if h.inner != nil {
		return h.inner.OnToolStart(ctx, runCtx, agent, tool, call)
	}
	return nil
}

func (h *HookAdapter) OnToolEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, output string) error {
	if e, ok := h.finish(ctx, operationTool); ok {
		h.record(ctx, aisen.Operation{
			Descriptor: aisen.ToolOperation(e.AgentName, tool.Name),
			Success:    true,
			Duration:   time.Since(e.StartedAt),
			Attributes: map[string]any{
				"agent.name":         e.AgentName,
				"agent.tool_call_id": e.ToolCallID,
				"agent.output_bytes": len(output),
			},
		})
	}

	if h.inner != nil {
		return h.inner.OnToolEnd(ctx, runCtx, agent, tool, output)
	}
	return nil
}

func (h *HookAdapter) OnLLMStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, req llmsdk.Request) error {
	h.update(ctx, func(e *Enrichment) {
		if agent != nil {
			e.AgentName = agent.Name()
		}
		e.Operation = operationLLM
		e.Model = req.Model
		e.Provider = providerName(req.Provider)
		e.OperationID = ""
		e.Pending = true
		e.StartedAt = time.Now()
	})
	aisen.ScopeFromContext(ctx).AddBreadcrumb(aisen.Breadcrumb{
		Category: "llm",
		Message:  "request " + req.Model,
		Data:     llmRequestData(req),
	})

	if h.inner != nil {
		return h.inner.OnLLMStart(ctx, runCtx, agent, req)
	}
	return nil
}

func (h *HookAdapter) OnLLMEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, resp llmsdk.Response) error {
	if e, ok := h.finish(ctx, operationLLM); ok {
		attrs := llmResponseAttributes(resp)
		attrs["agent.name"] = e.AgentName
		h.record(ctx, aisen.Operation{
			Descriptor: aisen.LLMOperation(e.Provider, e.Model),
			Success:    true,
			Duration:   time.Since(e.StartedAt),
			Attributes: attrs,
		})
	}

	if h.inner != nil {
		return h.inner.OnLLMEnd(ctx, runCtx, agent, resp)
	}
	return nil
}

func (h *HookAdapter) update(ctx context.Context, fn func(e *Enrichment)) {
	if runID, ok := aisen.RunIDFromContext(ctx); ok {
		h.store.Update(runID, fn)
	}
}

// finish clears the pending flag of an operation of the given kind and
// returns the enrichment as it was when the operation started.
func (h *HookAdapter) finish(ctx context.Context, operation string) (Enrichment, bool) {
	var (
		snapshot Enrichment
		matched  bool
	)
	h.update(ctx, func(e *Enrichment) {
		if e.Pending && e.Operation == operation {
			snapshot = *e
			matched = true
			e.Pending = false
		}
	})
	return snapshot, matched
}

func (h *HookAdapter) record(ctx context.Context, op aisen.Operation) {
	if h.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("Recording operation panicked", zap.Any("panic", r))
		}
	}()
	h.sink.RecordOperation(ctx, op)
}
