package agentssdk

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	llmsdk "github.com/strongdm/ai-llm-sdk/pkg/llm"
	llmmock "github.com/strongdm/ai-llm-sdk/pkg/llm/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

func newMockClient(adapter *llmmock.Adapter) *llmsdk.Client {
	return llmsdk.NewClient(
		map[llmsdk.Provider]llmsdk.ProviderAdapter{llmsdk.ProviderOpenAI: adapter},
		llmsdk.WithDefaultProvider(llmsdk.ProviderOpenAI),
	)
}

type spyHooks struct {
	mu    sync.Mutex
	calls map[string]int
}

func newSpyHooks() *spyHooks {
	return &spyHooks{calls: map[string]int{}}
}

func (h *spyHooks) record(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[name]++
}

func (h *spyHooks) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[name]
}

func (h *spyHooks) OnAgentStart(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent) error {
	h.record("agent_start")
	return nil
}

func (h *spyHooks) OnAgentEnd(ctx context.Context, runCtx *agents.AgentHookContext, agent *agents.Agent, result agents.RunResult) error {
	h.record("agent_end")
	return nil
}

func (h *spyHooks) OnHandoff(ctx context.Context, runCtx *agents.RunContext, from *agents.Agent, to *agents.Agent) error {
	h.record("handoff")
	return nil
}

func (h *spyHooks) OnToolStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, call llmsdk.ToolCall) error {
	h.record("tool_start")
	return nil
}

func (h *spyHooks) OnToolEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, tool agents.Tool, output string) error {
	h.record("tool_end")
	return nil
}

func (h *spyHooks) OnLLMStart(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, req llmsdk.Request) error {
	h.record("llm_start")
	return nil
}

func (h *spyHooks) OnLLMEnd(ctx context.Context, runCtx *agents.RunContext, agent *agents.Agent, resp llmsdk.Response) error {
	h.record("llm_end")
	return nil
}

func enqueueToolCall(adapter *llmmock.Adapter, toolName, callID string) {
	call := llmsdk.ToolCall{
		ID:        callID,
		Name:      toolName,
		Arguments: json.RawMessage(`{"query":"hi"}`),
	}
	resp := llmsdk.Response{
		Model:        "test-model",
		Message:      llmsdk.Message{Role: llmsdk.RoleAssistant},
		ToolCalls:    []llmsdk.ToolCall{call},
		FinishReason: llmsdk.FinishReasonToolCalls,
	}
	adapter.EnqueueComplete(resp, nil)
}

func TestE2E_ToolFailureIsAttributedToTool(t *testing.T) {
	adapter := &llmmock.Adapter{}
	enqueueToolCall(adapter, "FailTool", "call-1")

	client, sink := newTestClient(t)
	wrapped := Instrument(agents.NewRunner(newMockClient(adapter)), client)

	tool := agents.Tool{
		Name: "FailTool",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("tool execution failed")
		},
	}
	agent := agents.NewAgent(agents.AgentConfig{
		Name:         "e2e-agent",
		Instructions: "be helpful",
		Model:        "test-model",
		Tools:        []agents.Tool{tool},
	})

	spy := newSpyHooks()
	_, err := wrapped.Run(context.Background(), agent, "trigger tool", nil, &agents.RunConfig{Hooks: spy, MaxTurns: 2})
	require.Error(t, err)

	errs := delivered(t, client, sink, aisen.KindError)
	require.Len(t, errs, 1)
	ev := errs[0]
	assert.Equal(t, "tool:FailTool:e2e-agent", ev.Fingerprint)
	assert.Equal(t, "e2e-agent", ev.Attributes["agent.name"])
	assert.Equal(t, "FailTool", ev.Attributes["agent.tool"])
	assert.Equal(t, "call-1", ev.Attributes["agent.operation_id"])

	assert.NotZero(t, spy.count("agent_start"), "inner hooks run")
	assert.NotZero(t, spy.count("llm_start"))
	assert.NotZero(t, spy.count("tool_start"))
}

func TestE2E_ContextIDFromContextFallback(t *testing.T) {
	adapter := &llmmock.Adapter{}
	adapter.EnqueueComplete(llmsdk.Response{}, errors.New("llm failed"))

	client, sink := newTestClient(t)
	wrapped := Instrument(agents.NewRunner(newMockClient(adapter)), client)

	agent := agents.NewAgent(agents.AgentConfig{
		Name:         "context-agent",
		Instructions: "be helpful",
		Model:        "test-model",
	})

	ctx := aisen.WithContextID(context.Background(), 424242)
	_, err := wrapped.Run(ctx, agent, "hi", nil, nil)
	require.Error(t, err)

	errs := delivered(t, client, sink, aisen.KindError)
	require.Len(t, errs, 1)
	require.NotNil(t, errs[0].ContextID)
	assert.Equal(t, uint64(424242), *errs[0].ContextID)
	assert.Contains(t, errs[0].Attributes, "process.goroutines")

	incidents := client.Incidents()
	require.NotEmpty(t, incidents)
}

func TestE2E_ToolPanicIsReraised(t *testing.T) {
	adapter := &llmmock.Adapter{}
	enqueueToolCall(adapter, "PanicTool", "call-2")

	client, sink := newTestClient(t)
	wrapped := Instrument(agents.NewRunner(newMockClient(adapter)), client)

	tool := agents.Tool{
		Name: "PanicTool",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			panic("tool panicked")
		},
	}
	agent := agents.NewAgent(agents.AgentConfig{
		Name:         "panic-agent",
		Instructions: "be helpful",
		Model:        "test-model",
		Tools:        []agents.Tool{tool},
	})

	assert.Panics(t, func() {
		_, _ = wrapped.Run(context.Background(), agent, "trigger panic", nil, nil)
	})

	errs := delivered(t, client, sink, aisen.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, aisen.SeverityCrash, errs[0].Severity)
	assert.Equal(t, "panic-agent", errs[0].Attributes["agent.name"])
	assert.Equal(t, "panic", errs[0].Attributes[AttrErrorClass])
}
