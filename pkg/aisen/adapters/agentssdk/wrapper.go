// wrapper.go implements WrappedRunner that wraps agents.Runner to record runs
// and capture their errors and panics. Hooks record the calls inside a run.

package agentssdk

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	"go.uber.org/zap"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// WrappedRunner wraps an agents.Runner. Each run becomes an agent operation
// and executes in its own scope frame; a run error or panic is captured as
// an exception fingerprinted by the tool or LLM call that was in flight.
type WrappedRunner struct {
	inner       *agents.Runner
	sink        atomic.Pointer[sinkRef]
	enrichments EnrichmentStore
	logger      *zap.Logger
}

type sinkRef struct{ aisen.IngestionSink }

var _ aisen.Adapter = (*WrappedRunner)(nil)

// Name implements aisen.Adapter.
func (w *WrappedRunner) Name() string { return "ai-agents-sdk" }

// Install implements aisen.Adapter. Runs started before Install are not
// recorded.
func (w *WrappedRunner) Install(sink aisen.IngestionSink) error {
	if sink == nil {
		return fmt.Errorf("agentssdk: nil sink")
	}
	w.sink.Store(&sinkRef{sink})
	return nil
}

func (w *WrappedRunner) current() aisen.IngestionSink {
	if ref := w.sink.Load(); ref != nil {
		return ref.IngestionSink
	}
	return nil
}

// Run executes the agent with the given input and session.
func (w *WrappedRunner) Run(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (agents.RunResult, error) {
	var result agents.RunResult
	err := w.observe(ctx, agent, session, cfg, func(ctx context.Context, cfg *agents.RunConfig) error {
		var err error
		result, err = w.inner.Run(ctx, agent, input, session, cfg)
		return err
	})
	return result, err
}

// RunOnce executes a single turn of the agent.
func (w *WrappedRunner) RunOnce(ctx context.Context, agent *agents.Agent, input string, cfg *agents.RunConfig) (agents.RunResult, error) {
	var result agents.RunResult
	err := w.observe(ctx, agent, nil, cfg, func(ctx context.Context, cfg *agents.RunConfig) error {
		var err error
		result, err = w.inner.RunOnce(ctx, agent, input, cfg)
		return err
	})
	return result, err
}

// RunStream starts a streaming run. Only a failure to start is recorded; hooks
// keep recording calls while the stream is consumed. The run's enrichment is
// released when ctx is done.
func (w *WrappedRunner) RunStream(ctx context.Context, agent *agents.Agent, input string, session agents.Session, cfg *agents.RunConfig) (*agents.StreamingRun, error) {
	run, ctx := w.begin(ctx, agent, session)
	stop := context.AfterFunc(ctx, run.release)

	defer w.capturePanic(ctx, run)

	stream, err := w.inner.RunStream(ctx, agent, input, session, w.wrapRunConfig(cfg))
	if err != nil {
		w.complete(ctx, run, err)
		stop()
		run.release()
	}
	return stream, err
}

// runState tracks one run between begin and release.
type runState struct {
	id      string
	agent   string
	start   time.Time
	release func()
}

// begin assigns a run ID, links the cxdb context ID and pushes a scope frame.
func (w *WrappedRunner) begin(ctx context.Context, agent *agents.Agent, session any) (*runState, context.Context) {
	run := &runState{id: uuid.New().String(), start: time.Now()}
	if agent != nil {
		run.agent = agent.Name()
	}

	ctx = aisen.WithRunID(ctx, run.id)
	if _, ok := aisen.ContextIDFromContext(ctx); !ok {
		if id, ok := w.extractContextID(ctx, session); ok {
			ctx = aisen.WithContextID(ctx, id)
		}
	}

	ctx, scope, pop := aisen.PushScope(ctx)
	if run.agent != "" {
		scope.SetTag("agent.name", run.agent)
	}
	w.enrichments.Update(run.id, func(e *Enrichment) { e.AgentName = run.agent })
	run.release = func() {
		pop()
		w.enrichments.Delete(run.id)
	}
	return run, ctx
}

// observe runs body inside a recorded run.
func (w *WrappedRunner) observe(ctx context.Context, agent *agents.Agent, session any, cfg *agents.RunConfig, body func(ctx context.Context, cfg *agents.RunConfig) error) error {
	run, ctx := w.begin(ctx, agent, session)
	defer run.release()
	defer w.capturePanic(ctx, run)

	err := body(ctx, w.wrapRunConfig(cfg))
	w.complete(ctx, run, err)
	return err
}

// extractContextID asks the session for its cxdb context ID.
func (w *WrappedRunner) extractContextID(ctx context.Context, session any) (uint64, bool) {
	provider, ok := session.(aisen.ContextIDProvider)
	if !ok {
		return 0, false
	}
	id, err := provider.ContextID(ctx)
	if err != nil {
		w.logger.Debug("Session has no context ID", zap.Error(err))
		return 0, false
	}
	return id, true
}

// wrapRunConfig clones cfg and wraps its hooks.
func (w *WrappedRunner) wrapRunConfig(cfg *agents.RunConfig) *agents.RunConfig {
	var cloned agents.RunConfig
	if cfg != nil {
		cloned = *cfg
	}
	cloned.Hooks = NewHookAdapter(w.enrichments, cloned.Hooks, w.current(), w.logger)
	return &cloned
}

// complete records the run outcome. On failure the in-flight call, if any,
// is recorded as failed too and err is captured against it.
func (w *WrappedRunner) complete(ctx context.Context, run *runState, err error) {
	sink := w.current()
	if sink == nil {
		return
	}
	e, _ := w.enrichments.Get(run.id)
	if e.AgentName == "" {
		e.AgentName = run.agent
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("Recording run outcome panicked", zap.Any("panic", r))
		}
	}()

	if err != nil && e.Pending {
		sink.RecordOperation(ctx, aisen.Operation{
			Descriptor: e.Descriptor(),
			Duration:   time.Since(e.StartedAt),
			Err:        err,
			Attributes: e.Attributes(),
		})
	}
	sink.RecordOperation(ctx, aisen.Operation{
		Descriptor: aisen.AgentOperation(run.agent),
		Success:    err == nil,
		Duration:   time.Since(run.start),
		Err:        err,
		Attributes: map[string]any{"agent.name": run.agent},
	})
	if err != nil {
		sink.CaptureException(ctx, err, errorOptions(err, e)...)
	}
}

// capturePanic recovers a panic, records it and re-panics. It must be
// deferred directly.
func (w *WrappedRunner) capturePanic(ctx context.Context, run *runState) {
	r := recover()
	if r == nil {
		return
	}
	stack := string(debug.Stack())
	w.reportPanic(ctx, run, r, stack)
	panic(r)
}

func (w *WrappedRunner) reportPanic(ctx context.Context, run *runState, r any, stack string) {
	sink := w.current()
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("Recording panic panicked", zap.Any("panic", r))
		}
	}()

	e, _ := w.enrichments.Get(run.id)
	if e.AgentName == "" {
		e.AgentName = run.agent
	}
	perr := &aisen.PanicError{Value: r}
	if e.Pending {
		sink.RecordOperation(ctx, aisen.Operation{
			Descriptor: e.Descriptor(),
			Duration:   time.Since(e.StartedAt),
			Err:        perr,
			Attributes: e.Attributes(),
		})
	}
	sink.RecordOperation(ctx, aisen.Operation{
		Descriptor: aisen.AgentOperation(run.agent),
		Duration:   time.Since(run.start),
		Err:        perr,
		Attributes: map[string]any{"agent.name": run.agent},
	})
	sink.CaptureException(ctx, perr, panicOptions(stack, e)...)
}

// Inner returns the underlying Runner for advanced usage.
func (w *WrappedRunner) Inner() *agents.Runner {
	return w.inner
}
