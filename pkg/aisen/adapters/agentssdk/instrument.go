// instrument.go provides the Instrument function for convenient runner setup.
// This is the recommended entry point for integrating aisen with ai-agents-sdk.

package agentssdk

import (
	"github.com/strongdm/ai-agents-sdk/pkg/agents"
	"go.uber.org/zap"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// WrapOption configures a WrappedRunner.
type WrapOption func(*WrappedRunner)

// WithLogger sets the logger used when recording itself fails.
func WithLogger(logger *zap.Logger) WrapOption {
	return func(w *WrappedRunner) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithEnrichmentStore sets the store that correlates hook data with run errors.
func WithEnrichmentStore(store EnrichmentStore) WrapOption {
	return func(w *WrappedRunner) {
		if store != nil {
			w.enrichments = store
		}
	}
}

// Instrument wraps a Runner. sink may be nil, in which case nothing is
// recorded until the runner is registered as an adapter:
//
//	client, _ := aisen.New(opts)
//	runner := agentssdk.Instrument(agents.NewRunner(llm), client)
//	result, err := runner.Run(ctx, agent, input, session, nil)
//
// or
//
//	runner := agentssdk.Instrument(agents.NewRunner(llm), nil)
//	_ = client.RegisterAdapters(runner)
func Instrument(baseRunner *agents.Runner, sink aisen.IngestionSink, opts ...WrapOption) *WrappedRunner {
	w := &WrappedRunner{
		inner:       baseRunner,
		enrichments: NewEnrichmentStore(),
		logger:      zap.NewNop(),
	}
	if sink != nil {
		w.sink.Store(&sinkRef{sink})
	}

	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("agentssdk")

	return w
}
