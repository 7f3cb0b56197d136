// context.go carries correlation identifiers (run ID, cxdb context ID) in context.Context.

package aisen

import "context"

// AttrRunID is the event attribute holding the run ID from WithRunID.
const AttrRunID = "aisen.run_id"

type runIDKey struct{}

type contextIDKey struct{}

// WithRunID attaches a run ID. Events captured under ctx carry it as the
// aisen.run_id attribute, which ties a run's operations and errors together.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run ID, if a non-empty one is set.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// WithContextID attaches a cxdb context ID so events link to a conversation.
// Zero is a valid ID.
func WithContextID(ctx context.Context, contextID uint64) context.Context {
	return context.WithValue(ctx, contextIDKey{}, &contextID)
}

// ContextIDFromContext returns the cxdb context ID, if set.
func ContextIDFromContext(ctx context.Context) (uint64, bool) {
	id, ok := ctx.Value(contextIDKey{}).(*uint64)
	if !ok || id == nil {
		return 0, false
	}
	return *id, true
}

// ContextIDProvider is implemented by sessions that know their cxdb context,
// such as the ai-agents-sdk CXDBSession.
type ContextIDProvider interface {
	ContextID(ctx context.Context) (uint64, error)
}

// stampCorrelation copies the correlation identifiers in ctx onto e.
func stampCorrelation(ctx context.Context, e *Event) {
	if ctx == nil {
		return
	}
	if id, ok := ContextIDFromContext(ctx); ok && e.ContextID == nil {
		e.ContextID = &id
	}
	if runID, ok := RunIDFromContext(ctx); ok {
		if e.Attributes == nil {
			e.Attributes = make(map[string]any, 1)
		}
		e.Attributes[AttrRunID] = runID
	}
}
