// enrichment_store.go provides thread-safe storage for per-run enrichment data
// that correlates hooks with errors seen at the runner boundary.

package agentssdk

import (
	"sync"
	"time"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// Operation values recorded in Enrichment.Operation.
const (
	operationTool = "tool"
	operationLLM  = "llm"
)

// Enrichment contains per-run context captured from hooks.
type Enrichment struct {
	// AgentName is the name of the agent that was running.
	AgentName string

	// Model and Provider describe the most recent LLM call.
	Model    string
	Provider string

	// ToolName is the name of the tool being called.
	ToolName string

	// ToolCallID is the unique ID of the tool call.
	ToolCallID string

	// Operation is the kind of the most recent operation ("tool" or "llm").
	Operation string

	// OperationID is an identifier for the specific operation.
	OperationID string

	// Pending is true between an operation's start hook and its end hook.
	Pending bool

	// StartedAt is when the most recent operation started.
	StartedAt time.Time
}

// Descriptor returns the descriptor of the most recent operation, or the
// agent itself when no tool or LLM call has started.
func (e Enrichment) Descriptor() aisen.Descriptor {
	switch e.Operation {
	case operationTool:
		return aisen.ToolOperation(e.AgentName, e.ToolName)
	case operationLLM:
		return aisen.LLMOperation(e.Provider, e.Model)
	default:
		return aisen.AgentOperation(e.AgentName)
	}
}

// Attributes returns the non-empty fields as event attributes.
func (e Enrichment) Attributes() map[string]any {
	attrs := make(map[string]any, 6)
	set := func(k, v string) {
		if v != "" {
			attrs[k] = v
		}
	}
	set("agent.name", e.AgentName)
	set("agent.operation", e.Operation)
	set("agent.operation_id", e.OperationID)
	set("agent.tool", e.ToolName)
	set("llm.model", e.Model)
	set("llm.provider", e.Provider)
	return attrs
}

// EnrichmentStore provides thread-safe storage for per-run enrichment data.
// Implementations must be safe for concurrent use.
type EnrichmentStore interface {
	// Update applies fn to the enrichment for runID, creating it if needed.
	// IMPORTANT: fn is called while holding the lock. fn MUST be fast and
	// MUST NOT call other EnrichmentStore methods (deadlock risk).
	Update(runID string, fn func(e *Enrichment))

	// Get returns a copy of the enrichment for runID.
	// Returns zero value and false if not found.
	Get(runID string) (Enrichment, bool)

	// Delete removes the enrichment for runID.
	Delete(runID string)
}

// inMemoryEnrichmentStore is the default EnrichmentStore implementation.
type inMemoryEnrichmentStore struct {
	mu   sync.RWMutex
	data map[string]*Enrichment
}

// NewEnrichmentStore creates a new in-memory enrichment store.
func NewEnrichmentStore() EnrichmentStore {
	return &inMemoryEnrichmentStore{
		data: make(map[string]*Enrichment),
	}
}

func (s *inMemoryEnrichmentStore) Update(runID string, fn func(e *Enrichment)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[runID]
	if !ok {
		e = &Enrichment{}
		s.data[runID] = e
	}
	fn(e)
}

func (s *inMemoryEnrichmentStore) Get(runID string) (Enrichment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[runID]
	if !ok {
		return Enrichment{}, false
	}
	return *e, true
}

func (s *inMemoryEnrichmentStore) Delete(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
}
