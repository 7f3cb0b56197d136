// Package cxdb provides a sink that persists events to cxdb as SystemMessage items.
package cxdb

import (
	"context"
	"encoding/json"
	"fmt"

	cxdbclient "github.com/strongdm/ai-cxdb/clients/go"
	cxdtypes "github.com/strongdm/ai-cxdb/clients/go/types"
	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// CXDBClient is the minimal interface for cxdb client operations.
// The real *cxdb.Client satisfies this interface.
type CXDBClient interface {
	CreateContext(ctx context.Context, baseTurnID uint64) (*cxdbclient.ContextHead, error)
	AppendTurn(ctx context.Context, req *cxdbclient.AppendRequest) (*cxdbclient.AppendResult, error)
}

// CXDBSinkOption configures the CXDB sink.
type CXDBSinkOption func(*cxdbSinkConfig)

type cxdbSinkConfig struct {
	orphanLabels []string
	clientTag    string
}

// WithOrphanLabels sets labels for orphan event contexts.
func WithOrphanLabels(labels []string) CXDBSinkOption {
	return func(c *cxdbSinkConfig) {
		c.orphanLabels = labels
	}
}

// WithClientTag sets the client tag for orphan contexts.
func WithClientTag(tag string) CXDBSinkOption {
	return func(c *cxdbSinkConfig) {
		c.clientTag = tag
	}
}

// cxdbSink writes events to cxdb as SystemMessage items.
type cxdbSink struct {
	client       CXDBClient
	orphanLabels []string
	clientTag    string
}

// NewCXDBSink creates a sink that writes to cxdb.
//
// Events carrying a context ID are appended to that conversation. Events
// without one share a single orphan context per batch. Appends are keyed by
// event ID, so a retried batch does not duplicate turns.
func NewCXDBSink(client CXDBClient, opts ...CXDBSinkOption) aisen.Sink {
	cfg := &cxdbSinkConfig{
		orphanLabels: []string{"aisen", "unlinked"},
		clientTag:    "aisen",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &cxdbSink{
		client:       client,
		orphanLabels: cfg.orphanLabels,
		clientTag:    cfg.clientTag,
	}
}

// Send persists every event in the batch, stopping at the first failure.
func (s *cxdbSink) Send(ctx context.Context, batch aisen.Batch) error {
	var (
		orphanID      uint64
		orphanCreated bool
		orphanTagged  bool
	)

	for _, event := range batch.Events() {
		var contextID uint64
		isOrphanHead := false

		if event.ContextID != nil {
			contextID = *event.ContextID
		} else {
			if !orphanCreated {
				head, err := s.client.CreateContext(ctx, 0)
				if err != nil {
					return fmt.Errorf("create orphan context: %w", err)
				}
				orphanID = head.ContextID
				orphanCreated = true
			}
			contextID = orphanID
			isOrphanHead = !orphanTagged
			orphanTagged = true
		}

		if err := s.append(ctx, contextID, event, isOrphanHead); err != nil {
			return fmt.Errorf("event %s: %w", event.ID, err)
		}
	}
	return nil
}

func (s *cxdbSink) append(ctx context.Context, contextID uint64, event aisen.Event, isOrphanHead bool) error {
	item := s.buildConversationItem(event, isOrphanHead)

	// Encode to msgpack using the official cxdb encoder.
	payload, err := cxdbclient.EncodeMsgpack(item)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req := &cxdbclient.AppendRequest{
		ContextID:      contextID,
		ParentTurnID:   0,
		TypeID:         cxdtypes.TypeIDConversationItem,
		TypeVersion:    cxdtypes.TypeVersionConversationItem,
		Payload:        payload,
		IdempotencyKey: event.ID,
	}

	if _, err := s.client.AppendTurn(ctx, req); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// buildConversationItem creates a canonical ConversationItem from an Event.
func (s *cxdbSink) buildConversationItem(event aisen.Event, isOrphanHead bool) *cxdtypes.ConversationItem {
	item := &cxdtypes.ConversationItem{
		ItemType:  cxdtypes.ItemTypeSystem,
		Status:    cxdtypes.ItemStatusComplete,
		Timestamp: event.Timestamp.UnixMilli(),
		ID:        event.ID,
		System: &cxdtypes.SystemMessage{
			Kind:    cxdtypes.SystemKindError,
			Title:   buildTitle(event),
			Content: buildEventDetails(event),
		},
	}

	// cxdb expects context metadata on the first turn of a context.
	if isOrphanHead {
		item.ContextMetadata = &cxdtypes.ContextMetadata{
			Labels:    s.orphanLabels,
			ClientTag: s.clientTag,
		}
	}

	return item
}

// buildTitle renders "label: truncated_message", where label is the error
// type for errors and the event kind otherwise.
func buildTitle(event aisen.Event) string {
	label := event.ErrorType
	if label == "" {
		label = string(event.Kind)
	}

	title := label
	if event.Message != "" {
		const maxMsgLen = 80
		msg := event.Message
		if len(msg) > maxMsgLen {
			msg = msg[:maxMsgLen] + "..."
		}
		title = label + ": " + msg
	}

	if len(title) > 100 {
		title = title[:97] + "..."
	}
	return title
}

// buildEventDetails encodes the event as JSON for SystemMessage.Content.
func buildEventDetails(event aisen.Event) string {
	details := map[string]any{
		"event_id":    event.ID,
		"kind":        string(event.Kind),
		"severity":    string(event.Severity),
		"message":     event.Message,
		"fingerprint": event.Fingerprint,
	}

	if event.ErrorType != "" {
		details["error_type"] = event.ErrorType
	}
	if event.StackTrace != "" {
		details["stack_trace"] = event.StackTrace
	}
	if event.ContextID != nil {
		details["context_id"] = *event.ContextID
	}
	if event.Environment != "" {
		details["environment"] = event.Environment
	}
	if event.Release != "" {
		details["release"] = event.Release
	}
	if len(event.Attributes) > 0 {
		details["attributes"] = event.Attributes
	}
	if len(event.Scope.Tags) > 0 {
		details["tags"] = event.Scope.Tags
	}
	if len(event.Scope.Extra) > 0 {
		details["extra"] = event.Scope.Extra
	}
	if event.Scope.User != nil {
		details["user"] = event.Scope.User
	}
	if len(event.Scope.Breadcrumbs) > 0 {
		details["breadcrumbs"] = event.Scope.Breadcrumbs
	}

	jsonBytes, err := json.Marshal(details)
	if err != nil {
		// Fallback to simple error message
		return fmt.Sprintf(`{"error":"failed to encode details: %s"}`, err)
	}
	return string(jsonBytes)
}

// Close is a no-op; the cxdb client is owned by the caller.
func (s *cxdbSink) Close() error {
	return nil
}
