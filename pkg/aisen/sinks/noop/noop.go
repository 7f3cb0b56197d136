// Package noop provides a no-operation sink that discards all batches.
// Useful for testing and for disabling delivery.
package noop

import (
	"context"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// noopSink discards all batches.
type noopSink struct{}

// NewNoopSink creates a sink that discards all batches.
func NewNoopSink() aisen.Sink {
	return &noopSink{}
}

// Send discards the batch and returns nil.
func (s *noopSink) Send(ctx context.Context, batch aisen.Batch) error {
	return nil
}

// Close is a no-op and returns nil.
func (s *noopSink) Close() error {
	return nil
}
