// sink.go defines the Sink interface for batch delivery destinations.

package aisen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrBatchRejected is returned by a Sink when the destination refused the
	// batch. It is not retried.
	ErrBatchRejected = errors.New("aisen: batch rejected")

	// ErrClosed is returned by operations on a closed transport or client.
	ErrClosed = errors.New("aisen: closed")
)

// Sink delivers batches of events.
// Implementations must be safe for concurrent use.
type Sink interface {
	// Send delivers one batch. The batch is accepted or failed as a unit,
	// except that events which cannot be encoded may be left out and reported
	// with a *SkippedEventsError. Errors wrapping ErrBatchRejected are
	// permanent; anything else is retried.
	Send(ctx context.Context, batch Batch) error

	// Close releases resources held by the sink.
	Close() error
}

// discardSink drops every batch. It backs a client built with an explicit
// nil sink.
type discardSink struct{}

func (discardSink) Send(context.Context, Batch) error { return nil }

func (discardSink) Close() error { return nil }

// SkippedEventsError reports a batch that was delivered without the events
// that could not be encoded. The transport counts them as dropped and does
// not retry the batch.
type SkippedEventsError struct {
	EventIDs []string
	Err      error
}

func (e *SkippedEventsError) Error() string {
	return fmt.Sprintf("aisen: skipped %d unencodable events: %v", len(e.EventIDs), e.Err)
}

func (e *SkippedEventsError) Unwrap() error { return e.Err }

// Skipped returns the number of events left out.
func (e *SkippedEventsError) Skipped() int { return len(e.EventIDs) }

// EncodeEvents encodes each event to JSON on its own so one bad value cannot
// spoil the rest. Events that fail to encode are left out and reported with
// a *SkippedEventsError; the error is nil when every event encoded.
func EncodeEvents(events []Event) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(events))
	var (
		skipped []string
		errs    []error
	)
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			skipped = append(skipped, e.ID)
			errs = append(errs, fmt.Errorf("event %s: %w", e.ID, err))
			continue
		}
		out = append(out, b)
	}
	if len(skipped) > 0 {
		return out, &SkippedEventsError{EventIDs: skipped, Err: errors.Join(errs...)}
	}
	return out, nil
}
