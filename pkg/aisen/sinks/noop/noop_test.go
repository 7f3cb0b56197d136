package noop

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

func TestNoopSink_ImplementsSinkInterface(t *testing.T) {
	var _ aisen.Sink = NewNoopSink()
}

func TestNoopSink_Send_ReturnsNil(t *testing.T) {
	sink := NewNoopSink()

	batch := aisen.NewBatch("batch-1", []aisen.Event{{
		ID:        "evt-123",
		Timestamp: time.Now(),
		Severity:  aisen.SeverityError,
		Message:   "test error",
	}})

	if err := sink.Send(context.Background(), batch); err != nil {
		t.Errorf("Send returned error: %v", err)
	}
}

func TestNoopSink_Close_ReturnsNil(t *testing.T) {
	if err := NewNoopSink().Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}

func TestNoopSink_BackingAClient(t *testing.T) {
	c, err := aisen.New(aisen.DefaultOptions(), aisen.WithSink(NewNoopSink()))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	for i := 0; i < 100; i++ {
		c.CaptureMessage(context.Background(), fmt.Sprintf("message %d", i), aisen.SeverityInfo)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	if got := c.Stats().EventsSent; got != 100 {
		t.Errorf("EventsSent = %d, want 100", got)
	}
}
