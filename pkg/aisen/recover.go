// recover.go provides the Recover helper for standalone panic recovery.
// Use it in goroutines and handlers that are not wrapped by Instrument.

package aisen

import (
	"context"
	"fmt"
	"runtime/debug"
)

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "panic: " + formatRecovered(e.Value)
}

// Unwrap exposes a panicked error value.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Recover captures a panic as a crash event on sink and returns the recovered
// value. Unlike Instrument, Recover does NOT re-panic. It must be deferred
// directly; called from inside another deferred function it recovers nothing.
//
//	go func() {
//	    defer aisen.Recover(ctx, client)
//	    // code that might panic
//	}()
func Recover(ctx context.Context, sink IngestionSink, opts ...CaptureOption) any {
	r := recover()
	if r == nil {
		return nil
	}
	capturePanic(ctx, sink, r, string(debug.Stack()), opts...)
	return r
}

// capturePanic reports a recovered value. It never panics itself.
func capturePanic(ctx context.Context, sink IngestionSink, r any, stack string, opts ...CaptureOption) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()

	opts = append([]CaptureOption{WithSeverity(SeverityCrash), WithStackTrace(stack)}, opts...)
	sink.CaptureException(ctx, &PanicError{Value: r}, opts...)
}

// formatRecovered formats a recovered panic value as a string.
func formatRecovered(recovered any) string {
	if recovered == nil {
		return "<nil>"
	}
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", recovered)
}
