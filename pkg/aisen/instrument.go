// instrument.go wraps functions so their outcome feeds incident tracking.

package aisen

import (
	"context"
	"runtime/debug"
	"time"
)

// Instrument returns fn wrapped so every call reports an Operation for d to
// sink. A returned error is also captured as an exception. A panic is
// captured and re-raised.
func Instrument(sink IngestionSink, d Descriptor, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := InstrumentValue(sink, d, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		})(ctx)
		return err
	}
}

// InstrumentValue is Instrument for functions that return a value.
func InstrumentValue[T any](sink IngestionSink, d Descriptor, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	fp := Fingerprint(d)
	return func(ctx context.Context) (result T, err error) {
		start := time.Now()

		defer func() {
			r := recover()
			if r == nil {
				return
			}
			stack := string(debug.Stack())
			report(ctx, sink, Operation{
				Descriptor: d,
				Duration:   time.Since(start),
				Err:        &PanicError{Value: r},
			})
			capturePanic(ctx, sink, r, stack, WithFingerprint(fp))
			panic(r)
		}()

		result, err = fn(ctx)

		report(ctx, sink, Operation{
			Descriptor: d,
			Success:    err == nil,
			Duration:   time.Since(start),
			Err:        err,
		})
		if err != nil && sink != nil {
			sink.CaptureException(ctx, err, WithFingerprint(fp))
		}
		return result, err
	}
}

// report records op, shielding the caller from a misbehaving sink.
func report(ctx context.Context, sink IngestionSink, op Operation) {
	if sink == nil {
		return
	}
	defer func() { _ = recover() }()
	sink.RecordOperation(ctx, op)
}
