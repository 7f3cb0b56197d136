// Package multi provides a sink that fans batches out to multiple sinks.
package multi

import (
	"context"
	"errors"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
	"golang.org/x/sync/errgroup"
)

// multiSink fans out to multiple sinks.
type multiSink struct {
	sinks []aisen.Sink
}

// NewMultiSink creates a sink that sends every batch to all sinks
// concurrently. Errors are aggregated via errors.Join, so a failure in any
// member makes the whole batch eligible for retry; members should tolerate
// seeing a batch ID twice.
func NewMultiSink(sinks ...aisen.Sink) aisen.Sink {
	return &multiSink{
		sinks: sinks,
	}
}

// Send delivers the batch to all sinks. A failing sink does not cancel the others.
func (s *multiSink) Send(ctx context.Context, batch aisen.Batch) error {
	var g errgroup.Group
	errs := make([]error, len(s.sinks))
	for i, sink := range s.sinks {
		g.Go(func() error {
			errs[i] = sink.Send(ctx, batch)
			return errs[i]
		})
	}
	if g.Wait() == nil {
		return nil
	}
	return joinErrors(errs)
}

// joinErrors joins member errors. While any member failed transiently, a
// permanent rejection or a skipped-events report from another member is
// masked so the batch is still retried. When the only failures are skipped
// events, the report with the most skipped events is returned.
func joinErrors(errs []error) error {
	var (
		failed              []error
		transient, rejected bool
		widest              *aisen.SkippedEventsError
	)
	for _, err := range errs {
		if err == nil {
			continue
		}
		failed = append(failed, err)
		var skipped *aisen.SkippedEventsError
		switch {
		case errors.Is(err, aisen.ErrBatchRejected):
			rejected = true
		case errors.As(err, &skipped):
			if widest == nil || skipped.Skipped() > widest.Skipped() {
				widest = skipped
			}
		default:
			transient = true
		}
	}
	if !transient && !rejected && widest != nil {
		return widest
	}
	if transient {
		for i, err := range failed {
			var skipped *aisen.SkippedEventsError
			if errors.Is(err, aisen.ErrBatchRejected) || errors.As(err, &skipped) {
				failed[i] = maskedError{msg: err.Error()}
			}
		}
	}
	return errors.Join(failed...)
}

type maskedError struct{ msg string }

func (m maskedError) Error() string { return m.msg }

// Close calls Close on all sinks, collecting any errors.
func (s *multiSink) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
