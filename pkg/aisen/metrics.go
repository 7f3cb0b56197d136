// metrics.go mirrors the pipeline counters onto OpenTelemetry instruments.

package aisen

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/strongdm/aisen-telemetry"

// recorder updates the atomic counters and, when available, the matching
// OTEL instruments. A nil instrument is skipped.
type recorder struct {
	counters
	inst instruments
}

type instruments struct {
	enqueued          metric.Int64Counter
	dropped           metric.Int64Counter
	batchesDropped    metric.Int64Counter
	batchesSent       metric.Int64Counter
	sanitizerFailures metric.Int64Counter
	incidentsOpened   metric.Int64Counter
	incidentsResolved metric.Int64Counter
}

func newRecorder(mp metric.MeterProvider, logger *zap.Logger) *recorder {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := mp.Meter(meterName)

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		if err != nil {
			// Metrics are optional; counting continues through Stats.
			logger.Debug("Failed to create counter", zap.String("name", name), zap.Error(err))
			return nil
		}
		return c
	}

	return &recorder{inst: instruments{
		enqueued:          counter("aisen_events_enqueued_total", "Total events accepted into the delivery buffer"),
		dropped:           counter("aisen_events_dropped_total", "Total events dropped by the delivery buffer"),
		batchesDropped:    counter("aisen_batches_dropped_total", "Total batches dropped after failed delivery"),
		batchesSent:       counter("aisen_batches_sent_total", "Total batches delivered"),
		sanitizerFailures: counter("aisen_sanitizer_failures_total", "Total events dropped because the sanitizer failed"),
		incidentsOpened:   counter("aisen_incidents_opened_total", "Total incidents opened"),
		incidentsResolved: counter("aisen_incidents_resolved_total", "Total incidents auto-resolved"),
	}}
}

func add(c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil || n == 0 {
		return
	}
	c.Add(context.Background(), n, metric.WithAttributes(attrs...))
}

func (r *recorder) eventEnqueued() {
	r.eventsEnqueued.Add(1)
	add(r.inst.enqueued, 1)
}

func (r *recorder) eventsDroppedBy(reason string, n int) {
	r.eventsDropped.Add(uint64(n))
	add(r.inst.dropped, int64(n), attribute.String("reason", reason))
}

func (r *recorder) batchSent(events int) {
	r.batchesSent.Add(1)
	r.eventsSent.Add(uint64(events))
	add(r.inst.batchesSent, 1)
}

func (r *recorder) batchDropped() {
	r.batchesDropped.Add(1)
	add(r.inst.batchesDropped, 1)
}

func (r *recorder) sanitizerFailed() {
	r.sanitizerFailures.Add(1)
	add(r.inst.sanitizerFailures, 1)
}

func (r *recorder) incident(kind EventKind) {
	switch kind {
	case KindIncidentOpened:
		r.incidentsOpened.Add(1)
		add(r.inst.incidentsOpened, 1)
	case KindIncidentResolved:
		r.incidentsResolved.Add(1)
		add(r.inst.incidentsResolved, 1)
	}
}
