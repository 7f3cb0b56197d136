package prom

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// Observer is an aisen.IngestionSink decorator that counts operation
// outcomes and reported errors before forwarding them. Pass it to adapters in
// place of the client:
//
//	obs, err := prom.NewObserver(client, prometheus.DefaultRegisterer)
//	handler := httpmw.New(obs).Handler(mux)
type Observer struct {
	next aisen.IngestionSink

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	errors     *prometheus.CounterVec
}

var _ aisen.IngestionSink = (*Observer)(nil)

// NewObserver registers the observer's metrics with reg and returns it.
// A metric that is already registered is reused, so several observers may
// share one registry.
func NewObserver(next aisen.IngestionSink, reg prometheus.Registerer, opts ...CollectorOption) (*Observer, error) {
	if next == nil {
		return nil, errors.New("prom: observer needs a sink to forward to")
	}
	cfg := collectorConfig{namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(&cfg)
	}

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   cfg.namespace,
		Name:        "operations_total",
		Help:        "Instrumented operations by kind and outcome",
		ConstLabels: cfg.constLabels,
	}, []string{"kind", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   cfg.namespace,
		Name:        "operation_duration_seconds",
		Help:        "Duration of instrumented operations",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: cfg.constLabels,
	}, []string{"kind"})
	errCount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   cfg.namespace,
		Name:        "errors_total",
		Help:        "Errors reported through CaptureException by error type",
		ConstLabels: cfg.constLabels,
	}, []string{"error_type"})

	o := &Observer{next: next}
	var err error
	if o.operations, err = register(reg, operations); err != nil {
		return nil, err
	}
	if o.duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if o.errors, err = register(reg, errCount); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordOperation implements aisen.IngestionSink.
func (o *Observer) RecordOperation(ctx context.Context, op aisen.Operation) string {
	kind := op.Descriptor.Kind
	if kind == "" {
		kind = "unknown"
	}
	outcome := "success"
	if !op.Success {
		outcome = "failure"
	}
	o.operations.WithLabelValues(kind, outcome).Inc()
	if op.Duration > 0 {
		o.duration.WithLabelValues(kind).Observe(op.Duration.Seconds())
	}
	return o.next.RecordOperation(ctx, op)
}

// CaptureException implements aisen.IngestionSink.
func (o *Observer) CaptureException(ctx context.Context, err error, opts ...aisen.CaptureOption) string {
	o.errors.WithLabelValues(aisen.ErrorType(err)).Inc()
	return o.next.CaptureException(ctx, err, opts...)
}
