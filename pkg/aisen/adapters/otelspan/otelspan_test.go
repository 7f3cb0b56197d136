package otelspan

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

type fakeSink struct {
	mu  sync.Mutex
	ops []aisen.Operation
}

func (f *fakeSink) RecordOperation(_ context.Context, op aisen.Operation) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return "op"
}

func (f *fakeSink) CaptureException(context.Context, error, ...aisen.CaptureOption) string {
	return ""
}

func (f *fakeSink) Operations() []aisen.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]aisen.Operation(nil), f.ops...)
}

// tracer returns a tracer whose provider feeds an installed processor.
func tracer(t *testing.T) (trace.Tracer, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	p := New()
	require.NoError(t, p.Install(sink))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("test"), sink
}

func TestProcessor_HTTPServerSpan(t *testing.T) {
	tr, sink := tracer(t)

	_, span := tr.Start(context.Background(), "GET /users/{id}",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", "GET"),
			attribute.String("http.route", "/users/{id}"),
			attribute.Int("http.response.status_code", 200),
		))
	span.End()

	ops := sink.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, "http:GET:/users/{id}", aisen.Fingerprint(ops[0].Descriptor))
	assert.True(t, ops[0].Success)
	assert.Equal(t, int64(200), ops[0].Attributes["http.response.status_code"])
	assert.Equal(t, "server", ops[0].Attributes["otel.span_kind"])
	assert.Len(t, ops[0].Attributes["otel.trace_id"], 32)
}

func TestProcessor_ErrorStatusIsFailure(t *testing.T) {
	tr, sink := tracer(t)

	_, span := tr.Start(context.Background(), "SELECT orders",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "select"),
			attribute.String("db.sql.table", "orders"),
		))
	span.SetStatus(codes.Error, "connection refused")
	span.End()

	ops := sink.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, "db:postgresql:SELECT:orders", aisen.Fingerprint(ops[0].Descriptor))
	assert.False(t, ops[0].Success)
	assert.EqualError(t, ops[0].Err, "connection refused")
}

func TestProcessor_ExceptionEventWins(t *testing.T) {
	tr, sink := tracer(t)

	_, span := tr.Start(context.Background(), "publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.operation.type", "PUBLISH"),
			attribute.String("messaging.destination.name", "orders"),
		))
	span.RecordError(errors.New("leader not available"))
	span.SetStatus(codes.Error, "publish failed")
	span.End()

	ops := sink.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, "messaging:kafka:publish:orders", aisen.Fingerprint(ops[0].Descriptor))
	require.Error(t, ops[0].Err)
	assert.Contains(t, ops[0].Err.Error(), "leader not available")
}

func TestProcessor_IgnoresUnrecognizedSpans(t *testing.T) {
	tr, sink := tracer(t)

	_, span := tr.Start(context.Background(), "compute-totals")
	span.End()

	assert.Empty(t, sink.Operations())
}

func TestProcessor_NotInstalled(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(New()))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "x",
		trace.WithAttributes(attribute.String("db.system", "redis")))
	assert.NotPanics(t, func() { span.End() })
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name  string
		kind  trace.SpanKind
		attrs []attribute.KeyValue
		want  string
		ok    bool
	}{
		{
			name: "grpc",
			kind: trace.SpanKindClient,
			attrs: []attribute.KeyValue{
				attribute.String("rpc.system", "grpc"),
				attribute.String("rpc.service", "orders.Orders"),
				attribute.String("rpc.method", "Get"),
			},
			want: "rpc:grpc:orders.Orders:Get",
			ok:   true,
		},
		{
			name: "http client legacy attributes",
			kind: trace.SpanKindClient,
			attrs: []attribute.KeyValue{
				attribute.String("http.method", "post"),
				attribute.String("net.peer.name", "api.example.com"),
			},
			want: "http.client:POST:api.example.com",
			ok:   true,
		},
		{
			name: "http server without route",
			kind: trace.SpanKindServer,
			attrs: []attribute.KeyValue{
				attribute.String("http.request.method", "GET"),
			},
			ok: false,
		},
		{
			name: "db without table degrades to kind",
			kind: trace.SpanKindClient,
			attrs: []attribute.KeyValue{
				attribute.String("db.system", "mysql"),
			},
			want: "db",
			ok:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := Describe(tt.kind, attributesToMap(tt.attrs))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, aisen.Fingerprint(d))
			}
		})
	}
}

func TestProcessor_DrivesClientIncidents(t *testing.T) {
	client, err := aisen.New(aisen.DefaultOptions(), aisen.WithSink(discard{}))
	require.NoError(t, err)
	defer client.Close(context.Background())

	p := New()
	require.NoError(t, client.RegisterAdapters(p))
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "GET",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", "GET"),
			attribute.String("server.address", "billing.internal"),
		))
	span.SetStatus(codes.Error, "503")
	span.End()

	incidents := client.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, "http.client:GET:billing.internal", incidents[0].Fingerprint)
}

type discard struct{}

func (discard) Send(context.Context, aisen.Batch) error { return nil }
func (discard) Close() error                            { return nil }
