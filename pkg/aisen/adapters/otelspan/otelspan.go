// Package otelspan turns finished OpenTelemetry spans into operations.
//
// Processor is an sdktrace.SpanProcessor. Register it on the application's
// TracerProvider and install it on a client; spans that carry http, db,
// messaging or rpc semantic attributes are then recorded like any other
// instrumented operation. A span with an Error status is a failure. Spans
// without recognizable attributes are ignored.
package otelspan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// Processor records ended spans. It never blocks span completion on
// delivery; RecordOperation only enqueues.
type Processor struct {
	sink atomic.Pointer[sinkRef]
}

type sinkRef struct{ aisen.IngestionSink }

var (
	_ sdktrace.SpanProcessor = (*Processor)(nil)
	_ aisen.Adapter          = (*Processor)(nil)
)

// New returns an uninstalled processor.
func New() *Processor {
	return &Processor{}
}

// Name implements aisen.Adapter.
func (p *Processor) Name() string { return "opentelemetry" }

// Install implements aisen.Adapter.
func (p *Processor) Install(sink aisen.IngestionSink) error {
	if sink == nil {
		return fmt.Errorf("otelspan: nil sink")
	}
	p.sink.Store(&sinkRef{sink})
	return nil
}

func (p *Processor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *Processor) OnEnd(s sdktrace.ReadOnlySpan) {
	ref := p.sink.Load()
	if ref == nil || s == nil {
		return
	}
	attrs := attributesToMap(s.Attributes())
	desc, ok := Describe(s.SpanKind(), attrs)
	if !ok {
		return
	}

	status := s.Status()
	op := aisen.Operation{
		Descriptor: desc,
		Success:    status.Code != codes.Error,
		Duration:   s.EndTime().Sub(s.StartTime()),
		Attributes: operationAttributes(s, attrs),
	}
	if !op.Success {
		op.Err = spanError(s)
	}
	ref.RecordOperation(context.Background(), op)
}

func (p *Processor) Shutdown(context.Context) error   { return nil }
func (p *Processor) ForceFlush(context.Context) error { return nil }

// Describe maps semantic-convention attributes to a descriptor. Both the
// stable and the older attribute names are accepted.
func Describe(kind trace.SpanKind, attrs map[string]attribute.Value) (aisen.Descriptor, bool) {
	if system := str(attrs, "rpc.system"); system != "" {
		service, method := str(attrs, "rpc.service"), str(attrs, "rpc.method")
		if service != "" && method != "" {
			return aisen.RPCOperation(system, service, method), true
		}
	}
	if system := str(attrs, "db.system"); system != "" {
		return aisen.DBOperation(system,
			str(attrs, "db.operation.name", "db.operation"),
			str(attrs, "db.collection.name", "db.sql.table")), true
	}
	if system := str(attrs, "messaging.system"); system != "" {
		return aisen.MessagingOperation(system,
			str(attrs, "messaging.operation.type", "messaging.operation"),
			str(attrs, "messaging.destination.name", "messaging.destination")), true
	}
	if method := str(attrs, "http.request.method", "http.method"); method != "" {
		switch kind {
		case trace.SpanKindServer:
			if route := str(attrs, "http.route"); route != "" {
				return aisen.HTTPOperation(method, route), true
			}
		case trace.SpanKindClient:
			if host := str(attrs, "server.address", "net.peer.name"); host != "" {
				return aisen.HTTPClientOperation(method, host), true
			}
		}
	}
	return aisen.Descriptor{}, false
}

// spanError prefers a recorded exception event over the status description.
func spanError(s sdktrace.ReadOnlySpan) error {
	for _, ev := range s.Events() {
		if ev.Name != "exception" {
			continue
		}
		m := attributesToMap(ev.Attributes)
		if msg := str(m, "exception.message"); msg != "" {
			if typ := str(m, "exception.type"); typ != "" {
				return fmt.Errorf("%s: %s", typ, msg)
			}
			return errors.New(msg)
		}
	}
	if d := s.Status().Description; d != "" {
		return errors.New(d)
	}
	return fmt.Errorf("span %q ended with error status", s.Name())
}

func operationAttributes(s sdktrace.ReadOnlySpan, attrs map[string]attribute.Value) map[string]any {
	out := map[string]any{
		"otel.span_name": s.Name(),
		"otel.span_kind": s.SpanKind().String(),
	}
	if sc := s.SpanContext(); sc.IsValid() {
		out["otel.trace_id"] = sc.TraceID().String()
		out["otel.span_id"] = sc.SpanID().String()
	}
	for _, k := range []string{
		"http.response.status_code", "http.status_code",
		"http.route", "db.system", "messaging.system", "rpc.system", "rpc.grpc.status_code",
	} {
		if v, ok := attrs[k]; ok {
			out[k] = v.AsInterface()
		}
	}
	return out
}

func attributesToMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

// str returns the first non-empty string value among keys.
func str(attrs map[string]attribute.Value, keys ...string) string {
	for _, k := range keys {
		if v, ok := attrs[k]; ok {
			if s := v.Emit(); s != "" {
				return s
			}
		}
	}
	return ""
}
