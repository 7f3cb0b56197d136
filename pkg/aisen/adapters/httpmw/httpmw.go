// Package httpmw instruments net/http servers and clients.
//
// Server requests become http operations keyed by route template; responses
// with a 5xx status and panics are failures. Each request runs in its own
// scope frame tagged with the method and route; its request context carries
// the query string and headers with credentials redacted. Outbound requests made
// through RoundTripper become http.client operations keyed by method and host.
package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// Adapter reports HTTP traffic once installed on a client. Handlers and
// transports built before Install pass traffic through unrecorded.
type Adapter struct {
	sink atomic.Pointer[sinkRef]
}

type sinkRef struct{ aisen.IngestionSink }

var _ aisen.Adapter = (*Adapter)(nil)

// New returns an uninstalled adapter.
func New() *Adapter {
	return &Adapter{}
}

// Name implements aisen.Adapter.
func (a *Adapter) Name() string { return "net/http" }

// Install implements aisen.Adapter.
func (a *Adapter) Install(sink aisen.IngestionSink) error {
	if sink == nil {
		return fmt.Errorf("httpmw: nil sink")
	}
	a.sink.Store(&sinkRef{sink})
	return nil
}

func (a *Adapter) current() aisen.IngestionSink {
	if ref := a.sink.Load(); ref != nil {
		return ref.IngestionSink
	}
	return nil
}

// Handler wraps next. When next is an *http.ServeMux the matched pattern is
// used as the route; otherwise the path is normalized.
func (a *Adapter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sink := a.current()
		if sink == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx, scope, pop := aisen.PushScope(r.Context())
		defer pop()
		scope.SetTag("http.method", r.Method)
		scope.SetContext("request", map[string]any{
			"path":       r.URL.Path,
			"query":      RedactQuery(r.URL.RawQuery),
			"headers":    RedactHeaders(r.Header),
			"user_agent": r.UserAgent(),
		})
		scope.AddBreadcrumb(aisen.Breadcrumb{
			Category: "http",
			Message:  r.Method + " " + r.URL.Path,
		})

		req := r.WithContext(ctx)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if p == http.ErrAbortHandler {
				panic(p)
			}
			route := routeOf(req)
			scope.SetTag("http.route", route)
			report(sink, req, route, http.StatusInternalServerError, time.Since(start), &aisen.PanicError{Value: p})
			sink.CaptureException(ctx, &aisen.PanicError{Value: p},
				aisen.WithFingerprint(aisen.Fingerprint(aisen.HTTPOperation(r.Method, route))),
				aisen.WithSeverity(aisen.SeverityCrash),
				aisen.WithStackTrace(string(debug.Stack())))
			panic(p)
		}()

		next.ServeHTTP(rec, req)

		route := routeOf(req)
		scope.SetTag("http.route", route)
		report(sink, req, route, rec.Status(), time.Since(start), nil)
	})
}

func report(sink aisen.IngestionSink, r *http.Request, route string, status int, elapsed time.Duration, err error) {
	op := aisen.Operation{
		Descriptor: aisen.HTTPOperation(r.Method, route),
		Success:    err == nil && status < http.StatusInternalServerError,
		Duration:   elapsed,
		Err:        err,
		Attributes: map[string]any{
			"http.method":      r.Method,
			"http.route":       route,
			"http.status_code": status,
		},
	}
	if op.Err == nil && !op.Success {
		op.Err = fmt.Errorf("%s %s returned %d", r.Method, route, status)
	}
	sink.RecordOperation(r.Context(), op)
}

// routeOf returns the ServeMux pattern without its method, or the
// normalized path when no pattern matched.
func routeOf(r *http.Request) string {
	if p := r.Pattern; p != "" {
		if _, path, ok := strings.Cut(p, " "); ok {
			return path
		}
		return p
	}
	return NormalizePath(r.URL.Path)
}

// NormalizePath collapses identifier-like path segments to "{id}" so that
// /users/42 and /users/43 share a fingerprint.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if isIdentifier(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isIdentifier(seg string) bool {
	if seg == "" {
		return false
	}
	if _, err := strconv.ParseUint(seg, 10, 64); err == nil {
		return true
	}
	if len(seg) == 36 || len(seg) == 32 {
		if _, err := uuid.Parse(seg); err == nil {
			return true
		}
	}
	return len(seg) >= 16 && isHex(seg)
}

func isHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// statusRecorder captures the response status.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// RoundTripper wraps base (http.DefaultTransport when nil) so outbound
// requests are recorded. Transport errors and 5xx responses are failures.
func (a *Adapter) RoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return roundTripper{adapter: a, base: base}
}

type roundTripper struct {
	adapter *Adapter
	base    http.RoundTripper
}

func (t roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	sink := t.adapter.current()
	if sink == nil {
		return t.base.RoundTrip(req)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)

	op := aisen.Operation{
		Descriptor: aisen.HTTPClientOperation(req.Method, req.URL.Host),
		Success:    err == nil && resp.StatusCode < http.StatusInternalServerError,
		Duration:   time.Since(start),
		Err:        err,
		Attributes: map[string]any{
			"http.method": req.Method,
			"server.host": req.URL.Host,
		},
	}
	if resp != nil {
		op.Attributes["http.status_code"] = resp.StatusCode
		if !op.Success {
			op.Err = fmt.Errorf("%s %s returned %d", req.Method, req.URL.Host, resp.StatusCode)
		}
	}
	sink.RecordOperation(req.Context(), op)

	aisen.ScopeFromContext(req.Context()).AddBreadcrumb(aisen.Breadcrumb{
		Category: "http.client",
		Message:  req.Method + " " + req.URL.Host + req.URL.Path,
		Data:     map[string]any{"status_code": op.Attributes["http.status_code"]},
	})
	return resp, err
}
