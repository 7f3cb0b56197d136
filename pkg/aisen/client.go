// client.go ties capture, incident tracking and delivery together.

package aisen

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client captures events and delivers them in the background.
// All capture methods are safe for concurrent use, never block on the network,
// and never panic.
type Client struct {
	opts      Options
	logger    *zap.Logger
	root      *Scope
	tracker   *IncidentTracker
	transport *BufferedTransport
	rec       *recorder
	startTime time.Time

	// sample returns a value in [0, 1); replaced in tests.
	sample func() float64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ IngestionSink = (*Client)(nil)

// New validates opts and starts a client. Start from DefaultOptions: a zero
// SampleRate keeps no sampled events. Configuration errors are the only
// errors the client ever returns to its caller.
func New(opts Options, options ...Option) (*Client, error) {
	for _, o := range options {
		o(&opts)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	sink := opts.Sink
	if sink == nil {
		httpSink, err := NewHTTPSink(HTTPSinkConfig{
			Endpoint:  opts.Endpoint,
			APIKey:    opts.APIKey,
			ProjectID: opts.ProjectID,
			Compress:  opts.Compress,
			Client:    opts.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		sink = httpSink
	}

	logger := opts.Logger.Named("aisen")
	rec := newRecorder(opts.MeterProvider, logger)
	tcfg := opts.transportConfig()
	tcfg.Logger = logger

	c := &Client{
		opts:      opts,
		logger:    logger,
		root:      NewScope(opts.MaxBreadcrumbs),
		tracker:   NewIncidentTracker(opts.ResolutionThreshold, opts.IncidentShards),
		transport: newBufferedTransport(sink, tcfg, rec),
		rec:       rec,
		startTime: time.Now(),
		sample:    rand.Float64,
	}
	logger.Debug("Client started",
		zap.String("environment", opts.Environment),
		zap.Float64("sample_rate", opts.SampleRate),
		zap.Int("buffer_size", opts.BufferSize),
		zap.String("drop_policy", opts.DropPolicy.String()))
	return c, nil
}

// RootScope returns the process-wide scope applied beneath every context's
// frames. Values set on it appear on every event, so it is the only way to
// set process defaults.
func (c *Client) RootScope() *Scope {
	if c == nil {
		return nil
	}
	return c.root
}

// CurrentScope returns the innermost frame in ctx, or nil when ctx carries
// no frame. It never returns the root scope.
func (c *Client) CurrentScope(ctx context.Context) *Scope {
	return ScopeFromContext(ctx)
}

// AddBreadcrumb adds a breadcrumb to the current frame. It is ignored when
// ctx carries no frame.
func (c *Client) AddBreadcrumb(ctx context.Context, b Breadcrumb) {
	c.frame(ctx, "add_breadcrumb").AddBreadcrumb(b)
}

// SetTag sets a tag on the current frame. It is ignored when ctx carries no
// frame.
func (c *Client) SetTag(ctx context.Context, key, value string) {
	c.frame(ctx, "set_tag").SetTag(key, value)
}

// SetUser sets the user on the current frame. It is ignored when ctx carries
// no frame.
func (c *Client) SetUser(ctx context.Context, u User) {
	c.frame(ctx, "set_user").SetUser(u)
}

func (c *Client) frame(ctx context.Context, op string) *Scope {
	s := ScopeFromContext(ctx)
	if s == nil && c != nil {
		c.logger.Debug("Ignored scope mutation, context has no scope frame", zap.String("op", op))
	}
	return s
}

// CaptureException records err as an error event and returns its ID, or ""
// if err is nil or the event was dropped.
func (c *Client) CaptureException(ctx context.Context, err error, opts ...CaptureOption) (id string) {
	if c == nil || err == nil {
		return ""
	}
	defer c.guard("capture_exception", &id)

	cfg := newCaptureConfig(opts)
	now := time.Now()

	e := c.newEvent(ctx, KindError, now)
	e.Severity = cfg.severityOr(SeverityError)
	e.Message = err.Error()
	e.ErrorType = ErrorType(err)
	e.StackTrace = cfg.stackTrace
	if e.StackTrace == "" {
		e.StackTrace = string(debug.Stack())
	}
	maps.Copy(e.Attributes, CaptureSystemState(c.startTime).Attributes())
	c.applyConfig(&e, cfg)

	var (
		tr     Transition
		opened bool
	)
	switch {
	case cfg.fingerprint != "":
		e.Fingerprint = cfg.fingerprint
	case cfg.descriptor != nil:
		e.Fingerprint = Fingerprint(*cfg.descriptor)
	default:
		e.Fingerprint = ExceptionFingerprint(e.ErrorType, e.StackTrace)
	}
	if cfg.descriptor != nil {
		tr, opened = c.tracker.RecordFailure(e.Fingerprint, now)
	}

	id = c.dispatch(e, true)
	if opened {
		c.emitLifecycle(ctx, tr)
	}
	return id
}

// CaptureMessage records a message event.
func (c *Client) CaptureMessage(ctx context.Context, text string, level Severity, opts ...CaptureOption) (id string) {
	if c == nil {
		return ""
	}
	defer c.guard("capture_message", &id)

	cfg := newCaptureConfig(opts)
	e := c.newEvent(ctx, KindMessage, time.Now())
	e.Message = text
	e.Severity = level
	if cfg.severity != "" {
		e.Severity = cfg.severity
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	c.applyConfig(&e, cfg)
	switch {
	case cfg.fingerprint != "":
		e.Fingerprint = cfg.fingerprint
	case cfg.descriptor != nil:
		e.Fingerprint = Fingerprint(*cfg.descriptor)
	}
	return c.dispatch(e, true)
}

// RecordOperation feeds an operation outcome to incident tracking. Failures
// emit an operation_failure event; successes emit operation_success only when
// CaptureSuccessEvents is set. Lifecycle events produced by the outcome are
// delivered after it and are never sampled.
func (c *Client) RecordOperation(ctx context.Context, op Operation) (id string) {
	if c == nil {
		return ""
	}
	defer c.guard("record_operation", &id)

	now := time.Now()
	fp := op.fingerprint()

	var (
		tr      Transition
		changed bool
	)
	if op.Success {
		tr, changed = c.tracker.RecordSuccess(fp, now)
	} else {
		tr, changed = c.tracker.RecordFailure(fp, now)
	}

	if !op.Success || c.opts.CaptureSuccessEvents {
		kind := KindOperationFailure
		severity := SeverityError
		if op.Success {
			kind = KindOperationSuccess
			severity = SeverityInfo
		}

		e := c.newEvent(ctx, kind, now)
		e.Fingerprint = fp
		e.Severity = severity
		for k, v := range op.Attributes {
			e.Attributes[k] = scalar(v)
		}
		e.Attributes["operation.kind"] = op.Descriptor.Kind
		if op.Descriptor.Name != "" {
			e.Attributes["operation.name"] = op.Descriptor.Name
		}
		e.Attributes["duration_ms"] = op.Duration.Milliseconds()
		if !op.Success {
			e.Message = "operation failed: " + fp
			if op.Err != nil {
				e.Message = op.Err.Error()
				e.ErrorType = ErrorType(op.Err)
			}
		}
		id = c.dispatch(e, true)
	}

	if changed {
		c.emitLifecycle(ctx, tr)
	}
	return id
}

// Capture enqueues a caller-built event. Missing ID, timestamp and kind are
// filled in and the current scope is attached when e has none. Capture does
// not drive incident tracking.
func (c *Client) Capture(ctx context.Context, e Event) (id string) {
	if c == nil {
		return ""
	}
	defer c.guard("capture", &id)

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Kind == "" {
		e.Kind = KindMessage
	}
	e = copyEvent(e)
	e.Attributes = normalizeAttributes(e.Attributes)
	e.Scope.Extra = normalizeValues(e.Scope.Extra)
	if isEmptySnapshot(e.Scope) {
		e.Scope = c.snapshot(ctx)
	}
	c.stamp(ctx, &e)
	return c.dispatch(e, !e.Kind.IsLifecycle())
}

// Flush delivers everything buffered so far.
func (c *Client) Flush(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.transport.Flush(ctx)
}

// Close performs a final flush bounded by ShutdownTimeout and stops delivery.
// It is safe to call more than once; later calls return the first result.
func (c *Client) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.transport.Close(ctx)
		stats := c.Stats()
		c.logger.Debug("Client closed",
			zap.Uint64("events_sent", stats.EventsSent),
			zap.Uint64("events_dropped", stats.EventsDropped),
			zap.Error(c.closeErr))
	})
	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	return c != nil && c.closed.Load()
}

// Stats returns the client's counters.
func (c *Client) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	s := c.transport.Stats()
	s.OpenIncidents = c.tracker.Len()
	return s
}

// Incidents returns the currently open incidents.
func (c *Client) Incidents() []Incident {
	if c == nil {
		return nil
	}
	return c.tracker.Open()
}

// RegisterAdapters installs each adapter against this client. Every adapter
// is attempted; failures are joined.
func (c *Client) RegisterAdapters(adapters ...Adapter) error {
	var errs []error
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if err := a.Install(c); err != nil {
			errs = append(errs, fmt.Errorf("install %s: %w", a.Name(), err))
			continue
		}
		c.logger.Debug("Adapter installed", zap.String("adapter", a.Name()))
	}
	return errors.Join(errs...)
}

func (c *Client) newEvent(ctx context.Context, kind EventKind, at time.Time) Event {
	e := Event{
		ID:         uuid.NewString(),
		Timestamp:  at,
		Kind:       kind,
		Attributes: make(map[string]any),
		Scope:      c.snapshot(ctx),
	}
	c.stamp(ctx, &e)
	return e
}

func (c *Client) stamp(ctx context.Context, e *Event) {
	if e.Environment == "" {
		e.Environment = c.opts.Environment
	}
	if e.Release == "" {
		e.Release = c.opts.Release
	}
	if c.opts.ServiceName != "" {
		if e.Attributes == nil {
			e.Attributes = make(map[string]any, 1)
		}
		e.Attributes["service.name"] = c.opts.ServiceName
	}
	stampCorrelation(ctx, e)
}

func (c *Client) snapshot(ctx context.Context) ScopeSnapshot {
	frames := []*Scope{c.root}
	if s := ScopeFromContext(ctx); s != nil {
		frames = append(frames, s.chain()...)
	}
	snap := mergeScopes(c.opts.MaxBreadcrumbs, frames...)
	snap.Extra = normalizeValues(snap.Extra)
	return snap
}

func (c *Client) applyConfig(e *Event, cfg captureConfig) {
	for k, v := range cfg.attributes {
		e.Attributes[k] = scalar(v)
	}
	if cfg.descriptor != nil {
		e.Attributes["operation.kind"] = cfg.descriptor.Kind
		if cfg.descriptor.Name != "" {
			e.Attributes["operation.name"] = cfg.descriptor.Name
		}
	}
	if len(cfg.extra) > 0 {
		if e.Scope.Extra == nil {
			e.Scope.Extra = make(map[string]any, len(cfg.extra))
		}
		maps.Copy(e.Scope.Extra, normalizeValues(cfg.extra))
	}
}

func (cfg captureConfig) severityOr(def Severity) Severity {
	if cfg.severity != "" {
		return cfg.severity
	}
	return def
}

func (c *Client) emitLifecycle(ctx context.Context, tr Transition) {
	c.rec.incident(tr.Kind)

	e := c.newEvent(ctx, tr.Kind, tr.At)
	e.Fingerprint = tr.Incident.Fingerprint
	e.Attributes["incident.opened_at"] = scalar(tr.Incident.OpenedAt)
	e.Attributes["incident.last_failure_at"] = scalar(tr.Incident.LastFailureAt)

	switch tr.Kind {
	case KindIncidentOpened:
		e.Severity = SeverityError
		e.Message = "incident opened: " + e.Fingerprint
	case KindIncidentResolved:
		e.Severity = SeverityInfo
		e.Message = "incident resolved: " + e.Fingerprint
		e.Attributes["incident.consecutive_successes"] = tr.Incident.ConsecutiveSuccesses
		e.Attributes["incident.duration_ms"] = tr.At.Sub(tr.Incident.OpenedAt).Milliseconds()
	}

	c.logger.Debug("Incident transition",
		zap.String("kind", string(tr.Kind)),
		zap.String("fingerprint", e.Fingerprint))
	c.dispatch(e, false)
}

// dispatch samples, sanitizes and enqueues e. It returns "" when e is dropped.
func (c *Client) dispatch(e Event, sampled bool) string {
	c.rec.eventsCaptured.Add(1)
	if sampled && !c.keep() {
		c.rec.eventsSampledOut.Add(1)
		return ""
	}

	if c.opts.Sanitize && c.opts.Sanitizer != nil {
		out, err := sanitize(c.opts.Sanitizer, copyEvent(e))
		if err != nil {
			c.rec.sanitizerFailed()
			c.logger.Warn("Dropped event, sanitizer failed",
				zap.String("kind", string(e.Kind)),
				zap.String("fingerprint", e.Fingerprint),
				zap.Error(err))
			return ""
		}
		e = out
	}

	if !c.transport.Enqueue(e) {
		return ""
	}
	return e.ID
}

func (c *Client) keep() bool {
	rate := c.opts.SampleRate
	switch {
	case rate >= 1:
		return true
	case rate <= 0:
		return false
	default:
		return c.sample() < rate
	}
}

// guard turns a panic on the capture path into a counted, logged drop.
func (c *Client) guard(op string, id *string) {
	if r := recover(); r != nil {
		c.rec.captureErrors.Add(1)
		c.logger.Warn("Recovered panic in capture path",
			zap.String("op", op),
			zap.String("panic", formatRecovered(r)))
		*id = ""
	}
}

func isEmptySnapshot(s ScopeSnapshot) bool {
	return s.User == nil && len(s.Tags) == 0 && len(s.Extra) == 0 && len(s.Breadcrumbs) == 0
}
