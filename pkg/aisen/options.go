// options.go defines the resolved client configuration and its validation.

package aisen

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Configuration errors. They are only ever returned from New and Init.
var (
	ErrMissingEndpoint   = errors.New("aisen: endpoint is required")
	ErrMissingAPIKey     = errors.New("aisen: api key is required")
	ErrMissingProjectID  = errors.New("aisen: project id is required")
	ErrInvalidSampleRate = errors.New("aisen: sample rate must be within [0, 1]")
)

// Options is the resolved client configuration. Zero sizes, intervals,
// timeouts and thresholds fall back to the values of DefaultOptions. SampleRate
// and MaxRetries are taken as given: a zero SampleRate keeps no sampled events
// and a zero MaxRetries sends each batch once.
type Options struct {
	Endpoint  string
	APIKey    string
	ProjectID string

	Environment string
	Release     string
	ServiceName string

	// SampleRate is the probability of keeping a non-lifecycle event.
	SampleRate float64

	BufferSize      int
	BatchMaxEvents  int
	FlushInterval   time.Duration
	MaxRetries      int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	DropPolicy      DropPolicy

	// ResolutionThreshold is the number of consecutive successes that
	// resolve an incident.
	ResolutionThreshold int
	IncidentShards      int

	// Sanitize runs Sanitizer on every event before it is buffered.
	Sanitize  bool
	Sanitizer Sanitizer

	// CaptureSuccessEvents emits operation_success events. Successes always
	// feed incident tracking either way.
	CaptureSuccessEvents bool

	MaxBreadcrumbs int

	// Compress gzips large HTTP request bodies.
	Compress bool

	// Sink replaces the default HTTP sink. Credentials are not required when set.
	Sink Sink

	HTTPClient    *http.Client
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
}

// DefaultOptions returns production defaults. Credentials are left empty.
func DefaultOptions() Options {
	t := DefaultTransportConfig()
	return Options{
		SampleRate:          1.0,
		BufferSize:          t.BufferSize,
		BatchMaxEvents:      t.BatchMaxEvents,
		FlushInterval:       t.FlushInterval,
		MaxRetries:          t.MaxRetries,
		RequestTimeout:      t.RequestTimeout,
		ShutdownTimeout:     t.ShutdownTimeout,
		BackoffInitial:      t.BackoffInitial,
		BackoffMax:          t.BackoffMax,
		DropPolicy:          DropOldest,
		ResolutionThreshold: DefaultResolutionThreshold,
		IncidentShards:      DefaultIncidentShards,
		Sanitize:            true,
		MaxBreadcrumbs:      DefaultMaxBreadcrumbs,
		Compress:            true,
	}
}

// Option adjusts Options after they are passed to New.
type Option func(*Options)

// WithSink delivers batches to sink instead of the HTTP collector.
func WithSink(sink Sink) Option {
	return func(o *Options) {
		o.Sink = sink
	}
}

// WithLogger sets the logger used for internal diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMeterProvider sets the provider for the client's OTEL counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Options) {
		o.MeterProvider = mp
	}
}

// WithSanitizer enables sanitization with fn.
func WithSanitizer(fn Sanitizer) Option {
	return func(o *Options) {
		o.Sanitize = true
		o.Sanitizer = fn
	}
}

// WithHTTPClient sets the client used by the default HTTP sink.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = c
	}
}

// Validate reports configuration errors.
func (o Options) Validate() error {
	if o.SampleRate < 0 || o.SampleRate > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidSampleRate, o.SampleRate)
	}
	if o.Sink != nil {
		return nil
	}
	if o.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if o.APIKey == "" {
		return ErrMissingAPIKey
	}
	if o.ProjectID == "" {
		return ErrMissingProjectID
	}
	return nil
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.BatchMaxEvents <= 0 {
		o.BatchMaxEvents = d.BatchMaxEvents
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = d.FlushInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = d.ShutdownTimeout
	}
	if o.ResolutionThreshold <= 0 {
		o.ResolutionThreshold = d.ResolutionThreshold
	}
	if o.IncidentShards <= 0 {
		o.IncidentShards = d.IncidentShards
	}
	if o.MaxBreadcrumbs <= 0 {
		o.MaxBreadcrumbs = d.MaxBreadcrumbs
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Sanitize && o.Sanitizer == nil {
		o.Sanitizer = NewPIISanitizer(DefaultScrubberConfig())
	}
	return o
}

func (o Options) transportConfig() TransportConfig {
	return TransportConfig{
		BufferSize:      o.BufferSize,
		BatchMaxEvents:  o.BatchMaxEvents,
		FlushInterval:   o.FlushInterval,
		MaxRetries:      o.MaxRetries,
		RequestTimeout:  o.RequestTimeout,
		ShutdownTimeout: o.ShutdownTimeout,
		BackoffInitial:  o.BackoffInitial,
		BackoffMax:      o.BackoffMax,
		DropPolicy:      o.DropPolicy,
		Logger:          o.Logger,
		MeterProvider:   o.MeterProvider,
	}
}
