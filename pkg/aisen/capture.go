// capture.go defines the ingestion contract used by adapters and the per-call capture options.

package aisen

import (
	"context"
	"maps"
	"time"
)

// IngestionSink is the entry point adapters report into. *Client implements it.
type IngestionSink interface {
	// RecordOperation reports the outcome of one instrumented operation and
	// returns the ID of the emitted event, or "" if none was emitted.
	RecordOperation(ctx context.Context, op Operation) string

	// CaptureException reports an error and returns the event ID, or "" if
	// the event was dropped.
	CaptureException(ctx context.Context, err error, opts ...CaptureOption) string
}

// Operation is the outcome of one instrumented operation.
type Operation struct {
	Descriptor Descriptor
	Success    bool
	Duration   time.Duration

	// Attributes are copied onto the outcome event. Non-scalar values are
	// converted to strings.
	Attributes map[string]any

	// Fingerprint overrides the fingerprint computed from Descriptor.
	Fingerprint string

	// Err optionally describes a failure.
	Err error
}

func (op Operation) fingerprint() string {
	if op.Fingerprint != "" {
		return op.Fingerprint
	}
	return Fingerprint(op.Descriptor)
}

// CaptureOption adjusts a single capture call.
type CaptureOption func(*captureConfig)

type captureConfig struct {
	fingerprint string
	descriptor  *Descriptor
	attributes  map[string]any
	extra       map[string]any
	severity    Severity
	stackTrace  string
}

func newCaptureConfig(opts []CaptureOption) captureConfig {
	var cfg captureConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithFingerprint overrides the computed fingerprint.
func WithFingerprint(fp string) CaptureOption {
	return func(c *captureConfig) {
		c.fingerprint = fp
	}
}

// WithOperation attributes the capture to an operation. An exception
// captured this way uses the operation's fingerprint and counts as a failure
// of that operation for incident tracking.
func WithOperation(d Descriptor) CaptureOption {
	return func(c *captureConfig) {
		c.descriptor = &d
	}
}

// WithAttributes adds event attributes.
func WithAttributes(attrs map[string]any) CaptureOption {
	return func(c *captureConfig) {
		if c.attributes == nil {
			c.attributes = make(map[string]any, len(attrs))
		}
		maps.Copy(c.attributes, attrs)
	}
}

// WithExtra adds one extra context value for this event only.
func WithExtra(key string, value any) CaptureOption {
	return func(c *captureConfig) {
		if c.extra == nil {
			c.extra = make(map[string]any)
		}
		c.extra[key] = value
	}
}

// WithSeverity overrides the default severity.
func WithSeverity(s Severity) CaptureOption {
	return func(c *captureConfig) {
		c.severity = s
	}
}

// WithStackTrace supplies a stack trace instead of capturing the current one.
// Use it when reporting a panic recovered on another frame.
func WithStackTrace(stack string) CaptureOption {
	return func(c *captureConfig) {
		c.stackTrace = stack
	}
}
