// Package stderr provides a sink that prints events in human-readable form.
// Useful for development and debugging.
package stderr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// StderrSinkOption configures the stderr sink.
type StderrSinkOption func(*stderrSinkConfig)

type stderrSinkConfig struct {
	verbose bool
	out     io.Writer
}

// WithVerbose enables full event details including stack traces and breadcrumbs.
func WithVerbose() StderrSinkOption {
	return func(c *stderrSinkConfig) {
		c.verbose = true
	}
}

// WithWriter redirects output, which defaults to os.Stderr.
func WithWriter(w io.Writer) StderrSinkOption {
	return func(c *stderrSinkConfig) {
		c.out = w
	}
}

// stderrSink writes events in human-readable format.
type stderrSink struct {
	verbose bool

	mu  sync.Mutex
	out io.Writer
}

// NewStderrSink creates a sink that writes to stderr.
func NewStderrSink(opts ...StderrSinkOption) aisen.Sink {
	cfg := &stderrSinkConfig{out: os.Stderr}
	for _, opt := range opts {
		opt(cfg)
	}
	return &stderrSink{
		verbose: cfg.verbose,
		out:     cfg.out,
	}
}

// Send prints every event in the batch.
func (s *stderrSink) Send(ctx context.Context, batch aisen.Batch) error {
	var b strings.Builder
	for _, event := range batch.Events() {
		s.format(&b, event)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.out, b.String())
	return err
}

func (s *stderrSink) format(b *strings.Builder, event aisen.Event) {
	// Format: [AISEN] <timestamp> <SEVERITY> <kind> [<error_type>] [in <op kind> <op name>]
	timestamp := event.Timestamp.Format("2006-01-02T15:04:05Z07:00")
	severity := strings.ToUpper(string(event.Severity))

	parts := []string{fmt.Sprintf("[AISEN] %s %s %s", timestamp, severity, event.Kind)}
	if event.ErrorType != "" {
		parts = append(parts, event.ErrorType)
	}
	if kind, ok := event.Attributes["operation.kind"].(string); ok && kind != "" {
		op := "in " + kind
		if name, ok := event.Attributes["operation.name"].(string); ok && name != "" {
			op += " " + name
		}
		parts = append(parts, op)
	}
	fmt.Fprintln(b, strings.Join(parts, " "))

	if event.Message != "" {
		fmt.Fprintf(b, "        Message: %s\n", event.Message)
	}
	if event.Fingerprint != "" {
		fmt.Fprintf(b, "        Fingerprint: %s\n", event.Fingerprint)
	}
	if event.ContextID != nil {
		fmt.Fprintf(b, "        Context: %d\n", *event.ContextID)
	}
	if runID, ok := event.Attributes[aisen.AttrRunID].(string); ok {
		fmt.Fprintf(b, "        Run: %s\n", runID)
	}

	if !s.verbose {
		return
	}
	for _, crumb := range event.Scope.Breadcrumbs {
		fmt.Fprintf(b, "        Breadcrumb: %s [%s] %s\n",
			crumb.Timestamp.Format("15:04:05.000"), crumb.Category, crumb.Message)
	}
	if event.StackTrace != "" {
		fmt.Fprintf(b, "        Stack trace:\n")
		for _, line := range strings.Split(event.StackTrace, "\n") {
			fmt.Fprintf(b, "          %s\n", line)
		}
	}
}

// Close is a no-op for stderr sink.
func (s *stderrSink) Close() error {
	return nil
}
