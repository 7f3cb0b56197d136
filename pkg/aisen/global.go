// global.go provides an optional process-wide client over the explicit API.

package aisen

import (
	"context"
	"sync/atomic"
)

var current atomic.Pointer[Client]

// Init creates a client and makes it the process-wide instance. A previous
// instance is closed after the swap, so the last call wins. On error the
// previous instance stays active.
func Init(ctx context.Context, opts Options, options ...Option) (*Client, error) {
	c, err := New(opts, options...)
	if err != nil {
		return nil, err
	}
	if prev := current.Swap(c); prev != nil {
		_ = prev.Close(ctx)
	}
	return c, nil
}

// CurrentClient returns the process-wide client, or nil before Init.
func CurrentClient() *Client {
	return current.Load()
}

// Close closes and clears the process-wide client. It is a no-op when none
// is set.
func Close(ctx context.Context) error {
	c := current.Swap(nil)
	if c == nil {
		return nil
	}
	return c.Close(ctx)
}

// CaptureException reports err to the process-wide client.
func CaptureException(ctx context.Context, err error, opts ...CaptureOption) string {
	return CurrentClient().CaptureException(ctx, err, opts...)
}

// CaptureMessage reports a message to the process-wide client.
func CaptureMessage(ctx context.Context, text string, level Severity, opts ...CaptureOption) string {
	return CurrentClient().CaptureMessage(ctx, text, level, opts...)
}

// RecordOperation reports an operation outcome to the process-wide client.
func RecordOperation(ctx context.Context, op Operation) string {
	return CurrentClient().RecordOperation(ctx, op)
}

// Flush flushes the process-wide client.
func Flush(ctx context.Context) error {
	return CurrentClient().Flush(ctx)
}
