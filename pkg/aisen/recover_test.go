package aisen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedException struct {
	err error
	cfg captureConfig
}

// fakeIngestion records what adapters and helpers report.
type fakeIngestion struct {
	mu         sync.Mutex
	ops        []Operation
	exceptions []capturedException
	panicOnOp  bool
}

func (f *fakeIngestion) RecordOperation(_ context.Context, op Operation) string {
	if f.panicOnOp {
		panic("sink exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return "op"
}

func (f *fakeIngestion) CaptureException(_ context.Context, err error, opts ...CaptureOption) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exceptions = append(f.exceptions, capturedException{err: err, cfg: newCaptureConfig(opts)})
	return "exc"
}

func (f *fakeIngestion) Operations() []Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Operation(nil), f.ops...)
}

func (f *fakeIngestion) Exceptions() []capturedException {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedException(nil), f.exceptions...)
}

func TestRecover_CapturesPanic(t *testing.T) {
	sink := &fakeIngestion{}

	func() {
		defer Recover(context.Background(), sink)
		panic("test panic")
	}()

	got := sink.Exceptions()
	require.Len(t, got, 1)
	assert.Equal(t, SeverityCrash, got[0].cfg.severity)
	assert.Equal(t, "panic", ErrorType(got[0].err))
	assert.Equal(t, "panic: test panic", got[0].err.Error())

	var pe *PanicError
	require.ErrorAs(t, got[0].err, &pe)
	assert.Equal(t, "test panic", pe.Value)
}

func TestRecover_IncludesStackTrace(t *testing.T) {
	sink := &fakeIngestion{}

	func() {
		defer Recover(context.Background(), sink)
		panic("stack trace test")
	}()

	got := sink.Exceptions()
	require.Len(t, got, 1)
	if !strings.Contains(got[0].cfg.stackTrace, "goroutine") {
		t.Errorf("stack trace should contain goroutine info, got %q", got[0].cfg.stackTrace)
	}
}

func TestRecover_NoPanic_NoEventRecorded(t *testing.T) {
	sink := &fakeIngestion{}

	func() {
		defer Recover(context.Background(), sink)
	}()

	assert.Empty(t, sink.Exceptions())
}

func TestRecover_HandlesErrorPanic(t *testing.T) {
	sink := &fakeIngestion{}
	testErr := &testError{msg: "error panic"}

	func() {
		defer Recover(context.Background(), sink)
		panic(testErr)
	}()

	got := sink.Exceptions()
	require.Len(t, got, 1)
	assert.Equal(t, "panic: error panic", got[0].err.Error())
	assert.True(t, errors.Is(got[0].err, testErr))
}

func TestRecover_PassesCaptureOptions(t *testing.T) {
	sink := &fakeIngestion{}

	func() {
		defer Recover(context.Background(), sink, WithFingerprint("worker:ingest"), WithSeverity(SeverityError))
		panic("boom")
	}()

	got := sink.Exceptions()
	require.Len(t, got, 1)
	assert.Equal(t, "worker:ingest", got[0].cfg.fingerprint)
	assert.Equal(t, SeverityError, got[0].cfg.severity, "caller options override the crash default")
}

func TestRecover_NilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover(context.Background(), nil)
		panic("unreported")
	})
}

func TestRecover_WithClientIncludesContextID(t *testing.T) {
	c, sink := newTestClient(t, nil)
	ctx := WithContextID(context.Background(), 12345)

	func() {
		defer Recover(ctx, c)
		panic("context id test")
	}()

	events := delivered(t, c, sink)
	require.Len(t, events, 1)
	assert.Equal(t, SeverityCrash, events[0].Severity)
	assert.Equal(t, "panic", events[0].ErrorType)
	require.NotNil(t, events[0].ContextID)
	assert.Equal(t, uint64(12345), *events[0].ContextID)
}

// testError is a custom error type for testing.
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
