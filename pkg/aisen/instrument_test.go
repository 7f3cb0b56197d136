package aisen

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_Success(t *testing.T) {
	sink := &fakeIngestion{}
	d := TaskOperation("nightly-report")

	err := Instrument(sink, d, func(ctx context.Context) error { return nil })(context.Background())

	require.NoError(t, err)
	ops := sink.Operations()
	require.Len(t, ops, 1)
	assert.True(t, ops[0].Success)
	assert.Equal(t, d, ops[0].Descriptor)
	assert.Empty(t, sink.Exceptions())
}

func TestInstrument_ErrorReportsFailureAndException(t *testing.T) {
	sink := &fakeIngestion{}
	d := TaskOperation("nightly-report")
	want := errors.New("disk full")

	err := Instrument(sink, d, func(ctx context.Context) error { return want })(context.Background())

	assert.Same(t, want, err)
	ops := sink.Operations()
	require.Len(t, ops, 1)
	assert.False(t, ops[0].Success)
	assert.Same(t, want, ops[0].Err)

	exc := sink.Exceptions()
	require.Len(t, exc, 1)
	assert.Same(t, want, exc[0].err)
	assert.Equal(t, "task:nightly-report", exc[0].cfg.fingerprint)
}

func TestInstrumentValue_ReturnsResult(t *testing.T) {
	sink := &fakeIngestion{}

	fn := InstrumentValue(sink, CacheOperation("redis", "GET"), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	got, err := fn(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	require.Len(t, sink.Operations(), 1)
}

func TestInstrument_PanicIsCapturedAndReraised(t *testing.T) {
	sink := &fakeIngestion{}
	d := AgentOperation("planner")
	fn := Instrument(sink, d, func(ctx context.Context) error { panic("nil map") })

	assert.PanicsWithValue(t, "nil map", func() { _ = fn(context.Background()) })

	ops := sink.Operations()
	require.Len(t, ops, 1)
	assert.False(t, ops[0].Success)
	var pe *PanicError
	assert.ErrorAs(t, ops[0].Err, &pe)

	exc := sink.Exceptions()
	require.Len(t, exc, 1)
	assert.Equal(t, SeverityCrash, exc[0].cfg.severity)
	assert.Equal(t, "agent:planner", exc[0].cfg.fingerprint)
	assert.NotEmpty(t, exc[0].cfg.stackTrace)
}

func TestInstrument_SinkPanicDoesNotReachCaller(t *testing.T) {
	sink := &fakeIngestion{panicOnOp: true}

	var err error
	assert.NotPanics(t, func() {
		err = Instrument(sink, TaskOperation("x"), func(ctx context.Context) error { return nil })(context.Background())
	})
	assert.NoError(t, err)
}

func TestInstrument_WithClientDrivesIncidents(t *testing.T) {
	c, sink := newTestClient(t, nil)
	d := TaskOperation("sync-orders")
	calls := 0
	fn := Instrument(c, d, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("upstream 503")
		}
		return nil
	})

	for i := 0; i < 4; i++ {
		_ = fn(context.Background())
	}

	events := delivered(t, c, sink)
	assert.Equal(t,
		[]EventKind{KindOperationFailure, KindIncidentOpened, KindError, KindIncidentResolved},
		kinds(events))
	assert.Empty(t, c.Incidents())
}
