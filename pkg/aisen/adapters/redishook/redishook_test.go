package redishook

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newHook(t *testing.T, opts ...Option) (*hook, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	a := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), opts...)
	require.NoError(t, a.Install(sink))
	return &hook{adapter: a}, sink
}

func TestProcessHook_Success(t *testing.T) {
	h, sink := newHook(t)
	ctx, scope, pop := aisen.PushScope(context.Background())
	defer pop()

	cmd := redis.NewStringCmd(ctx, "get", "session:42")
	err := h.ProcessHook(func(context.Context, redis.Cmder) error { return nil })(ctx, cmd)
	require.NoError(t, err)

	ops := sink.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, aisen.CacheOperation("redis", "GET"), ops[0].Descriptor)
	assert.Equal(t, "cache:redis:GET", aisen.Fingerprint(ops[0].Descriptor))
	assert.True(t, ops[0].Success)
	assert.Equal(t, "GET", ops[0].Attributes["db.operation"])
	assert.NotContains(t, ops[0].Attributes, "db.redis.pipeline_size")

	crumbs := scope.Snapshot().Breadcrumbs
	require.Len(t, crumbs, 1)
	assert.Equal(t, "GET", crumbs[0].Message)
	assert.NotContains(t, crumbs[0].Message, "session:42")
}

func TestProcessHook_MissIsSuccess(t *testing.T) {
	h, sink := newHook(t)
	ctx := context.Background()

	cmd := redis.NewStringCmd(ctx, "get", "absent")
	err := h.ProcessHook(func(_ context.Context, c redis.Cmder) error {
		c.SetErr(redis.Nil)
		return redis.Nil
	})(ctx, cmd)

	assert.ErrorIs(t, err, redis.Nil, "the reply is passed through unchanged")
	require.Len(t, sink.Operations(), 1)
	assert.True(t, sink.Operations()[0].Success)
	assert.NoError(t, sink.Operations()[0].Err)
}

func TestProcessHook_Failure(t *testing.T) {
	h, sink := newHook(t, WithSystem("valkey"))
	boom := errors.New("connection reset")

	cmd := redis.NewStatusCmd(context.Background(), "set", "k", "v")
	err := h.ProcessHook(func(context.Context, redis.Cmder) error { return boom })(context.Background(), cmd)

	assert.ErrorIs(t, err, boom)
	ops := sink.Operations()
	require.Len(t, ops, 1)
	assert.False(t, ops[0].Success)
	assert.ErrorIs(t, ops[0].Err, boom)
	assert.Equal(t, "cache:valkey:SET", aisen.Fingerprint(ops[0].Descriptor))
}

func TestProcessPipelineHook(t *testing.T) {
	h, sink := newHook(t)
	ctx := context.Background()

	get := redis.NewStringCmd(ctx, "get", "a")
	incr := redis.NewIntCmd(ctx, "incr", "b")
	miss := redis.NewStringCmd(ctx, "get", "c")
	boom := errors.New("WRONGTYPE")

	err := h.ProcessPipelineHook(func(_ context.Context, cmds []redis.Cmder) error {
		cmds[1].SetErr(boom)
		cmds[2].SetErr(redis.Nil)
		return boom
	})(ctx, []redis.Cmder{get, incr, miss})

	assert.ErrorIs(t, err, boom)
	ops := sink.Operations()
	require.Len(t, ops, 3)
	for _, op := range ops {
		assert.Equal(t, 3, op.Attributes["db.redis.pipeline_size"])
	}
	assert.False(t, ops[0].Success, "a failed pipeline fails commands without their own reply")
	assert.False(t, ops[1].Success)
	assert.True(t, ops[2].Success)
	assert.Equal(t, "cache:redis:INCR", aisen.Fingerprint(ops[1].Descriptor))
}

func TestDialHook_PassesThrough(t *testing.T) {
	h, sink := newHook(t)
	boom := errors.New("refused")
	_, err := h.DialHook(func(context.Context, string, string) (net.Conn, error) {
		return nil, boom
	})(context.Background(), "tcp", "127.0.0.1:1")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, sink.Operations())
}

func TestInstall(t *testing.T) {
	assert.Error(t, New(nil).Install(&fakeSink{}))
	assert.Error(t, New(redis.NewClient(&redis.Options{})).Install(nil))
	assert.Equal(t, "redis", New(nil).Name())
}

func TestNotInstalledRecordsNothing(t *testing.T) {
	a := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	h := &hook{adapter: a}
	cmd := redis.NewStringCmd(context.Background(), "get", "k")
	require.NoError(t, h.ProcessHook(func(context.Context, redis.Cmder) error { return nil })(context.Background(), cmd))
}

func TestRealClientUnreachableOpensIncident(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	defer rdb.Close()

	client, err := aisen.New(aisen.DefaultOptions(), aisen.WithSink(discard{}))
	require.NoError(t, err)
	defer client.Close(context.Background())

	a := New(rdb)
	require.NoError(t, client.RegisterAdapters(a))
	// Installing twice must not double-record.
	require.NoError(t, a.Install(client))

	require.Error(t, rdb.Get(context.Background(), "k").Err())
	require.Error(t, rdb.Get(context.Background(), "k").Err())

	incidents := client.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, "cache:redis:GET", incidents[0].Fingerprint)
	assert.Equal(t, uint64(1), client.Stats().IncidentsOpened)
}

type discard struct{}

func (discard) Send(context.Context, aisen.Batch) error { return nil }
func (discard) Close() error                            { return nil }
