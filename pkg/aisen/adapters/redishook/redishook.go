// Package redishook records go-redis commands as cache operations.
//
// Each command becomes one operation keyed by system and command name, so a
// run of failing GETs against an unavailable server opens a single incident.
// A redis.Nil reply is a cache miss and counts as success. Command arguments
// are never recorded.
package redishook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// Adapter installs a hook on a go-redis client.
type Adapter struct {
	client redis.UniversalClient
	system string

	once sync.Once
	sink atomic.Pointer[sinkRef]
}

type sinkRef struct{ aisen.IngestionSink }

var _ aisen.Adapter = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithSystem overrides the db.system value (default "redis"), e.g. "valkey".
func WithSystem(system string) Option {
	return func(a *Adapter) {
		if system != "" {
			a.system = system
		}
	}
}

// New returns an adapter for client. Nothing is hooked until Install.
func New(client redis.UniversalClient, opts ...Option) *Adapter {
	a := &Adapter{client: client, system: "redis"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements aisen.Adapter.
func (a *Adapter) Name() string { return "redis" }

// Install implements aisen.Adapter. Installing again retargets the existing
// hook instead of adding a second one.
func (a *Adapter) Install(sink aisen.IngestionSink) error {
	if sink == nil {
		return fmt.Errorf("redishook: nil sink")
	}
	if a.client == nil {
		return fmt.Errorf("redishook: nil client")
	}
	a.sink.Store(&sinkRef{sink})
	a.once.Do(func() { a.client.AddHook(&hook{adapter: a}) })
	return nil
}

func (a *Adapter) current() aisen.IngestionSink {
	if ref := a.sink.Load(); ref != nil {
		return ref.IngestionSink
	}
	return nil
}

type hook struct {
	adapter *Adapter
}

var _ redis.Hook = (*hook)(nil)

func (h *hook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *hook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.record(ctx, cmd, err, time.Since(start), 0)
		return err
	}
}

func (h *hook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		elapsed := time.Since(start)
		for _, cmd := range cmds {
			cmdErr := cmd.Err()
			if cmdErr == nil && err != nil && !errors.Is(err, redis.Nil) {
				cmdErr = err
			}
			h.record(ctx, cmd, cmdErr, elapsed, len(cmds))
		}
		return err
	}
}

func (h *hook) record(ctx context.Context, cmd redis.Cmder, err error, elapsed time.Duration, pipelineSize int) {
	sink := h.adapter.current()
	if sink == nil {
		return
	}
	if errors.Is(err, redis.Nil) {
		err = nil
	}

	name := strings.ToUpper(cmd.Name())
	op := aisen.Operation{
		Descriptor: aisen.CacheOperation(h.adapter.system, name),
		Success:    err == nil,
		Duration:   elapsed,
		Err:        err,
		Attributes: map[string]any{
			"db.system":    h.adapter.system,
			"db.operation": name,
		},
	}
	if pipelineSize > 0 {
		op.Attributes["db.redis.pipeline_size"] = pipelineSize
	}
	sink.RecordOperation(ctx, op)

	crumb := aisen.Breadcrumb{Category: h.adapter.system, Message: name}
	if err != nil {
		crumb.Level = aisen.SeverityError
	}
	aisen.ScopeFromContext(ctx).AddBreadcrumb(crumb)
}
