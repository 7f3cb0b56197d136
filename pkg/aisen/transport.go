// transport.go batches buffered events and delivers them from a background loop.

package aisen

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// TransportConfig configures a BufferedTransport. Zero values use the defaults
// from DefaultTransportConfig.
type TransportConfig struct {
	BufferSize      int
	BatchMaxEvents  int
	FlushInterval   time.Duration
	MaxRetries      int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	DropPolicy      DropPolicy

	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
}

// DefaultTransportConfig returns the delivery defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		BufferSize:      1000,
		BatchMaxEvents:  100,
		FlushInterval:   5 * time.Second,
		MaxRetries:      3,
		RequestTimeout:  10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		BackoffInitial:  500 * time.Millisecond,
		BackoffMax:      10 * time.Second,
		DropPolicy:      DropOldest,
	}
}

func (c TransportConfig) withDefaults() TransportConfig {
	d := DefaultTransportConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.BatchMaxEvents <= 0 {
		c.BatchMaxEvents = d.BatchMaxEvents
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = d.BackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type flushRequest struct {
	ctx  context.Context
	done chan error
}

// BufferedTransport is a bounded queue drained by one background goroutine.
// Enqueue never blocks and never performs I/O; all network work happens on
// the loop.
type BufferedTransport struct {
	sink   Sink
	cfg    TransportConfig
	queue  *eventQueue
	rec    *recorder
	logger *zap.Logger

	wake    chan struct{}
	flushCh chan flushRequest
	done    chan struct{}
	stopped chan struct{}

	// loopCtx aborts in-flight deliveries once the shutdown grace deadline passes.
	loopCtx    context.Context
	cancelLoop context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// NewBufferedTransport starts a transport delivering to sink.
func NewBufferedTransport(sink Sink, cfg TransportConfig) *BufferedTransport {
	cfg = cfg.withDefaults()
	return newBufferedTransport(sink, cfg, newRecorder(cfg.MeterProvider, cfg.Logger))
}

func newBufferedTransport(sink Sink, cfg TransportConfig, rec *recorder) *BufferedTransport {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = discardSink{}
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	t := &BufferedTransport{
		sink:       sink,
		cfg:        cfg,
		queue:      newEventQueue(cfg.BufferSize),
		rec:        rec,
		logger:     cfg.Logger.Named("transport"),
		wake:       make(chan struct{}, 1),
		flushCh:    make(chan flushRequest),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		loopCtx:    loopCtx,
		cancelLoop: cancel,
	}
	go t.run()
	return t
}

// Enqueue buffers an event for delivery. It reports whether the event was
// admitted; overflow and post-close enqueues are counted as drops.
func (t *BufferedTransport) Enqueue(e Event) bool {
	res, n := t.queue.push(e, t.cfg.DropPolicy)
	switch res {
	case pushRejectedClosed:
		t.rec.eventsDroppedBy("closed", 1)
		t.logger.Debug("Dropped event after close", zap.String("event_id", e.ID))
		return false
	case pushRejectedFull:
		t.rec.eventsDroppedBy("overflow", 1)
		t.logger.Debug("Dropped newest event, buffer full", zap.String("event_id", e.ID))
		return false
	case pushEvicted:
		t.rec.eventsDroppedBy("overflow", 1)
		t.logger.Debug("Evicted oldest event, buffer full")
	}

	t.rec.eventEnqueued()
	if n >= t.cfg.BatchMaxEvents {
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
	return true
}

// Len returns the number of buffered events.
func (t *BufferedTransport) Len() int { return t.queue.len() }

// Stats returns the transport counters.
func (t *BufferedTransport) Stats() Stats {
	s := t.rec.snapshot()
	s.QueueLength = t.queue.len()
	return s
}

// Flush delivers everything buffered at the time of the call. It returns the
// joined errors of batches that could not be delivered.
func (t *BufferedTransport) Flush(ctx context.Context) error {
	req := flushRequest{ctx: ctx, done: make(chan error, 1)}
	select {
	case t.flushCh <- req:
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, performs a final flush bounded by
// ShutdownTimeout (and ctx), stops the loop, and closes the sink.
// Subsequent calls return the first call's result.
func (t *BufferedTransport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.queue.close()

		grace, cancel := context.WithTimeout(ctx, t.cfg.ShutdownTimeout)
		defer cancel()

		close(t.done)
		select {
		case <-t.stopped:
		case <-grace.Done():
			t.logger.Warn("Shutdown grace period elapsed, aborting delivery",
				zap.Int("pending", t.queue.len()))
			t.cancelLoop()
			<-t.stopped
			t.closeErr = grace.Err()
		}
		t.cancelLoop()

		if err := t.sink.Close(); err != nil {
			t.closeErr = errors.Join(t.closeErr, err)
		}
	})
	return t.closeErr
}

func (t *BufferedTransport) run() {
	defer close(t.stopped)

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			_ = t.drain(t.loopCtx, 0)
			if left := t.queue.pop(t.queue.len()); len(left) > 0 {
				t.rec.eventsDroppedBy("shutdown", len(left))
				t.logger.Warn("Dropped undelivered events at shutdown", zap.Int("events", len(left)))
			}
			return
		case <-ticker.C:
			_ = t.drain(t.loopCtx, 0)
		case <-t.wake:
			_ = t.drain(t.loopCtx, t.cfg.BatchMaxEvents)
		case req := <-t.flushCh:
			ctx, cancel := context.WithCancel(req.ctx)
			stop := context.AfterFunc(t.loopCtx, cancel)
			req.done <- t.drain(ctx, 0)
			stop()
			cancel()
		}
	}
}

// drain sends batches while at least minLen events are buffered (any
// non-empty queue when minLen is 0). Only events present when draining
// starts are taken, so a steady producer cannot pin the loop.
func (t *BufferedTransport) drain(ctx context.Context, minLen int) error {
	budget := t.queue.len()
	var errs []error
	for budget > 0 {
		if n := t.queue.len(); n == 0 || (minLen > 0 && n < minLen) {
			break
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		events := t.queue.pop(min(budget, t.cfg.BatchMaxEvents))
		if len(events) == 0 {
			break
		}
		budget -= len(events)

		if err := t.deliver(ctx, NewBatch(uuid.NewString(), events)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deliver sends one batch with exponential backoff. After MaxRetries failed
// retries, or on a permanent rejection, the batch is dropped. Events the sink
// could not encode are dropped on their own.
func (t *BufferedTransport) deliver(ctx context.Context, batch Batch) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.BackoffInitial
	bo.MaxInterval = t.cfg.BackoffMax
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(t.cfg.MaxRetries)), ctx)

	var skipped *SkippedEventsError
	send := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
		defer cancel()
		skipped = nil
		err := t.sink.Send(reqCtx, batch)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrBatchRejected):
			return backoff.Permanent(err)
		case errors.As(err, &skipped):
			return nil
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		t.rec.retries.Add(1)
		t.logger.Debug("Retrying batch delivery",
			zap.String("batch_id", batch.ID()),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(send, policy, notify); err != nil {
		t.rec.batchDropped()
		t.rec.eventsDroppedBy("delivery", batch.Len())
		t.logger.Warn("Dropped batch after failed delivery",
			zap.String("batch_id", batch.ID()),
			zap.Int("events", batch.Len()),
			zap.Error(err))
		return err
	}

	delivered := batch.Len()
	if skipped != nil {
		delivered -= skipped.Skipped()
		t.rec.eventsDroppedBy("encode", skipped.Skipped())
		t.logger.Warn("Dropped events that could not be encoded",
			zap.String("batch_id", batch.ID()),
			zap.Strings("event_ids", skipped.EventIDs),
			zap.Error(skipped.Err))
	}
	if delivered > 0 {
		t.rec.batchSent(delivered)
	}
	return nil
}
