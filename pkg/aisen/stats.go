// stats.go exposes the pipeline's internal counters.

package aisen

import "sync/atomic"

// Stats is a point-in-time view of the pipeline counters.
type Stats struct {
	EventsCaptured    uint64 // accepted by the capture path before sampling
	EventsSampledOut  uint64
	EventsEnqueued    uint64
	EventsDropped     uint64 // evicted or rejected by the buffer
	EventsSent        uint64
	BatchesSent       uint64
	BatchesDropped    uint64 // delivery gave up after retries or a permanent rejection
	Retries           uint64
	SanitizerFailures uint64
	CaptureErrors     uint64 // recovered panics and other capture-path faults

	IncidentsOpened   uint64
	IncidentsResolved uint64

	QueueLength   int
	OpenIncidents int
}

// counters backs Stats with atomics so capture paths never take a lock to count.
type counters struct {
	eventsCaptured    atomic.Uint64
	eventsSampledOut  atomic.Uint64
	eventsEnqueued    atomic.Uint64
	eventsDropped     atomic.Uint64
	eventsSent        atomic.Uint64
	batchesSent       atomic.Uint64
	batchesDropped    atomic.Uint64
	retries           atomic.Uint64
	sanitizerFailures atomic.Uint64
	captureErrors     atomic.Uint64
	incidentsOpened   atomic.Uint64
	incidentsResolved atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		EventsCaptured:    c.eventsCaptured.Load(),
		EventsSampledOut:  c.eventsSampledOut.Load(),
		EventsEnqueued:    c.eventsEnqueued.Load(),
		EventsDropped:     c.eventsDropped.Load(),
		EventsSent:        c.eventsSent.Load(),
		BatchesSent:       c.batchesSent.Load(),
		BatchesDropped:    c.batchesDropped.Load(),
		Retries:           c.retries.Load(),
		SanitizerFailures: c.sanitizerFailures.Load(),
		CaptureErrors:     c.captureErrors.Load(),
		IncidentsOpened:   c.incidentsOpened.Load(),
		IncidentsResolved: c.incidentsResolved.Load(),
	}
}
