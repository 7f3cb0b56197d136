// Package prom exports aisen pipeline counters and operation outcomes to
// Prometheus.
//
//	client, _ := aisen.New(opts)
//	prometheus.MustRegister(prom.NewCollector(client))
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "aisen"

// StatsSource is satisfied by *aisen.Client and *aisen.BufferedTransport.
type StatsSource interface {
	Stats() aisen.Stats
}

// CollectorOption configures a Collector.
type CollectorOption func(*collectorConfig)

type collectorConfig struct {
	namespace   string
	constLabels prometheus.Labels
}

// WithNamespace replaces DefaultNamespace.
func WithNamespace(ns string) CollectorOption {
	return func(c *collectorConfig) {
		c.namespace = ns
	}
}

// WithConstLabels attaches labels to every exported series, e.g. the service name.
func WithConstLabels(labels prometheus.Labels) CollectorOption {
	return func(c *collectorConfig) {
		c.constLabels = labels
	}
}

type statMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(aisen.Stats) float64
}

// Collector implements prometheus.Collector by reading Stats at scrape time.
type Collector struct {
	source  StatsSource
	metrics []statMetric
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector over source.
func NewCollector(source StatsSource, opts ...CollectorOption) *Collector {
	cfg := collectorConfig{namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(&cfg)
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(cfg.namespace, "", name), help, nil, cfg.constLabels)
	}
	counter := func(name, help string, fn func(aisen.Stats) uint64) statMetric {
		return statMetric{
			desc:      desc(name, help),
			valueType: prometheus.CounterValue,
			value:     func(s aisen.Stats) float64 { return float64(fn(s)) },
		}
	}
	gauge := func(name, help string, fn func(aisen.Stats) int) statMetric {
		return statMetric{
			desc:      desc(name, help),
			valueType: prometheus.GaugeValue,
			value:     func(s aisen.Stats) float64 { return float64(fn(s)) },
		}
	}

	return &Collector{
		source: source,
		metrics: []statMetric{
			counter("events_captured_total", "Events accepted by the capture path before sampling",
				func(s aisen.Stats) uint64 { return s.EventsCaptured }),
			counter("events_sampled_out_total", "Events discarded by sampling",
				func(s aisen.Stats) uint64 { return s.EventsSampledOut }),
			counter("events_enqueued_total", "Events accepted into the delivery buffer",
				func(s aisen.Stats) uint64 { return s.EventsEnqueued }),
			counter("events_dropped_total", "Events dropped by the delivery buffer",
				func(s aisen.Stats) uint64 { return s.EventsDropped }),
			counter("events_sent_total", "Events delivered to the sink",
				func(s aisen.Stats) uint64 { return s.EventsSent }),
			counter("batches_sent_total", "Batches delivered to the sink",
				func(s aisen.Stats) uint64 { return s.BatchesSent }),
			counter("batches_dropped_total", "Batches dropped after failed delivery",
				func(s aisen.Stats) uint64 { return s.BatchesDropped }),
			counter("delivery_retries_total", "Delivery attempts retried after a transient failure",
				func(s aisen.Stats) uint64 { return s.Retries }),
			counter("sanitizer_failures_total", "Events dropped because the sanitizer failed",
				func(s aisen.Stats) uint64 { return s.SanitizerFailures }),
			counter("capture_errors_total", "Faults recovered on the capture path",
				func(s aisen.Stats) uint64 { return s.CaptureErrors }),
			counter("incidents_opened_total", "Incidents opened",
				func(s aisen.Stats) uint64 { return s.IncidentsOpened }),
			counter("incidents_resolved_total", "Incidents auto-resolved",
				func(s aisen.Stats) uint64 { return s.IncidentsResolved }),
			gauge("queue_length", "Events waiting in the delivery buffer",
				func(s aisen.Stats) int { return s.QueueLength }),
			gauge("open_incidents", "Incidents currently open",
				func(s aisen.Stats) int { return s.OpenIncidents }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(s))
	}
}
