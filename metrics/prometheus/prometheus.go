// Package prometheus implements metrics.Collector on top of the official
// Prometheus client. It is optional and only imported when a caller wants
// its cache observations exported that way.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sandrolain/httpfilecache/metrics"
)

// Collector implements metrics.Collector, recording lookups, publishes,
// purges, and the live entry count as Prometheus counters/histograms/gauges.
type Collector struct {
	lookups        *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
	publishes      *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec
	purges         *prometheus.CounterVec
	purgeDuration  prometheus.Histogram
	entries        prometheus.Gauge
}

// Config configures a Collector's registration.
type Config struct {
	// Registry is the Prometheus registry to register with. Defaults to
	// prometheus.DefaultRegisterer when nil.
	Registry prometheus.Registerer
	// Namespace prefixes every metric name. Defaults to "httpcache".
	Namespace string
	// Subsystem further prefixes every metric name. Optional.
	Subsystem string
	// ConstLabels are attached to every metric registered by this Collector.
	ConstLabels prometheus.Labels
}

// NewCollector creates a Collector registered with prometheus.DefaultRegisterer.
func NewCollector() *Collector {
	return NewCollectorWithConfig(Config{})
}

// NewCollectorWithRegistry creates a Collector registered with reg.
func NewCollectorWithRegistry(reg prometheus.Registerer) *Collector {
	return NewCollectorWithConfig(Config{Registry: reg})
}

// NewCollectorWithConfig creates a Collector per cfg, filling in defaults
// for an unset Registry and Namespace.
func NewCollectorWithConfig(cfg Config) *Collector {
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "httpcache"
	}

	factory := promauto.With(cfg.Registry)

	return &Collector{
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "lookups_total",
				Help:        "Total number of file store lookups by result.",
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"result"},
		),
		lookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "lookup_duration_seconds",
				Help:        "Duration of file store lookups by result.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"result"},
		),
		publishes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "publishes_total",
				Help:        "Total number of file store publishes by kind (response or variation).",
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"kind"},
		),
		publishLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "publish_duration_seconds",
				Help:        "Duration of file store publishes by kind.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"kind"},
		),
		purges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "purge_entries_total",
				Help:        "Total number of entries removed by purge, by reason (evicted or orphan).",
				ConstLabels: cfg.ConstLabels,
			},
			[]string{"reason"},
		),
		purgeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "purge_duration_seconds",
				Help:        "Duration of purge passes.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: cfg.ConstLabels,
			},
		),
		entries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   cfg.Namespace,
				Subsystem:   cfg.Subsystem,
				Name:        "entries",
				Help:        "Current number of permanent entries under the store root.",
				ConstLabels: cfg.ConstLabels,
			},
		),
	}
}

// RecordLookup implements metrics.Collector.
func (c *Collector) RecordLookup(result string, duration time.Duration) {
	c.lookups.WithLabelValues(result).Inc()
	c.lookupDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordPublish implements metrics.Collector.
func (c *Collector) RecordPublish(kind string, duration time.Duration) {
	c.publishes.WithLabelValues(kind).Inc()
	c.publishLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordPurge implements metrics.Collector.
func (c *Collector) RecordPurge(evicted, orphansRemoved int, duration time.Duration) {
	c.purges.WithLabelValues("evicted").Add(float64(evicted))
	c.purges.WithLabelValues("orphan").Add(float64(orphansRemoved))
	c.purgeDuration.Observe(duration.Seconds())
}

// RecordEntries implements metrics.Collector.
func (c *Collector) RecordEntries(count int) {
	c.entries.Set(float64(count))
}

var _ metrics.Collector = (*Collector)(nil)
