// Package metrics defines a generic interface for observing the file
// store's operations. Implementations can feed Prometheus, OpenTelemetry,
// or any other monitoring system without the store itself depending on
// one; see metrics/prometheus for a concrete collector.
package metrics

import "time"

// Collector records observations emitted by filestore.Store. Every method
// must be safe for concurrent use.
type Collector interface {
	// RecordLookup records the outcome of a Store.Lookup call.
	// result is one of "hit-response", "hit-variation", "miss", or "expired".
	RecordLookup(result string, duration time.Duration)

	// RecordPublish records a Store publish call.
	// kind is "response" or "variation".
	RecordPublish(kind string, duration time.Duration)

	// RecordPurge records the outcome of a periodic or on-demand purge.
	RecordPurge(evicted, orphansRemoved int, duration time.Duration)

	// RecordEntries reports the current number of permanent entries under
	// the store root, sampled after a purge.
	RecordEntries(count int)
}

// NoOpCollector implements Collector with no-op operations. It is the
// default collector so callers pay nothing for metrics they never enabled.
type NoOpCollector struct{}

func (NoOpCollector) RecordLookup(result string, duration time.Duration)             {}
func (NoOpCollector) RecordPublish(kind string, duration time.Duration)              {}
func (NoOpCollector) RecordPurge(evicted, orphansRemoved int, duration time.Duration) {}
func (NoOpCollector) RecordEntries(count int)                                        {}

// Default is the no-op collector used when none is configured.
var Default Collector = NoOpCollector{}

var _ Collector = NoOpCollector{}
