package pivotgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the prom
// subpackage provides a Prometheus-backed implementation.
type MetricsCollector interface {
	// RecordTrigger is called for every TriggerCycle call.
	// launched reports whether a cycle was actually started.
	RecordTrigger(launched bool)

	// RecordSearch is called after each search phase attempt.
	// buckets is the number of result buckets, duration the time taken,
	// err is nil if successful.
	RecordSearch(buckets int, duration time.Duration, err error)

	// RecordWrite is called after each write phase attempt.
	// ops is the number of operations attempted, failed the number of
	// item-level failures.
	RecordWrite(ops, failed int, duration time.Duration, err error)

	// RecordCheckpoint is called after each checkpoint persistence attempt.
	RecordCheckpoint(duration time.Duration, err error)

	// RecordPageSize is called whenever the adaptive page size changes.
	RecordPageSize(size int)

	// RecordRun is called when a run ends, whatever the outcome.
	// err is nil for a completed or cleanly stopped run.
	RecordRun(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTrigger(bool)                         {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordWrite(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordCheckpoint(time.Duration, error)      {}
func (NoopMetricsCollector) RecordPageSize(int)                         {}
func (NoopMetricsCollector) RecordRun(time.Duration, error)             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TriggerCount     atomic.Int64
	TriggerLaunched  atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	WriteCount       atomic.Int64
	WriteErrors      atomic.Int64
	WriteTotalNanos  atomic.Int64
	WriteItemsFailed atomic.Int64
	CheckpointCount  atomic.Int64
	CheckpointErrors atomic.Int64
	PageSize         atomic.Int64
	RunCount         atomic.Int64
	RunErrors        atomic.Int64
	RunTotalNanos    atomic.Int64
}

// RecordTrigger implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrigger(launched bool) {
	b.TriggerCount.Add(1)
	if launched {
		b.TriggerLaunched.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(buckets int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(ops, failed int, duration time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteTotalNanos.Add(duration.Nanoseconds())
	b.WriteItemsFailed.Add(int64(failed))
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(duration time.Duration, err error) {
	b.CheckpointCount.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
	}
}

// RecordPageSize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPageSize(size int) {
	b.PageSize.Store(int64(size))
}

// RecordRun implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRun(duration time.Duration, err error) {
	b.RunCount.Add(1)
	b.RunTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RunErrors.Add(1)
	}
}
