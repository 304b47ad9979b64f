// Package prom exports engine metrics to Prometheus.
//
// Collector implements pivotgo.MetricsCollector. Phase latencies share one
// histogram vector labeled by phase and status; throughput and sizing get
// dedicated counters and gauges. Run one Collector per indexer and tell them
// apart with const labels.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/pivotgo"
)

// Options configures a Collector.
type Options struct {
	// Namespace prefixes every metric name. Defaults to "pivotgo".
	Namespace string

	// ConstLabels are attached to every metric, e.g. the indexer name.
	ConstLabels prometheus.Labels

	// Registerer receives the metrics.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Collector is a Prometheus-backed pivotgo.MetricsCollector.
type Collector struct {
	triggers          *prometheus.CounterVec
	phaseLatency      *prometheus.HistogramVec
	searchBuckets     prometheus.Counter
	writeOps          prometheus.Counter
	writeItemFailures prometheus.Counter
	pageSize          prometheus.Gauge
}

var _ pivotgo.MetricsCollector = (*Collector)(nil)

// NewCollector creates and registers the engine metrics.
func NewCollector(optFns ...func(*Options)) (*Collector, error) {
	opts := Options{
		Namespace:  "pivotgo",
		Registerer: prometheus.DefaultRegisterer,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	c := &Collector{
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "triggers_total",
			Help:        "Trigger calls by result.",
			ConstLabels: opts.ConstLabels,
		}, []string{"result"}),
		phaseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "phase_duration_seconds",
			Help:        "Latency of pipeline phases.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: opts.ConstLabels,
		}, []string{"phase", "status"}),
		searchBuckets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "search_buckets_total",
			Help:        "Aggregation buckets read from the source.",
			ConstLabels: opts.ConstLabels,
		}),
		writeOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "write_operations_total",
			Help:        "Operations sent to the sink.",
			ConstLabels: opts.ConstLabels,
		}),
		writeItemFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "write_item_failures_total",
			Help:        "Item-level failures reported by the sink.",
			ConstLabels: opts.ConstLabels,
		}),
		pageSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "page_size",
			Help:        "Current adaptive page size.",
			ConstLabels: opts.ConstLabels,
		}),
	}

	for _, m := range []prometheus.Collector{
		c.triggers, c.phaseLatency, c.searchBuckets,
		c.writeOps, c.writeItemFailures, c.pageSize,
	} {
		if err := opts.Registerer.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordTrigger implements pivotgo.MetricsCollector.
func (c *Collector) RecordTrigger(launched bool) {
	result := "skipped"
	if launched {
		result = "launched"
	}
	c.triggers.WithLabelValues(result).Inc()
}

// RecordSearch implements pivotgo.MetricsCollector.
func (c *Collector) RecordSearch(buckets int, duration time.Duration, err error) {
	c.phaseLatency.WithLabelValues("search", status(err)).Observe(duration.Seconds())
	if err == nil {
		c.searchBuckets.Add(float64(buckets))
	}
}

// RecordWrite implements pivotgo.MetricsCollector.
func (c *Collector) RecordWrite(ops, failed int, duration time.Duration, err error) {
	c.phaseLatency.WithLabelValues("write", status(err)).Observe(duration.Seconds())
	if err == nil {
		c.writeOps.Add(float64(ops))
		c.writeItemFailures.Add(float64(failed))
	}
}

// RecordCheckpoint implements pivotgo.MetricsCollector.
func (c *Collector) RecordCheckpoint(duration time.Duration, err error) {
	c.phaseLatency.WithLabelValues("checkpoint", status(err)).Observe(duration.Seconds())
}

// RecordPageSize implements pivotgo.MetricsCollector.
func (c *Collector) RecordPageSize(size int) {
	c.pageSize.Set(float64(size))
}

// RecordRun implements pivotgo.MetricsCollector.
func (c *Collector) RecordRun(duration time.Duration, err error) {
	c.phaseLatency.WithLabelValues("run", status(err)).Observe(duration.Seconds())
}
