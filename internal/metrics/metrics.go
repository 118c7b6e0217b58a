// Package metrics exposes the pipeline's Prometheus instruments.
//
// Counters follow the job lifecycle: submitted and enqueue failures at the
// gateway; completed, retried and dead-lettered at the worker. Key
// generation latency is a histogram labelled by key type, and status
// queries are counted by outcome (pending, complete, error, bad_request,
// internal).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry prometheus.Gatherer

	jobsSubmitted     prometheus.Counter
	jobsEnqueueFailed prometheus.Counter
	jobsCompleted     *prometheus.CounterVec
	jobsRetried       prometheus.Counter
	jobsDead          prometheus.Counter
	jobsDuplicate     prometheus.Counter
	keygenDuration    *prometheus.HistogramVec
	statusQueries     *prometheus.CounterVec
	workersInFlight   prometheus.Gauge
}

// NewCollector registers all instruments on a fresh registry so that API
// and worker processes, and tests, never collide on the default one.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keygen_jobs_submitted_total",
			Help: "Total number of keygen jobs accepted and enqueued",
		}),
		jobsEnqueueFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keygen_jobs_enqueue_failed_total",
			Help: "Total number of submissions rejected because the queue was unavailable",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keygen_jobs_completed_total",
			Help: "Total number of jobs whose result document was written",
		}, []string{"key_type"}),
		jobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keygen_jobs_retried_total",
			Help: "Total number of jobs republished for another attempt",
		}),
		jobsDead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keygen_jobs_dead_total",
			Help: "Total number of jobs moved to the dead letter queue",
		}),
		jobsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keygen_jobs_duplicate_total",
			Help: "Total number of redelivered jobs skipped because a result already existed",
		}),
		keygenDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keygen_generation_duration_seconds",
			Help:    "Key generation latency in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"key_type"}),
		statusQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keygen_status_queries_total",
			Help: "Total number of result queries by outcome",
		}, []string{"outcome"}),
		workersInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keygen_worker_jobs_in_flight",
			Help: "Current number of jobs being processed",
		}),
	}

	registry.MustRegister(
		c.jobsSubmitted,
		c.jobsEnqueueFailed,
		c.jobsCompleted,
		c.jobsRetried,
		c.jobsDead,
		c.jobsDuplicate,
		c.keygenDuration,
		c.statusQueries,
		c.workersInFlight,
		prometheus.NewGoCollector(),
	)

	return c
}

func (c *Collector) RecordSubmitted() {
	c.jobsSubmitted.Inc()
}

func (c *Collector) RecordEnqueueFailed() {
	c.jobsEnqueueFailed.Inc()
}

func (c *Collector) RecordCompleted(keyType string, seconds float64) {
	c.jobsCompleted.WithLabelValues(keyType).Inc()
	c.keygenDuration.WithLabelValues(keyType).Observe(seconds)
}

func (c *Collector) RecordRetried() {
	c.jobsRetried.Inc()
}

func (c *Collector) RecordDead() {
	c.jobsDead.Inc()
}

func (c *Collector) RecordDuplicate() {
	c.jobsDuplicate.Inc()
}

func (c *Collector) RecordStatusQuery(outcome string) {
	c.statusQueries.WithLabelValues(outcome).Inc()
}

// TrackInFlight increments the in-flight gauge and returns the matching
// decrement.
func (c *Collector) TrackInFlight() func() {
	c.workersInFlight.Inc()
	return c.workersInFlight.Dec
}

func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
