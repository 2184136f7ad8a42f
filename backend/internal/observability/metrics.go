// Package observability exports Prometheus metrics for the sync pipeline.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Queue metrics
	QueueDepth       prometheus.Gauge
	JobsSubmitted    prometheus.Counter
	JobsSent         prometheus.Counter
	JobRetries       prometheus.Counter
	JobsDeadLettered prometheus.Counter
	JobDuration      prometheus.Histogram
	JobAttempts      prometheus.Histogram

	// Remote graph metrics
	RemoteRequests *prometheus.CounterVec
	RemoteDuration *prometheus.HistogramVec
	SignalsSent    *prometheus.CounterVec

	// Sync metrics
	SyncPasses     prometheus.Counter
	LookupFailures prometheus.Counter
}

// NewCollector creates a collector with its own registry under namespace
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting in the signal queue, including the one in flight",
		}),
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_submitted_total",
			Help:      "Total number of jobs submitted to the signal queue",
		}),
		JobsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_sent_total",
			Help:      "Total number of jobs delivered to the remote graph",
		}),
		JobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_job_retries_total",
			Help:      "Total number of failed attempts that were retried",
		}),
		JobsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_dead_lettered_total",
			Help:      "Total number of jobs given up on",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_job_duration_seconds",
			Help:      "Duration of the successful attempt of a job",
			Buckets:   prometheus.DefBuckets,
		}),
		JobAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_job_attempts",
			Help:      "Attempts needed to deliver a job",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
		RemoteRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_requests_total",
				Help:      "Total number of remote graph calls",
			},
			[]string{"backend", "operation", "status"},
		),
		RemoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_request_duration_seconds",
				Help:      "Remote graph call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
		SignalsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_sent_total",
				Help:      "Total number of signals delivered, by action",
			},
			[]string{"action"},
		),
		SyncPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Total number of full synchronization passes",
		}),
		LookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "member_lookup_failures_total",
			Help:      "Channel member lookups that failed during a pass",
		}),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.QueueDepth,
		c.JobsSubmitted,
		c.JobsSent,
		c.JobRetries,
		c.JobsDeadLettered,
		c.JobDuration,
		c.JobAttempts,
		c.RemoteRequests,
		c.RemoteDuration,
		c.SignalsSent,
		c.SyncPasses,
		c.LookupFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Registry returns the registry backing this collector
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordRemoteCall records one call to a remote graph backend
func (c *Collector) RecordRemoteCall(backend, operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.RemoteRequests.WithLabelValues(backend, operation, status).Inc()
	c.RemoteDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordSignal counts one delivered signal
func (c *Collector) RecordSignal(action string) {
	c.SignalsSent.WithLabelValues(action).Inc()
}

// RecordSyncPass counts a synchronization pass and its failed lookups
func (c *Collector) RecordSyncPass(lookupFailures int) {
	c.SyncPasses.Inc()
	c.LookupFailures.Add(float64(lookupFailures))
}

// The methods below let the collector observe a queue.Queue.

// JobSubmitted records a submission and the resulting depth
func (c *Collector) JobSubmitted(depth int) {
	c.JobsSubmitted.Inc()
	c.QueueDepth.Set(float64(depth))
}

// JobSent records a delivered job
func (c *Collector) JobSent(duration time.Duration, attempts int) {
	c.JobsSent.Inc()
	c.JobDuration.Observe(duration.Seconds())
	c.JobAttempts.Observe(float64(attempts))
}

// JobRetried records a failed attempt that will be retried
func (c *Collector) JobRetried() {
	c.JobRetries.Inc()
}

// JobDeadLettered records a job given up on
func (c *Collector) JobDeadLettered() {
	c.JobsDeadLettered.Inc()
}

// Depth records the queue depth after a job left the head
func (c *Collector) Depth(depth int) {
	c.QueueDepth.Set(float64(depth))
}
