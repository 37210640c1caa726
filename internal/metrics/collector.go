// Package metrics exposes Prometheus instrumentation for generation jobs,
// the HTTP API and the vision helper.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all service metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	registry *prometheus.Registry

	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobsInFlight    prometheus.Gauge
	busyRejections  prometheus.Counter
	publishedBytes  prometheus.Gauge
	cleanupFailures prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	detectionsTotal   *prometheus.CounterVec
	detectionDuration prometheus.Histogram
}

// NewCollector registers all metrics on a fresh registry under namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{registry: reg}

	c.jobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_jobs_total",
			Help:      "Generation jobs by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	c.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_job_duration_seconds",
			Help:      "Wall-clock duration of generation jobs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"backend", "outcome"},
	)

	c.jobsInFlight = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "generation_jobs_in_flight",
		Help:      "Generation jobs currently holding the single-flight slot",
	})

	c.busyRejections = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generation_busy_rejections_total",
		Help:      "Requests rejected because a job was already running",
	})

	c.publishedBytes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "published_model_bytes",
		Help:      "Size of the currently published model",
	})

	c.cleanupFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workspace_cleanup_failures_total",
		Help:      "Cleanup runs that left staged input or scratch entries behind",
	})

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	c.detectionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Object detection calls by outcome",
		},
		[]string{"outcome"},
	)

	c.detectionDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "detection_duration_seconds",
		Help:      "Object detection call duration in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})

	return c
}

// JobStarted marks a job as holding the single-flight slot.
func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.jobsInFlight.Inc()
}

// JobFinished records the outcome of a job started with JobStarted.
func (c *Collector) JobFinished(backend, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.jobsInFlight.Dec()
	c.jobsTotal.WithLabelValues(backend, outcome).Inc()
	c.jobDuration.WithLabelValues(backend, outcome).Observe(d.Seconds())
}

func (c *Collector) BusyRejected() {
	if c == nil {
		return
	}
	c.busyRejections.Inc()
}

func (c *Collector) ModelPublished(size int64) {
	if c == nil {
		return
	}
	c.publishedBytes.Set(float64(size))
}

func (c *Collector) CleanupFailed() {
	if c == nil {
		return
	}
	c.cleanupFailures.Inc()
}

// RecordHTTPRequest records one served request. route is the chi route
// pattern, not the raw path.
func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) RecordDetection(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.detectionsTotal.WithLabelValues(outcome).Inc()
	c.detectionDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
