package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// OutcomeAccepted labels a submission that was persisted.
	OutcomeAccepted = "accepted"
	// OutcomeRejected labels a submission that failed validation.
	OutcomeRejected = "rejected"
	// OutcomeFailed labels a submission whose insert failed.
	OutcomeFailed = "failed"

	statusSuccess = "success"
	statusError   = "error"
)

// Recorder owns a Prometheus registry and the collectors the service reports on.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	contactSubmissionsTotal *prometheus.CounterVec
	dbInsertDuration        *prometheus.HistogramVec
	dbProbesTotal           *prometheus.CounterVec
	dbProbeDuration         prometheus.Histogram
}

// NewRecorder registers the service collectors on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		contactSubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contact_submissions_total",
				Help: "Total number of contact form submissions by outcome",
			},
			[]string{"outcome"},
		),
		dbInsertDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_insert_duration_seconds",
				Help:    "Contact submission insert duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		dbProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_probes_total",
				Help: "Total number of database probes by kind and status",
			},
			[]string{"kind", "status"},
		),
		dbProbeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "db_probe_duration_seconds",
				Help:    "Database probe latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 15},
			},
		),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware records request counts and latency per matched route.
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		r.httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		r.httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordContactSubmission counts a submission by outcome.
func (r *Recorder) RecordContactSubmission(outcome string) {
	if r == nil {
		return
	}
	r.contactSubmissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveInsert records the latency of a contact insert.
func (r *Recorder) ObserveInsert(duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.dbInsertDuration.WithLabelValues(statusLabel(err)).Observe(duration.Seconds())
}

// ObserveProbe records a database probe of the given kind (warmup, keep_alive, health).
func (r *Recorder) ObserveProbe(kind string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.dbProbesTotal.WithLabelValues(kind, statusLabel(err)).Inc()
	if err == nil {
		r.dbProbeDuration.Observe(duration.Seconds())
	}
}

func statusLabel(err error) string {
	if err != nil {
		return statusError
	}
	return statusSuccess
}
