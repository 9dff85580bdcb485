package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"queue", "kind"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"queue"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"queue", "kind"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"queue", "kind", "reason"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_processing_duration_seconds",
			Help:    "Handler processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"queue", "kind"},
	)
	JobQueueToStart = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_queue_to_start_seconds",
			Help:    "Time jobs spend waiting before their first attempt",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		},
		[]string{"queue"},
	)

	LocksAcquiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locks_acquired_total",
			Help: "Total number of single-flight locks acquired",
		},
		[]string{"operation"},
	)
	LocksContendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locks_contended_total",
			Help: "Total number of lock acquisitions refused because the key was held",
		},
		[]string{"operation"},
	)

	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holder_profiles_cache_hits_total",
			Help: "Holder-profiles cache hits",
		},
		[]string{"scope"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holder_profiles_cache_misses_total",
			Help: "Holder-profiles cache misses",
		},
		[]string{"scope"},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Open realtime gateway connections",
		},
	)
	WSEventsDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_delivered_total",
			Help: "Events delivered to subscribed clients",
		},
		[]string{"type"},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal, HTTPRequestDuration,
			JobsEnqueuedTotal, JobsProcessing, JobsCompletedTotal, JobsFailedTotal,
			JobDuration, JobQueueToStart,
			LocksAcquiredTotal, LocksContendedTotal,
			CacheHitsTotal, CacheMissesTotal,
			WSConnections, WSEventsDeliveredTotal,
		)
	})
}

// EnqueueJob records a successful enqueue.
func EnqueueJob(queue, kind string) { JobsEnqueuedTotal.WithLabelValues(queue, kind).Inc() }

// StartProcessingJob marks a handler start.
func StartProcessingJob(queue string) { JobsProcessing.WithLabelValues(queue).Inc() }

// CompleteJob records a completed job and its handler duration.
func CompleteJob(queue, kind string, d time.Duration) {
	JobsProcessing.WithLabelValues(queue).Dec()
	JobsCompletedTotal.WithLabelValues(queue, kind).Inc()
	JobDuration.WithLabelValues(queue, kind).Observe(d.Seconds())
}

// FailJob records a failed job.
func FailJob(queue, kind, reason string) {
	JobsProcessing.WithLabelValues(queue).Dec()
	JobsFailedTotal.WithLabelValues(queue, kind, reason).Inc()
}

// HTTPMetricsMiddleware records request counts and latency per chi route.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
