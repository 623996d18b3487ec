// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksCreatedTotal          prometheus.Counter
	tasksFinishedTotal         *prometheus.CounterVec
	unitsTotal                 *prometheus.CounterVec
	unitsInFlight              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	remoteRateLimitWait        *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksCreatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "codehub_tasks_created_total",
				Help: "Total number of crawl tasks armed (created or re-crawled).",
			},
		)

		tasksFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codehub_tasks_finished_total",
				Help: "Total number of crawl tasks reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		unitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codehub_units_total",
				Help: "Total number of finished work units, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		unitsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "codehub_units_in_flight",
				Help: "Number of work units currently executing.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		remoteRateLimitWait = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codehub_remote_rate_limit_wait_seconds",
				Help:    "Time outbound remote requests spent waiting on the rate limiter, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTaskCreated counts a task being armed for crawling.
func ObserveTaskCreated() {
	Init()
	tasksCreatedTotal.Inc()
}

// ObserveTaskFinished counts a terminal transition.
func ObserveTaskFinished(status string) {
	Init()
	tasksFinishedTotal.WithLabelValues(status).Inc()
}

// ObserveUnit counts a finished work unit.
func ObserveUnit(kind, status string) {
	Init()
	unitsTotal.WithLabelValues(kind, status).Inc()
}

// IncUnitsInFlight increments the in-flight gauge.
func IncUnitsInFlight() {
	Init()
	unitsInFlight.Inc()
}

// DecUnitsInFlight decrements the in-flight gauge.
func DecUnitsInFlight() {
	Init()
	unitsInFlight.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitWait records a delay introduced by the remote rate limiter.
func ObserveRateLimitWait(host string, d time.Duration) {
	Init()
	remoteRateLimitWait.WithLabelValues(host).Observe(d.Seconds())
}
