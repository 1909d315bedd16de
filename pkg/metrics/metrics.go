// Package metrics provides Prometheus request metrics for the Wisp framework.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RequestMetrics collects per-request counters, latency histograms, and an
// in-flight gauge, labeled by method, route pattern, and status code. The
// route pattern is used instead of the raw path to keep cardinality bounded.
type RequestMetrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	size     *prometheus.CounterVec
	inflight prometheus.Gauge
}

// New creates a RequestMetrics with its own Prometheus registry.
func New(namespace string) *RequestMetrics {
	m := &RequestMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		size: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes_total",
			Help:      "Total bytes written in HTTP responses.",
		}, []string{"method", "route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being served.",
		}),
	}

	m.registry.MustRegister(m.requests, m.duration, m.size, m.inflight)
	return m
}

// Registry exposes the underlying registry, e.g. for registering additional
// application collectors.
func (m *RequestMetrics) Registry() *prometheus.Registry { return m.registry }

// RequestStarted marks a request in flight.
func (m *RequestMetrics) RequestStarted() { m.inflight.Inc() }

// Observe records one completed request.
func (m *RequestMetrics) Observe(method, route string, status int, duration time.Duration, bytes int64) {
	m.inflight.Dec()
	code := strconv.Itoa(status)
	m.requests.WithLabelValues(method, route, code).Inc()
	m.duration.WithLabelValues(method, route).Observe(duration.Seconds())
	m.size.WithLabelValues(method, route).Add(float64(bytes))
}

// Handler returns an exposition handler for the collected metrics, suitable
// for mounting on a /metrics route.
func (m *RequestMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
