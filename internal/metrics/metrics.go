// Package metrics exposes Prometheus collectors for the admin client and the
// simulated backend.
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
	progressEventsTotal          *prometheus.CounterVec
	progressDecodeErrorsTotal    prometheus.Counter
	progressTransportErrorsTotal prometheus.Counter
	progressSubscriptionsActive  prometheus.Gauge
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	mockTasksTotal               *prometheus.CounterVec
	rateLimitedTotal             *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		progressEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admin_progress_events_total",
				Help: "Progress stream frames delivered to handlers, labeled by event name.",
			},
			[]string{"event"},
		)

		progressDecodeErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "admin_progress_decode_errors_total",
				Help: "Progress stream frames dropped because the payload did not decode.",
			},
		)

		progressTransportErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "admin_progress_transport_errors_total",
				Help: "Progress subscriptions closed by a transport failure.",
			},
		)

		progressSubscriptionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "admin_progress_subscriptions_active",
				Help: "Number of progress subscriptions currently holding a connection.",
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

		mockTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mock_tasks_total",
				Help: "Simulated backend tasks that reached a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		rateLimitedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mock_rate_limited_total",
				Help: "Requests rejected with 429 by the simulated backend, labeled by route.",
			},
			[]string{"route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProgressEvent counts a frame handed to a subscriber callback.
func ObserveProgressEvent(event string) {
	Init()
	progressEventsTotal.WithLabelValues(event).Inc()
}

// ObserveDecodeError counts a dropped malformed frame.
func ObserveDecodeError() {
	Init()
	progressDecodeErrorsTotal.Inc()
}

// ObserveTransportError counts a subscription closed by a connection failure.
func ObserveTransportError() {
	Init()
	progressTransportErrorsTotal.Inc()
}

// IncActiveSubscriptions increments the active subscriptions gauge.
func IncActiveSubscriptions() {
	Init()
	progressSubscriptionsActive.Inc()
}

// DecActiveSubscriptions decrements the active subscriptions gauge.
func DecActiveSubscriptions() {
	Init()
	progressSubscriptionsActive.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveMockTask counts a simulated task reaching the given terminal status.
func ObserveMockTask(status string) {
	Init()
	mockTasksTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimited counts a request rejected by the per-client limiter.
func ObserveRateLimited(route string) {
	Init()
	rateLimitedTotal.WithLabelValues(route).Inc()
}
