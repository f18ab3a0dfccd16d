// Package metrics provides Prometheus instrumentation for the backtest engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsDispatched counts events dispatched by the driver, by kind.
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_events_dispatched_total",
		Help: "Events dispatched by the driver loop",
	}, []string{"kind"})

	// EventsDropped counts events of unknown kind dropped by the driver.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_events_dropped_total",
		Help: "Events dropped because their kind was not recognized",
	})

	// FillsTotal counts fills produced by the matching engine, by direction.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_fills_total",
		Help: "Fills produced by the matching engine",
	}, []string{"direction"})

	// OrdersRejected counts orders rejected by the matching engine.
	OrdersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_orders_rejected_total",
		Help: "Orders rejected by the matching engine",
	})

	// SignalsIgnored counts signals dropped by portfolio policy.
	SignalsIgnored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_signals_ignored_total",
		Help: "Signals ignored by portfolio policy",
	}, []string{"reason"})

	// RunsTotal counts completed backtest runs by final status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_runs_total",
		Help: "Backtest runs completed, by final status",
	}, []string{"status"})

	// RunDuration tracks wall-clock run duration.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtest_run_duration_seconds",
		Help:    "Wall-clock duration of backtest runs",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtest_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
