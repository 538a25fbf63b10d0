// Package metrics provides Prometheus instrumentation for the basis engine.
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
	// RecomputesTotal counts recompute runs, partitioned by outcome.
	RecomputesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "basis_recomputes_total",
		Help: "Total number of recompute runs",
	}, []string{"outcome"})

	// RecomputeDuration tracks how long a full replay takes.
	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "basis_recompute_duration_seconds",
		Help:    "Recompute run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TradesReplayed counts trades visited across all recompute runs.
	TradesReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "basis_trades_replayed_total",
		Help: "Trades replayed by the recompute engine",
	})

	// ZeroQuantitySkipped counts data-quality rows skipped during replay.
	ZeroQuantitySkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "basis_zero_quantity_skipped_total",
		Help: "Zero-quantity trade rows skipped during replay",
	})

	// UnmatchedCloseQuantity reports the last run's unmatched
	// close-direction quantity.
	UnmatchedCloseQuantity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "basis_unmatched_close_quantity",
		Help: "Unmatched close quantity from the most recent recompute",
	})

	// OpenPositions reports the open position count after the last run.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "basis_open_positions",
		Help: "Open positions after the most recent recompute",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "basis_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "basis_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "basis_http_request_duration_seconds",
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

		// Use the raw path for the label; the route surface is small.
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
