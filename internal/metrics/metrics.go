// Package metrics provides Prometheus instrumentation for the lot engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MutationsTotal counts committed ledger mutations by operation, kind and metal.
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bullion_ledger_mutations_total",
		Help: "Committed ledger mutations",
	}, []string{"op", "kind", "metal"})

	// MutationLatency tracks the full lock→load→plan→commit sequence.
	MutationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bullion_ledger_mutation_latency_seconds",
		Help:    "Ledger mutation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// Rejections counts mutations refused before commit, by reason.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bullion_ledger_rejections_total",
		Help: "Ledger mutations rejected, by reason",
	}, []string{"op", "reason"})

	// ConflictRetries counts version conflicts that triggered a retry.
	ConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bullion_ledger_conflict_retries_total",
		Help: "Mutations retried after a version conflict",
	})

	// Compensations counts partial commits that were rolled back by hand.
	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bullion_ledger_compensations_total",
		Help: "Partial commits rolled back with compensating writes",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bullion_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bullion_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bullion_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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
