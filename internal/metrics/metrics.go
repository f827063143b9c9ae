// Package metrics provides Prometheus instrumentation for the journal
// engine.
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
	// TradesRecorded counts journaled trades, partitioned by inferred direction.
	TradesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wiggly_trades_recorded_total",
		Help: "Total number of trades recorded in the journal",
	}, []string{"direction"})

	// RoleCacheHits counts role resolutions served from cache.
	RoleCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wiggly_role_cache_hits_total",
		Help: "Role resolutions served without a store query",
	})

	// RoleCacheMisses counts role resolutions that required a fetch.
	RoleCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wiggly_role_cache_misses_total",
		Help: "Role resolutions that went through the fetch path",
	})

	// RoleCacheClears counts explicit cache invalidations.
	RoleCacheClears = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wiggly_role_cache_clears_total",
		Help: "Explicit role cache invalidations",
	})

	// RoleQueriesTotal counts underlying role-assignment queries issued.
	// With single-flight de-duplication this grows slower than misses.
	RoleQueriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wiggly_role_queries_total",
		Help: "Role-assignment queries issued to the store",
	})

	// ProgressUpserts counts lesson progress writes.
	ProgressUpserts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wiggly_progress_upserts_total",
		Help: "Lesson progress rows upserted",
	})

	// ProgressReloads counts full course-progress recomputations.
	ProgressReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wiggly_progress_reloads_total",
		Help: "Course progress reloads executed",
	})

	// ProgressReloadsDropped counts reload triggers dropped because a
	// reload for the same course was already in flight.
	ProgressReloadsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wiggly_progress_reloads_dropped_total",
		Help: "Course progress reload triggers dropped by the in-flight guard",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wiggly_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wiggly_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wiggly_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is small.
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
