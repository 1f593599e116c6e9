// Package metrics provides Prometheus instrumentation for the game engine.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollTicksTotal counts inner poll ticks, partitioned by outcome.
	PollTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweatstake_poll_ticks_total",
		Help: "Total inner poll ticks executed",
	}, []string{"outcome"})

	// OddsFetchesTotal counts odds provider fetches by result
	// (ok, empty, error).
	OddsFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweatstake_odds_fetches_total",
		Help: "Total odds provider fetches",
	}, []string{"result"})

	// SnapshotsPersisted counts price snapshots written to the store.
	SnapshotsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweatstake_snapshots_persisted_total",
		Help: "Price snapshots appended to the store",
	})

	// SettlementsTotal counts settlement runs by outcome (ok, error).
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweatstake_settlements_total",
		Help: "Settlement engine runs",
	}, []string{"outcome"})

	// PositionsSettled counts positions closed by settlement.
	PositionsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweatstake_positions_settled_total",
		Help: "Open positions closed by settlement",
	})

	// LeaderboardComputations counts leaderboard recomputes by outcome.
	LeaderboardComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweatstake_leaderboard_computations_total",
		Help: "Leaderboard recomputations",
	}, []string{"outcome"})

	// WebSocketClients tracks connected viewers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sweatstake_websocket_clients",
		Help: "Number of connected WebSocket viewers",
	})

	// BroadcastsTotal counts push-channel broadcasts by message type.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweatstake_broadcasts_total",
		Help: "Messages broadcast on the push channel",
	}, []string{"type"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweatstake_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweatstake_http_request_duration_seconds",
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

// Hijack forwards to the underlying writer so the WebSocket upgrade still
// works behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
