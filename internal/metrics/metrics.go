// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts settled trades by terminal status.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trades_total",
		Help: "Total number of settled trades",
	}, []string{"status"})

	// TradeLatency tracks the time from pending to settled.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"status"})

	// TradeVolume tracks cumulative input volume per input token.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_trade_volume_total",
		Help: "Cumulative trade input volume",
	}, []string{"token"})

	// QuotesTotal counts quote lookups by result.
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_quotes_total",
		Help: "Total quote requests",
	}, []string{"result"})

	// StakesTotal counts stake lifecycle events (created, ended).
	StakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_stakes_total",
		Help: "Total stake lifecycle events",
	}, []string{"event", "duration_days"})

	// ActivePrincipal tracks principal locked in active stakes since start.
	ActivePrincipal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_active_principal",
		Help: "Principal locked in active stakes",
	})

	// RewardsPaid tracks cumulative realized staking rewards.
	RewardsPaid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_rewards_paid_total",
		Help: "Cumulative realized staking rewards",
	})

	// LimitRejections counts operations rejected by the exposure limiter.
	LimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_limit_rejections_total",
		Help: "Operations rejected by exposure limits",
	}, []string{"op"})

	// AggregateFailures counts entity transitions whose user aggregate
	// update failed.
	AggregateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_aggregate_update_failures_total",
		Help: "User aggregate updates that failed after an entity transition",
	}, []string{"op"})

	// ReconcileDrift counts users whose stored aggregates disagreed with the
	// fold of their trades and stakes.
	ReconcileDrift = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_reconcile_drift_total",
		Help: "Users found with drifted aggregates",
	})

	// ReconcileRuns counts reconciliation passes by outcome.
	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_reconcile_runs_total",
		Help: "Reconciliation passes",
	}, []string{"result"})

	// TicketsIssued counts lottery tickets issued by source.
	TicketsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_lottery_tickets_issued_total",
		Help: "Lottery tickets issued",
	}, []string{"source"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
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

// Hijack passes through to the underlying writer so websocket upgrades work
// behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
