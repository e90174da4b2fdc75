// Package metrics provides Prometheus instrumentation for the refpay service.
package metrics

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refpay",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "refpay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EvaluationsTotal counts referral risk evaluations by final decision.
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refpay",
			Name:      "evaluations_total",
			Help:      "Total referral evaluations by decision (auto_approved, flagged, queued, rejected, failed).",
		},
		[]string{"decision"},
	)

	// RiskScores observes the aggregate risk score distribution.
	RiskScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "refpay",
			Name:      "risk_score",
			Help:      "Aggregate risk score per evaluation (0-100).",
			Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// CheckerFailuresTotal counts individual signal checkers that failed
	// internally and degraded to a fixed penalty.
	CheckerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refpay",
			Name:      "checker_failures_total",
			Help:      "Signal checker internal failures by checker name.",
		},
		[]string{"checker"},
	)

	// PayoutsTotal counts auto-approved bonus payouts.
	PayoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "refpay",
			Name:      "payouts_total",
			Help:      "Total auto-approved referral bonus payouts.",
		},
	)

	// PayoutAmountTotal accumulates the paid-out bonus amount.
	PayoutAmountTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "refpay",
			Name:      "payout_amount_total",
			Help:      "Cumulative bonus amount paid out (currency units).",
		},
	)

	// ActiveWebSocketClients gauges connected event-stream subscribers.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "refpay",
			Name:      "websocket_clients",
			Help:      "Currently connected WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EvaluationsTotal,
		RiskScores,
		CheckerFailuresTotal,
		PayoutsTotal,
		PayoutAmountTotal,
		ActiveWebSocketClients,
	)
}

// Middleware returns a gin middleware that records request counts and latency.
// Uses the route pattern (c.FullPath) rather than the raw URL to bound
// label cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		HTTPRequestDuration.WithLabelValues(
			c.Request.Method, path,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RegisterDBStats exposes database/sql pool statistics as gauges.
func RegisterDBStats(db *sql.DB) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "refpay",
			Name:      "db_open_connections",
			Help:      "Open connections in the database pool.",
		},
		func() float64 { return float64(db.Stats().OpenConnections) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "refpay",
			Name:      "db_in_use_connections",
			Help:      "Connections currently in use.",
		},
		func() float64 { return float64(db.Stats().InUse) },
	))
}
