// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Discovery metrics
	PendingTransactionsSeen prometheus.Counter
	DeploymentsDetected     prometheus.Counter
	CandidatesSkipped       *prometheus.CounterVec

	// Verification metrics
	VerificationsTotal *prometheus.CounterVec
	VerifyQueueDepth   prometheus.Gauge
	ReceiptFetchErrors prometheus.Counter

	// Liquidity metrics
	MonitorsStarted     prometheus.Counter
	MonitorTransitions  *prometheus.CounterVec
	LiquidityEventsSeen *prometheus.CounterVec
	ActiveWatches       prometheus.Gauge

	// Stream metrics
	StreamReconnects prometheus.Counter
	StreamMessagesIn prometheus.Counter
	WSMessageLatency prometheus.Histogram

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastPendingTxSeen prometheus.Gauge
	UptimeSeconds     prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "deploywatch"
	}

	return &Metrics{
		// Discovery metrics
		PendingTransactionsSeen: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "pending_transactions_seen_total",
			Help:      "Total number of pending transactions observed on the mempool stream",
		}),
		DeploymentsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "deployments_detected_total",
			Help:      "Total number of contract-deployment candidates detected",
		}),
		CandidatesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "candidates_skipped_total",
			Help:      "Total number of transactions skipped during detection by reason",
		}, []string{"reason"}),

		// Verification metrics
		VerificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "verifications_total",
			Help:      "Total number of receipt verifications by outcome",
		}, []string{"outcome"}),
		VerifyQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "queue_depth",
			Help:      "Current number of candidates waiting for verification",
		}),
		ReceiptFetchErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "receipt_fetch_errors_total",
			Help:      "Total number of transport errors while fetching receipts",
		}),

		// Liquidity metrics
		MonitorsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "monitors_started_total",
			Help:      "Total number of liquidity monitors started",
		}),
		MonitorTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "monitor_transitions_total",
			Help:      "Total number of monitor status transitions by target status",
		}, []string{"status"}),
		LiquidityEventsSeen: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "events_seen_total",
			Help:      "Total number of liquidity events recorded by type",
		}, []string{"event_type"}),
		ActiveWatches: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "active_watches",
			Help:      "Current number of contracts with live log subscriptions",
		}),

		// Stream metrics
		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ethereum",
			Name:      "stream_reconnects_total",
			Help:      "Total number of WebSocket stream reconnects",
		}),
		StreamMessagesIn: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ethereum",
			Name:      "stream_messages_in_total",
			Help:      "Total number of messages received on the WebSocket stream",
		}),
		WSMessageLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ethereum",
			Name:      "ws_message_latency_seconds",
			Help:      "WebSocket message processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ethereum",
			Name:      "rpc_call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastPendingTxSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_pending_tx_timestamp",
			Help:      "Unix timestamp of the last pending transaction observed",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPendingTransaction counts an observed pending transaction.
func RecordPendingTransaction(unixSeconds float64) {
	DefaultMetrics.PendingTransactionsSeen.Inc()
	DefaultMetrics.LastPendingTxSeen.Set(unixSeconds)
}

// RecordDeploymentDetected counts a detected deployment candidate.
func RecordDeploymentDetected() {
	DefaultMetrics.DeploymentsDetected.Inc()
}

// RecordCandidateSkipped counts a transaction skipped during detection.
func RecordCandidateSkipped(reason string) {
	DefaultMetrics.CandidatesSkipped.WithLabelValues(reason).Inc()
}

// RecordVerification counts a finished verification by outcome status.
func RecordVerification(outcome string) {
	DefaultMetrics.VerificationsTotal.WithLabelValues(outcome).Inc()
}

// UpdateVerifyQueueDepth updates the verification queue gauge.
func UpdateVerifyQueueDepth(depth int) {
	DefaultMetrics.VerifyQueueDepth.Set(float64(depth))
}

// RecordMonitorTransition counts a monitor moving to a new status.
func RecordMonitorTransition(status string) {
	DefaultMetrics.MonitorTransitions.WithLabelValues(status).Inc()
}

// RecordLiquidityEvent counts a recorded liquidity event.
func RecordLiquidityEvent(eventType string) {
	DefaultMetrics.LiquidityEventsSeen.WithLabelValues(eventType).Inc()
}

// UpdateActiveWatches updates the live subscription gauge.
func UpdateActiveWatches(count int) {
	DefaultMetrics.ActiveWatches.Set(float64(count))
}

// RecordStreamReconnect counts a WebSocket reconnect.
func RecordStreamReconnect() {
	DefaultMetrics.StreamReconnects.Inc()
}

// RecordRPCLatency records JSON-RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
