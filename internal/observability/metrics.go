// Package observability provides Prometheus metrics and tracing for the ledger.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Market metrics
	TradesExecuted  prometheus.Counter
	TradeVolume     prometheus.Counter
	TradeFees       prometheus.Counter
	ListingsExpired prometheus.Counter
	SweepRuns       *prometheus.CounterVec
	SweepDuration   prometheus.Histogram

	// Event fan-out metrics
	EventsPublished    *prometheus.CounterVec
	EventPublishErrors *prometheus.CounterVec
	WSClients          prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
	TxRetries       *prometheus.CounterVec

	// Health metrics
	LastSuccessfulSweep prometheus.Gauge
	UptimeSeconds       prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "syndicate_ledger"
	}

	return &Metrics{
		// Ledger operation metrics
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by outcome",
		}, []string{"operation", "outcome"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		// Market metrics
		TradesExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "trades_executed_total",
			Help:      "Total number of secondary trades executed",
		}),
		TradeVolume: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "trade_volume_total",
			Help:      "Total traded amount across all syndicates",
		}),
		TradeFees: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "trade_fees_total",
			Help:      "Total platform fees computed on trades",
		}),
		ListingsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "listings_expired_total",
			Help:      "Total number of listings moved to EXPIRED",
		}),
		SweepRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "sweep_runs_total",
			Help:      "Total number of expiry sweeps by status",
		}, []string{"status"}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "sweep_duration_seconds",
			Help:      "Expiry sweep duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Event fan-out metrics
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of ledger events published by sink",
		}, []string{"sink", "event_type"}),
		EventPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_errors_total",
			Help:      "Total number of failed event publishes by sink",
		}, []string{"sink", "event_type"}),
		WSClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "websocket_clients",
			Help:      "Current number of connected websocket subscribers",
		}),

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
		TxRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "tx_retries_total",
			Help:      "Total number of transactions retried after serialization failures",
		}, []string{"database"}),

		// Health metrics
		LastSuccessfulSweep: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sweep_timestamp",
			Help:      "Unix timestamp of last successful expiry sweep",
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

// RecordOperation records one ledger operation.
func RecordOperation(operation, outcome string, seconds float64) {
	DefaultMetrics.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordTrade records an executed trade.
func RecordTrade(totalAmount, fee decimal.Decimal) {
	DefaultMetrics.TradesExecuted.Inc()
	DefaultMetrics.TradeVolume.Add(totalAmount.InexactFloat64())
	DefaultMetrics.TradeFees.Add(fee.InexactFloat64())
}

// RecordSweep records an expiry sweep.
func RecordSweep(status string, expired int, durationSeconds float64, finishedUnix int64) {
	DefaultMetrics.SweepRuns.WithLabelValues(status).Inc()
	DefaultMetrics.SweepDuration.Observe(durationSeconds)
	DefaultMetrics.ListingsExpired.Add(float64(expired))
	if status == "ok" {
		DefaultMetrics.LastSuccessfulSweep.Set(float64(finishedUnix))
	}
}

// RecordEventPublished records a publish attempt on a sink.
func RecordEventPublished(sink, eventType string, err error) {
	if err != nil {
		DefaultMetrics.EventPublishErrors.WithLabelValues(sink, eventType).Inc()
		return
	}
	DefaultMetrics.EventsPublished.WithLabelValues(sink, eventType).Inc()
}

// SetWSClients updates the websocket subscriber gauge.
func SetWSClients(n int) {
	DefaultMetrics.WSClients.Set(float64(n))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordTxRetry increments the transaction retry counter.
func RecordTxRetry(database string) {
	DefaultMetrics.TxRetries.WithLabelValues(database).Inc()
}

// AddUptime advances the uptime counter.
func AddUptime(seconds float64) {
	DefaultMetrics.UptimeSeconds.Add(seconds)
}
