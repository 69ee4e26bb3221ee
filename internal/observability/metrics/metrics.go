package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "supplier_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	inboxMessages   *prometheus.CounterVec
	inboxLatency    *prometheus.HistogramVec
	outboxDelivered *prometheus.CounterVec
	tokenFetches    *prometheus.CounterVec

	processTransitions *prometheus.CounterVec

	settlementTotal   *prometheus.CounterVec
	settlementLatency *prometheus.HistogramVec
	exportTotal       *prometheus.CounterVec
	exportLatency     *prometheus.HistogramVec

	schedulerPasses *prometheus.CounterVec
)

// Init registers metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger, inboxMaxAttempts int) {
	registerOnce.Do(func() {
		inboxMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "inbox_messages_total",
				Help: "Routed inbox messages by business process and result",
			},
			[]string{"business_process", "result"},
		)
		inboxLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "inbox_route_latency_seconds",
				Help:    "Inbox routing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDelivered = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_deliveries_total",
				Help: "Outbox delivery attempts by document type and outcome",
			},
			[]string{"document_type", "outcome"},
		)
		tokenFetches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "token_fetches_total",
				Help: "Access token requests by result",
			},
			[]string{"result"},
		)

		processTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "process_transitions_total",
				Help: "Process state transitions by process type and target state",
			},
			[]string{"process_type", "to_state"},
		)

		settlementTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_total",
				Help: "Settlement computations by kind and result",
			},
			[]string{"kind", "result"},
		)
		settlementLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_latency_seconds",
				Help:    "Settlement computation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_export_total",
				Help: "Settlement document exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "settlement_export_latency_seconds",
				Help:    "Settlement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		schedulerPasses = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduler_steps_total",
				Help: "Scheduler pass steps by step and result",
			},
			[]string{"step", "result"},
		)

		prometheus.MustRegister(
			inboxMessages,
			inboxLatency,
			outboxDelivered,
			tokenFetches,
			processTransitions,
			settlementTotal,
			settlementLatency,
			exportTotal,
			exportLatency,
			schedulerPasses,
		)

		if db != nil {
			registerDBMetrics(db, logger, inboxMaxAttempts)
		}
	})
}

// ObserveInbox records one routed inbox message.
func ObserveInbox(businessProcess, result string, duration time.Duration) {
	if businessProcess == "" {
		businessProcess = "unclassified"
	}
	if result == "" {
		result = resultSuccess
	}
	if inboxMessages != nil {
		inboxMessages.WithLabelValues(businessProcess, result).Inc()
	}
	if inboxLatency != nil {
		inboxLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncOutboxDelivery counts one delivery attempt.
func IncOutboxDelivery(documentType, outcome string) {
	if documentType == "" {
		documentType = "unknown"
	}
	if outboxDelivered != nil {
		outboxDelivered.WithLabelValues(documentType, outcome).Inc()
	}
}

// IncTokenFetch counts one request to the token endpoint.
func IncTokenFetch(result string) {
	if result == "" {
		result = resultSuccess
	}
	if tokenFetches != nil {
		tokenFetches.WithLabelValues(result).Inc()
	}
}

// IncProcessTransition counts one persisted process transition.
func IncProcessTransition(processType, toState string) {
	if processTransitions != nil {
		processTransitions.WithLabelValues(processType, toState).Inc()
	}
}

// ObserveSettlement records one settlement computation.
func ObserveSettlement(kind, result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if settlementTotal != nil {
		settlementTotal.WithLabelValues(kind, result).Inc()
	}
	if settlementLatency != nil {
		settlementLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncSchedulerStep counts one scheduler step.
func IncSchedulerStep(step, result string) {
	if schedulerPasses != nil {
		schedulerPasses.WithLabelValues(step, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
