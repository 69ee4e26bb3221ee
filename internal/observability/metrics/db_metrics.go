package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func registerDBMetrics(db *sql.DB, logger *zap.Logger, inboxMaxAttempts int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "outbox_pending",
			Help: "Unsent outbox messages still in delivery",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM outbox_messages WHERE NOT sent AND NOT dead")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "outbox_dead",
			Help: "Outbox messages waiting for an operator retry",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM outbox_messages WHERE dead AND NOT sent")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "inbox_parked",
			Help: "Inbox messages parked for manual review",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM inbox_messages WHERE NOT processed AND attempts >= $1", inboxMaxAttempts)
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string, args ...any) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
