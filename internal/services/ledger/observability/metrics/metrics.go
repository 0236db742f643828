// Package metrics registers the ledger's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the counters below.
const (
	OutcomeOK       = "ok"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"

	DeliveryApplied      = "applied"
	DeliveryDuplicate    = "duplicate"
	DeliveryRetried      = "retried"
	DeliveryDeadLettered = "dead_lettered"
)

var (
	// appendsTotal counts ledger appends.
	// Labels:
	// - event_type: TIPS_DISTRIBUTED, TIP_PAID, ...
	// - outcome:    ok, conflict, invalid or error
	appendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brigade",
			Subsystem: "ledger",
			Name:      "appends_total",
			Help:      "Number of ledger appends by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	appendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "brigade",
			Subsystem: "ledger",
			Name:      "append_duration_seconds",
			Help:      "Duration of ledger appends",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// deliveriesTotal counts projection deliveries.
	// Labels:
	// - consumer: tip_balances, daily_aggregates, ...
	// - outcome:  applied, duplicate, retried or dead_lettered
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brigade",
			Subsystem: "projection",
			Name:      "deliveries_total",
			Help:      "Number of projection deliveries by consumer and outcome",
		},
		[]string{"consumer", "outcome"},
	)

	// consumerCheckpoint tracks the last delivered position per consumer.
	consumerCheckpoint = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "brigade",
			Subsystem: "projection",
			Name:      "checkpoint_position",
			Help:      "Last ledger position delivered to each consumer",
		},
		[]string{"consumer"},
	)

	// settlementsTotal counts tip settlement operations.
	// Labels:
	// - operation: preview, approve or flush
	// - outcome:   ok, conflict, invalid or error
	settlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brigade",
			Subsystem: "tips",
			Name:      "settlement_operations_total",
			Help:      "Number of tip settlement operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	tipsPaidCents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brigade",
			Subsystem: "tips",
			Name:      "paid_cents_total",
			Help:      "Cents paid out through tip flushes by mode",
		},
		[]string{"mode"},
	)

	// auditExportsTotal counts audit records handed to an export sink.
	// Labels:
	// - sink:    clickhouse or log
	// - outcome: ok or error
	auditExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "brigade",
			Subsystem: "audit",
			Name:      "exports_total",
			Help:      "Number of audit records exported by sink and outcome",
		},
		[]string{"sink", "outcome"},
	)
)

// RecordAppend counts one append and observes its duration.
func RecordAppend(eventType, outcome string, elapsed time.Duration) {
	appendsTotal.WithLabelValues(eventType, outcome).Inc()
	appendDuration.Observe(elapsed.Seconds())
}

// RecordDelivery counts one delivery attempt for a consumer.
func RecordDelivery(consumer, outcome string) {
	deliveriesTotal.WithLabelValues(consumer, outcome).Inc()
}

// SetCheckpoint publishes a consumer's checkpoint position.
func SetCheckpoint(consumer string, position uint64) {
	consumerCheckpoint.WithLabelValues(consumer).Set(float64(position))
}

// RecordSettlement counts one settlement operation.
func RecordSettlement(operation, outcome string) {
	settlementsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordTipsPaid adds flushed cents for a payout mode.
func RecordTipsPaid(mode string, cents int64) {
	if cents <= 0 {
		return
	}
	tipsPaidCents.WithLabelValues(mode).Add(float64(cents))
}

// RecordAuditExport counts one exported audit record.
func RecordAuditExport(sink, outcome string) {
	auditExportsTotal.WithLabelValues(sink, outcome).Inc()
}
