// Package audit exports ledger events to an analytics sink.
//
// ClickHouseWriter batches concurrent writes into the ledger_audit_events
// table and acknowledges each one; LogWriter is the local fallback when no
// DSN is configured.
package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
)

// Record is one exported ledger event.
type Record struct {
	Position     uint64
	EventID      string
	StreamID     string
	EventType    string
	RestaurantID string
	ActorType    string
	ActorID      string
	RequestID    string
	EventHash    string
	OccurredAt   time.Time
	ExportedAt   time.Time
}

// RecordFromEvent builds the export record of a stored event.
func RecordFromEvent(evt event.Event, restaurantID string, exportedAt time.Time) Record {
	return Record{
		Position:     evt.Position,
		EventID:      evt.ID,
		StreamID:     evt.StreamID,
		EventType:    string(evt.Type),
		RestaurantID: restaurantID,
		ActorType:    evt.Meta.ActorType,
		ActorID:      evt.Meta.ActorID,
		RequestID:    evt.Meta.RequestID,
		EventHash:    evt.Hash,
		OccurredAt:   evt.OccurredAt,
		ExportedAt:   exportedAt.UTC(),
	}
}

// Writer accepts audit records. Write returns once the record is stored, so
// a failed export can be retried by the caller.
type Writer interface {
	Write(ctx context.Context, record Record) error
	Close()
	// Sink names the destination for metrics and logs.
	Sink() string
}

// Config selects the audit export sink.
type Config struct {
	ClickHouseDSN string `env:"BRIGADE_CLICKHOUSE_DSN"`
}

// NewWriter returns a ClickHouse writer when a DSN is configured and the
// server answers, otherwise a log writer.
func NewWriter(ctx context.Context, cfg Config, logger *zap.Logger) Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := strings.TrimSpace(cfg.ClickHouseDSN)
	if dsn == "" {
		logger.Info("no clickhouse dsn set, using log writer for audit export")
		return NewLogWriter(logger)
	}
	writer, err := NewClickHouseWriter(ctx, dsn, logger)
	if err != nil {
		logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
		return NewLogWriter(logger)
	}
	logger.Info("clickhouse audit writer connected")
	return writer
}

// LogWriter logs audit records through zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs records to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(_ context.Context, record Record) error {
	w.logger.Info("ledger_audit_event",
		zap.Uint64("position", record.Position),
		zap.String("event_id", record.EventID),
		zap.String("stream_id", record.StreamID),
		zap.String("event_type", record.EventType),
		zap.String("restaurant_id", record.RestaurantID),
		zap.String("actor_type", record.ActorType),
		zap.String("actor_id", record.ActorID),
		zap.String("request_id", record.RequestID),
		zap.Time("occurred_at", record.OccurredAt),
	)
	return nil
}

func (w *LogWriter) Close() {}

func (w *LogWriter) Sink() string { return "log" }
