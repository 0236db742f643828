package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 1024
	flushBatch    = 1000
	insertTimeout = 5 * time.Second
)

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("audit writer is closed")

const createTableSQL = `
CREATE TABLE IF NOT EXISTS ledger_audit_events (
	position UInt64,
	event_id String,
	stream_id String,
	event_type LowCardinality(String),
	restaurant_id String,
	actor_type LowCardinality(String),
	actor_id String,
	request_id String,
	event_hash String,
	occurred_at DateTime64(3, 'UTC'),
	exported_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree
ORDER BY (restaurant_id, position)`

// inserter persists one batch of records.
type inserter func(ctx context.Context, records []Record) error

// pending is a queued record and the channel its insert result goes to.
type pending struct {
	record Record
	result chan error
}

// ClickHouseWriter writes audit records to ClickHouse. A background loop
// batches whatever writes are queued together into one insert and reports
// the insert result back to every waiting Write.
type ClickHouseWriter struct {
	conn    driver.Conn
	insert  inserter
	queue   chan pending
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewClickHouseWriter connects, ensures the table exists and starts the
// flush loop.
func NewClickHouseWriter(ctx context.Context, dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ensure ledger_audit_events: %w", err)
	}
	w := newClickHouseWriter(nil, logger)
	w.conn = conn
	w.insert = w.insertBatch
	go w.flushLoop()
	return w, nil
}

func newClickHouseWriter(insert inserter, logger *zap.Logger) *ClickHouseWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickHouseWriter{
		insert:  insert,
		queue:   make(chan pending, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
}

// Write queues a record and waits until the batch holding it is inserted.
// A nil error means the record is stored in ClickHouse.
func (w *ClickHouseWriter) Write(ctx context.Context, record Record) error {
	p := pending{record: record, result: make(chan error, 1)}
	select {
	case w.queue <- p:
	case <-w.done:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-p.result:
		return err
	case <-w.flushed:
		// The loop may have answered right before exiting.
		select {
		case err := <-p.result:
			return err
		default:
			return ErrWriterClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes queued records, waits for the flush loop and closes the
// connection. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
	if w.conn != nil {
		if err := w.conn.Close(); err != nil {
			w.logger.Warn("close clickhouse connection", zap.Error(err))
		}
	}
}

func (w *ClickHouseWriter) Sink() string { return "clickhouse" }

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	batch := make([]pending, 0, flushBatch)
	for {
		select {
		case p := <-w.queue:
			batch = append(batch[:0], p)
		collect:
			for len(batch) < flushBatch {
				select {
				case next := <-w.queue:
					batch = append(batch, next)
				default:
					break collect
				}
			}
			w.flush(batch)
		case <-w.done:
			batch = batch[:0]
		drain:
			for {
				select {
				case p := <-w.queue:
					batch = append(batch, p)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(batch []pending) {
	records := make([]Record, len(batch))
	for i, p := range batch {
		records[i] = p.record
	}
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	err := w.insert(ctx, records)
	if err != nil {
		w.logger.Error("clickhouse audit batch failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
	for _, p := range batch {
		p.result <- err
	}
}

func (w *ClickHouseWriter) insertBatch(ctx context.Context, records []Record) error {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_audit_events (
			position, event_id, stream_id, event_type, restaurant_id,
			actor_type, actor_id, request_id, event_hash, occurred_at, exported_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, r := range records {
		if err := batch.Append(
			r.Position,
			r.EventID,
			r.StreamID,
			r.EventType,
			r.RestaurantID,
			r.ActorType,
			r.ActorID,
			r.RequestID,
			r.EventHash,
			r.OccurredAt,
			r.ExportedAt,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append audit record %d: %w", r.Position, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}
