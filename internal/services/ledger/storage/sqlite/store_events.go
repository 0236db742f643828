package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
	"github.com/louisbranch/brigade/internal/services/ledger/storage/integrity"
)

const eventColumns = `position, id, stream_id, version, event_type, payload_json,
	actor_type, actor_id, request_id, correlation_id, restaurant_id, occurred_at,
	event_hash, prev_hash, chain_hash, signature_key_id, event_signature`

// AppendEvent atomically appends an event and returns it with position,
// version and integrity fields set.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event, opts storage.AppendOptions) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	if s.keyring == nil {
		return event.Event{}, fmt.Errorf("event integrity keyring is required")
	}
	evt = evt.Normalize()
	if evt.ID == "" {
		return event.Event{}, fmt.Errorf("event id is required")
	}
	if evt.StreamID == "" {
		return event.Event{}, event.ErrStreamIDRequired
	}
	if evt.OccurredAt.IsZero() {
		return event.Event{}, fmt.Errorf("occurred at is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, evt.ID).Scan(&exists)
	if err == nil {
		return event.Event{}, storage.EventIDConflictError(evt.ID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, fmt.Errorf("check event id: %w", err)
	}

	var (
		current   int64
		prevChain string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT version, chain_hash FROM stream_versions WHERE stream_id = ?`, evt.StreamID,
	).Scan(&current, &prevChain)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, fmt.Errorf("get stream version: %w", err)
	}
	if opts.ExpectedVersion != nil && *opts.ExpectedVersion != uint64(current) {
		return event.Event{}, storage.StreamVersionConflictError(evt.StreamID, *opts.ExpectedVersion, uint64(current))
	}

	if opts.OncePerStream {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stream_once_claims (stream_id, event_type, event_id, claimed_at) VALUES (?, ?, ?, ?)`,
			evt.StreamID, string(evt.Type), evt.ID, toMillis(evt.OccurredAt),
		); err != nil {
			if isConstraintError(err) {
				return event.Event{}, storage.EventAlreadyRecordedError(evt.StreamID, evt.Type)
			}
			return event.Event{}, fmt.Errorf("claim once-per-stream event: %w", err)
		}
	}

	evt.Version = uint64(current) + 1
	evt, err = integrity.Seal(s.keyring, evt, prevChain)
	if err != nil {
		return event.Event{}, err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO events (
			id, stream_id, version, event_type, payload_json,
			actor_type, actor_id, request_id, correlation_id, restaurant_id, occurred_at,
			event_hash, prev_hash, chain_hash, signature_key_id, event_signature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.StreamID, int64(evt.Version), string(evt.Type), evt.PayloadJSON,
		evt.Meta.ActorType, evt.Meta.ActorID, evt.Meta.RequestID, evt.Meta.CorrelationID, evt.Meta.RestaurantID,
		toMillis(evt.OccurredAt),
		evt.Hash, evt.PrevHash, evt.ChainHash, evt.SignatureKeyID, evt.Signature,
	)
	if err != nil {
		if isConstraintError(err) && strings.Contains(err.Error(), "events.id") {
			return event.Event{}, storage.EventIDConflictError(evt.ID)
		}
		if isConstraintError(err) {
			return event.Event{}, storage.StreamVersionConflictError(evt.StreamID, uint64(current), uint64(current)+1)
		}
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}
	position, err := result.LastInsertId()
	if err != nil {
		return event.Event{}, fmt.Errorf("read event position: %w", err)
	}
	evt.Position = uint64(position)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stream_versions (stream_id, version, chain_hash, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (stream_id) DO UPDATE SET
		     version = excluded.version,
		     chain_hash = excluded.chain_hash,
		     updated_at = excluded.updated_at`,
		evt.StreamID, int64(evt.Version), evt.ChainHash, toMillis(evt.OccurredAt),
	); err != nil {
		return event.Event{}, fmt.Errorf("advance stream version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, fmt.Errorf("commit: %w", err)
	}
	return evt, nil
}

// GetStream returns a stream's events by occurrence time, then version.
func (s *Store) GetStream(ctx context.Context, streamID string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE stream_id = ? ORDER BY occurred_at, version, position`,
		strings.TrimSpace(streamID),
	)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return scanEvents(rows)
}

// ListEventsAfter returns events after a global position in position order.
func (s *Store) ListEventsAfter(ctx context.Context, after uint64, types []event.Type, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE position > ?`
	args := []any{int64(after)}
	if filter, filterArgs := typeFilter(types); filter != "" {
		query += " AND " + filter
		args = append(args, filterArgs...)
	}
	query += " ORDER BY position"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return scanEvents(rows)
}

// GetEventByPosition returns the event at a global position.
func (s *Store) GetEventByPosition(ctx context.Context, position uint64) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s == nil || s.sqlDB == nil {
		return event.Event{}, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE position = ?`, int64(position))
	if err != nil {
		return event.Event{}, fmt.Errorf("get event: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return event.Event{}, err
	}
	if len(events) == 0 {
		return event.Event{}, storage.ErrNotFound
	}
	return events[0], nil
}

// StreamVersion returns the stream's current version, 0 when empty.
func (s *Store) StreamVersion(ctx context.Context, streamID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var version int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT version FROM stream_versions WHERE stream_id = ?`, strings.TrimSpace(streamID),
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get stream version: %w", err)
	}
	return uint64(version), nil
}

// LatestPosition returns the highest assigned position, 0 when empty.
func (s *Store) LatestPosition(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var position sql.NullInt64
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT MAX(position) FROM events`).Scan(&position); err != nil {
		return 0, fmt.Errorf("get latest position: %w", err)
	}
	return uint64(position.Int64), nil
}

// VerifyEventIntegrity validates the event chain and signatures for all
// streams and returns the first break.
func (s *Store) VerifyEventIntegrity(ctx context.Context) (storage.IntegrityReport, error) {
	if err := ctx.Err(); err != nil {
		return storage.IntegrityReport{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.IntegrityReport{}, fmt.Errorf("storage is not configured")
	}
	if s.keyring == nil {
		return storage.IntegrityReport{}, fmt.Errorf("event integrity keyring is required")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY stream_id, version`)
	if err != nil {
		return storage.IntegrityReport{}, fmt.Errorf("list events for verification: %w", err)
	}
	defer rows.Close()

	var (
		report        storage.IntegrityReport
		currentStream string
		prevChainHash string
		lastVersion   uint64
	)
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return report, err
		}
		if evt.StreamID != currentStream {
			currentStream = evt.StreamID
			prevChainHash = ""
			lastVersion = 0
			report.Streams++
		}
		if evt.Version != lastVersion+1 {
			return report, fmt.Errorf("stream %s: version gap after %d (got %d)", evt.StreamID, lastVersion, evt.Version)
		}
		if err := integrity.Verify(s.keyring, evt, prevChainHash); err != nil {
			return report, err
		}
		prevChainHash = evt.ChainHash
		lastVersion = evt.Version
		report.Events++
	}
	if err := rows.Err(); err != nil {
		return report, fmt.Errorf("read events for verification: %w", err)
	}
	return report, nil
}

func typeFilter(types []event.Type) (string, []any) {
	if len(types) == 0 {
		return "", nil
	}
	placeholders := make([]string, 0, len(types))
	args := make([]any, 0, len(types))
	for _, t := range types {
		if t == event.TypeAny {
			return "", nil
		}
		placeholders = append(placeholders, "?")
		args = append(args, string(t))
	}
	return "event_type IN (" + strings.Join(placeholders, ", ") + ")", args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (event.Event, error) {
	var (
		evt        event.Event
		position   int64
		version    int64
		eventType  string
		occurredAt int64
	)
	if err := row.Scan(
		&position, &evt.ID, &evt.StreamID, &version, &eventType, &evt.PayloadJSON,
		&evt.Meta.ActorType, &evt.Meta.ActorID, &evt.Meta.RequestID, &evt.Meta.CorrelationID, &evt.Meta.RestaurantID,
		&occurredAt,
		&evt.Hash, &evt.PrevHash, &evt.ChainHash, &evt.SignatureKeyID, &evt.Signature,
	); err != nil {
		return event.Event{}, fmt.Errorf("scan event: %w", err)
	}
	evt.Position = uint64(position)
	evt.Version = uint64(version)
	evt.Type = event.Type(eventType)
	evt.OccurredAt = fromMillis(occurredAt)
	return evt, nil
}

func scanEvents(rows *sql.Rows) ([]event.Event, error) {
	defer rows.Close()
	events := make([]event.Event, 0)
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isSQLiteBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
