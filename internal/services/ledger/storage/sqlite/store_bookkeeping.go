package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/replay"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

// GetProjectionCheckpoint returns a consumer's delivery checkpoint.
func (s *Store) GetProjectionCheckpoint(ctx context.Context, consumer string) (replay.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return replay.Checkpoint{}, err
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return replay.Checkpoint{}, fmt.Errorf("consumer is required")
	}
	var (
		cp        replay.Checkpoint
		position  int64
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT consumer, position, updated_at FROM projection_checkpoints WHERE consumer = ?`, consumer,
	).Scan(&cp.Consumer, &position, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return replay.Checkpoint{}, storage.ErrNotFound
	}
	if err != nil {
		return replay.Checkpoint{}, fmt.Errorf("get projection checkpoint: %w", err)
	}
	cp.Position = uint64(position)
	cp.UpdatedAt = fromMillis(updatedAt)
	return cp, nil
}

// SaveProjectionCheckpoint upserts a checkpoint without moving it backwards.
func (s *Store) SaveProjectionCheckpoint(ctx context.Context, checkpoint replay.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	checkpoint.Consumer = strings.TrimSpace(checkpoint.Consumer)
	if checkpoint.Consumer == "" {
		return fmt.Errorf("consumer is required")
	}
	if checkpoint.UpdatedAt.IsZero() {
		checkpoint.UpdatedAt = time.Now().UTC()
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO projection_checkpoints (consumer, position, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (consumer) DO UPDATE SET
		     position = MAX(position, excluded.position),
		     updated_at = excluded.updated_at`,
		checkpoint.Consumer, int64(checkpoint.Position), toMillis(checkpoint.UpdatedAt),
	); err != nil {
		return fmt.Errorf("save projection checkpoint: %w", err)
	}
	return nil
}

// PutDeadLetter records an event a consumer gave up on.
func (s *Store) PutDeadLetter(ctx context.Context, letter storage.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(letter.Consumer) == "" || letter.Position == 0 {
		return fmt.Errorf("dead letter consumer and position are required")
	}
	if letter.FailedAt.IsZero() {
		letter.FailedAt = time.Now().UTC()
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO projection_dead_letters (consumer, position, event_id, event_type, attempts, last_error, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (consumer, position) DO UPDATE SET
		     attempts = excluded.attempts,
		     last_error = excluded.last_error,
		     failed_at = excluded.failed_at`,
		letter.Consumer, int64(letter.Position), letter.EventID, string(letter.EventType),
		letter.Attempts, letter.LastError, toMillis(letter.FailedAt),
	); err != nil {
		return fmt.Errorf("put dead letter: %w", err)
	}
	return nil
}

const deadLetterColumns = `consumer, position, event_id, event_type, attempts, last_error, failed_at`

// GetDeadLetter returns one dead letter.
func (s *Store) GetDeadLetter(ctx context.Context, consumer string, position uint64) (storage.DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return storage.DeadLetter{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+deadLetterColumns+` FROM projection_dead_letters WHERE consumer = ? AND position = ?`,
		consumer, int64(position),
	)
	letter, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DeadLetter{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.DeadLetter{}, fmt.Errorf("get dead letter: %w", err)
	}
	return letter, nil
}

// ListDeadLetters lists dead letters by consumer and position.
func (s *Store) ListDeadLetters(ctx context.Context, consumer string, limit int) ([]storage.DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := `SELECT ` + deadLetterColumns + ` FROM projection_dead_letters`
	var args []any
	if consumer = strings.TrimSpace(consumer); consumer != "" {
		query += " WHERE consumer = ?"
		args = append(args, consumer)
	}
	query += " ORDER BY consumer, position"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()
	out := make([]storage.DeadLetter, 0)
	for rows.Next() {
		letter, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, letter)
	}
	return out, rows.Err()
}

// DeleteDeadLetter removes a dead letter once it has been replayed.
func (s *Store) DeleteDeadLetter(ctx context.Context, consumer string, position uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM projection_dead_letters WHERE consumer = ? AND position = ?`, consumer, int64(position),
	); err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	return nil
}

func scanDeadLetter(row rowScanner) (storage.DeadLetter, error) {
	var (
		letter    storage.DeadLetter
		position  int64
		eventType string
		failedAt  int64
	)
	if err := row.Scan(&letter.Consumer, &position, &letter.EventID, &eventType, &letter.Attempts, &letter.LastError, &failedAt); err != nil {
		return storage.DeadLetter{}, err
	}
	letter.Position = uint64(position)
	letter.EventType = event.Type(eventType)
	letter.FailedAt = fromMillis(failedAt)
	return letter, nil
}
