package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

// ApplyExactlyOnce applies one projection event inside a projection-db
// transaction, recording a (consumer, position) marker to dedupe retries.
// The same commit advances the consumer watermark and clears any dead letter
// held for the position.
func (s *Store) ApplyExactlyOnce(
	ctx context.Context,
	consumer string,
	evt event.Event,
	apply func(context.Context, storage.ProjectionTx) error,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	if apply == nil {
		return false, fmt.Errorf("projection apply callback is required")
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return false, fmt.Errorf("consumer is required")
	}
	if evt.Position == 0 {
		return false, fmt.Errorf("event position must be greater than zero")
	}

	const (
		maxBusyRetries = 8
		retryBaseDelay = 10 * time.Millisecond
	)

	waitForRetry := func(attempt int) error {
		delay := time.Duration(attempt+1) * retryBaseDelay
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	var lastBusyErr error
	for attempt := 0; ; attempt++ {
		tx, err := s.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			if isSQLiteBusyError(err) && attempt < maxBusyRetries {
				lastBusyErr = err
				if waitErr := waitForRetry(attempt); waitErr != nil {
					return false, waitErr
				}
				continue
			}
			return false, fmt.Errorf("begin projection apply tx: %w", err)
		}

		applied, retry, err := func() (bool, bool, error) {
			defer tx.Rollback()

			now := time.Now().UTC()
			marker, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO projection_apply_markers (consumer, position, event_type, applied_at)
				 VALUES (?, ?, ?, ?)`,
				consumer, int64(evt.Position), string(evt.Type), toMillis(now),
			)
			if err != nil {
				if isSQLiteBusyError(err) {
					lastBusyErr = err
					return false, true, nil
				}
				return false, false, fmt.Errorf("reserve projection apply marker %s/%d: %w", consumer, evt.Position, err)
			}
			rowsAffected, err := marker.RowsAffected()
			if err != nil {
				return false, false, fmt.Errorf("inspect projection apply marker %s/%d: %w", consumer, evt.Position, err)
			}
			if rowsAffected == 0 {
				return false, false, nil
			}

			if err := apply(ctx, projectionTx{tx: tx}); err != nil {
				return false, false, err
			}

			if _, err := tx.ExecContext(ctx,
				`DELETE FROM projection_dead_letters WHERE consumer = ? AND position = ?`,
				consumer, int64(evt.Position),
			); err != nil {
				return false, false, fmt.Errorf("clear dead letter %s/%d: %w", consumer, evt.Position, err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO projection_watermarks (consumer, applied_position, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT (consumer) DO UPDATE SET
				     applied_position = MAX(applied_position, excluded.applied_position),
				     updated_at = excluded.updated_at`,
				consumer, int64(evt.Position), toMillis(now),
			); err != nil {
				return false, false, fmt.Errorf("advance projection watermark %s: %w", consumer, err)
			}

			if err := tx.Commit(); err != nil {
				if isSQLiteBusyError(err) {
					lastBusyErr = err
					return false, true, nil
				}
				return false, false, fmt.Errorf("commit projection apply tx: %w", err)
			}
			return true, false, nil
		}()
		if retry {
			if attempt < maxBusyRetries {
				if waitErr := waitForRetry(attempt); waitErr != nil {
					return false, waitErr
				}
				continue
			}
			return false, fmt.Errorf("projection apply marker %s/%d remained busy: %w", consumer, evt.Position, lastBusyErr)
		}
		return applied, err
	}
}

// GetProjectionWatermark returns a consumer's watermark.
// Returns storage.ErrNotFound if no watermark exists.
func (s *Store) GetProjectionWatermark(ctx context.Context, consumer string) (storage.ProjectionWatermark, error) {
	if err := ctx.Err(); err != nil {
		return storage.ProjectionWatermark{}, err
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return storage.ProjectionWatermark{}, fmt.Errorf("consumer is required")
	}
	var (
		wm        storage.ProjectionWatermark
		applied   int64
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT consumer, applied_position, updated_at FROM projection_watermarks WHERE consumer = ?`,
		consumer,
	).Scan(&wm.Consumer, &applied, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ProjectionWatermark{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ProjectionWatermark{}, fmt.Errorf("get projection watermark: %w", err)
	}
	wm.AppliedPosition = uint64(applied)
	wm.UpdatedAt = fromMillis(updatedAt)
	return wm, nil
}

var resettableTables = map[string]bool{
	storage.TableTipBalances:     true,
	storage.TableDailyAggregates: true,
	storage.TableAuditEntries:    true,
}

// ResetProjection clears a consumer's read model tables and bookkeeping so
// it can be rebuilt from position zero.
func (s *Store) ResetProjection(ctx context.Context, consumer string, tables []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return fmt.Errorf("consumer is required")
	}
	for _, table := range tables {
		if !resettableTables[table] {
			return fmt.Errorf("unknown projection table %q", table)
		}
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, table := range []string{"projection_apply_markers", "projection_watermarks", "projection_checkpoints", "projection_dead_letters"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE consumer = ?", consumer); err != nil {
			return fmt.Errorf("clear %s for %s: %w", table, consumer, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset tx: %w", err)
	}
	return nil
}

// projectionTx implements storage.ProjectionTx on an open transaction.
type projectionTx struct {
	tx *sql.Tx
}

func (p projectionTx) AdjustTipBalance(ctx context.Context, restaurantID, employeeID string, delta money.Cents, at time.Time) error {
	if restaurantID == "" || employeeID == "" {
		return fmt.Errorf("restaurant id and employee id are required")
	}
	if _, err := p.tx.ExecContext(ctx,
		`INSERT INTO tip_balances (restaurant_id, employee_id, balance_cents, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (restaurant_id, employee_id) DO UPDATE SET
		     balance_cents = balance_cents + excluded.balance_cents,
		     updated_at = excluded.updated_at`,
		restaurantID, employeeID, int64(delta), toMillis(at),
	); err != nil {
		return fmt.Errorf("adjust tip balance %s/%s: %w", restaurantID, employeeID, err)
	}
	return nil
}

func (p projectionTx) AdjustDailyAggregate(ctx context.Context, restaurantID, date string, delta storage.DailyAggregateDelta, at time.Time) error {
	if restaurantID == "" || date == "" {
		return fmt.Errorf("restaurant id and date are required")
	}
	if _, err := p.tx.ExecContext(ctx,
		`INSERT INTO daily_aggregates (
			restaurant_id, date, cash_sales_cents, card_sales_cents, covers,
			reports_submitted, tips_distributed_cents, tips_paid_cents, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (restaurant_id, date) DO UPDATE SET
			cash_sales_cents = cash_sales_cents + excluded.cash_sales_cents,
			card_sales_cents = card_sales_cents + excluded.card_sales_cents,
			covers = covers + excluded.covers,
			reports_submitted = reports_submitted + excluded.reports_submitted,
			tips_distributed_cents = tips_distributed_cents + excluded.tips_distributed_cents,
			tips_paid_cents = tips_paid_cents + excluded.tips_paid_cents,
			updated_at = excluded.updated_at`,
		restaurantID, date,
		int64(delta.CashSalesCents), int64(delta.CardSalesCents), delta.Covers,
		delta.ReportsSubmitted, int64(delta.TipsDistributedCents), int64(delta.TipsPaidCents),
		toMillis(at),
	); err != nil {
		return fmt.Errorf("adjust daily aggregate %s/%s: %w", restaurantID, date, err)
	}
	return nil
}

func (p projectionTx) PutAuditEntry(ctx context.Context, entry storage.AuditEntry) error {
	if _, err := p.tx.ExecContext(ctx,
		`INSERT INTO audit_entries (
			position, event_id, stream_id, event_type, actor_type, actor_id,
			restaurant_id, request_id, occurred_at, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (position) DO NOTHING`,
		int64(entry.Position), entry.EventID, entry.StreamID, string(entry.Type), entry.ActorType, entry.ActorID,
		entry.RestaurantID, entry.RequestID, toMillis(entry.OccurredAt), toMillis(entry.RecordedAt),
	); err != nil {
		return fmt.Errorf("put audit entry %d: %w", entry.Position, err)
	}
	return nil
}
