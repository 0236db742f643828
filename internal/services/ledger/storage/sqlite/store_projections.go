package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetTipBalance returns one employee's projected balance.
func (s *Store) GetTipBalance(ctx context.Context, restaurantID, employeeID string) (storage.TipBalance, error) {
	if err := ctx.Err(); err != nil {
		return storage.TipBalance{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TipBalance{}, fmt.Errorf("storage is not configured")
	}
	var (
		balance   storage.TipBalance
		cents     int64
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT restaurant_id, employee_id, balance_cents, updated_at FROM tip_balances
		 WHERE restaurant_id = ? AND employee_id = ?`,
		restaurantID, employeeID,
	).Scan(&balance.RestaurantID, &balance.EmployeeID, &cents, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.TipBalance{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.TipBalance{}, fmt.Errorf("get tip balance: %w", err)
	}
	balance.BalanceCents = money.Cents(cents)
	balance.UpdatedAt = fromMillis(updatedAt)
	return balance, nil
}

// ListTipBalances returns a restaurant's balances sorted by employee id.
func (s *Store) ListTipBalances(ctx context.Context, restaurantID string) ([]storage.TipBalance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	return listTipBalances(ctx, s.sqlDB, restaurantID)
}

// TipBalanceSnapshot reads balances, the consumer watermark and its dead
// letters inside one transaction. Letters whose position already carries an
// apply marker are left out: their effect is in the balances.
func (s *Store) TipBalanceSnapshot(ctx context.Context, restaurantID, consumer string) (storage.TipBalanceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.TipBalanceSnapshot{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TipBalanceSnapshot{}, fmt.Errorf("storage is not configured")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.TipBalanceSnapshot{}, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	var snapshot storage.TipBalanceSnapshot
	if snapshot.Balances, err = listTipBalances(ctx, tx, restaurantID); err != nil {
		return storage.TipBalanceSnapshot{}, err
	}
	var watermark int64
	err = tx.QueryRowContext(ctx,
		`SELECT applied_position FROM projection_watermarks WHERE consumer = ?`, consumer,
	).Scan(&watermark)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storage.TipBalanceSnapshot{}, fmt.Errorf("get projection watermark: %w", err)
	}
	snapshot.Watermark = uint64(watermark)

	rows, err := tx.QueryContext(ctx,
		`SELECT d.position FROM projection_dead_letters d
		 WHERE d.consumer = ? AND d.position <= ?
		   AND NOT EXISTS (
		       SELECT 1 FROM projection_apply_markers m
		       WHERE m.consumer = d.consumer AND m.position = d.position
		   )
		 ORDER BY d.position`,
		consumer, watermark,
	)
	if err != nil {
		return storage.TipBalanceSnapshot{}, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var position int64
		if err := rows.Scan(&position); err != nil {
			return storage.TipBalanceSnapshot{}, fmt.Errorf("scan dead letter: %w", err)
		}
		snapshot.DeadLetters = append(snapshot.DeadLetters, uint64(position))
	}
	if err := rows.Err(); err != nil {
		return storage.TipBalanceSnapshot{}, fmt.Errorf("read dead letters: %w", err)
	}
	return snapshot, nil
}

func listTipBalances(ctx context.Context, q queryer, restaurantID string) ([]storage.TipBalance, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT restaurant_id, employee_id, balance_cents, updated_at FROM tip_balances
		 WHERE restaurant_id = ? ORDER BY employee_id`,
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tip balances: %w", err)
	}
	defer rows.Close()
	balances := make([]storage.TipBalance, 0)
	for rows.Next() {
		var (
			balance   storage.TipBalance
			cents     int64
			updatedAt int64
		)
		if err := rows.Scan(&balance.RestaurantID, &balance.EmployeeID, &cents, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan tip balance: %w", err)
		}
		balance.BalanceCents = money.Cents(cents)
		balance.UpdatedAt = fromMillis(updatedAt)
		balances = append(balances, balance)
	}
	return balances, rows.Err()
}

const dailyAggregateColumns = `restaurant_id, date, cash_sales_cents, card_sales_cents, covers,
	reports_submitted, tips_distributed_cents, tips_paid_cents, updated_at`

// GetDailyAggregate returns one day's projected figures.
func (s *Store) GetDailyAggregate(ctx context.Context, restaurantID, date string) (storage.DailyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return storage.DailyAggregate{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.DailyAggregate{}, fmt.Errorf("storage is not configured")
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+dailyAggregateColumns+` FROM daily_aggregates WHERE restaurant_id = ? AND date = ?`,
		restaurantID, date,
	)
	aggregate, err := scanDailyAggregate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DailyAggregate{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.DailyAggregate{}, fmt.Errorf("get daily aggregate: %w", err)
	}
	return aggregate, nil
}

// ListDailyAggregates returns rows in [from, to] ordered by date.
func (s *Store) ListDailyAggregates(ctx context.Context, restaurantID, from, to string) ([]storage.DailyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+dailyAggregateColumns+` FROM daily_aggregates
		 WHERE restaurant_id = ? AND date >= ? AND date <= ? ORDER BY date`,
		restaurantID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("list daily aggregates: %w", err)
	}
	defer rows.Close()
	out := make([]storage.DailyAggregate, 0)
	for rows.Next() {
		aggregate, err := scanDailyAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan daily aggregate: %w", err)
		}
		out = append(out, aggregate)
	}
	return out, rows.Err()
}

func scanDailyAggregate(row rowScanner) (storage.DailyAggregate, error) {
	var (
		a                                  storage.DailyAggregate
		cash, card, distributed, paid, upd int64
	)
	if err := row.Scan(&a.RestaurantID, &a.Date, &cash, &card, &a.Covers, &a.ReportsSubmitted, &distributed, &paid, &upd); err != nil {
		return storage.DailyAggregate{}, err
	}
	a.CashSalesCents = money.Cents(cash)
	a.CardSalesCents = money.Cents(card)
	a.TipsDistributedCents = money.Cents(distributed)
	a.TipsPaidCents = money.Cents(paid)
	a.UpdatedAt = fromMillis(upd)
	return a, nil
}

// ListAuditEntries returns audit rows by position.
func (s *Store) ListAuditEntries(ctx context.Context, query storage.AuditQuery) ([]storage.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	sqlQuery := `SELECT position, event_id, stream_id, event_type, actor_type, actor_id,
		restaurant_id, request_id, occurred_at, recorded_at
		FROM audit_entries WHERE position > ?`
	args := []any{int64(query.AfterPosition)}
	if restaurantID := strings.TrimSpace(query.RestaurantID); restaurantID != "" {
		sqlQuery += " AND restaurant_id = ?"
		args = append(args, restaurantID)
	}
	sqlQuery += " ORDER BY position"
	if query.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.Limit)
	}
	rows, err := s.sqlDB.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	out := make([]storage.AuditEntry, 0)
	for rows.Next() {
		var (
			entry                storage.AuditEntry
			position             int64
			eventType            string
			occurredAt, recorded int64
		)
		if err := rows.Scan(&position, &entry.EventID, &entry.StreamID, &eventType, &entry.ActorType, &entry.ActorID,
			&entry.RestaurantID, &entry.RequestID, &occurredAt, &recorded); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Position = uint64(position)
		entry.Type = event.Type(eventType)
		entry.OccurredAt = fromMillis(occurredAt)
		entry.RecordedAt = fromMillis(recorded)
		out = append(out, entry)
	}
	return out, rows.Err()
}
