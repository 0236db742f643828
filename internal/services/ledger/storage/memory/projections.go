package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/replay"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

type balanceKey struct {
	restaurantID string
	employeeID   string
}

type aggregateKey struct {
	restaurantID string
	date         string
}

type markerKey struct {
	consumer string
	position uint64
}

// ProjectionStore is an in-memory storage.ProjectionStore.
type ProjectionStore struct {
	mu          sync.RWMutex
	balances    map[balanceKey]storage.TipBalance
	aggregates  map[aggregateKey]storage.DailyAggregate
	audit       []storage.AuditEntry
	markers     map[markerKey]struct{}
	watermarks  map[string]storage.ProjectionWatermark
	checkpoints map[string]replay.Checkpoint
	deadLetters map[markerKey]storage.DeadLetter
}

// NewProjectionStore constructs an empty projection store.
func NewProjectionStore() *ProjectionStore {
	return &ProjectionStore{
		balances:    make(map[balanceKey]storage.TipBalance),
		aggregates:  make(map[aggregateKey]storage.DailyAggregate),
		markers:     make(map[markerKey]struct{}),
		watermarks:  make(map[string]storage.ProjectionWatermark),
		checkpoints: make(map[string]replay.Checkpoint),
		deadLetters: make(map[markerKey]storage.DeadLetter),
	}
}

// GetTipBalance implements storage.TipBalanceStore.
func (s *ProjectionStore) GetTipBalance(ctx context.Context, restaurantID, employeeID string) (storage.TipBalance, error) {
	if err := ctx.Err(); err != nil {
		return storage.TipBalance{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	balance, ok := s.balances[balanceKey{restaurantID, employeeID}]
	if !ok {
		return storage.TipBalance{}, storage.ErrNotFound
	}
	return balance, nil
}

// ListTipBalances implements storage.TipBalanceStore.
func (s *ProjectionStore) ListTipBalances(ctx context.Context, restaurantID string) ([]storage.TipBalance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBalancesLocked(restaurantID), nil
}

// TipBalanceSnapshot implements storage.TipBalanceStore.
func (s *ProjectionStore) TipBalanceSnapshot(ctx context.Context, restaurantID, consumer string) (storage.TipBalanceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.TipBalanceSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := storage.TipBalanceSnapshot{
		Balances:  s.listBalancesLocked(restaurantID),
		Watermark: s.watermarks[consumer].AppliedPosition,
	}
	for key := range s.deadLetters {
		if key.consumer != consumer || key.position > snapshot.Watermark {
			continue
		}
		if _, applied := s.markers[key]; !applied {
			snapshot.DeadLetters = append(snapshot.DeadLetters, key.position)
		}
	}
	sort.Slice(snapshot.DeadLetters, func(i, j int) bool { return snapshot.DeadLetters[i] < snapshot.DeadLetters[j] })
	return snapshot, nil
}

func (s *ProjectionStore) listBalancesLocked(restaurantID string) []storage.TipBalance {
	out := make([]storage.TipBalance, 0)
	for key, balance := range s.balances {
		if key.restaurantID == restaurantID {
			out = append(out, balance)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out
}

// GetDailyAggregate implements storage.DailyAggregateStore.
func (s *ProjectionStore) GetDailyAggregate(ctx context.Context, restaurantID, date string) (storage.DailyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return storage.DailyAggregate{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.aggregates[aggregateKey{restaurantID, date}]
	if !ok {
		return storage.DailyAggregate{}, storage.ErrNotFound
	}
	return row, nil
}

// ListDailyAggregates implements storage.DailyAggregateStore.
func (s *ProjectionStore) ListDailyAggregates(ctx context.Context, restaurantID, from, to string) ([]storage.DailyAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.DailyAggregate, 0)
	for key, row := range s.aggregates {
		if key.restaurantID != restaurantID || key.date < from || key.date > to {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// ListAuditEntries implements storage.AuditTrailStore.
func (s *ProjectionStore) ListAuditEntries(ctx context.Context, query storage.AuditQuery) ([]storage.AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.AuditEntry, 0)
	for _, entry := range s.audit {
		if entry.Position <= query.AfterPosition {
			continue
		}
		if query.RestaurantID != "" && entry.RestaurantID != query.RestaurantID {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

// ApplyExactlyOnce implements storage.ProjectionApplier.
//
// Mutations are staged and merged only when apply succeeds, so a failed
// apply leaves no partial writes.
func (s *ProjectionStore) ApplyExactlyOnce(ctx context.Context, consumer string, evt event.Event, apply func(context.Context, storage.ProjectionTx) error) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
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

	s.mu.Lock()
	defer s.mu.Unlock()

	key := markerKey{consumer, evt.Position}
	if _, ok := s.markers[key]; ok {
		return false, nil
	}
	tx := &stagedTx{}
	if err := apply(ctx, tx); err != nil {
		return false, err
	}
	tx.commit(s)
	s.markers[key] = struct{}{}
	delete(s.deadLetters, key)
	wm := s.watermarks[consumer]
	if evt.Position > wm.AppliedPosition {
		s.watermarks[consumer] = storage.ProjectionWatermark{Consumer: consumer, AppliedPosition: evt.Position, UpdatedAt: time.Now().UTC()}
	}
	return true, nil
}

// GetProjectionWatermark implements storage.ProjectionApplier.
func (s *ProjectionStore) GetProjectionWatermark(ctx context.Context, consumer string) (storage.ProjectionWatermark, error) {
	if err := ctx.Err(); err != nil {
		return storage.ProjectionWatermark{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	wm, ok := s.watermarks[consumer]
	if !ok {
		return storage.ProjectionWatermark{}, storage.ErrNotFound
	}
	return wm, nil
}

// ResetProjection implements storage.ProjectionApplier.
func (s *ProjectionStore) ResetProjection(ctx context.Context, consumer string, tables []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range tables {
		switch table {
		case storage.TableTipBalances:
			s.balances = make(map[balanceKey]storage.TipBalance)
		case storage.TableDailyAggregates:
			s.aggregates = make(map[aggregateKey]storage.DailyAggregate)
		case storage.TableAuditEntries:
			s.audit = nil
		default:
			return fmt.Errorf("unknown projection table %q", table)
		}
	}
	for key := range s.markers {
		if key.consumer == consumer {
			delete(s.markers, key)
		}
	}
	for key := range s.deadLetters {
		if key.consumer == consumer {
			delete(s.deadLetters, key)
		}
	}
	delete(s.watermarks, consumer)
	delete(s.checkpoints, consumer)
	return nil
}

// GetProjectionCheckpoint implements storage.CheckpointStore.
func (s *ProjectionStore) GetProjectionCheckpoint(ctx context.Context, consumer string) (replay.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return replay.Checkpoint{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[consumer]
	if !ok {
		return replay.Checkpoint{}, storage.ErrNotFound
	}
	return cp, nil
}

// SaveProjectionCheckpoint implements storage.CheckpointStore.
func (s *ProjectionStore) SaveProjectionCheckpoint(ctx context.Context, checkpoint replay.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	checkpoint.Consumer = strings.TrimSpace(checkpoint.Consumer)
	if checkpoint.Consumer == "" {
		return fmt.Errorf("consumer is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.checkpoints[checkpoint.Consumer]; ok && existing.Position > checkpoint.Position {
		return nil
	}
	if checkpoint.UpdatedAt.IsZero() {
		checkpoint.UpdatedAt = time.Now().UTC()
	}
	s.checkpoints[checkpoint.Consumer] = checkpoint
	return nil
}

// PutDeadLetter implements storage.DeadLetterStore.
func (s *ProjectionStore) PutDeadLetter(ctx context.Context, letter storage.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(letter.Consumer) == "" || letter.Position == 0 {
		return fmt.Errorf("dead letter consumer and position are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters[markerKey{letter.Consumer, letter.Position}] = letter
	return nil
}

// GetDeadLetter implements storage.DeadLetterStore.
func (s *ProjectionStore) GetDeadLetter(ctx context.Context, consumer string, position uint64) (storage.DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return storage.DeadLetter{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	letter, ok := s.deadLetters[markerKey{consumer, position}]
	if !ok {
		return storage.DeadLetter{}, storage.ErrNotFound
	}
	return letter, nil
}

// ListDeadLetters implements storage.DeadLetterStore.
func (s *ProjectionStore) ListDeadLetters(ctx context.Context, consumer string, limit int) ([]storage.DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.DeadLetter, 0)
	for key, letter := range s.deadLetters {
		if consumer == "" || key.consumer == consumer {
			out = append(out, letter)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Consumer != out[j].Consumer {
			return out[i].Consumer < out[j].Consumer
		}
		return out[i].Position < out[j].Position
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteDeadLetter implements storage.DeadLetterStore.
func (s *ProjectionStore) DeleteDeadLetter(ctx context.Context, consumer string, position uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadLetters, markerKey{consumer, position})
	return nil
}

type balanceDelta struct {
	restaurantID string
	employeeID   string
	delta        money.Cents
	at           time.Time
}

type aggregateDelta struct {
	restaurantID string
	date         string
	delta        storage.DailyAggregateDelta
	at           time.Time
}

// stagedTx buffers one apply's writes.
type stagedTx struct {
	balances   []balanceDelta
	aggregates []aggregateDelta
	audit      []storage.AuditEntry
}

func (t *stagedTx) AdjustTipBalance(ctx context.Context, restaurantID, employeeID string, delta money.Cents, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if restaurantID == "" || employeeID == "" {
		return fmt.Errorf("restaurant id and employee id are required")
	}
	t.balances = append(t.balances, balanceDelta{restaurantID, employeeID, delta, at})
	return nil
}

func (t *stagedTx) AdjustDailyAggregate(ctx context.Context, restaurantID, date string, delta storage.DailyAggregateDelta, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if restaurantID == "" || date == "" {
		return fmt.Errorf("restaurant id and date are required")
	}
	t.aggregates = append(t.aggregates, aggregateDelta{restaurantID, date, delta, at})
	return nil
}

func (t *stagedTx) PutAuditEntry(ctx context.Context, entry storage.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.audit = append(t.audit, entry)
	return nil
}

func (t *stagedTx) commit(s *ProjectionStore) {
	for _, d := range t.balances {
		key := balanceKey{d.restaurantID, d.employeeID}
		row := s.balances[key]
		row.RestaurantID = d.restaurantID
		row.EmployeeID = d.employeeID
		row.BalanceCents += d.delta
		row.UpdatedAt = d.at
		s.balances[key] = row
	}
	for _, d := range t.aggregates {
		key := aggregateKey{d.restaurantID, d.date}
		row := s.aggregates[key]
		row.RestaurantID = d.restaurantID
		row.Date = d.date
		row.CashSalesCents += d.delta.CashSalesCents
		row.CardSalesCents += d.delta.CardSalesCents
		row.Covers += d.delta.Covers
		row.ReportsSubmitted += d.delta.ReportsSubmitted
		row.TipsDistributedCents += d.delta.TipsDistributedCents
		row.TipsPaidCents += d.delta.TipsPaidCents
		row.UpdatedAt = d.at
		s.aggregates[key] = row
	}
	for _, entry := range t.audit {
		replaced := false
		for i := range s.audit {
			if s.audit[i].Position == entry.Position {
				s.audit[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			s.audit = append(s.audit, entry)
		}
	}
}
