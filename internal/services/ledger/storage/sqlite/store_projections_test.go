package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/replay"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

func openTestProjectionStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenProjections(context.Background(), filepath.Join(t.TempDir(), "projections.db"))
	if err != nil {
		t.Fatalf("open projections store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close projections store: %v", err)
		}
	})
	return store
}

func TestApplyExactlyOnce(t *testing.T) {
	store := openTestProjectionStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	evt := event.Event{ID: "e1", Position: 5, StreamID: "s1", Type: event.TypeTipsDistributed, OccurredAt: at}

	calls := 0
	apply := func(ctx context.Context, tx storage.ProjectionTx) error {
		calls++
		if err := tx.AdjustTipBalance(ctx, "r1", "emp-1", 2500, at); err != nil {
			return err
		}
		return tx.AdjustDailyAggregate(ctx, "r1", "2026-03-01", storage.DailyAggregateDelta{TipsDistributedCents: 2500}, at)
	}

	applied, err := store.ApplyExactlyOnce(ctx, "tips", evt, apply)
	if err != nil || !applied {
		t.Fatalf("first apply = %v, %v; want true", applied, err)
	}
	applied, err = store.ApplyExactlyOnce(ctx, "tips", evt, apply)
	if err != nil || applied {
		t.Fatalf("second apply = %v, %v; want false", applied, err)
	}
	if calls != 1 {
		t.Fatalf("apply calls = %d, want 1", calls)
	}

	balance, err := store.GetTipBalance(ctx, "r1", "emp-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.BalanceCents != 2500 {
		t.Fatalf("balance = %d, want 2500", balance.BalanceCents)
	}
	agg, err := store.GetDailyAggregate(ctx, "r1", "2026-03-01")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if agg.TipsDistributedCents != 2500 {
		t.Fatalf("tips distributed = %d, want 2500", agg.TipsDistributedCents)
	}
	wm, err := store.GetProjectionWatermark(ctx, "tips")
	if err != nil || wm.AppliedPosition != 5 {
		t.Fatalf("watermark = %+v, %v; want 5", wm, err)
	}

	// A different consumer applies the same position independently.
	applied, err = store.ApplyExactlyOnce(ctx, "daily", evt, func(context.Context, storage.ProjectionTx) error { return nil })
	if err != nil || !applied {
		t.Fatalf("other consumer apply = %v, %v; want true", applied, err)
	}
}

func TestApplyExactlyOnceRollsBackOnError(t *testing.T) {
	store := openTestProjectionStore(t)
	ctx := context.Background()
	at := time.Now()
	evt := event.Event{ID: "e1", Position: 1, StreamID: "s1", Type: event.TypeTipPaid, OccurredAt: at}

	boom := errors.New("boom")
	_, err := store.ApplyExactlyOnce(ctx, "tips", evt, func(ctx context.Context, tx storage.ProjectionTx) error {
		if err := tx.AdjustTipBalance(ctx, "r1", "emp-1", -2000, at); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := store.GetTipBalance(ctx, "r1", "emp-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("balance err = %v, want not found", err)
	}
	if _, err := store.GetProjectionWatermark(ctx, "tips"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("watermark err = %v, want not found", err)
	}

	applied, err := store.ApplyExactlyOnce(ctx, "tips", evt, func(context.Context, storage.ProjectionTx) error { return nil })
	if err != nil || !applied {
		t.Fatalf("retry = %v, %v; want applied", applied, err)
	}
}

func TestApplyExactlyOnceValidates(t *testing.T) {
	store := openTestProjectionStore(t)
	ctx := context.Background()
	noop := func(context.Context, storage.ProjectionTx) error { return nil }
	if _, err := store.ApplyExactlyOnce(ctx, "", event.Event{Position: 1}, noop); err == nil {
		t.Fatal("expected error for empty consumer")
	}
	if _, err := store.ApplyExactlyOnce(ctx, "tips", event.Event{}, noop); err == nil {
		t.Fatal("expected error for zero position")
	}
	if _, err := store.ApplyExactlyOnce(ctx, "tips", event.Event{Position: 1}, nil); err == nil {
		t.Fatal("expected error for nil apply")
	}
}

func TestTipBalanceSnapshot(t *testing.T) {
	store := openTestProjectionStore(t)
	ctx := context.Background()
	at := time.Now()

	for _, pos := range []uint64{1, 3} {
		evt := event.Event{ID: "e", Position: pos, StreamID: "s", Type: event.TypeTipsDistributed, OccurredAt: at}
		if _, err := store.ApplyExactlyOnce(ctx, "tips", evt, func(ctx context.Context, tx storage.ProjectionTx) error {
			if err := tx.AdjustTipBalance(ctx, "r1", "emp-b", 1000, at); err != nil {
				return err
			}
			return tx.AdjustTipBalance(ctx, "r1", "emp-a", 500, at)
		}); err != nil {
			t.Fatalf("apply %d: %v", pos, err)
		}
	}
	for _, pos := range []uint64{2, 7} {
		if err := store.PutDeadLetter(ctx, storage.DeadLetter{Consumer: "tips", Position: pos, EventID: "x", EventType: event.TypeTipPaid, Attempts: 8}); err != nil {
			t.Fatalf("put dead letter: %v", err)
		}
	}

	snapshot, err := store.TipBalanceSnapshot(ctx, "r1", "tips")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Watermark != 3 {
		t.Fatalf("watermark = %d, want 3", snapshot.Watermark)
	}
	if len(snapshot.DeadLetters) != 1 || snapshot.DeadLetters[0] != 2 {
		t.Fatalf("dead letters = %v, want [2]", snapshot.DeadLetters)
	}
	if len(snapshot.Balances) != 2 {
		t.Fatalf("balances = %+v", snapshot.Balances)
	}
	if snapshot.Balances[0].EmployeeID != "emp-a" || snapshot.Balances[0].BalanceCents != 1000 {
		t.Fatalf("first balance = %+v, want emp-a 1000", snapshot.Balances[0])
	}
	if snapshot.Balances[1].BalanceCents != 2000 {
		t.Fatalf("second balance = %+v, want 2000", snapshot.Balances[1])
	}

	empty, err := store.TipBalanceSnapshot(ctx, "r2", "other")
	if err != nil {
		t.Fatalf("empty snapshot: %v", err)
	}
	if empty.Watermark != 0 || len(empty.Balances) != 0 || len(empty.DeadLetters) != 0 {
		t.Fatalf("empty snapshot = %+v", empty)
	}
}

func TestDailyAggregatesAndAuditEntries(t *testing.T) {
	store := openTestProjectionStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

	days := []string{"2026-03-01", "2026-03-02", "2026-03-05"}
	for i, day := range days {
		evt := event.Event{ID: day, Position: uint64(i + 1), StreamID: "report:r1:" + day, Type: event.TypeDailyReportSubmitted, OccurredAt: at}
		if _, err := store.ApplyExactlyOnce(ctx, "daily", evt, func(ctx context.Context, tx storage.ProjectionTx) error {
			if err := tx.AdjustDailyAggregate(ctx, "r1", day, storage.DailyAggregateDelta{CashSalesCents: 10000, Covers: 20, ReportsSubmitted: 1}, at); err != nil {
				return err
			}
			return tx.PutAuditEntry(ctx, storage.AuditEntry{
				Position: evt.Position, EventID: evt.ID, StreamID: evt.StreamID, Type: evt.Type,
				ActorType: "user", ActorID: "mgr", RestaurantID: "r1", OccurredAt: at, RecordedAt: at,
			})
		}); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	rows, err := store.ListDailyAggregates(ctx, "r1", "2026-03-01", "2026-03-02")
	if err != nil {
		t.Fatalf("list aggregates: %v", err)
	}
	if len(rows) != 2 || rows[0].Date != "2026-03-01" || rows[1].Covers != 20 {
		t.Fatalf("aggregates = %+v", rows)
	}
	if _, err := store.GetDailyAggregate(ctx, "r1", "2026-03-03"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}

	entries, err := store.ListAuditEntries(ctx, storage.AuditQuery{RestaurantID: "r1", AfterPosition: 1, Limit: 10})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 2 || entries[0].Position != 2 || entries[0].ActorID != "mgr" {
		t.Fatalf("audit entries = %+v", entries)
	}
}

func TestResetProjection(t *testing.T) {
	store := openTestProjectionStore(t)
	ctx := context.Background()
	at := time.Now()
	evt := event.Event{ID: "e1", Position: 1, StreamID: "s1", Type: event.TypeTipsDistributed, OccurredAt: at}
	if _, err := store.ApplyExactlyOnce(ctx, "tips", evt, func(ctx context.Context, tx storage.ProjectionTx) error {
		return tx.AdjustTipBalance(ctx, "r1", "emp-1", 100, at)
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := store.SaveProjectionCheckpoint(ctx, replay.Checkpoint{Consumer: "tips", Position: 1}); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	if err := store.ResetProjection(ctx, "tips", []string{"bogus"}); err == nil {
		t.Fatal("expected unknown table error")
	}
	if err := store.ResetProjection(ctx, "tips", []string{storage.TableTipBalances}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if balances, _ := store.ListTipBalances(ctx, "r1"); len(balances) != 0 {
		t.Fatalf("balances after reset = %+v", balances)
	}
	if _, err := store.GetProjectionCheckpoint(ctx, "tips"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("checkpoint err = %v, want not found", err)
	}
	applied, err := store.ApplyExactlyOnce(ctx, "tips", evt, func(context.Context, storage.ProjectionTx) error { return nil })
	if err != nil || !applied {
		t.Fatalf("apply after reset = %v, %v; want applied", applied, err)
	}
}

func TestProjectionCheckpoints(t *testing.T) {
	store := openTestProjectionStore(t)
	ctx := context.Background()

	if _, err := store.GetProjectionCheckpoint(ctx, "tips"); !errors.Is(err, replay.ErrCheckpointNotFound) {
		t.Fatalf("err = %v, want checkpoint not found", err)
	}
	if err := store.SaveProjectionCheckpoint(ctx, replay.Checkpoint{Consumer: "tips", Position: 9}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveProjectionCheckpoint(ctx, replay.Checkpoint{Consumer: "tips", Position: 4}); err != nil {
		t.Fatalf("save lower: %v", err)
	}
	cp, err := store.GetProjectionCheckpoint(ctx, "tips")
	if err != nil || cp.Position != 9 {
		t.Fatalf("checkpoint = %+v, %v; want 9", cp, err)
	}

	adapter := storage.ReplayCheckpoints(store)
	if cp, err := adapter.Get(ctx, "tips"); err != nil || cp.Position != 9 {
		t.Fatalf("adapter checkpoint = %+v, %v", cp, err)
	}
}

func TestDeadLetters(t *testing.T) {
	store := openTestProjectionStore(t)
	ctx := context.Background()

	for _, letter := range []storage.DeadLetter{
		{Consumer: "tips", Position: 4, EventID: "e4", EventType: event.TypeTipPaid, Attempts: 3, LastError: "first"},
		{Consumer: "daily", Position: 2, EventID: "e2", EventType: event.TypeDailyReportSubmitted, Attempts: 8},
		{Consumer: "tips", Position: 4, EventID: "e4", EventType: event.TypeTipPaid, Attempts: 8, LastError: "last"},
	} {
		if err := store.PutDeadLetter(ctx, letter); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	got, err := store.GetDeadLetter(ctx, "tips", 4)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Attempts != 8 || got.LastError != "last" || got.EventType != event.TypeTipPaid {
		t.Fatalf("dead letter = %+v", got)
	}

	all, err := store.ListDeadLetters(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].Consumer != "daily" {
		t.Fatalf("all = %+v", all)
	}

	if err := store.DeleteDeadLetter(ctx, "tips", 4); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetDeadLetter(ctx, "tips", 4); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	tips, _ := store.ListDeadLetters(ctx, "tips", 10)
	if len(tips) != 0 {
		t.Fatalf("tips letters = %+v", tips)
	}
}

func TestApplyExactlyOnceClearsDeadLetter(t *testing.T) {
	store := openTestProjectionStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

	later := event.Event{ID: "e3", Position: 3, StreamID: "s", Type: event.TypeTipsPolicyUpdated, OccurredAt: at}
	if _, err := store.ApplyExactlyOnce(ctx, "tips", later, func(context.Context, storage.ProjectionTx) error { return nil }); err != nil {
		t.Fatalf("apply later: %v", err)
	}
	if err := store.PutDeadLetter(ctx, storage.DeadLetter{Consumer: "tips", Position: 2, EventID: "e2", EventType: event.TypeTipsDistributed, Attempts: 8}); err != nil {
		t.Fatalf("put dead letter: %v", err)
	}

	dist := event.Event{ID: "e2", Position: 2, StreamID: "s", Type: event.TypeTipsDistributed, OccurredAt: at}
	applied, err := store.ApplyExactlyOnce(ctx, "tips", dist, func(ctx context.Context, tx storage.ProjectionTx) error {
		return tx.AdjustTipBalance(ctx, "r1", "alice", 4000, at)
	})
	if err != nil || !applied {
		t.Fatalf("apply dead-lettered event = %v, %v; want true", applied, err)
	}
	if _, err := store.GetDeadLetter(ctx, "tips", 2); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected dead letter cleared, got %v", err)
	}

	snapshot, err := store.TipBalanceSnapshot(ctx, "r1", "tips")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot.DeadLetters) != 0 {
		t.Fatalf("dead letters = %v, want none", snapshot.DeadLetters)
	}
	if len(snapshot.Balances) != 1 || snapshot.Balances[0].BalanceCents != 4000 {
		t.Fatalf("balances = %+v, want alice 4000", snapshot.Balances)
	}
}

func TestTipBalanceSnapshotSkipsAppliedDeadLetters(t *testing.T) {
	store := openTestProjectionStore(t)
	ctx := context.Background()
	at := time.Now()

	for _, pos := range []uint64{1, 2} {
		evt := event.Event{ID: "e", Position: pos, StreamID: "s", Type: event.TypeTipsDistributed, OccurredAt: at}
		if _, err := store.ApplyExactlyOnce(ctx, "tips", evt, func(ctx context.Context, tx storage.ProjectionTx) error {
			return tx.AdjustTipBalance(ctx, "r1", "alice", 1000, at)
		}); err != nil {
			t.Fatalf("apply %d: %v", pos, err)
		}
	}
	// A letter left behind for a position the consumer has since applied.
	if err := store.PutDeadLetter(ctx, storage.DeadLetter{Consumer: "tips", Position: 1, EventID: "e", EventType: event.TypeTipsDistributed, Attempts: 8}); err != nil {
		t.Fatalf("put dead letter: %v", err)
	}

	snapshot, err := store.TipBalanceSnapshot(ctx, "r1", "tips")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot.DeadLetters) != 0 {
		t.Fatalf("dead letters = %v, want none", snapshot.DeadLetters)
	}
}
