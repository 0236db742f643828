package projection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/stream"
	"github.com/louisbranch/brigade/internal/services/ledger/observability/audit"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
	"github.com/louisbranch/brigade/internal/services/ledger/storage/memory"
)

var (
	_ Projector = TipBalanceProjector{}
	_ Projector = DailyAggregateProjector{}
	_ Projector = AuditTrailProjector{}
	_ Projector = AuditExportProjector{}
)

var projectionTime = time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

func amount(raw string) money.Amount {
	return money.NewAmount(decimal.RequireFromString(raw))
}

func appendPayload(t *testing.T, store *memory.EventStore, id, streamID string, typ event.Type, payload event.Payload) event.Event {
	t.Helper()
	data, err := event.MarshalPayload(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	stored, err := store.AppendEvent(context.Background(), event.Event{
		ID:          id,
		StreamID:    streamID,
		Type:        typ,
		PayloadJSON: data,
		Meta:        event.Meta{ActorType: "user", ActorID: "mgr-1", RequestID: "req-" + id},
		OccurredAt:  projectionTime,
	}, storage.AppendOptions{})
	if err != nil {
		t.Fatalf("append %s: %v", id, err)
	}
	return stored
}

func distribution(t *testing.T, store *memory.EventStore, id string) event.Event {
	return appendPayload(t, store, id, stream.TipsDistribution("r1", "2026-03-01"), event.TypeTipsDistributed, &event.TipsDistributedPayload{
		RestaurantID: "r1",
		Date:         "2026-03-01",
		TotalTips:    amount("100.00"),
		Allocations: []event.Allocation{
			{EmployeeID: "alice", Amount: amount("60.00")},
			{EmployeeID: "bob", Amount: amount("40.00")},
		},
	})
}

func payout(t *testing.T, store *memory.EventStore, id, employee, value string) event.Event {
	return appendPayload(t, store, id, stream.TipsPayouts("r1"), event.TypeTipPaid, &event.TipPaidPayload{
		RestaurantID: "r1",
		EmployeeID:   employee,
		Amount:       amount(value),
		Mode:         "NORMAL_20S",
	})
}

func TestTipBalanceProjectorAppliesOnce(t *testing.T) {
	events := memory.NewEventStore()
	store := memory.NewProjectionStore()
	p := TipBalanceProjector{Store: store}
	ctx := context.Background()

	dist := distribution(t, events, "e1")
	paid := payout(t, events, "e2", "alice", "40.00")

	for _, evt := range []event.Event{dist, paid, dist, paid} {
		if err := p.Apply(ctx, evt); err != nil {
			t.Fatalf("apply %s: %v", evt.ID, err)
		}
	}

	balances, err := store.ListTipBalances(ctx, "r1")
	if err != nil {
		t.Fatalf("list balances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("balances = %+v", balances)
	}
	if balances[0].EmployeeID != "alice" || balances[0].BalanceCents != 2000 {
		t.Fatalf("alice = %+v, want 2000 cents", balances[0])
	}
	if balances[1].EmployeeID != "bob" || balances[1].BalanceCents != 4000 {
		t.Fatalf("bob = %+v, want 4000 cents", balances[1])
	}
}

func TestTipBalanceProjectorIgnoresOtherTypes(t *testing.T) {
	store := memory.NewProjectionStore()
	p := TipBalanceProjector{Store: store}
	err := p.Apply(context.Background(), event.Event{Position: 1, StreamID: "x", Type: event.TypeTemplateVersionPublished, PayloadJSON: []byte(`{}`)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := store.GetProjectionWatermark(context.Background(), ConsumerTipBalances); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("watermark err = %v, want not found", err)
	}
}

func TestTipBalanceProjectorRejectsBadPayload(t *testing.T) {
	p := TipBalanceProjector{Store: memory.NewProjectionStore()}
	err := p.Apply(context.Background(), event.Event{
		Position:    1,
		StreamID:    stream.TipsPayouts("r1"),
		Type:        event.TypeTipPaid,
		PayloadJSON: []byte(`{"employeeId":"alice","amount":"-5"}`),
	})
	if !errors.Is(err, event.ErrPayloadInvalid) {
		t.Fatalf("err = %v, want %v", err, event.ErrPayloadInvalid)
	}
}

func TestDailyAggregateProjector(t *testing.T) {
	events := memory.NewEventStore()
	store := memory.NewProjectionStore()
	p := DailyAggregateProjector{Store: store}
	ctx := context.Background()

	submitted := appendPayload(t, events, "e1", stream.DailyReport("r1", "2026-03-01"), event.TypeDailyReportSubmitted, &event.DailyReportSubmittedPayload{
		RestaurantID:  "r1",
		Date:          "2026-03-01",
		ReportFigures: event.ReportFigures{CashSales: amount("500.00"), CardSales: amount("1200.50"), Covers: 80},
	})
	corrected := appendPayload(t, events, "e2", stream.DailyReport("r1", "2026-03-01"), event.TypeDailyReportCorrected, &event.DailyReportCorrectedPayload{
		RestaurantID:  "r1",
		Date:          "2026-03-01",
		ReportFigures: event.ReportFigures{CashSales: amount("450.00"), CardSales: amount("1200.50"), Covers: 84},
		Previous:      event.ReportFigures{CashSales: amount("500.00"), CardSales: amount("1200.50"), Covers: 80},
		Reason:        "miscounted drawer",
	})
	dist := distribution(t, events, "e3")
	paid := payout(t, events, "e4", "bob", "20.00")

	for _, evt := range []event.Event{submitted, corrected, dist, paid, corrected} {
		if err := p.Apply(ctx, evt); err != nil {
			t.Fatalf("apply %s: %v", evt.ID, err)
		}
	}

	got, err := store.GetDailyAggregate(ctx, "r1", "2026-03-01")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if got.CashSalesCents != 45000 || got.CardSalesCents != 120050 {
		t.Fatalf("sales = %d/%d, want 45000/120050", got.CashSalesCents, got.CardSalesCents)
	}
	if got.Covers != 84 || got.ReportsSubmitted != 1 {
		t.Fatalf("covers/reports = %d/%d, want 84/1", got.Covers, got.ReportsSubmitted)
	}
	if got.TipsDistributedCents != 10000 || got.TipsPaidCents != 2000 {
		t.Fatalf("tips = %d/%d, want 10000/2000", got.TipsDistributedCents, got.TipsPaidCents)
	}
}

func TestAuditTrailProjector(t *testing.T) {
	events := memory.NewEventStore()
	store := memory.NewProjectionStore()
	recordedAt := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	p := AuditTrailProjector{Store: store, Now: func() time.Time { return recordedAt }}
	ctx := context.Background()

	dist := distribution(t, events, "e1")
	opaque, err := events.AppendEvent(ctx, event.Event{
		ID:          "e2",
		StreamID:    "vendor-feed",
		Type:        "INVOICE_RECEIVED",
		PayloadJSON: []byte(`{"vendor":"acme"}`),
		OccurredAt:  projectionTime,
	}, storage.AppendOptions{})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	for _, evt := range []event.Event{dist, opaque, dist} {
		if err := p.Apply(ctx, evt); err != nil {
			t.Fatalf("apply %s: %v", evt.ID, err)
		}
	}

	entries, err := store.ListAuditEntries(ctx, storage.AuditQuery{})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	first := entries[0]
	if first.EventID != "e1" || first.RestaurantID != "r1" || first.ActorID != "mgr-1" || first.RequestID != "req-e1" {
		t.Fatalf("first entry = %+v", first)
	}
	if !first.RecordedAt.Equal(recordedAt) {
		t.Fatalf("recorded at = %v, want %v", first.RecordedAt, recordedAt)
	}
	if entries[1].RestaurantID != "" || entries[1].Type != "INVOICE_RECEIVED" {
		t.Fatalf("opaque entry = %+v", entries[1])
	}

	filtered, err := store.ListAuditEntries(ctx, storage.AuditQuery{RestaurantID: "r1"})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("filtered entries = %d, want 1", len(filtered))
	}
}

type memoryWriter struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (w *memoryWriter) Write(_ context.Context, r audit.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.records = append(w.records, r)
	return nil
}

func (w *memoryWriter) Close()       {}
func (w *memoryWriter) Sink() string { return "memory" }

func TestAuditExportProjector(t *testing.T) {
	events := memory.NewEventStore()
	writer := &memoryWriter{}
	exportedAt := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	p := AuditExportProjector{Writer: writer, Now: func() time.Time { return exportedAt }}

	dist := distribution(t, events, "e1")
	if err := p.Apply(context.Background(), dist); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(writer.records) != 1 {
		t.Fatalf("records = %d, want 1", len(writer.records))
	}
	rec := writer.records[0]
	if rec.Position != dist.Position || rec.RestaurantID != "r1" || !rec.ExportedAt.Equal(exportedAt) {
		t.Fatalf("record = %+v", rec)
	}

	if err := (AuditExportProjector{}).Apply(context.Background(), dist); err == nil {
		t.Fatal("expected error without writer")
	}
}

func TestAuditExportProjectorReportsWriteFailure(t *testing.T) {
	events := memory.NewEventStore()
	unavailable := errors.New("clickhouse unavailable")
	p := AuditExportProjector{Writer: &memoryWriter{err: unavailable}}

	err := p.Apply(context.Background(), distribution(t, events, "e1"))
	if !errors.Is(err, unavailable) {
		t.Fatalf("err = %v, want write failure", err)
	}
}

func TestAuditExportFailureIsRetriedThenDeadLettered(t *testing.T) {
	f := newDispatcherFixture(t, 2)
	writer := &memoryWriter{err: errors.New("clickhouse unavailable")}
	if err := Register(f.dispatcher, AuditExportProjector{Writer: writer}); err != nil {
		t.Fatalf("register: %v", err)
	}
	stored := f.append(t, "restaurant-r1-settings", event.TypeTipsPolicyUpdated)

	if err := f.dispatcher.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	letter, err := f.projections.GetDeadLetter(context.Background(), ConsumerAuditExport, stored.Position)
	if err != nil {
		t.Fatalf("expected dead letter for failed export: %v", err)
	}
	if letter.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", letter.Attempts)
	}

	// Once the sink recovers the letter can be replayed into it.
	writer.mu.Lock()
	writer.err = nil
	writer.mu.Unlock()
	if err := (AuditExportProjector{Writer: writer}).Apply(context.Background(), stored); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(writer.records) != 1 || writer.records[0].Position != stored.Position {
		t.Fatalf("records = %+v", writer.records)
	}
}

func TestRegisterSubscribesProjectors(t *testing.T) {
	f := newDispatcherFixture(t, 3)
	err := Register(f.dispatcher,
		TipBalanceProjector{Store: f.projections},
		AuditTrailProjector{Store: f.projections},
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	got := f.dispatcher.Consumers()
	if len(got) != 2 || got[0] != ConsumerTipBalances || got[1] != ConsumerAuditTrail {
		t.Fatalf("consumers = %v", got)
	}
	if err := Register(f.dispatcher, TipBalanceProjector{Store: f.projections}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestDispatcherDrivesTipBalances(t *testing.T) {
	f := newDispatcherFixture(t, 3)
	if err := Register(f.dispatcher, TipBalanceProjector{Store: f.projections}); err != nil {
		t.Fatalf("register: %v", err)
	}
	distribution(t, f.events, "e1")
	payout(t, f.events, "e2", "bob", "40.00")

	if err := f.dispatcher.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	snapshot, err := f.projections.TipBalanceSnapshot(context.Background(), "r1", ConsumerTipBalances)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Watermark != 2 || len(snapshot.DeadLetters) != 0 {
		t.Fatalf("snapshot = %+v", snapshot)
	}
	balance, err := f.projections.GetTipBalance(context.Background(), "r1", "bob")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.BalanceCents != 0 {
		t.Fatalf("bob = %d cents, want 0", balance.BalanceCents)
	}
}

func TestRebuildRestoresReadModel(t *testing.T) {
	events := memory.NewEventStore()
	store := memory.NewProjectionStore()
	p := TipBalanceProjector{Store: store}
	ctx := context.Background()

	distribution(t, events, "e1")
	payout(t, events, "e2", "alice", "20.00")

	// Corrupt the read model with a stray adjustment.
	stray := event.Event{Position: 99, StreamID: stream.TipsPayouts("r1"), Type: event.TypeTipPaid}
	if _, err := store.ApplyExactlyOnce(ctx, ConsumerTipBalances, stray, func(ctx context.Context, tx storage.ProjectionTx) error {
		return tx.AdjustTipBalance(ctx, "r1", "alice", 12345, projectionTime)
	}); err != nil {
		t.Fatalf("stray apply: %v", err)
	}

	result, err := Rebuild(ctx, events, store, p)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if result.Applied != 2 || result.LastPosition != 2 {
		t.Fatalf("result = %+v, want 2 applied through 2", result)
	}
	alice, err := store.GetTipBalance(ctx, "r1", "alice")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if alice.BalanceCents != 4000 {
		t.Fatalf("alice = %d cents, want 4000", alice.BalanceCents)
	}
	cp, err := store.GetProjectionCheckpoint(ctx, ConsumerTipBalances)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp.Position != 2 {
		t.Fatalf("checkpoint = %d, want 2", cp.Position)
	}
}
