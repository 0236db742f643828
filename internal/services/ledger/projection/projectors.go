package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/stream"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/tips"
	"github.com/louisbranch/brigade/internal/services/ledger/observability/audit"
	"github.com/louisbranch/brigade/internal/services/ledger/observability/metrics"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

// Consumer names of the built-in projectors.
const (
	ConsumerTipBalances     = "tip_balances"
	ConsumerDailyAggregates = "daily_aggregates"
	ConsumerAuditTrail      = "audit_trail"
	ConsumerAuditExport     = "audit_export"
)

// ErrApplierRequired indicates a projector without a projection store.
var ErrApplierRequired = errors.New("projection applier is required")

// Projector builds one read model from ledger events.
type Projector interface {
	// Consumer is the durable delivery name.
	Consumer() string
	// Types lists subscribed event types; event.TypeAny means every type.
	Types() []event.Type
	// Tables lists the read model tables cleared before a rebuild.
	Tables() []string
	Apply(ctx context.Context, evt event.Event) error
}

// Register subscribes every projector's types on d.
func Register(d *Dispatcher, projectors ...Projector) error {
	for _, p := range projectors {
		for _, t := range p.Types() {
			if err := d.Subscribe(p.Consumer(), t, p.Apply); err != nil {
				return err
			}
		}
	}
	return nil
}

// TipBalanceProjector keeps per-employee tip balances: credits from
// TIPS_DISTRIBUTED and debits from TIP_PAID.
type TipBalanceProjector struct {
	Store    storage.ProjectionApplier
	Registry *event.Registry
}

func (p TipBalanceProjector) Consumer() string    { return ConsumerTipBalances }
func (p TipBalanceProjector) Types() []event.Type { return tips.BalanceTypes }
func (p TipBalanceProjector) Tables() []string    { return []string{storage.TableTipBalances} }

// Apply implements Projector.
func (p TipBalanceProjector) Apply(ctx context.Context, evt event.Event) error {
	if p.Store == nil {
		return ErrApplierRequired
	}
	effect, ok, err := tips.EffectOf(p.Registry, evt)
	if err != nil || !ok {
		return err
	}
	_, err = p.Store.ApplyExactlyOnce(ctx, p.Consumer(), evt, func(ctx context.Context, tx storage.ProjectionTx) error {
		for _, delta := range effect.Deltas {
			if err := tx.AdjustTipBalance(ctx, effect.RestaurantID, delta.EmployeeID, delta.Cents, evt.OccurredAt); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// DailyAggregateProjector keeps per-day sales and tip totals.
type DailyAggregateProjector struct {
	Store    storage.ProjectionApplier
	Registry *event.Registry
}

func (p DailyAggregateProjector) Consumer() string { return ConsumerDailyAggregates }

func (p DailyAggregateProjector) Types() []event.Type {
	return []event.Type{
		event.TypeDailyReportSubmitted,
		event.TypeDailyReportCorrected,
		event.TypeTipsDistributed,
		event.TypeTipPaid,
	}
}

func (p DailyAggregateProjector) Tables() []string { return []string{storage.TableDailyAggregates} }

// Apply implements Projector.
func (p DailyAggregateProjector) Apply(ctx context.Context, evt event.Event) error {
	if p.Store == nil {
		return ErrApplierRequired
	}
	restaurantID, date, delta, err := p.delta(evt)
	if err != nil {
		return err
	}
	_, err = p.Store.ApplyExactlyOnce(ctx, p.Consumer(), evt, func(ctx context.Context, tx storage.ProjectionTx) error {
		return tx.AdjustDailyAggregate(ctx, restaurantID, date, delta, evt.OccurredAt)
	})
	return err
}

func (p DailyAggregateProjector) delta(evt event.Event) (string, string, storage.DailyAggregateDelta, error) {
	var delta storage.DailyAggregateDelta
	switch evt.Type {
	case event.TypeTipsDistributed, event.TypeTipPaid:
		effect, _, err := tips.EffectOf(p.Registry, evt)
		if err != nil {
			return "", "", delta, err
		}
		if evt.Type == event.TypeTipsDistributed {
			delta.TipsDistributedCents = effect.Total()
		} else {
			delta.TipsPaidCents = -effect.Total()
		}
		return effect.RestaurantID, effect.Date, delta, nil
	}

	registry := p.Registry
	if registry == nil {
		registry = event.CoreRegistry()
	}
	payload, err := registry.Decode(evt)
	if err != nil {
		return "", "", delta, err
	}
	restaurantID, ok := stream.RestaurantOf(evt)
	if !ok {
		return "", "", delta, fmt.Errorf("event %s: restaurant id cannot be resolved", evt.ID)
	}
	switch pl := payload.(type) {
	case *event.DailyReportSubmittedPayload:
		delta.CashSalesCents = pl.CashSales.Cents()
		delta.CardSalesCents = pl.CardSales.Cents()
		delta.Covers = int64(pl.Covers)
		delta.ReportsSubmitted = 1
		return restaurantID, pl.Date, delta, nil
	case *event.DailyReportCorrectedPayload:
		delta.CashSalesCents = pl.CashSales.Cents() - pl.Previous.CashSales.Cents()
		delta.CardSalesCents = pl.CardSales.Cents() - pl.Previous.CardSales.Cents()
		delta.Covers = int64(pl.Covers - pl.Previous.Covers)
		return restaurantID, pl.Date, delta, nil
	default:
		return "", "", delta, fmt.Errorf("event %s: unexpected payload %T", evt.ID, payload)
	}
}

// AuditTrailProjector records every ledger event as an audit row.
type AuditTrailProjector struct {
	Store storage.ProjectionApplier
	Now   func() time.Time
}

func (p AuditTrailProjector) Consumer() string    { return ConsumerAuditTrail }
func (p AuditTrailProjector) Types() []event.Type { return []event.Type{event.TypeAny} }
func (p AuditTrailProjector) Tables() []string    { return []string{storage.TableAuditEntries} }

// Apply implements Projector.
func (p AuditTrailProjector) Apply(ctx context.Context, evt event.Event) error {
	if p.Store == nil {
		return ErrApplierRequired
	}
	restaurantID, _ := stream.RestaurantOf(evt)
	entry := storage.AuditEntry{
		Position:     evt.Position,
		EventID:      evt.ID,
		StreamID:     evt.StreamID,
		Type:         evt.Type,
		ActorType:    evt.Meta.ActorType,
		ActorID:      evt.Meta.ActorID,
		RestaurantID: restaurantID,
		RequestID:    evt.Meta.RequestID,
		OccurredAt:   evt.OccurredAt,
		RecordedAt:   nowUTC(p.Now),
	}
	_, err := p.Store.ApplyExactlyOnce(ctx, p.Consumer(), evt, func(ctx context.Context, tx storage.ProjectionTx) error {
		return tx.PutAuditEntry(ctx, entry)
	})
	return err
}

// AuditExportProjector hands every ledger event to an audit writer. A write
// error fails the delivery so the dispatcher retries and eventually
// dead-letters it. Redelivered events are written again; the ClickHouse
// table deduplicates by position.
type AuditExportProjector struct {
	Writer audit.Writer
	Now    func() time.Time
}

func (p AuditExportProjector) Consumer() string    { return ConsumerAuditExport }
func (p AuditExportProjector) Types() []event.Type { return []event.Type{event.TypeAny} }
func (p AuditExportProjector) Tables() []string    { return nil }

// Apply implements Projector.
func (p AuditExportProjector) Apply(ctx context.Context, evt event.Event) error {
	if p.Writer == nil {
		return errors.New("audit writer is required")
	}
	restaurantID, _ := stream.RestaurantOf(evt)
	if err := p.Writer.Write(ctx, audit.RecordFromEvent(evt, restaurantID, nowUTC(p.Now))); err != nil {
		metrics.RecordAuditExport(p.Writer.Sink(), metrics.OutcomeError)
		return fmt.Errorf("export audit record %d: %w", evt.Position, err)
	}
	metrics.RecordAuditExport(p.Writer.Sink(), metrics.OutcomeOK)
	return nil
}

func nowUTC(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}
