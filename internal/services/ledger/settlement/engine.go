package settlement

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
	"github.com/louisbranch/brigade/internal/platform/requestctx"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/policy"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/replay"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/stream"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/tips"
	"github.com/louisbranch/brigade/internal/services/ledger/journal"
	"github.com/louisbranch/brigade/internal/services/ledger/observability/metrics"
	"github.com/louisbranch/brigade/internal/services/ledger/projection"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

// TracerName names the tracer used for settlement spans.
const TracerName = "brigade/settlement"

const pendingPageSize = 500

// Operation labels for metrics and spans.
const (
	opPreview   = "preview"
	opApprove   = "approve"
	opFlush     = "flush"
	opSetPolicy = "set_policy"
)

var (
	// ErrLedgerRequired indicates an engine without a ledger.
	ErrLedgerRequired = errors.New("ledger is required")
	// ErrBalancesRequired indicates an engine without a balance projection.
	ErrBalancesRequired = errors.New("tip balance store is required")
)

// Ledger is the part of the event ledger the engine uses.
type Ledger interface {
	Append(ctx context.Context, evt event.Event, opts ...journal.AppendOption) (event.Event, error)
	GetStream(ctx context.Context, streamID string) ([]event.Event, error)
	ListEventsAfter(ctx context.Context, after uint64, types []event.Type, limit int) ([]event.Event, error)
	GetEventByPosition(ctx context.Context, position uint64) (event.Event, error)
	StreamVersion(ctx context.Context, streamID string) (uint64, error)
}

// Config wires an Engine.
type Config struct {
	Ledger   Ledger
	Balances storage.TipBalanceStore
	Registry *event.Registry
	Logger   *zap.Logger
	// Consumer is the projection consumer whose watermark bounds the
	// balance snapshot. Defaults to projection.ConsumerTipBalances.
	Consumer string
}

// Engine runs tip settlement.
type Engine struct {
	ledger   Ledger
	balances storage.TipBalanceStore
	registry *event.Registry
	logger   *zap.Logger
	consumer string
	tracer   trace.Tracer
	reserved *reservations
}

// New returns an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Ledger == nil {
		return nil, ErrLedgerRequired
	}
	if cfg.Balances == nil {
		return nil, ErrBalancesRequired
	}
	e := &Engine{
		ledger:   cfg.Ledger,
		balances: cfg.Balances,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		consumer: strings.TrimSpace(cfg.Consumer),
		tracer:   otel.Tracer(TracerName),
		reserved: newReservations(),
	}
	if e.registry == nil {
		e.registry = event.CoreRegistry()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.consumer == "" {
		e.consumer = projection.ConsumerTipBalances
	}
	return e, nil
}

// PreviewRequest asks how a day's cash tips would be split.
type PreviewRequest struct {
	RestaurantID string
	Date         string
	CashTotal    decimal.Decimal
	Shifts       []tips.Shift
}

// Preview is a proposed distribution. Nothing is recorded.
type Preview struct {
	RestaurantID    string
	Date            string
	IncludeManagers bool
	// Excluded lists manager shifts left out of the pool.
	Excluded     []string
	Distribution tips.Distribution
}

// PreviewDistribution computes a distribution against current balances.
func (e *Engine) PreviewDistribution(ctx context.Context, req PreviewRequest) (result Preview, err error) {
	ctx, finish := e.start(ctx, opPreview, req.RestaurantID)
	defer func() { finish(err) }()

	restaurantID, err := requireRestaurant(req.RestaurantID)
	if err != nil {
		return Preview{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return Preview{}, err
	}
	managerPolicy, err := e.GetManagerPolicy(ctx, restaurantID)
	if err != nil {
		return Preview{}, err
	}

	shifts := req.Shifts
	var excluded []string
	if !managerPolicy.IncludeManagers {
		for _, s := range shifts {
			if s.Manager {
				excluded = append(excluded, strings.TrimSpace(s.EmployeeID))
			}
		}
		shifts = tips.ExcludeManagers(shifts)
	}

	balances, err := e.currentBalances(ctx, restaurantID)
	if err != nil {
		return Preview{}, err
	}
	dist, err := tips.CalculateDistribution(shifts, req.CashTotal, balances)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		RestaurantID:    restaurantID,
		Date:            date,
		IncludeManagers: managerPolicy.IncludeManagers,
		Excluded:        excluded,
		Distribution:    dist,
	}, nil
}

// ApproveRequest records a previewed distribution.
type ApproveRequest struct {
	RestaurantID string
	Date         string
	Allocations  []tips.Allocation
	Actor        requestctx.Actor
}

// ApproveDistribution appends the day's TIPS_DISTRIBUTED event, crediting
// each allocation. A day can be approved once; a second approval is a
// conflict.
func (e *Engine) ApproveDistribution(ctx context.Context, req ApproveRequest) (stored event.Event, err error) {
	ctx, finish := e.start(ctx, opApprove, req.RestaurantID)
	defer func() { finish(err) }()

	restaurantID, err := requireRestaurant(req.RestaurantID)
	if err != nil {
		return event.Event{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return event.Event{}, err
	}
	if len(req.Allocations) == 0 {
		return event.Event{}, invalidArgument("allocations", "at least one allocation is required")
	}

	payload := event.TipsDistributedPayload{
		RestaurantID: restaurantID,
		Date:         date,
		Allocations:  make([]event.Allocation, 0, len(req.Allocations)),
	}
	total := money.Cents(0)
	for _, a := range req.Allocations {
		cents := money.FromDecimal(a.Allocated)
		total += cents
		payload.Allocations = append(payload.Allocations, event.Allocation{
			EmployeeID: strings.TrimSpace(a.EmployeeID),
			Amount:     money.AmountFromCents(cents),
		})
	}
	payload.TotalTips = money.AmountFromCents(total)

	return e.append(withActor(ctx, req.Actor), stream.TipsDistribution(restaurantID, date), event.TypeTipsDistributed, restaurantID, &payload)
}

// FlushRequest pays out part of an employee's balance.
type FlushRequest struct {
	RestaurantID string
	EmployeeID   string
	Amount       decimal.Decimal
	// Mode is NORMAL_20S when empty.
	Mode   string
	Reason string
	Actor  requestctx.Actor
}

// Flush is the outcome of a successful FlushTips.
type Flush struct {
	Event     event.Event
	Mode      tips.Mode
	Paid      money.Cents
	Available money.Cents
	Remaining money.Cents
}

// FlushTips debits an employee's tip balance with one TIP_PAID event.
//
// The balance check and the append run under a per-restaurant reservation
// and the append expects the payouts stream version read before the check,
// so a concurrent flush in this or another process surfaces as a conflict
// instead of a double payout.
func (e *Engine) FlushTips(ctx context.Context, req FlushRequest) (result Flush, err error) {
	ctx, finish := e.start(ctx, opFlush, req.RestaurantID)
	defer func() { finish(err) }()

	restaurantID, err := requireRestaurant(req.RestaurantID)
	if err != nil {
		return Flush{}, err
	}
	employeeID := strings.TrimSpace(req.EmployeeID)
	if employeeID == "" {
		return Flush{}, invalidArgument("employeeId", "is required")
	}
	mode, err := tips.ParseMode(req.Mode)
	if err != nil {
		return Flush{}, err
	}
	requested, err := tips.ValidatePayout(req.Amount, mode)
	if err != nil {
		return Flush{}, err
	}

	release, err := e.reserved.acquire(ctx, restaurantID)
	if err != nil {
		return Flush{}, err
	}
	defer release()

	payoutsStream := stream.TipsPayouts(restaurantID)
	version, err := e.ledger.StreamVersion(ctx, payoutsStream)
	if err != nil {
		return Flush{}, err
	}
	balances, err := e.currentBalances(ctx, restaurantID)
	if err != nil {
		return Flush{}, err
	}
	available := balances[employeeID]
	if err := tips.CheckAvailable(available, requested); err != nil {
		return Flush{}, err
	}

	stored, err := e.append(withActor(ctx, req.Actor), payoutsStream, event.TypeTipPaid, restaurantID, &event.TipPaidPayload{
		RestaurantID: restaurantID,
		EmployeeID:   employeeID,
		Amount:       money.AmountFromCents(requested),
		Mode:         string(mode),
		Reason:       strings.TrimSpace(req.Reason),
	}, journal.ExpectVersion(version))
	if err != nil {
		return Flush{}, err
	}
	metrics.RecordTipsPaid(string(mode), int64(requested))
	e.logger.Info("tips flushed",
		zap.String("restaurant_id", restaurantID),
		zap.String("employee_id", employeeID),
		zap.String("mode", string(mode)),
		zap.String("amount", requested.String()),
		zap.Uint64("position", stored.Position),
	)
	return Flush{
		Event:     stored,
		Mode:      mode,
		Paid:      requested,
		Available: available,
		Remaining: available - requested,
	}, nil
}

// GetBalances returns the projected balances of a restaurant, sorted by
// employee id.
func (e *Engine) GetBalances(ctx context.Context, restaurantID string) ([]storage.TipBalance, error) {
	restaurantID, err := requireRestaurant(restaurantID)
	if err != nil {
		return nil, err
	}
	return e.balances.ListTipBalances(ctx, restaurantID)
}

// GetManagerPolicy replays the restaurant's settings stream. Restaurants
// that never set a policy exclude managers.
func (e *Engine) GetManagerPolicy(ctx context.Context, restaurantID string) (policy.ManagerPolicy, error) {
	restaurantID, err := requireRestaurant(restaurantID)
	if err != nil {
		return policy.ManagerPolicy{}, err
	}
	state, _, err := replay.Stream(ctx, e.ledger, stream.Settings(restaurantID), policy.Default(), policy.Fold)
	if err != nil {
		return policy.ManagerPolicy{}, err
	}
	return state, nil
}

// SetManagerPolicy records whether manager shifts share the tip pool.
func (e *Engine) SetManagerPolicy(ctx context.Context, restaurantID string, includeManagers bool, actor requestctx.Actor) (stored event.Event, err error) {
	ctx, finish := e.start(ctx, opSetPolicy, restaurantID)
	defer func() { finish(err) }()

	restaurantID, err = requireRestaurant(restaurantID)
	if err != nil {
		return event.Event{}, err
	}
	return e.append(withActor(ctx, actor), stream.Settings(restaurantID), event.TypeTipsPolicyUpdated, restaurantID, &event.TipsPolicyUpdatedPayload{
		RestaurantID:    restaurantID,
		IncludeManagers: includeManagers,
	})
}

func (e *Engine) append(ctx context.Context, streamID string, typ event.Type, restaurantID string, payload event.Payload, opts ...journal.AppendOption) (event.Event, error) {
	data, err := event.MarshalPayload(payload)
	if err != nil {
		return event.Event{}, apperrors.Wrap(apperrors.CodeInvalidEvent, "invalid event payload", err)
	}
	return e.ledger.Append(ctx, event.Event{
		StreamID:    streamID,
		Type:        typ,
		PayloadJSON: data,
		Meta:        event.Meta{RestaurantID: restaurantID},
	}, opts...)
}

// currentBalances is the projection snapshot plus every tip event the
// projection has not applied: events past its watermark and events it
// dead-lettered.
func (e *Engine) currentBalances(ctx context.Context, restaurantID string) (map[string]money.Cents, error) {
	snapshot, err := e.balances.TipBalanceSnapshot(ctx, restaurantID, e.consumer)
	if err != nil {
		return nil, err
	}
	balances := make(map[string]money.Cents, len(snapshot.Balances))
	for _, b := range snapshot.Balances {
		balances[b.EmployeeID] = b.BalanceCents
	}

	for _, position := range snapshot.DeadLetters {
		evt, err := e.ledger.GetEventByPosition(ctx, position)
		if err != nil {
			return nil, err
		}
		e.fold(balances, restaurantID, evt)
	}

	after := snapshot.Watermark
	for {
		events, err := e.ledger.ListEventsAfter(ctx, after, tips.BalanceTypes, pendingPageSize)
		if err != nil {
			return nil, err
		}
		for _, evt := range events {
			e.fold(balances, restaurantID, evt)
			after = evt.Position
		}
		if len(events) < pendingPageSize {
			return balances, nil
		}
	}
}

func (e *Engine) fold(balances map[string]money.Cents, restaurantID string, evt event.Event) {
	effect, ok, err := tips.EffectOf(e.registry, evt)
	if err != nil {
		// The projector cannot apply it either; it ends up dead-lettered.
		e.logger.Warn("skipping undecodable tip event",
			zap.Uint64("position", evt.Position),
			zap.String("event_id", evt.ID),
			zap.Error(err),
		)
		return
	}
	if ok {
		tips.ApplyEffects(balances, restaurantID, effect)
	}
}

func (e *Engine) start(ctx context.Context, operation, restaurantID string) (context.Context, func(error)) {
	began := time.Now()
	ctx, span := e.tracer.Start(ctx, "settlement."+operation, trace.WithAttributes(
		attribute.String("settlement.restaurant_id", restaurantID),
	))
	return ctx, func(err error) {
		outcome := metrics.OutcomeOf(err)
		metrics.RecordSettlement(operation, outcome)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			if !apperrors.IsValidation(err) && !apperrors.IsInsufficientFunds(err) && !apperrors.IsConflict(err) {
				e.logger.Error("settlement operation failed",
					zap.String("operation", operation),
					zap.String("restaurant_id", restaurantID),
					zap.Duration("elapsed", time.Since(began)),
					zap.Error(err),
				)
			}
		}
		span.End()
	}
}

func withActor(ctx context.Context, actor requestctx.Actor) context.Context {
	if actor.IsZero() {
		return ctx
	}
	return requestctx.WithActor(ctx, actor)
}

func requireRestaurant(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", invalidArgument("restaurantId", "is required")
	}
	return id, nil
}

func parseDate(raw string) (string, error) {
	day, err := stream.ParseDate(raw)
	if err != nil {
		return "", apperrors.WrapWithMetadata(apperrors.CodeInvalidDate, "date must be YYYY-MM-DD",
			map[string]string{"Date": raw}, err)
	}
	return day.Format(stream.DateLayout), nil
}

func invalidArgument(field, reason string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, field+" "+reason,
		map[string]string{"Field": field, "Reason": reason})
}
