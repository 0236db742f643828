package storage

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/money"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/replay"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrEventIDConflict indicates an append reused an existing event id.
var ErrEventIDConflict = apperrors.New(apperrors.CodeEventIDConflict, "event id already exists")

// ErrStreamVersionConflict indicates the stream moved past the expected version.
var ErrStreamVersionConflict = apperrors.New(apperrors.CodeStreamVersionConflict, "stream version conflict")

// ErrEventAlreadyRecorded indicates a once-per-stream event type was already
// appended to the stream.
var ErrEventAlreadyRecorded = apperrors.New(apperrors.CodeEventAlreadyRecorded, "event already recorded for stream")

// AppendOptions carries the guards the journal resolved for one append.
type AppendOptions struct {
	// ExpectedVersion, when set, must equal the stream's current version.
	ExpectedVersion *uint64
	// OncePerStream claims (stream id, event type) so the type can only be
	// appended once to the stream.
	OncePerStream bool
}

// EventStore owns the append-only journal. It is the source of truth for
// every read model.
type EventStore interface {
	// AppendEvent atomically appends an event that already has an id and an
	// occurrence time, assigning its position and stream version.
	AppendEvent(ctx context.Context, evt event.Event, opts AppendOptions) (event.Event, error)
	// GetStream returns a stream's events by occurrence time, then version.
	GetStream(ctx context.Context, streamID string) ([]event.Event, error)
	// ListEventsAfter returns events with position greater than after, in
	// position order. An empty types slice matches every type.
	ListEventsAfter(ctx context.Context, after uint64, types []event.Type, limit int) ([]event.Event, error)
	// GetEventByPosition returns ErrNotFound for unknown positions.
	GetEventByPosition(ctx context.Context, position uint64) (event.Event, error)
	// StreamVersion returns 0 for an empty stream.
	StreamVersion(ctx context.Context, streamID string) (uint64, error)
	// LatestPosition returns 0 for an empty journal.
	LatestPosition(ctx context.Context) (uint64, error)
}

// IntegrityVerifier walks the stored hash chains.
type IntegrityVerifier interface {
	// VerifyEventIntegrity returns the first broken link or signature.
	VerifyEventIntegrity(ctx context.Context) (IntegrityReport, error)
}

// IntegrityReport summarizes a successful verification.
type IntegrityReport struct {
	Streams int
	Events  int
}

// TipBalance is the projected tip balance of one employee.
type TipBalance struct {
	RestaurantID string
	EmployeeID   string
	BalanceCents money.Cents
	UpdatedAt    time.Time
}

// TipBalanceSnapshot is a restaurant's balances as of a consumer watermark.
type TipBalanceSnapshot struct {
	Balances []TipBalance
	// Watermark is the last position the consumer applied; later events are
	// not reflected yet.
	Watermark uint64
	// DeadLetters are positions at or below the watermark the consumer
	// failed to apply.
	DeadLetters []uint64
}

// TipBalanceStore reads the tip balance projection.
type TipBalanceStore interface {
	GetTipBalance(ctx context.Context, restaurantID, employeeID string) (TipBalance, error)
	// ListTipBalances returns balances sorted by employee id.
	ListTipBalances(ctx context.Context, restaurantID string) ([]TipBalance, error)
	// TipBalanceSnapshot reads balances, the consumer watermark and its dead
	// letters in one consistent read.
	TipBalanceSnapshot(ctx context.Context, restaurantID, consumer string) (TipBalanceSnapshot, error)
}

// DailyAggregate is the projected daily figures of one restaurant.
type DailyAggregate struct {
	RestaurantID         string
	Date                 string
	CashSalesCents       money.Cents
	CardSalesCents       money.Cents
	Covers               int64
	ReportsSubmitted     int64
	TipsDistributedCents money.Cents
	TipsPaidCents        money.Cents
	UpdatedAt            time.Time
}

// DailyAggregateDelta is added to a daily aggregate row.
type DailyAggregateDelta struct {
	CashSalesCents       money.Cents
	CardSalesCents       money.Cents
	Covers               int64
	ReportsSubmitted     int64
	TipsDistributedCents money.Cents
	TipsPaidCents        money.Cents
}

// DailyAggregateStore reads the daily aggregate projection.
type DailyAggregateStore interface {
	GetDailyAggregate(ctx context.Context, restaurantID, date string) (DailyAggregate, error)
	// ListDailyAggregates returns rows with from <= date <= to, by date.
	ListDailyAggregates(ctx context.Context, restaurantID, from, to string) ([]DailyAggregate, error)
}

// AuditEntry is one ledger event in the audit trail.
type AuditEntry struct {
	Position     uint64
	EventID      string
	StreamID     string
	Type         event.Type
	ActorType    string
	ActorID      string
	RestaurantID string
	RequestID    string
	OccurredAt   time.Time
	RecordedAt   time.Time
}

// AuditQuery filters the audit trail.
type AuditQuery struct {
	// RestaurantID is optional.
	RestaurantID  string
	AfterPosition uint64
	Limit         int
}

// AuditTrailStore reads the audit trail projection.
type AuditTrailStore interface {
	ListAuditEntries(ctx context.Context, query AuditQuery) ([]AuditEntry, error)
}

// ProjectionWatermark is the last position a consumer applied.
type ProjectionWatermark struct {
	Consumer        string
	AppliedPosition uint64
	UpdatedAt       time.Time
}

// ProjectionTx is the write surface of one exactly-once apply. Every
// mutation commits together with the apply marker and watermark.
type ProjectionTx interface {
	AdjustTipBalance(ctx context.Context, restaurantID, employeeID string, delta money.Cents, at time.Time) error
	AdjustDailyAggregate(ctx context.Context, restaurantID, date string, delta DailyAggregateDelta, at time.Time) error
	PutAuditEntry(ctx context.Context, entry AuditEntry) error
}

// ProjectionApplier applies projection events exactly once per consumer.
type ProjectionApplier interface {
	// ApplyExactlyOnce runs apply inside one transaction with a
	// (consumer, position) marker and the consumer watermark, and drops the
	// consumer's dead letter for the position on success. It reports false
	// without calling apply when the event was already applied.
	ApplyExactlyOnce(ctx context.Context, consumer string, evt event.Event, apply func(context.Context, ProjectionTx) error) (bool, error)
	GetProjectionWatermark(ctx context.Context, consumer string) (ProjectionWatermark, error)
	// ResetProjection clears a consumer's markers, watermark, checkpoint and
	// dead letters, and the read model rows listed in tables.
	ResetProjection(ctx context.Context, consumer string, tables []string) error
}

// Read model tables a projector owns, used by ResetProjection.
const (
	TableTipBalances     = "tip_balances"
	TableDailyAggregates = "daily_aggregates"
	TableAuditEntries    = "audit_entries"
)

// DeadLetter is an event a consumer gave up on.
type DeadLetter struct {
	Consumer  string
	Position  uint64
	EventID   string
	EventType event.Type
	Attempts  int
	LastError string
	FailedAt  time.Time
}

// DeadLetterStore keeps events consumers could not apply.
type DeadLetterStore interface {
	PutDeadLetter(ctx context.Context, letter DeadLetter) error
	GetDeadLetter(ctx context.Context, consumer string, position uint64) (DeadLetter, error)
	// ListDeadLetters returns letters by consumer then position. An empty
	// consumer lists every consumer.
	ListDeadLetters(ctx context.Context, consumer string, limit int) ([]DeadLetter, error)
	DeleteDeadLetter(ctx context.Context, consumer string, position uint64) error
}

// CheckpointStore keeps the durable delivery offset of each consumer.
type CheckpointStore interface {
	// GetProjectionCheckpoint returns ErrNotFound before the first save.
	GetProjectionCheckpoint(ctx context.Context, consumer string) (replay.Checkpoint, error)
	// SaveProjectionCheckpoint never moves a checkpoint backwards.
	SaveProjectionCheckpoint(ctx context.Context, checkpoint replay.Checkpoint) error
}

// ReplayCheckpoints adapts a CheckpointStore to replay.CheckpointStore.
func ReplayCheckpoints(store CheckpointStore) replay.CheckpointStore {
	return replayCheckpoints{store: store}
}

type replayCheckpoints struct {
	store CheckpointStore
}

func (r replayCheckpoints) Get(ctx context.Context, consumer string) (replay.Checkpoint, error) {
	return r.store.GetProjectionCheckpoint(ctx, consumer)
}

func (r replayCheckpoints) Save(ctx context.Context, checkpoint replay.Checkpoint) error {
	return r.store.SaveProjectionCheckpoint(ctx, checkpoint)
}

// ProjectionStore groups the projection database contracts.
type ProjectionStore interface {
	TipBalanceStore
	DailyAggregateStore
	AuditTrailStore
	ProjectionApplier
	DeadLetterStore
	CheckpointStore
}
