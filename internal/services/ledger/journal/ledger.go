package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
	"github.com/louisbranch/brigade/internal/platform/id"
	"github.com/louisbranch/brigade/internal/platform/requestctx"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/observability/metrics"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

// TracerName names the tracer used for ledger spans.
const TracerName = "brigade/ledger"

var (
	// ErrStoreRequired indicates a ledger without an event store.
	ErrStoreRequired = errors.New("event store is required")
	// ErrIntegrityUnsupported indicates the store keeps no hash chain.
	ErrIntegrityUnsupported = errors.New("event store does not support integrity verification")
)

// Listener observes committed appends.
type Listener func(evt event.Event)

// Config wires a Ledger.
type Config struct {
	Store    storage.EventStore
	Registry *event.Registry
	Logger   *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID defaults to id.NewEventID.
	NewID func() (string, error)
}

// Ledger is the append-only event log.
type Ledger struct {
	store    storage.EventStore
	registry *event.Registry
	logger   *zap.Logger
	now      func() time.Time
	newID    func() (string, error)
	tracer   trace.Tracer

	mu        sync.RWMutex
	listeners []Listener
}

// New returns a Ledger. A nil registry means event.CoreRegistry.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, ErrStoreRequired
	}
	l := &Ledger{
		store:    cfg.Store,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		now:      cfg.Now,
		newID:    cfg.NewID,
		tracer:   otel.Tracer(TracerName),
	}
	if l.registry == nil {
		l.registry = event.CoreRegistry()
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.newID == nil {
		l.newID = id.NewEventID
	}
	return l, nil
}

// Registry returns the payload registry used at the boundary.
func (l *Ledger) Registry() *event.Registry {
	return l.registry
}

// OnAppend registers a listener called after every committed append.
func (l *Ledger) OnAppend(listener Listener) {
	if listener == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, listener)
}

// AppendOption adjusts a single append.
type AppendOption func(*storage.AppendOptions)

// ExpectVersion fails the append with a stream version conflict unless the
// stream is currently at version v.
func ExpectVersion(v uint64) AppendOption {
	return func(o *storage.AppendOptions) {
		o.ExpectedVersion = &v
	}
}

// Append validates and persists evt, returning it as stored.
//
// ID and OccurredAt are assigned when empty. Actor and request id are taken
// from ctx when the event does not carry them.
func (l *Ledger) Append(ctx context.Context, evt event.Event, opts ...AppendOption) (stored event.Event, err error) {
	start := time.Now()
	ctx, span := l.tracer.Start(ctx, "ledger.Append", trace.WithAttributes(
		attribute.String("ledger.stream_id", evt.StreamID),
		attribute.String("ledger.event_type", string(evt.Type)),
	))
	defer func() {
		metrics.RecordAppend(string(evt.Type), metrics.OutcomeOf(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int64("ledger.position", int64(stored.Position)),
				attribute.Int64("ledger.version", int64(stored.Version)),
			)
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}

	evt, err = l.registry.ValidateForAppend(evt)
	if err != nil {
		return event.Event{}, invalidEvent(err)
	}
	if evt.ID == "" {
		if evt.ID, err = l.newID(); err != nil {
			return event.Event{}, err
		}
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = l.now().UTC().Truncate(time.Millisecond)
	}
	if actor := requestctx.ActorFromContext(ctx); !actor.IsZero() && evt.Meta.ActorType == "" && evt.Meta.ActorID == "" {
		evt.Meta.ActorType = actor.Type
		evt.Meta.ActorID = actor.ID
	}
	if evt.Meta.RequestID == "" {
		evt.Meta.RequestID = requestctx.RequestIDFromContext(ctx)
	}

	options := storage.AppendOptions{OncePerStream: l.registry.OncePerStream(evt.Type)}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	stored, err = l.store.AppendEvent(ctx, evt, options)
	if err != nil {
		if apperrors.IsConflict(err) {
			l.logger.Info("ledger append rejected",
				zap.String("stream_id", evt.StreamID),
				zap.String("event_type", string(evt.Type)),
				zap.Error(err),
			)
		}
		return event.Event{}, err
	}

	l.logger.Debug("ledger event appended",
		zap.String("event_id", stored.ID),
		zap.String("stream_id", stored.StreamID),
		zap.String("event_type", string(stored.Type)),
		zap.Uint64("position", stored.Position),
		zap.Uint64("version", stored.Version),
	)
	l.notify(stored)
	return stored, nil
}

func (l *Ledger) notify(evt event.Event) {
	l.mu.RLock()
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, listener := range listeners {
		listener(evt)
	}
}

func invalidEvent(err error) error {
	return apperrors.WrapWithMetadata(
		apperrors.CodeInvalidEvent,
		fmt.Sprintf("invalid event: %v", err),
		map[string]string{"Reason": err.Error()},
		err,
	)
}

// GetStream returns a stream's events in occurrence order. An unknown
// stream yields an empty slice.
func (l *Ledger) GetStream(ctx context.Context, streamID string) ([]event.Event, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.GetStream", trace.WithAttributes(
		attribute.String("ledger.stream_id", streamID),
	))
	defer span.End()
	events, err := l.store.GetStream(ctx, streamID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if events == nil {
		events = []event.Event{}
	}
	return events, nil
}

// ListEventsAfter pages through the ledger in position order.
func (l *Ledger) ListEventsAfter(ctx context.Context, after uint64, types []event.Type, limit int) ([]event.Event, error) {
	return l.store.ListEventsAfter(ctx, after, types, limit)
}

// GetEventByPosition returns the event at a global position.
func (l *Ledger) GetEventByPosition(ctx context.Context, position uint64) (event.Event, error) {
	return l.store.GetEventByPosition(ctx, position)
}

// StreamVersion returns the stream's current version, 0 when empty.
func (l *Ledger) StreamVersion(ctx context.Context, streamID string) (uint64, error) {
	return l.store.StreamVersion(ctx, streamID)
}

// LatestPosition returns the last assigned position, 0 when empty.
func (l *Ledger) LatestPosition(ctx context.Context) (uint64, error) {
	return l.store.LatestPosition(ctx)
}

// VerifyIntegrity walks the store's hash chains when it keeps them.
func (l *Ledger) VerifyIntegrity(ctx context.Context) (storage.IntegrityReport, error) {
	verifier, ok := l.store.(storage.IntegrityVerifier)
	if !ok {
		return storage.IntegrityReport{}, ErrIntegrityUnsupported
	}
	return verifier.VerifyEventIntegrity(ctx)
}
