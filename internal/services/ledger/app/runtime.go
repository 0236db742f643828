package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/brigade/internal/platform/logging"
	"github.com/louisbranch/brigade/internal/services/ledger/journal"
	"github.com/louisbranch/brigade/internal/services/ledger/observability/audit"
	"github.com/louisbranch/brigade/internal/services/ledger/projection"
	"github.com/louisbranch/brigade/internal/services/ledger/reports"
	"github.com/louisbranch/brigade/internal/services/ledger/settlement"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
	"github.com/louisbranch/brigade/internal/services/ledger/storage/integrity"
	storagesqlite "github.com/louisbranch/brigade/internal/services/ledger/storage/sqlite"
)

var (
	newRuntime     = NewRuntime
	newAuditWriter = audit.NewWriter
)

// Deps are the collaborators of a Runtime.
type Deps struct {
	Events      storage.EventStore
	Projections storage.ProjectionStore
	// Audit defaults to a log writer.
	Audit        audit.Writer
	Logger       *zap.Logger
	PollInterval time.Duration
	MaxAttempts  int
	Now          func() time.Time
	// Closers run on Close after the audit writer is flushed.
	Closers []io.Closer
}

// Runtime is a fully wired ledger core.
type Runtime struct {
	Ledger      *journal.Ledger
	Dispatcher  *projection.Dispatcher
	Settlement  *settlement.Engine
	Reports     *reports.Service
	Projections storage.ProjectionStore
	Projectors  []projection.Projector

	audit   audit.Writer
	logger  *zap.Logger
	closers []io.Closer
}

// NewRuntime wires the ledger, projections and services over deps.
func NewRuntime(deps Deps) (*Runtime, error) {
	if deps.Events == nil {
		return nil, errors.New("event store is required")
	}
	if deps.Projections == nil {
		return nil, errors.New("projection store is required")
	}
	logger := logging.OrNop(deps.Logger)
	auditWriter := deps.Audit
	if auditWriter == nil {
		auditWriter = audit.NewLogWriter(logger)
	}

	ledger, err := journal.New(journal.Config{
		Store:  deps.Events,
		Logger: logger.Named("ledger"),
		Now:    deps.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("new ledger: %w", err)
	}
	dispatcher, err := projection.NewDispatcher(projection.DispatcherConfig{
		Source:       ledger,
		Checkpoints:  deps.Projections,
		DeadLetters:  deps.Projections,
		Logger:       logger.Named("projection"),
		PollInterval: deps.PollInterval,
		MaxAttempts:  deps.MaxAttempts,
		Now:          deps.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("new dispatcher: %w", err)
	}
	projectors := []projection.Projector{
		projection.TipBalanceProjector{Store: deps.Projections, Registry: ledger.Registry()},
		projection.DailyAggregateProjector{Store: deps.Projections, Registry: ledger.Registry()},
		projection.AuditTrailProjector{Store: deps.Projections, Now: deps.Now},
		projection.AuditExportProjector{Writer: auditWriter, Now: deps.Now},
	}
	if err := projection.Register(dispatcher, projectors...); err != nil {
		return nil, fmt.Errorf("register projectors: %w", err)
	}
	ledger.OnAppend(dispatcher.Notify)

	engine, err := settlement.New(settlement.Config{
		Ledger:   ledger,
		Balances: deps.Projections,
		Registry: ledger.Registry(),
		Logger:   logger.Named("settlement"),
	})
	if err != nil {
		return nil, fmt.Errorf("new settlement engine: %w", err)
	}
	reportService, err := reports.New(reports.Config{
		Ledger: ledger,
		Logger: logger.Named("reports"),
		Now:    deps.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("new report service: %w", err)
	}

	return &Runtime{
		Ledger:      ledger,
		Dispatcher:  dispatcher,
		Settlement:  engine,
		Reports:     reportService,
		Projections: deps.Projections,
		Projectors:  projectors,
		audit:       auditWriter,
		logger:      logger,
		closers:     deps.Closers,
	}, nil
}

// Projector returns the registered projector for consumer.
func (r *Runtime) Projector(consumer string) (projection.Projector, bool) {
	consumer = strings.TrimSpace(consumer)
	for _, p := range r.Projectors {
		if p.Consumer() == consumer {
			return p, true
		}
	}
	return nil, false
}

// Close flushes the audit writer and closes the stores.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.audit != nil {
		r.audit.Close()
	}
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			r.logger.Warn("close store", zap.Error(err))
		}
	}
}

// Open opens the SQLite stores named by cfg and wires a Runtime over them.
// With VerifyOnStart the event hash chains are checked before anything else
// runs.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Runtime, error) {
	logger = logging.OrNop(logger)
	events, err := openEventStore(ctx, cfg.EventsDBPath)
	if err != nil {
		return nil, err
	}
	if cfg.VerifyOnStart {
		report, err := events.VerifyEventIntegrity(ctx)
		if err != nil {
			_ = events.Close()
			return nil, fmt.Errorf("verify event integrity: %w", err)
		}
		logger.Info("event integrity verified",
			zap.Int("streams", report.Streams),
			zap.Int("events", report.Events),
		)
	}
	projections, err := openProjectionStore(ctx, cfg.ProjectionsDBPath)
	if err != nil {
		_ = events.Close()
		return nil, err
	}

	auditWriter := newAuditWriter(ctx, cfg.Audit, logger.Named("audit"))
	runtime, err := newRuntime(Deps{
		Events:       events,
		Projections:  projections,
		Audit:        auditWriter,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxAttempts,
		Closers:      []io.Closer{projections, events},
	})
	if err != nil {
		auditWriter.Close()
		_ = projections.Close()
		_ = events.Close()
		return nil, err
	}
	return runtime, nil
}

func openEventStore(ctx context.Context, path string) (*storagesqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("events db path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	keyring, err := integrity.KeyringFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load event integrity keyring: %w", err)
	}
	store, err := storagesqlite.OpenEvents(ctx, path, keyring)
	if err != nil {
		return nil, fmt.Errorf("open events store: %w", err)
	}
	return store, nil
}

func openProjectionStore(ctx context.Context, path string) (*storagesqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("projections db path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	store, err := storagesqlite.OpenProjections(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open projections store: %w", err)
	}
	return store, nil
}
