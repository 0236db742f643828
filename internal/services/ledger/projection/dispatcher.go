package projection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/replay"
	"github.com/louisbranch/brigade/internal/services/ledger/observability/metrics"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

const (
	defaultPollInterval = time.Second
	defaultMaxAttempts  = 8
	defaultBatchSize    = 100
)

var (
	// ErrSourceRequired indicates a dispatcher without an event source.
	ErrSourceRequired = errors.New("event source is required")
	// ErrCheckpointsRequired indicates a dispatcher without checkpoint storage.
	ErrCheckpointsRequired = errors.New("checkpoint store is required")
	// ErrDeadLettersRequired indicates a dispatcher without dead-letter storage.
	ErrDeadLettersRequired = errors.New("dead-letter store is required")
	// ErrDispatcherStarted indicates a subscription after Run started.
	ErrDispatcherStarted = errors.New("dispatcher already running")
)

// Handler applies one event for a consumer.
type Handler func(ctx context.Context, evt event.Event) error

// Source reads the ledger in position order.
type Source interface {
	ListEventsAfter(ctx context.Context, after uint64, types []event.Type, limit int) ([]event.Event, error)
}

// DeadLetterSink records events a consumer gave up on.
type DeadLetterSink interface {
	PutDeadLetter(ctx context.Context, letter storage.DeadLetter) error
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Source      Source
	Checkpoints storage.CheckpointStore
	DeadLetters DeadLetterSink
	Logger      *zap.Logger
	// PollInterval bounds how long an idle consumer waits before looking for
	// events appended by other processes.
	PollInterval time.Duration
	// MaxAttempts is how many times an event is tried before it is
	// dead-lettered.
	MaxAttempts int
	BatchSize   int
	// Backoff returns the wait before retry attempt n (1-based).
	Backoff func(attempt int) time.Duration
	Now     func() time.Time
}

// Dispatcher fans ledger events out to subscribed consumers.
type Dispatcher struct {
	source       Source
	checkpoints  storage.CheckpointStore
	deadLetters  DeadLetterSink
	logger       *zap.Logger
	pollInterval time.Duration
	maxAttempts  int
	batchSize    int
	backoff      func(int) time.Duration
	now          func() time.Time

	mu        sync.Mutex
	consumers map[string]*consumer
	order     []string
	started   bool
}

type consumer struct {
	name     string
	handlers map[event.Type]Handler
	wake     chan struct{}

	// mu serializes delivery so Drain and Run never race on a checkpoint.
	mu          sync.Mutex
	attempts    int
	failingAt   uint64
	nextAttempt time.Time
}

// NewDispatcher returns a Dispatcher with defaults applied.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Source == nil {
		return nil, ErrSourceRequired
	}
	if cfg.Checkpoints == nil {
		return nil, ErrCheckpointsRequired
	}
	if cfg.DeadLetters == nil {
		return nil, ErrDeadLettersRequired
	}
	d := &Dispatcher{
		source:       cfg.Source,
		checkpoints:  cfg.Checkpoints,
		deadLetters:  cfg.DeadLetters,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		batchSize:    cfg.BatchSize,
		backoff:      cfg.Backoff,
		now:          cfg.Now,
		consumers:    make(map[string]*consumer),
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultPollInterval
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	if d.batchSize <= 0 {
		d.batchSize = defaultBatchSize
	}
	if d.backoff == nil {
		d.backoff = RetryBackoff
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// RetryBackoff doubles from one second and caps at five minutes.
func RetryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if attempt > 10 {
		return 5 * time.Minute
	}
	backoff := time.Second << (attempt - 1)
	if backoff > 5*time.Minute {
		return 5 * time.Minute
	}
	return backoff
}

// Subscribe registers handler for eventType under consumer. A consumer may
// subscribe to many types, including event.TypeAny.
func (d *Dispatcher) Subscribe(consumerName string, eventType event.Type, handler Handler) error {
	consumerName = strings.TrimSpace(consumerName)
	if consumerName == "" {
		return replay.ErrConsumerRequired
	}
	eventType = event.Type(strings.TrimSpace(string(eventType)))
	if eventType == "" {
		return event.ErrTypeRequired
	}
	if handler == nil {
		return fmt.Errorf("handler for %s/%s is required", consumerName, eventType)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrDispatcherStarted
	}
	c, ok := d.consumers[consumerName]
	if !ok {
		c = &consumer{
			name:     consumerName,
			handlers: make(map[event.Type]Handler),
			wake:     make(chan struct{}, 1),
		}
		d.consumers[consumerName] = c
		d.order = append(d.order, consumerName)
	}
	if _, exists := c.handlers[eventType]; exists {
		return fmt.Errorf("consumer %s already subscribed to %s", consumerName, eventType)
	}
	c.handlers[eventType] = handler
	return nil
}

// Consumers lists consumer names in subscription order.
func (d *Dispatcher) Consumers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

// Notify wakes every consumer subscribed to evt's type. It never blocks.
func (d *Dispatcher) Notify(evt event.Event) {
	for _, c := range d.snapshot() {
		if !c.wants(evt.Type) {
			continue
		}
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
}

func (d *Dispatcher) snapshot() []*consumer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*consumer, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.consumers[name])
	}
	return out
}

// Run delivers events to every consumer until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, c := range d.snapshot() {
		group.Go(func() error {
			d.runConsumer(groupCtx, c)
			return nil
		})
	}
	return group.Wait()
}

func (d *Dispatcher) runConsumer(ctx context.Context, c *consumer) {
	d.logger.Info("projection consumer started", zap.String("consumer", c.name))
	for {
		wait := d.pollInterval
		if _, err := d.deliver(ctx, c, false); err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("projection delivery failed",
				zap.String("consumer", c.name),
				zap.Error(err),
			)
		}
		if until, retrying := c.retryIn(d.now()); retrying && until < wait {
			wait = max(until, time.Millisecond)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("projection consumer stopped", zap.String("consumer", c.name))
			return
		case <-c.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Drain delivers everything currently available to every consumer once.
// Failing events are retried immediately until they succeed or are
// dead-lettered.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for _, c := range d.snapshot() {
		if _, err := d.deliver(ctx, c, true); err != nil {
			return fmt.Errorf("drain %s: %w", c.name, err)
		}
	}
	return nil
}

// deliver pushes events to c until it is caught up or blocked by a retry.
func (d *Dispatcher) deliver(ctx context.Context, c *consumer, ignoreBackoff bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	position, err := d.checkpoint(ctx, c.name)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		events, err := d.source.ListEventsAfter(ctx, position, c.types(), d.batchSize)
		if err != nil {
			return delivered, fmt.Errorf("list events after %d: %w", position, err)
		}
		if len(events) == 0 {
			return delivered, nil
		}
		for _, evt := range events {
			if evt.Position <= position {
				return delivered, fmt.Errorf("event position went backwards: after %d got %d", position, evt.Position)
			}
			done, err := d.deliverOne(ctx, c, evt, ignoreBackoff)
			if err != nil {
				return delivered, err
			}
			if !done {
				return delivered, nil
			}
			position = evt.Position
			delivered++
		}
		if len(events) < d.batchSize {
			return delivered, nil
		}
	}
}

// deliverOne applies evt and advances the checkpoint. It reports false when
// the consumer must wait for a retry.
func (d *Dispatcher) deliverOne(ctx context.Context, c *consumer, evt event.Event, ignoreBackoff bool) (bool, error) {
	for {
		if c.failingAt == evt.Position && !ignoreBackoff && d.now().Before(c.nextAttempt) {
			return false, nil
		}
		applyErr := c.apply(ctx, evt)
		if applyErr == nil {
			if c.failingAt == evt.Position {
				c.resetFailure()
			}
			metrics.RecordDelivery(c.name, metrics.DeliveryApplied)
			return true, d.saveCheckpoint(ctx, c.name, evt.Position)
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if c.failingAt != evt.Position {
			c.failingAt = evt.Position
			c.attempts = 0
		}
		c.attempts++
		if c.attempts >= d.maxAttempts {
			if err := d.deadLetter(ctx, c, evt, applyErr); err != nil {
				return false, err
			}
			c.resetFailure()
			return true, d.saveCheckpoint(ctx, c.name, evt.Position)
		}

		backoff := d.backoff(c.attempts)
		c.nextAttempt = d.now().Add(backoff)
		metrics.RecordDelivery(c.name, metrics.DeliveryRetried)
		d.logger.Warn("projection handler failed, will retry",
			zap.String("consumer", c.name),
			zap.Uint64("position", evt.Position),
			zap.String("event_type", string(evt.Type)),
			zap.Int("attempt", c.attempts),
			zap.Duration("backoff", backoff),
			zap.Error(applyErr),
		)
		if !ignoreBackoff {
			return false, nil
		}
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, c *consumer, evt event.Event, cause error) error {
	letter := storage.DeadLetter{
		Consumer:  c.name,
		Position:  evt.Position,
		EventID:   evt.ID,
		EventType: evt.Type,
		Attempts:  c.attempts,
		LastError: cause.Error(),
		FailedAt:  d.now().UTC(),
	}
	if err := d.deadLetters.PutDeadLetter(ctx, letter); err != nil {
		return fmt.Errorf("dead-letter %s/%d: %w", c.name, evt.Position, err)
	}
	metrics.RecordDelivery(c.name, metrics.DeliveryDeadLettered)
	d.logger.Error("projection event dead-lettered",
		zap.String("consumer", c.name),
		zap.Uint64("position", evt.Position),
		zap.String("event_id", evt.ID),
		zap.String("event_type", string(evt.Type)),
		zap.Int("attempts", c.attempts),
		zap.Error(cause),
	)
	return nil
}

func (d *Dispatcher) checkpoint(ctx context.Context, name string) (uint64, error) {
	cp, err := d.checkpoints.GetProjectionCheckpoint(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get checkpoint %s: %w", name, err)
	}
	return cp.Position, nil
}

func (d *Dispatcher) saveCheckpoint(ctx context.Context, name string, position uint64) error {
	if err := d.checkpoints.SaveProjectionCheckpoint(ctx, replay.Checkpoint{
		Consumer:  name,
		Position:  position,
		UpdatedAt: d.now().UTC(),
	}); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	metrics.SetCheckpoint(name, position)
	return nil
}

func (c *consumer) wants(t event.Type) bool {
	if _, ok := c.handlers[event.TypeAny]; ok {
		return true
	}
	_, ok := c.handlers[t]
	return ok
}

// types is nil when the consumer subscribed to every type.
func (c *consumer) types() []event.Type {
	if _, ok := c.handlers[event.TypeAny]; ok {
		return nil
	}
	out := make([]event.Type, 0, len(c.handlers))
	for t := range c.handlers {
		out = append(out, t)
	}
	return out
}

// apply runs the type handler, then the catch-all handler.
func (c *consumer) apply(ctx context.Context, evt event.Event) error {
	if handler, ok := c.handlers[evt.Type]; ok {
		if err := handler(ctx, evt); err != nil {
			return err
		}
	}
	if handler, ok := c.handlers[event.TypeAny]; ok {
		return handler(ctx, evt)
	}
	return nil
}

// retryIn reports how long until the pending retry is due.
func (c *consumer) retryIn(now time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failingAt == 0 {
		return 0, false
	}
	return c.nextAttempt.Sub(now), true
}

func (c *consumer) resetFailure() {
	c.failingAt = 0
	c.attempts = 0
	c.nextAttempt = time.Time{}
}
