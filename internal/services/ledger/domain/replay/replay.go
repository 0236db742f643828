// Package replay rebuilds state by folding ledger events in order.
//
// Stream replays one stream in occurrence order and is the strongly
// consistent read path for small aggregates (policy, templates, daily
// reports). Replay walks the global log by position for a named consumer and
// records its progress in a checkpoint, which is how projections catch up
// and rebuild.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/louisbranch/brigade/internal/platform/errors"
	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
)

const defaultPageSize = 200

var (
	// ErrEventStoreRequired indicates a missing event store.
	ErrEventStoreRequired = errors.New("event store is required")
	// ErrCheckpointStoreRequired indicates a missing checkpoint store.
	ErrCheckpointStoreRequired = errors.New("checkpoint store is required")
	// ErrApplyRequired indicates a missing apply function.
	ErrApplyRequired = errors.New("apply function is required")
	// ErrConsumerRequired indicates a missing consumer name.
	ErrConsumerRequired = errors.New("consumer is required")
	// ErrStreamIDRequired indicates a missing stream id.
	ErrStreamIDRequired = errors.New("stream id is required")
	// ErrCheckpointNotFound indicates no checkpoint exists yet. Any
	// NOT_FOUND domain error matches it with errors.Is.
	ErrCheckpointNotFound = apperrors.New(apperrors.CodeNotFound, "checkpoint not found")
)

// StreamReader returns the full history of one stream.
type StreamReader interface {
	GetStream(ctx context.Context, streamID string) ([]event.Event, error)
}

// EventStore pages the global log by position.
type EventStore interface {
	ListEventsAfter(ctx context.Context, afterPosition uint64, types []event.Type, limit int) ([]event.Event, error)
}

// CheckpointStore manages per-consumer positions.
type CheckpointStore interface {
	Get(ctx context.Context, consumer string) (Checkpoint, error)
	Save(ctx context.Context, checkpoint Checkpoint) error
}

// Checkpoint is the last position a consumer has fully handled.
type Checkpoint struct {
	Consumer  string
	Position  uint64
	UpdatedAt time.Time
}

// Fold applies one event to a state value.
type Fold[S any] func(state S, evt event.Event) (S, error)

// Stream folds every event of streamID into initial, in occurrence order.
// It returns the final state and the number of events applied.
func Stream[S any](ctx context.Context, reader StreamReader, streamID string, initial S, fold Fold[S]) (S, int, error) {
	if reader == nil {
		return initial, 0, ErrEventStoreRequired
	}
	if fold == nil {
		return initial, 0, ErrApplyRequired
	}
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		return initial, 0, ErrStreamIDRequired
	}
	events, err := reader.GetStream(ctx, streamID)
	if err != nil {
		return initial, 0, err
	}
	// Readers already order by occurrence; sorting again keeps fakes and
	// third-party readers honest.
	sort.SliceStable(events, func(i, j int) bool { return events[i].Before(events[j]) })

	state := initial
	for _, evt := range events {
		next, err := fold(state, evt)
		if err != nil {
			return state, 0, fmt.Errorf("fold %s v%d: %w", evt.Type, evt.Version, err)
		}
		state = next
	}
	return state, len(events), nil
}

// Options configures a global replay.
type Options struct {
	AfterPosition uint64
	UntilPosition uint64
	PageSize      int
	Types         []event.Type
}

// Result captures replay outcomes.
type Result struct {
	LastPosition uint64
	Applied      int
}

// Replay applies events after the consumer's checkpoint (or
// Options.AfterPosition, whichever is later) and saves the checkpoint after
// each apply. Positions must strictly increase.
func Replay(ctx context.Context, store EventStore, checkpoints CheckpointStore, consumer string, apply func(context.Context, event.Event) error, options Options) (Result, error) {
	if store == nil {
		return Result{}, ErrEventStoreRequired
	}
	if checkpoints == nil {
		return Result{}, ErrCheckpointStoreRequired
	}
	if apply == nil {
		return Result{}, ErrApplyRequired
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return Result{}, ErrConsumerRequired
	}

	start := options.AfterPosition
	checkpoint, err := checkpoints.Get(ctx, consumer)
	if err != nil {
		if !errors.Is(err, ErrCheckpointNotFound) {
			return Result{}, err
		}
	} else if checkpoint.Position > start {
		start = checkpoint.Position
	}
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	result := Result{LastPosition: start}
	for {
		events, err := store.ListEventsAfter(ctx, result.LastPosition, options.Types, pageSize)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			return result, nil
		}
		for _, evt := range events {
			if options.UntilPosition > 0 && evt.Position > options.UntilPosition {
				return result, nil
			}
			if evt.Position <= result.LastPosition {
				return result, fmt.Errorf("event position went backwards: after %d got %d", result.LastPosition, evt.Position)
			}
			if err := apply(ctx, evt); err != nil {
				return result, err
			}
			result.LastPosition = evt.Position
			result.Applied++
			if err := checkpoints.Save(ctx, Checkpoint{Consumer: consumer, Position: result.LastPosition, UpdatedAt: time.Now().UTC()}); err != nil {
				return result, err
			}
		}
	}
}
