package projection

import (
	"context"
	"fmt"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/replay"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

// RebuildStore resets and checkpoints a projection.
type RebuildStore interface {
	storage.CheckpointStore
	ResetProjection(ctx context.Context, consumer string, tables []string) error
}

// Rebuild clears a projector's read model and replays the whole ledger into
// it. Run it while the dispatcher is stopped.
func Rebuild(ctx context.Context, source replay.EventStore, store RebuildStore, projector Projector) (replay.Result, error) {
	if source == nil {
		return replay.Result{}, ErrSourceRequired
	}
	if store == nil {
		return replay.Result{}, ErrCheckpointsRequired
	}
	consumer := projector.Consumer()
	if err := store.ResetProjection(ctx, consumer, projector.Tables()); err != nil {
		return replay.Result{}, fmt.Errorf("reset %s: %w", consumer, err)
	}
	result, err := replay.Replay(ctx, source, storage.ReplayCheckpoints(store), consumer, projector.Apply, replay.Options{
		Types: projector.Types(),
	})
	if err != nil {
		return result, fmt.Errorf("replay %s: %w", consumer, err)
	}
	return result, nil
}
