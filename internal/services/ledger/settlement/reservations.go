package settlement

import (
	"context"
	"sync"
)

// reservations serializes flushes per restaurant. Each key holds a one-slot
// channel so waiting honors context cancellation.
type reservations struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newReservations() *reservations {
	return &reservations{slots: make(map[string]chan struct{})}
}

func (r *reservations) slot(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		r.slots[key] = slot
	}
	return slot
}

// acquire blocks until key is free or ctx is done. The returned func
// releases the reservation.
func (r *reservations) acquire(ctx context.Context, key string) (func(), error) {
	slot := r.slot(key)
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
