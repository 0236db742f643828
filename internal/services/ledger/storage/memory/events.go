package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
	"github.com/louisbranch/brigade/internal/services/ledger/storage"
)

// EventStore is an in-memory append-only journal.
type EventStore struct {
	mu       sync.RWMutex
	events   []event.Event
	byID     map[string]int
	versions map[string]uint64
	claims   map[string]struct{}
}

// NewEventStore constructs an empty journal.
func NewEventStore() *EventStore {
	return &EventStore{
		byID:     make(map[string]int),
		versions: make(map[string]uint64),
		claims:   make(map[string]struct{}),
	}
}

// AppendEvent implements storage.EventStore.
func (s *EventStore) AppendEvent(ctx context.Context, evt event.Event, opts storage.AppendOptions) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	evt = evt.Normalize()
	if evt.ID == "" {
		return event.Event{}, fmt.Errorf("event id is required")
	}
	if evt.StreamID == "" {
		return event.Event{}, event.ErrStreamIDRequired
	}
	if evt.OccurredAt.IsZero() {
		return event.Event{}, fmt.Errorf("occurred at is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[evt.ID]; ok {
		return event.Event{}, storage.EventIDConflictError(evt.ID)
	}
	current := s.versions[evt.StreamID]
	if opts.ExpectedVersion != nil && *opts.ExpectedVersion != current {
		return event.Event{}, storage.StreamVersionConflictError(evt.StreamID, *opts.ExpectedVersion, current)
	}
	claim := evt.StreamID + "\x00" + string(evt.Type)
	if opts.OncePerStream {
		if _, ok := s.claims[claim]; ok {
			return event.Event{}, storage.EventAlreadyRecordedError(evt.StreamID, evt.Type)
		}
		s.claims[claim] = struct{}{}
	}

	evt.Position = uint64(len(s.events)) + 1
	evt.Version = current + 1
	evt.PayloadJSON = append([]byte(nil), evt.PayloadJSON...)
	s.versions[evt.StreamID] = evt.Version
	s.byID[evt.ID] = len(s.events)
	s.events = append(s.events, evt)
	return evt, nil
}

// GetStream implements storage.EventStore.
func (s *EventStore) GetStream(ctx context.Context, streamID string) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID = strings.TrimSpace(streamID)
	s.mu.RLock()
	out := make([]event.Event, 0)
	for _, evt := range s.events {
		if evt.StreamID == streamID {
			out = append(out, evt)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// ListEventsAfter implements storage.EventStore.
func (s *EventStore) ListEventsAfter(ctx context.Context, after uint64, types []event.Type, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]event.Event, 0)
	if after >= uint64(len(s.events)) {
		return out, nil
	}
	for _, evt := range s.events[after:] {
		if !matchesType(types, evt.Type) {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetEventByPosition implements storage.EventStore.
func (s *EventStore) GetEventByPosition(ctx context.Context, position uint64) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if position == 0 || position > uint64(len(s.events)) {
		return event.Event{}, storage.ErrNotFound
	}
	return s.events[position-1], nil
}

// StreamVersion implements storage.EventStore.
func (s *EventStore) StreamVersion(ctx context.Context, streamID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[strings.TrimSpace(streamID)], nil
}

// LatestPosition implements storage.EventStore.
func (s *EventStore) LatestPosition(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.events)), nil
}

func matchesType(types []event.Type, t event.Type) bool {
	if len(types) == 0 {
		return true
	}
	for _, candidate := range types {
		if candidate == t || candidate == event.TypeAny {
			return true
		}
	}
	return false
}
