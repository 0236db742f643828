package event

import (
	"strings"
	"time"
)

// Type is a namespaced past-tense tag such as TIPS_DISTRIBUTED.
type Type string

// TypeAny subscribes a consumer to every event type.
const TypeAny Type = "*"

// Meta carries the context an event was recorded under.
type Meta struct {
	ActorType     string `json:"actorType,omitempty"`
	ActorID       string `json:"actorId,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	RestaurantID  string `json:"restaurantId,omitempty"`
}

// Event is a stored fact.
//
// Position and Version are assigned by storage: Position orders the whole
// ledger, Version counts appends within one stream. The integrity fields are
// filled by stores that keep a hash chain.
type Event struct {
	ID          string
	Position    uint64
	StreamID    string
	Version     uint64
	Type        Type
	PayloadJSON []byte
	Meta        Meta
	OccurredAt  time.Time

	Hash           string
	PrevHash       string
	ChainHash      string
	Signature      string
	SignatureKeyID string
}

// Normalize trims identifiers and puts OccurredAt at UTC millisecond
// precision, the resolution every store persists.
func (e Event) Normalize() Event {
	e.ID = strings.TrimSpace(e.ID)
	e.StreamID = strings.TrimSpace(e.StreamID)
	e.Type = Type(strings.TrimSpace(string(e.Type)))
	e.Meta.RestaurantID = strings.TrimSpace(e.Meta.RestaurantID)
	if !e.OccurredAt.IsZero() {
		e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Millisecond)
	}
	return e
}

// Before reports whether e precedes other in occurrence order. Equal
// timestamps fall back to stream version, then global position.
func (e Event) Before(other Event) bool {
	if !e.OccurredAt.Equal(other.OccurredAt) {
		return e.OccurredAt.Before(other.OccurredAt)
	}
	if e.Version != other.Version {
		return e.Version < other.Version
	}
	return e.Position < other.Position
}
