package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrStreamIDRequired indicates an event without a stream id.
	ErrStreamIDRequired = errors.New("stream id is required")
	// ErrTypeRequired indicates an event without a type.
	ErrTypeRequired = errors.New("event type is required")
	// ErrPayloadInvalid indicates a payload that is not valid JSON or fails
	// its type's validation.
	ErrPayloadInvalid = errors.New("event payload is invalid")
	// ErrTypeUnknown is returned by Decode for unregistered types.
	ErrTypeUnknown = errors.New("event type is not registered")
)

// Definition describes one registered event type.
type Definition struct {
	Type Type
	// OncePerStream types may be appended at most once to a given stream;
	// storage enforces it with a uniqueness claim on (stream_id, type).
	OncePerStream bool
	// NewPayload returns a zero payload to decode into.
	NewPayload func() Payload
}

// Registry holds the event types whose payloads are decoded at the ledger
// boundary.
type Registry struct {
	mu   sync.RWMutex
	defs map[Type]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[Type]Definition)}
}

// Register adds a definition. Types may be registered once.
func (r *Registry) Register(def Definition) error {
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return ErrTypeRequired
	}
	if def.Type == TypeAny {
		return fmt.Errorf("event type %q is reserved", TypeAny)
	}
	if def.NewPayload == nil {
		return fmt.Errorf("event type %s: payload constructor is required", def.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Type]; ok {
		return fmt.Errorf("event type %s already registered", def.Type)
	}
	r.defs[def.Type] = def
	return nil
}

// Definition returns the definition for t.
func (r *Registry) Definition(t Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[t]
	return def, ok
}

// OncePerStream reports whether t is registered as once-per-stream.
func (r *Registry) OncePerStream(t Type) bool {
	def, ok := r.Definition(t)
	return ok && def.OncePerStream
}

// ValidateForAppend normalizes evt and checks it can be persisted.
//
// Registered payloads must decode and validate; unregistered payloads only
// need to be valid JSON. An empty payload is stored as {}.
func (r *Registry) ValidateForAppend(evt Event) (Event, error) {
	evt = evt.Normalize()
	if evt.StreamID == "" {
		return Event{}, ErrStreamIDRequired
	}
	if evt.Type == "" {
		return Event{}, ErrTypeRequired
	}
	if evt.Type == TypeAny {
		return Event{}, fmt.Errorf("event type %q is reserved", TypeAny)
	}
	evt.PayloadJSON = bytes.TrimSpace(evt.PayloadJSON)
	if len(evt.PayloadJSON) == 0 {
		evt.PayloadJSON = []byte("{}")
	}
	if !json.Valid(evt.PayloadJSON) {
		return Event{}, fmt.Errorf("%w: not valid JSON", ErrPayloadInvalid)
	}
	if _, ok := r.Definition(evt.Type); ok {
		if _, err := r.Decode(evt); err != nil {
			return Event{}, err
		}
	}
	return evt, nil
}

// Decode returns the typed payload of a registered event.
func (r *Registry) Decode(evt Event) (Payload, error) {
	def, ok := r.Definition(evt.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeUnknown, evt.Type)
	}
	payload := def.NewPayload()
	if err := json.Unmarshal(evt.PayloadJSON, payload); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrPayloadInvalid, evt.Type, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPayloadInvalid, evt.Type, err)
	}
	return payload, nil
}

// MarshalPayload encodes a payload for an append.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
