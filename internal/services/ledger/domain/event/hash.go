package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// envelope is the canonical form hashed for integrity. Field order is fixed
// by the struct definition.
type envelope struct {
	ID         string          `json:"id"`
	StreamID   string          `json:"stream_id"`
	Version    uint64          `json:"version"`
	Type       string          `json:"type"`
	OccurredAt string          `json:"occurred_at"`
	Meta       Meta            `json:"meta"`
	Payload    json.RawMessage `json:"payload"`
}

// EventHash returns the sha256 content hash of evt's canonical envelope.
func EventHash(evt Event) (string, error) {
	if strings.TrimSpace(evt.ID) == "" {
		return "", fmt.Errorf("event id is required")
	}
	payload := evt.PayloadJSON
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	data, err := json.Marshal(envelope{
		ID:         evt.ID,
		StreamID:   evt.StreamID,
		Version:    evt.Version,
		Type:       string(evt.Type),
		OccurredAt: evt.OccurredAt.UTC().Format(time.RFC3339Nano),
		Meta:       evt.Meta,
		Payload:    json.RawMessage(payload),
	})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash links an event hash to the chain hash of its stream predecessor.
// The first event of a stream has an empty prevChainHash.
func ChainHash(hash, prevChainHash string) (string, error) {
	if strings.TrimSpace(hash) == "" {
		return "", fmt.Errorf("event hash is required")
	}
	sum := sha256.Sum256([]byte(prevChainHash + ":" + hash))
	return hex.EncodeToString(sum[:]), nil
}
