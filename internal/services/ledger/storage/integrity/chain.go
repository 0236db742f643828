package integrity

import (
	"fmt"

	"github.com/louisbranch/brigade/internal/services/ledger/domain/event"
)

// Seal fills evt's hash, chain and signature fields. prevChainHash is the
// chain hash of the stream's previous event, empty for the first.
func Seal(ring *Keyring, evt event.Event, prevChainHash string) (event.Event, error) {
	if ring == nil {
		return event.Event{}, fmt.Errorf("event integrity keyring is required")
	}
	hash, err := event.EventHash(evt)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute event hash: %w", err)
	}
	chainHash, err := event.ChainHash(hash, prevChainHash)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute chain hash: %w", err)
	}
	signature, keyID, err := ring.SignChainHash(evt.StreamID, chainHash)
	if err != nil {
		return event.Event{}, fmt.Errorf("sign chain hash: %w", err)
	}
	evt.Hash = hash
	evt.PrevHash = prevChainHash
	evt.ChainHash = chainHash
	evt.Signature = signature
	evt.SignatureKeyID = keyID
	return evt, nil
}

// Verify recomputes evt's hashes and checks its signature against the
// expected predecessor chain hash.
func Verify(ring *Keyring, evt event.Event, prevChainHash string) error {
	if ring == nil {
		return fmt.Errorf("event integrity keyring is required")
	}
	if evt.PrevHash != prevChainHash {
		return fmt.Errorf("prev hash mismatch at %s v%d", evt.StreamID, evt.Version)
	}
	hash, err := event.EventHash(evt)
	if err != nil {
		return fmt.Errorf("compute event hash: %w", err)
	}
	if hash != evt.Hash {
		return fmt.Errorf("event hash mismatch at %s v%d", evt.StreamID, evt.Version)
	}
	chainHash, err := event.ChainHash(hash, prevChainHash)
	if err != nil {
		return fmt.Errorf("compute chain hash: %w", err)
	}
	if chainHash != evt.ChainHash {
		return fmt.Errorf("chain hash mismatch at %s v%d", evt.StreamID, evt.Version)
	}
	if err := ring.VerifyChainHash(evt.StreamID, chainHash, evt.Signature, evt.SignatureKeyID); err != nil {
		return fmt.Errorf("verify signature at %s v%d: %w", evt.StreamID, evt.Version, err)
	}
	return nil
}
