package integrity

import (
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// streamKeyLabel prefixes the HKDF info so a root key yields an independent
// signing key per ledger stream.
const streamKeyLabel = "brigade-ledger/stream/"

var (
	// ErrNoKeyring is returned when signing or verifying without a keyring.
	ErrNoKeyring = errors.New("event signing keyring is not configured")
	// ErrUnknownKey is returned for a key id the ring does not hold.
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrBadSignature is returned when a chain hash signature does not match.
	ErrBadSignature = errors.New("chain hash signature does not match")
)

// Keyring holds the root secrets events are signed with. New signatures use
// the signing key; every key in the ring still verifies.
type Keyring struct {
	roots   map[string][]byte
	signing string
}

// NewKeyring builds a keyring over roots that signs with signingKeyID.
func NewKeyring(roots map[string][]byte, signingKeyID string) (*Keyring, error) {
	if len(roots) == 0 {
		return nil, errors.New("at least one signing secret is required")
	}
	signingKeyID = strings.TrimSpace(signingKeyID)
	if signingKeyID == "" {
		return nil, errors.New("signing key id is required")
	}
	copied := make(map[string][]byte, len(roots))
	for id, secret := range roots {
		if len(secret) == 0 {
			return nil, fmt.Errorf("signing secret %q is empty", id)
		}
		copied[id] = append([]byte(nil), secret...)
	}
	if _, ok := copied[signingKeyID]; !ok {
		return nil, fmt.Errorf("signing key %q: %w", signingKeyID, ErrUnknownKey)
	}
	return &Keyring{roots: copied, signing: signingKeyID}, nil
}

// ActiveKeyID names the key new signatures are made with.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.signing
}

// SignChainHash returns the hex signature of chainHash under streamID's key
// and the id of the key that made it.
func (k *Keyring) SignChainHash(streamID, chainHash string) (signature, keyID string, err error) {
	if k == nil {
		return "", "", ErrNoKeyring
	}
	mac, err := k.mac(k.signing, streamID, chainHash)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(mac), k.signing, nil
}

// VerifyChainHash checks a signature made by SignChainHash with keyID.
func (k *Keyring) VerifyChainHash(streamID, chainHash, signature, keyID string) error {
	if k == nil {
		return ErrNoKeyring
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return errors.New("signature carries no key id")
	}
	want, err := k.mac(keyID, streamID, chainHash)
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(got, want) {
		return ErrBadSignature
	}
	return nil
}

func (k *Keyring) mac(keyID, streamID, chainHash string) ([]byte, error) {
	root, ok := k.roots[keyID]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", keyID, ErrUnknownKey)
	}
	streamID = strings.TrimSpace(streamID)
	if streamID == "" {
		return nil, errors.New("stream id is required to derive a signing key")
	}
	streamKey, err := hkdf.Key(sha256.New, root, nil, streamKeyLabel+streamID, sha256.Size)
	if err != nil {
		return nil, fmt.Errorf("derive key for %s: %w", streamID, err)
	}
	h := hmac.New(sha256.New, streamKey)
	h.Write([]byte(chainHash))
	return h.Sum(nil), nil
}
