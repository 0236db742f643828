package integrity

import (
	"fmt"
	"strings"

	"github.com/louisbranch/brigade/internal/platform/config"
)

// Config is the keyring's environment configuration.
//
// Keys is a comma separated list of id=secret pairs. When it is empty, Key
// is used as the only secret under KeyID.
type Config struct {
	Keys  string `env:"BRIGADE_EVENT_HMAC_KEYS"`
	Key   string `env:"BRIGADE_EVENT_HMAC_KEY"`
	KeyID string `env:"BRIGADE_EVENT_HMAC_KEY_ID" envDefault:"v1"`
}

// KeyringFromEnv loads the HMAC keyring configuration from environment variables.
func KeyringFromEnv() (*Keyring, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return nil, fmt.Errorf("parse keyring env: %w", err)
	}
	return cfg.Keyring()
}

// Keyring builds a keyring from the configuration.
func (c Config) Keyring() (*Keyring, error) {
	keyID := strings.TrimSpace(c.KeyID)
	if keyID == "" {
		keyID = "v1"
	}

	keySpec := strings.TrimSpace(c.Keys)
	if keySpec == "" {
		raw := strings.TrimSpace(c.Key)
		if raw == "" {
			return nil, fmt.Errorf("BRIGADE_EVENT_HMAC_KEY is required")
		}
		return NewKeyring(map[string][]byte{keyID: []byte(raw)}, keyID)
	}

	keys := make(map[string][]byte)
	for _, entry := range strings.Split(keySpec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, value, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		value = strings.TrimSpace(value)
		if !ok || id == "" || value == "" {
			return nil, fmt.Errorf("invalid BRIGADE_EVENT_HMAC_KEYS entry")
		}
		keys[id] = []byte(value)
	}
	return NewKeyring(keys, keyID)
}
