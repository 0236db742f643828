package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/brigade/internal/services/ledger/observability/audit"
)

// Config holds ledger runtime configuration.
type Config struct {
	Port        int    `env:"BRIGADE_LEDGER_PORT" envDefault:"8090"`
	Addr        string `env:"BRIGADE_LEDGER_ADDR"`
	MetricsAddr string `env:"BRIGADE_METRICS_ADDR" envDefault:":9090"`

	EventsDBPath      string `env:"BRIGADE_EVENTS_DB_PATH" envDefault:"data/events.db"`
	ProjectionsDBPath string `env:"BRIGADE_PROJECTIONS_DB_PATH" envDefault:"data/projections.db"`
	VerifyOnStart     bool   `env:"BRIGADE_VERIFY_ON_START" envDefault:"false"`

	PollInterval time.Duration `env:"BRIGADE_PROJECTION_POLL_INTERVAL" envDefault:"1s"`
	MaxAttempts  int           `env:"BRIGADE_PROJECTION_MAX_ATTEMPTS" envDefault:"8"`

	Audit audit.Config
}

// ListenAddr is Addr when set, otherwise every interface on Port.
func (c Config) ListenAddr() string {
	if addr := strings.TrimSpace(c.Addr); addr != "" {
		return addr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// ensureDir creates the parent directory of a database path.
func ensureDir(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	return nil
}
