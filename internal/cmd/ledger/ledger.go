// Package ledger parses ledger command flags and runs the ledger process.
package ledger

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/louisbranch/brigade/internal/platform/cmd"
	"github.com/louisbranch/brigade/internal/platform/logging"
	server "github.com/louisbranch/brigade/internal/services/ledger/app"
)

// Config holds ledger command configuration.
type Config struct {
	server.Config
	Logging logging.Config
	// HealthCheck probes a running ledger and exits instead of serving.
	HealthCheck bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "ledger gRPC port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "ledger gRPC listen address (overrides -port)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (empty disables)")
	fs.StringVar(&cfg.EventsDBPath, "events-db-path", cfg.EventsDBPath, "path to events sqlite database")
	fs.StringVar(&cfg.ProjectionsDBPath, "projections-db-path", cfg.ProjectionsDBPath, "path to projections sqlite database")
	fs.BoolVar(&cfg.VerifyOnStart, "verify-on-start", cfg.VerifyOnStart, "verify event hash chains before serving")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "probe the ledger health service and exit")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level (debug|info|warn|error)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the ledger runtime and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.HealthCheck {
		if err := server.Probe(ctx, cfg.Config, logger); err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		return nil
	}

	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceLedger, entrypoint.RunOptions{Logger: logger}, func(ctx context.Context) error {
		if err := server.Run(ctx, cfg.Config, logger.Named(entrypoint.ServiceLedger)); err != nil {
			return fmt.Errorf("serve ledger: %w", err)
		}
		return nil
	})
}
