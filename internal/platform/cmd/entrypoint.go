// Package cmd holds the startup plumbing shared by brigade commands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/brigade/internal/platform/config"
	"github.com/louisbranch/brigade/internal/platform/otel"
)

// Names reported as the OpenTelemetry service and used to scope logs.
const (
	ServiceLedger      = "ledger"
	ServiceMaintenance = "maintenance"
)

const telemetryFlushTimeout = 5 * time.Second

// RunOptions tunes RunWithTelemetryAndOptions.
type RunOptions struct {
	// ShutdownTimeout bounds the final span export. Zero means five seconds.
	ShutdownTimeout time.Duration
	// Logger records the run lifecycle; nil discards it.
	Logger *zap.Logger
}

// ParseConfig fills cfg from BRIGADE_* environment variables and their
// envDefault tags. Flags parsed afterwards override these values.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("nil config passed to ParseConfig")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses args into fs. A nil args slice parses as empty rather
// than falling back to os.Args.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("nil flag set passed to ParseArgs")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry runs fn with tracing set up for service.
func RunWithTelemetry(ctx context.Context, service string, fn func(context.Context) error) error {
	return RunWithTelemetryAndOptions(ctx, service, RunOptions{}, fn)
}

// RunWithTelemetryAndOptions installs the tracer provider for service, runs
// fn and flushes pending spans once fn returns, whatever its outcome.
func RunWithTelemetryAndOptions(ctx context.Context, service string, opts RunOptions, fn func(context.Context) error) error {
	service = strings.TrimSpace(service)
	switch {
	case service == "":
		return errors.New("a service name is required to run")
	case fn == nil:
		return errors.New("nothing to run for " + service)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("service", service))

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer flushTelemetry(logger, shutdown, opts.ShutdownTimeout)

	started := time.Now()
	err = fn(ctx)
	logger.Debug("run finished", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
	return err
}

func flushTelemetry(logger *zap.Logger, shutdown func(context.Context) error, timeout time.Duration) {
	if timeout <= 0 {
		timeout = telemetryFlushTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("flush telemetry", zap.Error(err))
	}
}
