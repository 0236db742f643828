// Package main runs offline ledger maintenance: hash chain verification,
// projection rebuilds and dead letter replay.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	maintenance "github.com/louisbranch/brigade/internal/cmd/maintenance"
	"github.com/louisbranch/brigade/internal/platform/config"
)

func main() {
	cfg, err := maintenance.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := maintenance.Run(ctx, cfg, os.Stdout); err != nil {
		config.Exitf("Error: %v", err)
	}
}
