// Command mpesa runs the M-Pesa B2C gateway sandbox.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexbotov/mpesa/internal/config"
	"github.com/alexbotov/mpesa/internal/logging"
	"github.com/alexbotov/mpesa/internal/sandbox"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load(os.Getenv("MPESA_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting M-Pesa sandbox", "version", version, "port", cfg.Sandbox.Port)

	srv, err := sandbox.NewServer(ctx, cfg, version, logger)
	if err != nil {
		logger.Error("failed to initialize sandbox", "error", err)
		os.Exit(1)
	}

	// Run releases the store and the event hub before returning.
	if err := srv.Run(ctx); err != nil {
		logger.Error("sandbox stopped", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("sandbox stopped")
}
