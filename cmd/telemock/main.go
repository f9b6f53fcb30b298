// Package main contains the entrypoint for the Telegram Bot API mock server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgard/telemock/internal/actions"
	"github.com/edgard/telemock/internal/bus"
	"github.com/edgard/telemock/internal/config"
	"github.com/edgard/telemock/internal/delivery"
	"github.com/edgard/telemock/internal/filestore"
	"github.com/edgard/telemock/internal/logger"
	"github.com/edgard/telemock/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires the components together and blocks until shutdown,
// returning the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	files, err := filestore.New(cfg.Database.DSN, log)
	if err != nil {
		log.Error("Failed to initialize file store", "error", err)
		return 1
	}
	defer func() {
		if err := files.Close(); err != nil {
			log.Error("Error closing file store", "error", err)
		}
	}()

	state := bus.New(log)
	engine := delivery.New(state, delivery.Config{
		Timeout:      cfg.Webhook.Timeout,
		RetryCeiling: cfg.Webhook.RetryCeiling,
		BackoffBase:  cfg.Webhook.BackoffBase,
		BackoffCap:   cfg.Webhook.BackoffCap,
	}, log)
	state.SetObserver(engine)

	tracker := actions.New(cfg.Actions.TTL)

	srv := server.New(cfg, log, state, engine, files, tracker)

	log.Info("Starting server...")
	runErr := srv.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Server stopped due to error", "error", runErr)
		return 1
	}

	log.Info("Server stopped gracefully.")
	return 0
}
