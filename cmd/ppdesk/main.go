// Command ppdesk is the operator entry point of the prediction market desk.
// It loads configuration, validates it, sets up signal handling, and runs
// the desk in the configured mode: serve the HTTP API, create one market
// from a draft file, or encrypt a wallet key.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/predictionperps/internal/app"
	"github.com/alanyoungcy/predictionperps/internal/config"
	"github.com/alanyoungcy/predictionperps/internal/domain"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty to use env only)")
	mode := flag.String("mode", "", "override the configured mode (server, create, encrypt-key)")
	draftPath := flag.String("draft", "", "market draft TOML file for create mode")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("desk starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	opts := []app.Option{app.WithRunReport(func(run domain.MarketCreationRun) { printRun(os.Stdout, run) })}
	if cfg.Mode == "create" {
		if *draftPath == "" {
			fmt.Fprintln(os.Stderr, "create mode requires -draft")
			os.Exit(2)
		}
		draft, err := app.LoadDraft(*draftPath)
		if err != nil {
			logger.Error("failed to load draft", slog.String("error", err.Error()))
			os.Exit(1)
		}
		opts = append(opts, app.WithDraft(draft))
	}

	application := app.New(cfg, logger, opts...)

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = application.Run(ctx)
	application.Close()
	stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("desk stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
