// Package app provides the top-level lifecycle of the prediction market
// desk. It wires the optional backends (journal, caches, archive and
// notifications), builds the chain-facing services and runs the configured
// mode.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/predictionperps/internal/config"
	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	draft   *domain.MarketDraft
	report  func(domain.MarketCreationRun)
	out     io.Writer
	closers []func()
}

// Option configures an App.
type Option func(*App)

// WithDraft sets the market created by the create mode.
func WithDraft(d domain.MarketDraft) Option {
	return func(a *App) { a.draft = &d }
}

// WithRunReport receives the run produced by the create mode, whether it
// succeeded or not.
func WithRunReport(fn func(domain.MarketCreationRun)) Option {
	return func(a *App) { a.report = fn }
}

// WithOutput redirects command output. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		out:    os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode and blocks until the mode finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	// encrypt-key touches nothing but the wallet section.
	if mode == "encrypt-key" {
		return a.EncryptKeyMode()
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case "server":
		return a.ServerMode(ctx, deps)
	case "create":
		return a.CreateMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
