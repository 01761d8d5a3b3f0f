package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/server/handler"
	"github.com/alanyoungcy/predictionperps/internal/server/middleware"
	"github.com/alanyoungcy/predictionperps/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// TxRateLimit caps transaction-sending requests per client per
	// TxRateWindow. Zero or a nil Limiter disables it.
	TxRateLimit  int
	TxRateWindow time.Duration
	Limiter      domain.RateLimiter
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Audit and Metrics may be nil.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Markets    *handler.MarketHandler
	Runs       *handler.RunHandler
	Collateral *handler.CollateralHandler
	Trades     *handler.TradeHandler
	Resolve    *handler.ResolveHandler
	Audit      *handler.AuditHandler
	Metrics    http.Handler
}

// Server is the headless HTTP + WebSocket API of the desk.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, handlers, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute, // tx routes wait for receipts
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full handler tree. It is exported for tests.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	tx := middleware.RateLimit(cfg.Limiter, "tx", cfg.TxRateLimit, cfg.TxRateWindow, logger)
	txRoute := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, tx(h))
	}

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Market reads.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	// Market creation.
	mux.HandleFunc("POST /api/markets/validate", handlers.Runs.ValidateDraft)
	txRoute("POST /api/markets", handlers.Runs.CreateMarket)
	mux.HandleFunc("GET /api/runs", handlers.Runs.ListRuns)
	mux.HandleFunc("GET /api/runs/{id}", handlers.Runs.GetRun)

	// Collateral.
	mux.HandleFunc("GET /api/collateral", handlers.Collateral.State)
	txRoute("POST /api/collateral/deposit", handlers.Collateral.Deposit)
	txRoute("POST /api/collateral/withdraw", handlers.Collateral.Withdraw)

	// Trading.
	mux.HandleFunc("GET /api/markets/{id}/positions/{pid}", handlers.Trades.State)
	txRoute("POST /api/markets/{id}/positions/{pid}/trade", handlers.Trades.Trade)
	txRoute("POST /api/markets/{id}/positions/{pid}/liquidate", handlers.Trades.Liquidate)

	// Resolution.
	txRoute("POST /api/markets/{id}/resolve", handlers.Resolve.Resolve)

	// History.
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
		mux.HandleFunc("GET /api/runs/feed", handlers.Audit.RunFeed)
	}

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger, "/api/health", "/metrics")(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting",
		slog.String("addr", ln.Addr().String()),
	)
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
