package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictionperps/internal/chain"
	"github.com/alanyoungcy/predictionperps/internal/crypto"
	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/metrics"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
	"github.com/alanyoungcy/predictionperps/internal/server"
	"github.com/alanyoungcy/predictionperps/internal/server/handler"
	"github.com/alanyoungcy/predictionperps/internal/server/ws"
	"github.com/alanyoungcy/predictionperps/internal/service"
)

// desk is the set of services built on one chain client.
type desk struct {
	chain      *chain.Client
	proto      *protocol.Config
	collector  *metrics.Collector
	creation   *service.MarketCreationService
	query      *service.MarketQueryService
	collateral *service.CollateralService
	trades     *service.TradeService
	resolver   *service.ResolveService
	startedAt  time.Time
}

// buildDesk loads the wallet, dials the node and builds every service.
func (a *App) buildDesk(ctx context.Context, deps *Dependencies) (*desk, error) {
	proto, err := a.cfg.BuildProtocol()
	if err != nil {
		return nil, fmt.Errorf("app: protocol: %w", err)
	}

	key, err := crypto.LoadWallet(crypto.WalletSource{
		PrivateKey:  a.cfg.Wallet.PrivateKey,
		KeyfilePath: a.cfg.Wallet.Keyfile,
		Password:    a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: wallet: %w", err)
	}

	client, err := chain.Dial(ctx, chain.Config{
		RPCURL:         a.cfg.Chain.RPCURL,
		ChainID:        big.NewInt(a.cfg.Chain.ChainID),
		PollInterval:   a.cfg.Chain.PollInterval.Duration,
		ReceiptTimeout: a.cfg.Chain.ReceiptTimeout.Duration,
		GasMarginPct:   uint64(a.cfg.Chain.GasMarginPct),
	}, key,
		chain.WithErrorABIs(proto.ABIs.Ledger, proto.ABIs.Hub, proto.ABIs.LMSR, proto.ABIs.Collateral, proto.ABIs.Oracle),
		chain.WithLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	a.logger.InfoContext(ctx, "desk wallet loaded",
		slog.String("address", client.From().Hex()),
		slog.String("chain_id", client.ChainID().String()),
		slog.String("ledger", proto.Ledger.Hex()),
	)

	collector := metrics.NewCollector()
	hooks := service.NewTxHooks(deps.SignalBus, deps.AuditStore, a.logger).Watch(collector.ObserveTx)

	creation := service.NewMarketCreationService(
		client, proto, hooks,
		deps.LockManager, deps.SignalBus, deps.RunStore, deps.AuditStore,
		deps.Archiver, deps.Notifier, a.logger,
		service.WithRunLockTTL(a.cfg.Market.RunLockTTL.Duration),
		service.WithRunFinished(collector.ObserveRun),
	)
	a.closers = append(a.closers, creation.Wait)

	return &desk{
		chain:      client,
		proto:      proto,
		collector:  collector,
		creation:   creation,
		query:      service.NewMarketQueryService(client, proto, deps.ViewCache, a.cfg.Market.ViewTTL.Duration, a.logger),
		collateral: service.NewCollateralService(client, proto, crypto.NewPermitSigner(key), hooks, a.logger),
		trades:     service.NewTradeService(client, proto, hooks, a.logger),
		resolver:   service.NewResolveService(client, proto, hooks, a.logger),
		startedAt:  time.Now().UTC(),
	}, nil
}

// status snapshots the desk for /api/status and new ws clients.
func (d *desk) status(mode string) domain.DeskStatus {
	return domain.DeskStatus{
		Mode:          mode,
		Wallet:        d.chain.From().Hex(),
		ChainID:       d.chain.ChainID().String(),
		Ledger:        d.proto.Ledger.Hex(),
		UptimeSeconds: int64(time.Since(d.startedAt).Seconds()),
		ActiveRuns:    d.creation.ActiveRuns(),
	}
}

// ServerMode serves the HTTP and WebSocket API until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	d, err := a.buildDesk(ctx, deps)
	if err != nil {
		return err
	}
	status := func() domain.DeskStatus { return d.status(a.cfg.Mode) }

	hub := ws.NewHub(deps.SignalBus, status, a.logger)
	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		TxRateLimit:  a.cfg.Server.TxRateLimit,
		TxRateWindow: a.cfg.Server.TxRateWindow.Duration,
		Limiter:      deps.RateLimiter,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(deps.Health, a.logger),
		Status:     handler.NewStatusHandler(status),
		Markets:    handler.NewMarketHandler(d.query, a.logger),
		Runs:       handler.NewRunHandler(d.creation, a.logger),
		Collateral: handler.NewCollateralHandler(d.collateral, a.logger),
		Trades:     handler.NewTradeHandler(d.trades, a.logger),
		Resolve:    handler.NewResolveHandler(d.resolver, a.logger),
		Audit:      handler.NewAuditHandler(deps.AuditStore, deps.SignalBus, a.logger),
		Metrics:    d.collector.Handler(),
	}, hub, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ws hub: %w", err)
		}
		return nil
	})

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	a.logger.InfoContext(ctx, "server mode started",
		slog.Int("port", a.cfg.Server.Port),
		slog.Bool("auth", a.cfg.Server.APIKey != ""),
		slog.Int("health_checks", len(deps.Health)),
	)

	return g.Wait()
}

// CreateMode runs one market creation to completion and reports it.
func (a *App) CreateMode(ctx context.Context, deps *Dependencies) error {
	if a.draft == nil {
		return errors.New("app: create mode needs a market draft")
	}
	d, err := a.buildDesk(ctx, deps)
	if err != nil {
		return err
	}

	run, err := d.creation.Create(ctx, *a.draft)
	if run.ID != "" && a.report != nil {
		a.report(run)
	}
	if err != nil {
		return fmt.Errorf("app: create market: %w", err)
	}
	a.logger.InfoContext(ctx, "market created",
		slog.String("run_id", run.ID),
		slog.String("market_id", bigString(run.Market.MarketID)),
	)
	return nil
}

// EncryptKeyMode seals wallet.private_key under wallet.key_password and
// writes the keyfile to wallet.keyfile, or to the output writer when no
// path is configured.
func (a *App) EncryptKeyMode() error {
	data, err := crypto.EncryptKey(a.cfg.Wallet.PrivateKey, a.cfg.Wallet.KeyPassword)
	if err != nil {
		return fmt.Errorf("app: encrypt key: %w", err)
	}
	if path := a.cfg.Wallet.Keyfile; path != "" {
		if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
			return fmt.Errorf("app: write keyfile: %w", err)
		}
		a.logger.Info("keyfile written", slog.String("path", path))
		return nil
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
