package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/ledgertx"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

// ResolveService settles markets through the mock oracle. It is a debug
// tool for test deployments.
type ResolveService struct {
	chain  Chain
	proto  *protocol.Config
	oracle *ledgertx.Controller
	ledger *ledgertx.Controller
	logger *slog.Logger
}

// NewResolveService creates a ResolveService.
func NewResolveService(chain Chain, proto *protocol.Config, hooks *TxHooks, logger *slog.Logger) *ResolveService {
	return &ResolveService{
		chain:  chain,
		proto:  proto,
		oracle: ledgertx.New(chain, hooks.Options("resolve:oracle")...),
		ledger: ledgertx.New(chain, hooks.Options("resolve:ledger")...),
		logger: logger,
	}
}

// Resolve pushes winner to the oracle, then settles the market on the
// ledger. The ledger step never runs if the oracle step fails.
func (s *ResolveService) Resolve(ctx context.Context, marketID *big.Int, winner string) (*domain.Resolution, error) {
	w, err := protocol.ParseNonNegativeInt(winner)
	if err != nil {
		return nil, refuse(s.oracle, &domain.PreconditionError{Message: "Winning position id must be a non-negative integer.", Err: err})
	}
	if s.proto.Oracle == (common.Address{}) {
		return nil, refuse(s.oracle, &domain.PreconditionError{Message: "No oracle configured."})
	}
	push, err := s.proto.PushResolution(marketID, w)
	if err != nil {
		return nil, refuse(s.oracle, err)
	}
	settle, err := s.proto.ResolveMarket(marketID)
	if err != nil {
		return nil, refuse(s.ledger, err)
	}

	var res domain.Resolution
	res.Oracle, err = s.oracle.RunTx(ctx, func(ctx context.Context) (common.Hash, error) {
		return s.chain.Send(ctx, push)
	}, ledgertx.WithLabel("pushResolution"))
	if err != nil {
		return nil, fmt.Errorf("resolve_service: push resolution: %w", err)
	}
	res.Ledger, err = s.ledger.RunTx(ctx, func(ctx context.Context) (common.Hash, error) {
		return s.chain.Send(ctx, settle)
	}, ledgertx.WithLabel("resolveMarket"))
	if err != nil {
		return &res, fmt.Errorf("resolve_service: resolve market: %w", err)
	}
	s.logger.InfoContext(ctx, "resolve_service: market resolved",
		slog.String("market_id", marketID.String()),
		slog.String("winner", w.String()),
	)
	return &res, nil
}
