package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

// DefaultViewTTL is how long a market view stays cached.
const DefaultViewTTL = 5 * time.Second

// MarketQueryService reads market wiring and prices from the chain.
type MarketQueryService struct {
	chain  protocol.Caller
	proto  *protocol.Config
	cache  domain.MarketViewCache
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewMarketQueryService creates a MarketQueryService. cache may be nil.
func NewMarketQueryService(chain protocol.Caller, proto *protocol.Config, cache domain.MarketViewCache, ttl time.Duration, logger *slog.Logger) *MarketQueryService {
	if ttl <= 0 {
		ttl = DefaultViewTTL
	}
	return &MarketQueryService{
		chain:  chain,
		proto:  proto,
		cache:  cache,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// Markets lists every market id on the ledger.
func (s *MarketQueryService) Markets(ctx context.Context) ([]string, error) {
	if s.chain == nil {
		return nil, &domain.PreconditionError{Message: "RPC client not ready."}
	}
	ids, err := s.proto.Markets(ctx, s.chain)
	if err != nil {
		return nil, fmt.Errorf("market_query: list markets: %w", err)
	}
	return bigStrings(ids), nil
}

// View returns a market's positions, pricing market maker and current
// prices. Prices are omitted when no pricing market maker is set.
func (s *MarketQueryService) View(ctx context.Context, marketID *big.Int) (domain.MarketView, error) {
	if s.chain == nil {
		return domain.MarketView{}, &domain.PreconditionError{Message: "RPC client not ready."}
	}
	key := marketID.String()
	if s.cache != nil {
		if v, err := s.cache.Get(ctx, key); err == nil {
			return v, nil
		}
	}

	positions, err := s.proto.MarketPositions(ctx, s.chain, marketID)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("market_query: positions of %s: %w", key, err)
	}
	mm, err := s.proto.PricingMM(ctx, s.chain, marketID)
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("market_query: pricing mm of %s: %w", key, err)
	}
	view := domain.MarketView{
		MarketID:    key,
		PricingMM:   mm,
		PositionIDs: bigStrings(positions),
		FetchedAt:   s.now().UTC(),
	}
	if view.HasPricingMM() {
		back, err := s.proto.BackPrices(ctx, s.chain, mm, marketID)
		if err != nil {
			return domain.MarketView{}, fmt.Errorf("market_query: back prices of %s: %w", key, err)
		}
		lay, err := s.proto.LayPrices(ctx, s.chain, mm, marketID)
		if err != nil {
			return domain.MarketView{}, fmt.Errorf("market_query: lay prices of %s: %w", key, err)
		}
		view.BackPriceWads = bigStrings(back.PriceWads)
		view.LayPriceWads = bigStrings(lay.PriceWads)
		if back.ReservePriceWad != nil {
			view.ReservePriceWad = back.ReservePriceWad.String()
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, view, s.ttl); err != nil {
			s.logger.WarnContext(ctx, "market_query: cache set failed",
				slog.String("market_id", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return view, nil
}

// Invalidate drops a cached view, typically after a trade on that market.
func (s *MarketQueryService) Invalidate(ctx context.Context, marketID *big.Int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, marketID.String()); err != nil {
		s.logger.WarnContext(ctx, "market_query: cache invalidate failed",
			slog.String("market_id", marketID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func bigStrings(vs []*big.Int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}
