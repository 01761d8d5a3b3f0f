package marketcreate

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

// ident is an identifier produced by one stage and consumed by later ones.
type ident int

const (
	identMM ident = iota
	identMarketID
	identPositionIDs
)

func (i ident) String() string {
	switch i {
	case identMM:
		return "market maker address"
	case identMarketID:
		return "market id"
	case identPositionIDs:
		return "position ids"
	}
	return "identifier"
}

// run is the mutable state of one orchestration.
type run struct {
	draft       domain.MarketDraft
	creator     common.Address
	oracle      common.Address
	weights     []*big.Int
	liability   *big.Int
	mm          common.Address
	marketID    *big.Int
	positionIDs []*big.Int
	// created holds the ids logged by createPositions, used when the
	// getMarketPositions read lags behind.
	created []*big.Int
}

func (r *run) has(id ident) bool {
	switch id {
	case identMM:
		return r.mm != (common.Address{})
	case identMarketID:
		return r.marketID != nil
	case identPositionIDs:
		return len(r.positionIDs) > 0
	}
	return false
}

func (r *run) ref() domain.MarketRef {
	ref := domain.MarketRef{MarketMaker: r.mm}
	if r.marketID != nil {
		ref.MarketID = new(big.Int).Set(r.marketID)
	}
	for _, id := range r.positionIDs {
		ref.PositionIDs = append(ref.PositionIDs, new(big.Int).Set(id))
	}
	return ref
}

// stage is one transition of the pipeline. build may read chain state and
// record identifiers on r before the call is sent; extract pulls the
// identifiers a successful receipt must carry.
type stage struct {
	key      domain.StepKey
	title    string
	requires []ident
	build    func(ctx context.Context, o *Orchestrator, r *run) (protocol.Call, error)
	extract  func(o *Orchestrator, r *run, res *domain.TxResult) error
}

var (
	hubWeightWad = new(big.Int)
	reserve0     = new(big.Int).Set(protocol.WAD)
)

func pipeline(lock bool) []stage {
	stages := []stage{
		{
			key:   domain.StepCloneMM,
			title: "Clone LMSR market maker (UNBOUND)",
			build: func(_ context.Context, o *Orchestrator, _ *run) (protocol.Call, error) {
				return o.proto.CloneUnbound(hubWeightWad)
			},
			extract: func(o *Orchestrator, r *run, res *domain.TxResult) error {
				mm, ok := o.proto.MarketMakerCreated(res.Receipt.Logs)
				if !ok || mm == (common.Address{}) {
					return &domain.ProtocolExpectationError{ExpectedEvent: "MarketMakerCreated(mm)"}
				}
				r.mm = mm
				return nil
			},
		},
		{
			key:   domain.StepCreateMarket,
			title: "Create market (doesResolve=true, dmm=0, isc=0)",
			build: func(_ context.Context, o *Orchestrator, r *run) (protocol.Call, error) {
				return o.proto.CreateMarket(protocol.CreateMarketParams{
					Name:        r.draft.Name,
					Ticker:      r.draft.Ticker,
					DoesResolve: true,
					Oracle:      r.oracle,
					FeeBps:      0,
					Creator:     r.creator,
				})
			},
			extract: func(o *Orchestrator, r *run, res *domain.TxResult) error {
				id, ok := o.proto.MarketCreated(res.Receipt.Logs)
				if !ok {
					return &domain.ProtocolExpectationError{ExpectedEvent: protocol.EventMarketCreated}
				}
				r.marketID = id
				return nil
			},
		},
		{
			key:      domain.StepCreatePositions,
			title:    "Create positions",
			requires: []ident{identMarketID},
			build: func(_ context.Context, o *Orchestrator, r *run) (protocol.Call, error) {
				metas := make([]protocol.PositionMeta, len(r.draft.Positions))
				for i, p := range r.draft.Positions {
					metas[i] = protocol.PositionMeta{Name: p.Name, Ticker: p.Ticker}
				}
				return o.proto.CreatePositions(r.marketID, metas)
			},
			extract: func(o *Orchestrator, r *run, res *domain.TxResult) error {
				r.created = o.proto.PositionsCreated(res.Receipt.Logs)
				return nil
			},
		},
		{
			key:      domain.StepInitLMSR,
			title:    "Init LMSR for that market (bind + seed)",
			requires: []ident{identMM, identMarketID},
			build: func(ctx context.Context, o *Orchestrator, r *run) (protocol.Call, error) {
				ids, err := o.proto.MarketPositions(ctx, o.chain, r.marketID)
				if err != nil {
					return protocol.Call{}, err
				}
				if len(ids) == 0 {
					ids = r.created
				}
				if len(ids) == 0 {
					return protocol.Call{}, errors.New("market has no positions")
				}
				r.positionIDs = ids
				initial := make([]protocol.InitialPosition, len(ids))
				for i, id := range ids {
					w := big.NewInt(1)
					if i < len(r.weights) {
						w = r.weights[i]
					}
					initial[i] = protocol.InitialPosition{PositionId: id, R: new(big.Int).Mul(w, protocol.WAD)}
				}
				return o.proto.InitMarket(r.mm, r.marketID, initial, r.liability, reserve0, true)
			},
		},
		{
			key:      domain.StepSetPricingMM,
			title:    "Set pricing market maker = LMSR",
			requires: []ident{identMM, identMarketID, identPositionIDs},
			build: func(_ context.Context, o *Orchestrator, r *run) (protocol.Call, error) {
				return o.proto.SetPricingMarketMaker(r.marketID, r.mm)
			},
		},
	}
	if lock {
		stages = append(stages, stage{
			key:      domain.StepLockPositions,
			title:    "Lock positions (optional)",
			requires: []ident{identMarketID},
			build: func(_ context.Context, o *Orchestrator, r *run) (protocol.Call, error) {
				return o.proto.LockMarketPositions(r.marketID)
			},
		})
	}
	return stages
}

func (s stage) missing(r *run) error {
	for _, id := range s.requires {
		if !r.has(id) {
			return &domain.PreconditionError{Message: fmt.Sprintf("%s requires %s from an earlier step", s.key, id)}
		}
	}
	return nil
}
