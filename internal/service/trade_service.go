package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/ledgertx"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

// MsgNoPricingMM is reported when a market has no pricing market maker.
const MsgNoPricingMM = "No pricing market maker set for this market."

// TradeService hands out one PositionDesk per (market, position).
type TradeService struct {
	chain  Chain
	proto  *protocol.Config
	hooks  *TxHooks
	logger *slog.Logger

	mu    sync.Mutex
	desks map[string]*PositionDesk
}

// NewTradeService creates a TradeService.
func NewTradeService(chain Chain, proto *protocol.Config, hooks *TxHooks, logger *slog.Logger) *TradeService {
	return &TradeService{
		chain:  chain,
		proto:  proto,
		hooks:  hooks,
		logger: logger,
		desks:  make(map[string]*PositionDesk),
	}
}

// Desk returns the desk for marketID/positionID, creating it on first use.
func (s *TradeService) Desk(marketID, positionID *big.Int) *PositionDesk {
	key := marketID.String() + "/" + positionID.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.desks[key]; ok {
		return d
	}
	scope := "trade:" + key
	d := &PositionDesk{
		svc:        s,
		marketID:   new(big.Int).Set(marketID),
		positionID: new(big.Int).Set(positionID),
		back:       ledgertx.New(s.chain, s.hooks.Options(scope+":back")...),
		lay:        ledgertx.New(s.chain, s.hooks.Options(scope+":lay")...),
		liquidate:  ledgertx.New(s.chain, s.hooks.Options(scope+":liquidate")...),
	}
	s.desks[key] = d
	return d
}

// PositionDesk trades one position. Back, Lay and liquidation run through
// separate controllers so they can be pending at the same time.
type PositionDesk struct {
	svc        *TradeService
	marketID   *big.Int
	positionID *big.Int
	back       *ledgertx.Controller
	lay        *ledgertx.Controller
	liquidate  *ledgertx.Controller
}

// DeskState is the status of every controller on a desk.
type DeskState struct {
	Back      ledgertx.State `json:"back"`
	Lay       ledgertx.State `json:"lay"`
	Liquidate ledgertx.State `json:"liquidate"`
}

// Trade runs Desk(marketID, positionID).Trade.
func (s *TradeService) Trade(ctx context.Context, marketID, positionID *big.Int, side domain.TradeSide, size string) (*domain.TxResult, error) {
	return s.Desk(marketID, positionID).Trade(ctx, side, size)
}

// Liquidate runs Desk(marketID, positionID).Liquidate.
func (s *TradeService) Liquidate(ctx context.Context, marketID, positionID *big.Int, side domain.TradeSide, exposure string) (*domain.TxResult, error) {
	return s.Desk(marketID, positionID).Liquidate(ctx, side, exposure)
}

// States returns the controller snapshots of one desk keyed by operation.
func (s *TradeService) States(marketID, positionID *big.Int) map[string]ledgertx.State {
	st := s.Desk(marketID, positionID).State()
	return map[string]ledgertx.State{"back": st.Back, "lay": st.Lay, "liquidate": st.Liquidate}
}

// State returns controller snapshots.
func (d *PositionDesk) State() DeskState {
	return DeskState{Back: d.back.State(), Lay: d.lay.State(), Liquidate: d.liquidate.State()}
}

func (d *PositionDesk) controller(side domain.TradeSide) (*ledgertx.Controller, error) {
	switch side {
	case domain.SideBack:
		return d.back, nil
	case domain.SideLay:
		return d.lay, nil
	}
	return nil, &domain.PreconditionError{Message: fmt.Sprintf("Unknown side %q.", side)}
}

func (d *PositionDesk) pricingMM(ctx context.Context) (common.Address, error) {
	mm, err := d.svc.proto.PricingMM(ctx, d.svc.chain, d.marketID)
	if err != nil {
		return common.Address{}, fmt.Errorf("trade_service: read pricing mm: %w", err)
	}
	if mm == (common.Address{}) {
		return common.Address{}, &domain.PreconditionError{Message: MsgNoPricingMM}
	}
	return mm, nil
}

func refuse(ctrl *ledgertx.Controller, err error) error {
	if ferr := ctrl.Fail(err); ferr != nil {
		return ferr
	}
	return err
}

// Trade spends size (human collateral units) on side exposure.
func (d *PositionDesk) Trade(ctx context.Context, side domain.TradeSide, size string) (*domain.TxResult, error) {
	ctrl, err := d.controller(side)
	if err != nil {
		return nil, err
	}
	if ctrl.Status() == domain.TxStatusPending {
		return nil, &domain.PreconditionError{Message: "transaction already pending"}
	}
	if d.svc.chain == nil {
		return nil, refuse(ctrl, &domain.PreconditionError{Message: "Wallet not connected."})
	}
	usdcIn, err := protocol.ParsePositiveUnits(size, d.svc.proto.CollateralDecimals)
	if err != nil {
		return nil, refuse(ctrl, &domain.PreconditionError{Message: "Enter a valid trade size.", Err: err})
	}
	mm, err := d.pricingMM(ctx)
	if err != nil {
		return nil, refuse(ctrl, err)
	}
	call, err := d.svc.proto.BuyForCollateral(mm, d.marketID, d.positionID, side == domain.SideBack, usdcIn, new(big.Int))
	if err != nil {
		return nil, refuse(ctrl, err)
	}
	return ctrl.RunTx(ctx, func(ctx context.Context) (common.Hash, error) {
		return d.svc.chain.Send(ctx, call)
	}, ledgertx.WithLabel(string(side)))
}

// Liquidate closes exposure (human token units) held on side by buying the
// same amount of the opposite side.
func (d *PositionDesk) Liquidate(ctx context.Context, side domain.TradeSide, exposure string) (*domain.TxResult, error) {
	if side != domain.SideBack && side != domain.SideLay {
		return nil, &domain.PreconditionError{Message: fmt.Sprintf("Unknown side %q.", side)}
	}
	if d.liquidate.Status() == domain.TxStatusPending {
		return nil, &domain.PreconditionError{Message: "transaction already pending"}
	}
	if d.svc.chain == nil {
		return nil, refuse(d.liquidate, &domain.PreconditionError{Message: "Wallet not connected."})
	}
	mm, err := d.pricingMM(ctx)
	if err != nil {
		return nil, refuse(d.liquidate, err)
	}
	t, err := protocol.ParsePositiveUnits(exposure, d.svc.proto.CollateralDecimals)
	if err != nil {
		msg := "No Back exposure to liquidate."
		if side == domain.SideLay {
			msg = "No Lay exposure to liquidate."
		}
		return nil, refuse(d.liquidate, &domain.PreconditionError{Message: msg, Err: err})
	}
	call, err := d.svc.proto.BuyExactTokens(mm, d.marketID, d.positionID, side != domain.SideBack, t, protocol.MaxUint256)
	if err != nil {
		return nil, refuse(d.liquidate, err)
	}
	return d.liquidate.RunTx(ctx, func(ctx context.Context) (common.Hash, error) {
		return d.svc.chain.Send(ctx, call)
	}, ledgertx.WithLabel("liquidate:"+string(side)))
}
