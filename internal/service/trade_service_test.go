package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/ledgertx"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

var (
	trader = common.HexToAddress("0x000000000000000000000000000000000000beef")
	engine = common.HexToAddress("0x0000000000000000000000000000000000001000")
)

func TestTradeWithoutPricingMarketMaker(t *testing.T) {
	fake, cfg := newChain(t, trader)
	svc := NewTradeService(fake, cfg, nil, discardLogger())
	desk := svc.Desk(big.NewInt(1), big.NewInt(2))

	_, err := desk.Trade(context.Background(), domain.SideBack, "10")
	require.Error(t, err)
	assert.Equal(t, MsgNoPricingMM, ledgertx.Describe(err))
	assert.Empty(t, fake.Calls())
	assert.Equal(t, domain.TxStatusError, desk.State().Back.Status)
	assert.Equal(t, domain.TxStatusIdle, desk.State().Lay.Status)
}

func TestTradeBuysForCollateral(t *testing.T) {
	fake, cfg := newChain(t, trader)
	fake.SetPricingMM(big.NewInt(1), engine)
	svc := NewTradeService(fake, cfg, nil, discardLogger())
	desk := svc.Desk(big.NewInt(1), big.NewInt(2))

	_, err := desk.Trade(context.Background(), domain.SideLay, "2.5")
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	args := calls[0].Args
	assert.Equal(t, "buyForppUSDC", calls[0].Method)
	assert.Equal(t, engine, args[0])
	assertBig(t, big.NewInt(1), args[1])
	assertBig(t, big.NewInt(2), args[2])
	assert.Equal(t, false, args[3])
	assertBig(t, big.NewInt(2_500000), args[4])
	assertBig(t, big.NewInt(0), args[5])
	assert.Equal(t, domain.TxStatusSuccess, desk.State().Lay.Status)
}

func TestLiquidateBuysOppositeSide(t *testing.T) {
	fake, cfg := newChain(t, trader)
	fake.SetPricingMM(big.NewInt(3), engine)
	svc := NewTradeService(fake, cfg, nil, discardLogger())
	desk := svc.Desk(big.NewInt(3), big.NewInt(9))

	_, err := desk.Liquidate(context.Background(), domain.SideBack, "4")
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	args := calls[0].Args
	assert.Equal(t, "buyExactTokens", calls[0].Method)
	assert.Equal(t, false, args[3])
	assertBig(t, big.NewInt(4_000000), args[4])
	assertBig(t, protocol.MaxUint256, args[5])
}

func TestLiquidateWithoutExposure(t *testing.T) {
	fake, cfg := newChain(t, trader)
	fake.SetPricingMM(big.NewInt(1), engine)
	svc := NewTradeService(fake, cfg, nil, discardLogger())
	desk := svc.Desk(big.NewInt(1), big.NewInt(1))

	_, err := desk.Liquidate(context.Background(), domain.SideBack, "0")
	assert.Equal(t, "No Back exposure to liquidate.", ledgertx.Describe(err))
	_, err = desk.Liquidate(context.Background(), domain.SideLay, "")
	assert.Equal(t, "No Lay exposure to liquidate.", ledgertx.Describe(err))
	assert.Empty(t, fake.Calls())
}

func TestDeskIsSharedPerPosition(t *testing.T) {
	fake, cfg := newChain(t, trader)
	svc := NewTradeService(fake, cfg, nil, discardLogger())
	a := svc.Desk(big.NewInt(1), big.NewInt(2))
	assert.Same(t, a, svc.Desk(big.NewInt(1), big.NewInt(2)))
	assert.NotSame(t, a, svc.Desk(big.NewInt(1), big.NewInt(3)))
}

// Back and Lay run concurrently through their own controllers; one
// failing leaves the other untouched.
func TestBackAndLayAreIndependent(t *testing.T) {
	fake, cfg := newChain(t, trader)
	fake.SetPricingMM(big.NewInt(1), engine)
	fake.HoldReceipts()
	svc := NewTradeService(fake, cfg, nil, discardLogger())
	desk := svc.Desk(big.NewInt(1), big.NewInt(1))

	var wg sync.WaitGroup
	var backErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, backErr = desk.Trade(context.Background(), domain.SideBack, "1")
	}()
	require.Eventually(t, func() bool { return desk.State().Back.Status == domain.TxStatusPending }, timeout, tick)

	_, err := desk.Trade(context.Background(), domain.SideBack, "1")
	var pre *domain.PreconditionError
	require.True(t, errors.As(err, &pre))

	_, err = desk.Trade(context.Background(), domain.SideLay, "abc")
	require.Error(t, err)
	assert.Equal(t, domain.TxStatusError, desk.State().Lay.Status)
	assert.Equal(t, domain.TxStatusPending, desk.State().Back.Status)

	fake.Release()
	wg.Wait()
	require.NoError(t, backErr)
	assert.Equal(t, domain.TxStatusSuccess, desk.State().Back.Status)
}
