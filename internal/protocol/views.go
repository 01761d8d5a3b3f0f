package protocol

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Caller executes a read-only contract call and returns the raw output.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// BackPrices is the result of getAllBackPricesWad.
type BackPrices struct {
	PositionIDs     []*big.Int
	PriceWads       []*big.Int
	ReservePriceWad *big.Int
}

// LayPrices is the result of getAllLayPricesWad.
type LayPrices struct {
	PositionIDs []*big.Int
	PriceWads   []*big.Int
}

func read(ctx context.Context, caller Caller, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("protocol: pack %s: %w", method, err)
	}
	raw, err := caller.CallContract(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("protocol: call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("protocol: unpack %s: %w", method, err)
	}
	return out, nil
}

func outputAs[T any](out []any, i int, method string) (T, error) {
	var zero T
	if len(out) <= i {
		return zero, fmt.Errorf("protocol: %s: missing output %d", method, i)
	}
	v, ok := out[i].(T)
	if !ok {
		return zero, fmt.Errorf("protocol: %s: unexpected output type %T", method, out[i])
	}
	return v, nil
}

// MarketPositions returns the position ids registered under marketID.
func (c *Config) MarketPositions(ctx context.Context, caller Caller, marketID *big.Int) ([]*big.Int, error) {
	out, err := read(ctx, caller, c.ABIs.Ledger, c.Ledger, "getMarketPositions", marketID)
	if err != nil {
		return nil, err
	}
	return outputAs[[]*big.Int](out, 0, "getMarketPositions")
}

// Markets returns every market id known to the ledger.
func (c *Config) Markets(ctx context.Context, caller Caller) ([]*big.Int, error) {
	out, err := read(ctx, caller, c.ABIs.Ledger, c.Ledger, "getMarkets")
	if err != nil {
		return nil, err
	}
	return outputAs[[]*big.Int](out, 0, "getMarkets")
}

// MarketDetails returns the name and ticker of marketID.
func (c *Config) MarketDetails(ctx context.Context, caller Caller, marketID *big.Int) (PositionMeta, error) {
	out, err := read(ctx, caller, c.ABIs.Ledger, c.Ledger, "getMarketDetails", marketID)
	if err != nil {
		return PositionMeta{}, err
	}
	name, err := outputAs[string](out, 0, "getMarketDetails")
	if err != nil {
		return PositionMeta{}, err
	}
	ticker, err := outputAs[string](out, 1, "getMarketDetails")
	if err != nil {
		return PositionMeta{}, err
	}
	return PositionMeta{Name: name, Ticker: ticker}, nil
}

// PricingMM returns the pricing market maker of marketID, zero when unset.
func (c *Config) PricingMM(ctx context.Context, caller Caller, marketID *big.Int) (common.Address, error) {
	out, err := read(ctx, caller, c.ABIs.Ledger, c.Ledger, "getPricingMM", marketID)
	if err != nil {
		return common.Address{}, err
	}
	return outputAs[common.Address](out, 0, "getPricingMM")
}

// BackPrices reads Back prices from the engine at mm.
func (c *Config) BackPrices(ctx context.Context, caller Caller, mm common.Address, marketID *big.Int) (BackPrices, error) {
	out, err := read(ctx, caller, c.ABIs.LMSR, mm, "getAllBackPricesWad", marketID)
	if err != nil {
		return BackPrices{}, err
	}
	var res BackPrices
	if res.PositionIDs, err = outputAs[[]*big.Int](out, 0, "getAllBackPricesWad"); err != nil {
		return BackPrices{}, err
	}
	if res.PriceWads, err = outputAs[[]*big.Int](out, 1, "getAllBackPricesWad"); err != nil {
		return BackPrices{}, err
	}
	if res.ReservePriceWad, err = outputAs[*big.Int](out, 2, "getAllBackPricesWad"); err != nil {
		return BackPrices{}, err
	}
	return res, nil
}

// LayPrices reads Lay prices from the engine at mm.
func (c *Config) LayPrices(ctx context.Context, caller Caller, mm common.Address, marketID *big.Int) (LayPrices, error) {
	out, err := read(ctx, caller, c.ABIs.LMSR, mm, "getAllLayPricesWad", marketID)
	if err != nil {
		return LayPrices{}, err
	}
	var res LayPrices
	if res.PositionIDs, err = outputAs[[]*big.Int](out, 0, "getAllLayPricesWad"); err != nil {
		return LayPrices{}, err
	}
	if res.PriceWads, err = outputAs[[]*big.Int](out, 1, "getAllLayPricesWad"); err != nil {
		return LayPrices{}, err
	}
	return res, nil
}

// PermitNonce reads the collateral token's EIP-2612 nonce for owner.
func (c *Config) PermitNonce(ctx context.Context, caller Caller, owner common.Address) (*big.Int, error) {
	out, err := read(ctx, caller, c.ABIs.Collateral, c.Collateral, "nonces", owner)
	if err != nil {
		return nil, err
	}
	return outputAs[*big.Int](out, 0, "nonces")
}

// CollateralBalance reads the collateral token balance of account.
func (c *Config) CollateralBalance(ctx context.Context, caller Caller, account common.Address) (*big.Int, error) {
	out, err := read(ctx, caller, c.ABIs.Collateral, c.Collateral, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return outputAs[*big.Int](out, 0, "balanceOf")
}
