package protocol

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Gas limits the desk pins for operations whose estimate is unreliable.
const (
	DepositGasLimit  uint64 = 5_000_000
	WithdrawGasLimit uint64 = 3_000_000
)

// Config is the explicit description of one protocol deployment. Every
// component that builds calls or decodes events receives it by value or
// pointer instead of reading globals.
type Config struct {
	ChainID        *big.Int
	Ledger         common.Address
	MarketMakerHub common.Address
	Collateral     common.Address
	Oracle         common.Address

	// EIP-712 domain of the collateral token's permit.
	CollateralName     string
	CollateralVersion  string
	CollateralDecimals int32

	TickerMaxLen     int
	MinPositions     int
	MaxPositions     int
	DefaultWeight    string
	DefaultLiability string
	LockPositions    bool

	ABIs *ABIs
}

// DefaultConfig returns the observed Sepolia parameters without addresses.
func DefaultConfig() Config {
	return Config{
		ChainID:            big.NewInt(11155111),
		CollateralName:     "Mock USDC",
		CollateralVersion:  "1",
		CollateralDecimals: 6,
		TickerMaxLen:       4,
		MinPositions:       2,
		MaxPositions:       16,
		DefaultWeight:      "1",
		DefaultLiability:   "100",
		LockPositions:      true,
	}
}

// Validate reports every missing or inconsistent field.
func (c *Config) Validate() error {
	var errs []error
	if c.ChainID == nil || c.ChainID.Sign() <= 0 {
		errs = append(errs, errors.New("chain id must be positive"))
	}
	zero := common.Address{}
	if c.Ledger == zero {
		errs = append(errs, errors.New("ledger address is required"))
	}
	if c.MarketMakerHub == zero {
		errs = append(errs, errors.New("market maker hub address is required"))
	}
	if c.CollateralDecimals < 0 || c.CollateralDecimals > 36 {
		errs = append(errs, fmt.Errorf("collateral decimals %d out of range", c.CollateralDecimals))
	}
	if c.TickerMaxLen <= 0 {
		errs = append(errs, errors.New("ticker max length must be positive"))
	}
	if c.MinPositions < 2 {
		errs = append(errs, errors.New("min positions must be at least 2"))
	}
	if c.MaxPositions < c.MinPositions {
		errs = append(errs, fmt.Errorf("max positions %d below min positions %d", c.MaxPositions, c.MinPositions))
	}
	if c.ABIs == nil {
		errs = append(errs, errors.New("abis not loaded"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("protocol: invalid config: %w", errors.Join(errs...))
	}
	return nil
}
