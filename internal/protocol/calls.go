package protocol

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// WAD is the 1e18 fixed-point unit used by the pricing engine.
var WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// MaxUint256 is used as an unbounded slippage ceiling.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Call is a state-changing contract invocation ready to be signed.
// A zero GasLimit asks the sender to estimate.
type Call struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	Method   string
}

// PositionMeta is the on-chain name/ticker pair of a position.
type PositionMeta struct {
	Name   string
	Ticker string
}

// InitialPosition seeds one position of the pricing engine.
type InitialPosition struct {
	PositionId *big.Int
	R          *big.Int
}

// EIPPermit is the signed permit argument of Ledger.deposit.
type EIPPermit struct {
	Value    *big.Int
	Deadline *big.Int
	V        uint8
	R        [32]byte
	S        [32]byte
}

// CreateMarketParams are the arguments of Ledger.createMarket.
type CreateMarketParams struct {
	Name                 string
	Ticker               string
	DefaultMarketMaker   common.Address
	InitialSeed          *big.Int
	DoesResolve          bool
	Oracle               common.Address
	OracleParams         []byte
	FeeBps               uint16
	Creator              common.Address
	FeeWhitelistAccounts []common.Address
	HasWhitelist         bool
}

func pack(contract abi.ABI, to common.Address, method string, args ...any) (Call, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return Call{}, fmt.Errorf("protocol: pack %s: %w", method, err)
	}
	return Call{To: to, Data: data, Method: method}, nil
}

// CloneUnbound instantiates a fresh LMSR engine not yet bound to a market.
func (c *Config) CloneUnbound(hubWeightWad *big.Int) (Call, error) {
	return pack(c.ABIs.Hub, c.MarketMakerHub, "createLMSRUnbound", hubWeightWad)
}

// CreateMarket registers market metadata on the ledger.
func (c *Config) CreateMarket(p CreateMarketParams) (Call, error) {
	seed := p.InitialSeed
	if seed == nil {
		seed = new(big.Int)
	}
	oracleParams := p.OracleParams
	if oracleParams == nil {
		oracleParams = []byte{}
	}
	whitelist := p.FeeWhitelistAccounts
	if whitelist == nil {
		whitelist = []common.Address{}
	}
	return pack(c.ABIs.Ledger, c.Ledger, "createMarket",
		p.Name, p.Ticker, p.DefaultMarketMaker, seed, p.DoesResolve,
		p.Oracle, oracleParams, p.FeeBps, p.Creator, whitelist, p.HasWhitelist)
}

// CreatePositions registers outcome slots under marketID.
func (c *Config) CreatePositions(marketID *big.Int, metas []PositionMeta) (Call, error) {
	return pack(c.ABIs.Ledger, c.Ledger, "createPositions", marketID, metas)
}

// InitMarket binds the engine at mm to marketID and seeds it.
func (c *Config) InitMarket(mm common.Address, marketID *big.Int, positions []InitialPosition, liability, reserve0 *big.Int, isExpanding bool) (Call, error) {
	return pack(c.ABIs.LMSR, mm, "initMarket", marketID, positions, liability, reserve0, isExpanding)
}

// SetPricingMarketMaker points the ledger's pricing for marketID at mm.
func (c *Config) SetPricingMarketMaker(marketID *big.Int, mm common.Address) (Call, error) {
	return pack(c.ABIs.Ledger, c.Ledger, "setPricingMarketMaker", marketID, mm)
}

// LockMarketPositions freezes the position set of marketID.
func (c *Config) LockMarketPositions(marketID *big.Int) (Call, error) {
	return pack(c.ABIs.Ledger, c.Ledger, "lockMarketPositions", marketID)
}

// Deposit wraps collateral into the ledger using a signed permit.
func (c *Config) Deposit(to common.Address, amount *big.Int, permit EIPPermit) (Call, error) {
	call, err := pack(c.ABIs.Ledger, c.Ledger, "deposit", to, amount, new(big.Int), uint8(1), permit)
	if err != nil {
		return Call{}, err
	}
	call.GasLimit = DepositGasLimit
	return call, nil
}

// Withdraw unwraps amount of ledger collateral to to.
func (c *Config) Withdraw(amount *big.Int, to common.Address) (Call, error) {
	call, err := pack(c.ABIs.Ledger, c.Ledger, "withdraw", amount, to)
	if err != nil {
		return Call{}, err
	}
	call.GasLimit = WithdrawGasLimit
	return call, nil
}

// BuyForCollateral spends usdcIn on Back or Lay exposure.
func (c *Config) BuyForCollateral(mm common.Address, marketID, positionID *big.Int, isBack bool, usdcIn, minTokensOut *big.Int) (Call, error) {
	return pack(c.ABIs.Ledger, c.Ledger, "buyForppUSDC", mm, marketID, positionID, isBack, usdcIn, minTokensOut)
}

// BuyExactTokens buys exactly t tokens of one side, paying at most maxIn.
func (c *Config) BuyExactTokens(mm common.Address, marketID, positionID *big.Int, isBack bool, t, maxIn *big.Int) (Call, error) {
	return pack(c.ABIs.Ledger, c.Ledger, "buyExactTokens", mm, marketID, positionID, isBack, t, maxIn)
}

// PushResolution reports the winning position to the oracle.
func (c *Config) PushResolution(marketID, winner *big.Int) (Call, error) {
	return pack(c.ABIs.Oracle, c.Oracle, "pushResolution", marketID, winner)
}

// ResolveMarket settles marketID on the ledger.
func (c *Config) ResolveMarket(marketID *big.Int) (Call, error) {
	return pack(c.ABIs.Ledger, c.Ledger, "resolveMarket", marketID)
}
