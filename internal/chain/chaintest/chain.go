// Package chaintest provides an in-memory ledger chain for tests. It decodes
// calldata against the protocol ABIs, keeps minimal market state and emits
// ABI-encoded receipt logs.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

// Call is a transaction the fake chain received.
type Call struct {
	Method   string
	To       common.Address
	Args     []any
	GasLimit uint64
	Hash     common.Hash
}

// Outcome overrides how a method behaves when mined.
type Outcome struct {
	// SendErr is returned from Send; nothing is mined.
	SendErr error
	// Revert mines the transaction with status 0.
	Revert       bool
	RevertReason string
	// NoLogs mines successfully but drops every log.
	NoLogs bool
}

// Chain is a fake ledger chain. The zero value is not usable; use New.
type Chain struct {
	cfg  *protocol.Config
	from common.Address

	mu        sync.Mutex
	calls     []Call
	receipts  map[common.Hash]*types.Receipt
	reasons   map[common.Hash]string
	outcomes  map[string]Outcome
	block     uint64
	nextMM    int64
	nextID    int64
	nextPos   int64
	positions map[string][]*big.Int
	pricing   map[string]common.Address
	nonces    map[common.Address]*big.Int
	stalePos  bool
	gate      chan struct{}
}

// New returns a chain that understands cfg's ABIs and addresses.
func New(cfg *protocol.Config, from common.Address) *Chain {
	return &Chain{
		cfg:       cfg,
		from:      from,
		receipts:  make(map[common.Hash]*types.Receipt),
		reasons:   make(map[common.Hash]string),
		outcomes:  make(map[string]Outcome),
		block:     100,
		nextMM:    0x1000,
		nextID:    1,
		nextPos:   1,
		positions: make(map[string][]*big.Int),
		pricing:   make(map[string]common.Address),
		nonces:    make(map[common.Address]*big.Int),
	}
}

// NewConfig returns a protocol config with embedded ABIs and fixed
// addresses suitable for tests.
func NewConfig() (*protocol.Config, error) {
	abis, err := protocol.DefaultABIs()
	if err != nil {
		return nil, err
	}
	cfg := protocol.DefaultConfig()
	cfg.Ledger = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	cfg.MarketMakerHub = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	cfg.Collateral = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	cfg.Oracle = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	cfg.ABIs = abis
	return &cfg, nil
}

// SetOutcome overrides the behavior of method.
func (c *Chain) SetOutcome(method string, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[method] = o
}

// SetPricingMM binds mm as the pricing market maker of marketID.
func (c *Chain) SetPricingMM(marketID *big.Int, mm common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[marketID.String()] = mm
}

// SetNonce sets the permit nonce reported for owner.
func (c *Chain) SetNonce(owner common.Address, nonce *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[owner] = nonce
}

// StalePositionReads makes getMarketPositions answer with an empty list,
// as a node whose view lags the mined createPositions tx would.
func (c *Chain) StalePositionReads() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalePos = true
}

// HoldReceipts makes WaitMined block until Release is called.
func (c *Chain) HoldReceipts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = make(chan struct{})
}

// Release unblocks every waiter held by HoldReceipts.
func (c *Chain) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gate != nil {
		close(c.gate)
		c.gate = nil
	}
}

// Calls returns every transaction sent so far.
func (c *Chain) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Methods returns the method names of every sent transaction in order.
func (c *Chain) Methods() []string {
	calls := c.Calls()
	out := make([]string, len(calls))
	for i, call := range calls {
		out[i] = call.Method
	}
	return out
}

// From returns the sending account.
func (c *Chain) From() common.Address { return c.from }

func (c *Chain) abis() []abi.ABI {
	a := c.cfg.ABIs
	return []abi.ABI{a.Ledger, a.Hub, a.LMSR, a.Collateral, a.Oracle}
}

func (c *Chain) decode(data []byte) (*abi.Method, abi.ABI, []any, error) {
	if len(data) < 4 {
		return nil, abi.ABI{}, nil, errors.New("chaintest: calldata too short")
	}
	for _, contract := range c.abis() {
		m, err := contract.MethodById(data[:4])
		if err != nil {
			continue
		}
		args, err := m.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, abi.ABI{}, nil, fmt.Errorf("chaintest: unpack %s: %w", m.Name, err)
		}
		return m, contract, args, nil
	}
	return nil, abi.ABI{}, nil, fmt.Errorf("chaintest: unknown selector %x", data[:4])
}

// Send decodes call, applies its effects and mines it immediately.
func (c *Chain) Send(ctx context.Context, call protocol.Call) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	m, _, args, err := c.decode(call.Data)
	if err != nil {
		return common.Hash{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	o := c.outcomes[m.Name]
	if o.SendErr != nil {
		return common.Hash{}, o.SendErr
	}

	c.block++
	hash := crypto.Keccak256Hash(call.Data, new(big.Int).SetUint64(c.block).Bytes())
	c.calls = append(c.calls, Call{Method: m.Name, To: call.To, Args: args, GasLimit: call.GasLimit, Hash: hash})

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     21000,
	}
	if o.Revert {
		receipt.Status = types.ReceiptStatusFailed
		c.reasons[hash] = o.RevertReason
	} else {
		logs, err := c.apply(m.Name, call.To, args)
		if err != nil {
			return common.Hash{}, err
		}
		if !o.NoLogs {
			for i, lg := range logs {
				lg.TxHash = hash
				lg.BlockNumber = c.block
				lg.Index = uint(i)
			}
			receipt.Logs = logs
		}
	}
	c.receipts[hash] = receipt
	return hash, nil
}

func (c *Chain) apply(method string, to common.Address, args []any) ([]*types.Log, error) {
	a := c.cfg.ABIs
	switch method {
	case "createLMSRUnbound":
		mm := common.BigToAddress(big.NewInt(c.nextMM))
		c.nextMM++
		lg, err := EventLog(a.Hub, protocol.EventMarketMakerCreated, to, mm)
		if err != nil {
			return nil, err
		}
		return []*types.Log{lg}, nil
	case "createMarket":
		id := big.NewInt(c.nextID)
		c.nextID++
		lg, err := EventLog(a.Ledger, protocol.EventMarketCreated, to, id, args[0], args[1])
		if err != nil {
			return nil, err
		}
		return []*types.Log{lg}, nil
	case "createPositions":
		marketID := args[0].(*big.Int)
		metas := reflect.ValueOf(args[1])
		var logs []*types.Log
		for i := 0; i < metas.Len(); i++ {
			pid := big.NewInt(c.nextPos)
			c.nextPos++
			c.positions[marketID.String()] = append(c.positions[marketID.String()], pid)
			meta := metas.Index(i)
			lg, err := EventLog(a.Ledger, protocol.EventPositionCreated, to, marketID, pid,
				meta.FieldByName("Name").String(), meta.FieldByName("Ticker").String())
			if err != nil {
				return nil, err
			}
			logs = append(logs, lg)
		}
		return logs, nil
	case "setPricingMarketMaker":
		c.pricing[args[0].(*big.Int).String()] = args[1].(common.Address)
	}
	return nil, nil
}

// WaitMined returns the receipt of a sent transaction.
func (c *Chain) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("chaintest: %w: receipt %s", domain.ErrNotFound, hash.Hex())
	}
	return r, nil
}

// ExplainRevert returns the reason configured for a reverted transaction.
func (c *Chain) ExplainRevert(_ context.Context, receipt *types.Receipt) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reasons[receipt.TxHash]
}

// CallContract answers the protocol's view methods from in-memory state.
func (c *Chain) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, _, args, err := c.decode(data)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []any
	switch m.Name {
	case "getMarketPositions":
		ids := c.positions[args[0].(*big.Int).String()]
		if ids == nil || c.stalePos {
			ids = []*big.Int{}
		}
		out = []any{ids}
	case "getPricingMM":
		out = []any{c.pricing[args[0].(*big.Int).String()]}
	case "nonces":
		n := c.nonces[args[0].(common.Address)]
		if n == nil {
			n = new(big.Int)
		}
		out = []any{n}
	case "getMarkets":
		ids := []*big.Int{}
		for i := int64(1); i < c.nextID; i++ {
			ids = append(ids, big.NewInt(i))
		}
		out = []any{ids}
	case "getAllBackPricesWad":
		ids := c.positions[args[0].(*big.Int).String()]
		prices := evenPrices(len(ids))
		out = []any{nonNil(ids), prices, protocol.WAD}
	case "getAllLayPricesWad":
		ids := c.positions[args[0].(*big.Int).String()]
		prices := evenPrices(len(ids))
		for i, p := range prices {
			prices[i] = new(big.Int).Sub(protocol.WAD, p)
		}
		out = []any{nonNil(ids), prices}
	default:
		return nil, fmt.Errorf("chaintest: view %s not supported", m.Name)
	}
	return m.Outputs.Pack(out...)
}

func evenPrices(n int) []*big.Int {
	prices := make([]*big.Int, n)
	for i := range prices {
		prices[i] = new(big.Int).Div(protocol.WAD, big.NewInt(int64(n)))
	}
	return prices
}

func nonNil(ids []*big.Int) []*big.Int {
	if ids == nil {
		return []*big.Int{}
	}
	return ids
}

// EventLog ABI-encodes an event emitted by addr. args follow the event's
// declared input order, indexed and non-indexed alike.
func EventLog(contract abi.ABI, name string, addr common.Address, args ...any) (*types.Log, error) {
	ev, ok := contract.Events[name]
	if !ok {
		return nil, fmt.Errorf("chaintest: no event %s", name)
	}
	if len(args) != len(ev.Inputs) {
		return nil, fmt.Errorf("chaintest: %s expects %d args, got %d", name, len(ev.Inputs), len(args))
	}
	topics := []common.Hash{ev.ID}
	var data []any
	for i, in := range ev.Inputs {
		if !in.Indexed {
			data = append(data, args[i])
			continue
		}
		t, err := abi.MakeTopics([]any{args[i]})
		if err != nil {
			return nil, fmt.Errorf("chaintest: topic %s: %w", in.Name, err)
		}
		topics = append(topics, t[0][0])
	}
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, fmt.Errorf("chaintest: pack %s: %w", name, err)
	}
	return &types.Log{Address: addr, Topics: topics, Data: packed}, nil
}
