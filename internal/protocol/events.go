package protocol

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event names the orchestrator depends on.
const (
	EventMarketMakerCreated = "MarketMakerCreated"
	EventMarketCreated      = "MarketCreated"
	EventPositionCreated    = "PositionCreated"
)

// DecodedEvent is a log matched against an ABI event.
type DecodedEvent struct {
	Name string
	Args map[string]any
	Log  *types.Log
}

// DecodeLog matches lg against contract's events and unpacks both indexed
// and non-indexed arguments.
func DecodeLog(contract abi.ABI, lg *types.Log) (DecodedEvent, error) {
	if lg == nil || len(lg.Topics) == 0 {
		return DecodedEvent{}, errors.New("protocol: log has no topics")
	}
	ev, err := contract.EventByID(lg.Topics[0])
	if err != nil {
		return DecodedEvent{}, fmt.Errorf("protocol: unknown event %s: %w", lg.Topics[0].Hex(), err)
	}
	args := make(map[string]any)
	if err := contract.UnpackIntoMap(args, ev.Name, lg.Data); err != nil {
		return DecodedEvent{}, fmt.Errorf("protocol: unpack %s data: %w", ev.Name, err)
	}
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err != nil {
		return DecodedEvent{}, fmt.Errorf("protocol: parse %s topics: %w", ev.Name, err)
	}
	return DecodedEvent{Name: ev.Name, Args: args, Log: lg}, nil
}

// FindEvent decodes every log and returns the first one named name. Logs
// that do not decode against contract are skipped.
func FindEvent(contract abi.ABI, logs []*types.Log, name string) (DecodedEvent, bool) {
	for _, lg := range logs {
		ev, err := DecodeLog(contract, lg)
		if err != nil {
			continue
		}
		if ev.Name == name {
			return ev, true
		}
	}
	return DecodedEvent{}, false
}

// MarketMakerCreated extracts the new engine address from a clone receipt.
func (c *Config) MarketMakerCreated(logs []*types.Log) (common.Address, bool) {
	ev, ok := FindEvent(c.ABIs.Hub, logs, EventMarketMakerCreated)
	if !ok {
		return common.Address{}, false
	}
	mm, ok := ev.Args["mm"].(common.Address)
	return mm, ok
}

// MarketCreated extracts the new market id from a createMarket receipt.
func (c *Config) MarketCreated(logs []*types.Log) (*big.Int, bool) {
	ev, ok := FindEvent(c.ABIs.Ledger, logs, EventMarketCreated)
	if !ok {
		return nil, false
	}
	id, ok := ev.Args["marketId"].(*big.Int)
	return id, ok
}

// PositionsCreated collects position ids from PositionCreated logs in order.
func (c *Config) PositionsCreated(logs []*types.Log) []*big.Int {
	var ids []*big.Int
	for _, lg := range logs {
		ev, err := DecodeLog(c.ABIs.Ledger, lg)
		if err != nil || ev.Name != EventPositionCreated {
			continue
		}
		if id, ok := ev.Args["positionId"].(*big.Int); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
