package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictionperps/internal/protocol"
)

// BuildProtocol assembles the protocol description the desk runs against:
// defaults, then the deployments manifest, then explicit addresses from the
// [protocol] section, then the ABIs (embedded unless abi_dir is set).
func (c *Config) BuildProtocol() (*protocol.Config, error) {
	pc := protocol.DefaultConfig()
	pc.ChainID = big.NewInt(c.Chain.ChainID)

	if c.Protocol.Deployments != "" {
		d, err := protocol.LoadDeployments(c.Protocol.Deployments)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := d.Apply(&pc); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if id, _ := d.ChainID(); id != nil && id.Int64() != c.Chain.ChainID {
			return nil, fmt.Errorf("config: deployments chainId %s does not match chain.chain_id %d", id, c.Chain.ChainID)
		}
	}

	for _, f := range []struct {
		dst *common.Address
		v   string
	}{
		{&pc.Ledger, c.Protocol.Ledger},
		{&pc.MarketMakerHub, c.Protocol.MarketMakerHub},
		{&pc.Collateral, c.Protocol.Collateral},
		{&pc.Oracle, c.Protocol.Oracle},
	} {
		if f.v != "" {
			*f.dst = common.HexToAddress(f.v)
		}
	}

	pc.CollateralName = c.Protocol.CollateralName
	pc.CollateralVersion = c.Protocol.CollateralVersion
	pc.CollateralDecimals = int32(c.Protocol.CollateralDecimals)
	pc.LockPositions = c.Protocol.LockPositions
	pc.TickerMaxLen = c.Market.TickerMaxLen
	pc.MinPositions = c.Market.MinPositions
	pc.MaxPositions = c.Market.MaxPositions
	if c.Market.DefaultWeight != "" {
		pc.DefaultWeight = c.Market.DefaultWeight
	}
	if c.Market.DefaultLiability != "" {
		pc.DefaultLiability = c.Market.DefaultLiability
	}

	var err error
	if c.Protocol.ABIDir != "" {
		pc.ABIs, err = protocol.LoadABIs(c.Protocol.ABIDir)
	} else {
		pc.ABIs, err = protocol.DefaultABIs()
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &pc, nil
}
