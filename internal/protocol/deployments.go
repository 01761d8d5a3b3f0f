package protocol

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// Deployments mirrors the deployments manifest written by the contract
// deploy scripts.
type Deployments struct {
	Core CoreDeployment `json:"core"`
	LMSR struct {
		LMSRMarketMaker string `json:"LMSRMarketMaker"`
		MarketID        string `json:"marketId"`
		MarketName      string `json:"marketName"`
		MarketTicker    string `json:"marketTicker"`
	} `json:"lmsr"`
}

// CoreDeployment lists the core protocol addresses.
type CoreDeployment struct {
	ChainID        string `json:"chainId"`
	Deployer       string `json:"deployer"`
	MockUSDC       string `json:"MockUSDC"`
	MockAUSDC      string `json:"MockAUSDC"`
	MockAavePool   string `json:"MockAavePool"`
	MockOracle     string `json:"MockOracle"`
	PpUSDC         string `json:"PpUSDC"`
	Ledger         string `json:"Ledger"`
	LedgerViews    string `json:"LedgerViews"`
	PositionERC20  string `json:"PositionERC20"`
	Permit2        string `json:"Permit2"`
	MarketMakerHub string `json:"MarketMakerHub"`
}

// LoadDeployments reads a deployments manifest from path.
func LoadDeployments(path string) (*Deployments, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("protocol: read deployments: %w", err)
	}
	var d Deployments
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("protocol: decode deployments: %w", err)
	}
	return &d, nil
}

// ChainID parses the manifest chain id. A missing id yields nil.
func (d *Deployments) ChainID() (*big.Int, error) {
	if d.Core.ChainID == "" {
		return nil, nil
	}
	id, ok := new(big.Int).SetString(d.Core.ChainID, 10)
	if !ok {
		return nil, fmt.Errorf("protocol: invalid chainId %q", d.Core.ChainID)
	}
	return id, nil
}

// Apply copies every address present in the manifest onto cfg. Addresses
// already set on cfg are overwritten only when the manifest has a value.
func (d *Deployments) Apply(cfg *Config) error {
	set := func(dst *common.Address, field, v string) error {
		if v == "" {
			return nil
		}
		if !common.IsHexAddress(v) {
			return fmt.Errorf("protocol: deployments %s: invalid address %q", field, v)
		}
		*dst = common.HexToAddress(v)
		return nil
	}
	for _, f := range []struct {
		dst   *common.Address
		field string
		v     string
	}{
		{&cfg.Ledger, "core.Ledger", d.Core.Ledger},
		{&cfg.MarketMakerHub, "core.MarketMakerHub", d.Core.MarketMakerHub},
		{&cfg.Collateral, "core.MockUSDC", d.Core.MockUSDC},
		{&cfg.Oracle, "core.MockOracle", d.Core.MockOracle},
	} {
		if err := set(f.dst, f.field, f.v); err != nil {
			return err
		}
	}
	id, err := d.ChainID()
	if err != nil {
		return err
	}
	if id != nil {
		cfg.ChainID = id
	}
	return nil
}
