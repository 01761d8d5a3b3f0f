package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PositionDraft is one user-declared outcome slot. Weight is a caller-scale
// positive integer; empty means the default weight.
type PositionDraft struct {
	Name   string `json:"name" toml:"name" validate:"nonblank"`
	Ticker string `json:"ticker" toml:"ticker" validate:"ticker"`
	Weight string `json:"weight,omitempty" toml:"weight" validate:"omitempty,posint"`
}

// MarketDraft is the transient input of a market-creation run. It has no
// identity until the ledger assigns a market id.
type MarketDraft struct {
	Name          string          `json:"name" toml:"name" validate:"nonblank"`
	Ticker        string          `json:"ticker" toml:"ticker" validate:"ticker"`
	Positions     []PositionDraft `json:"positions" toml:"positions" validate:"dive"`
	Liability     string          `json:"liability,omitempty" toml:"liability" validate:"omitempty,amount"`
	OracleAddress common.Address  `json:"oracle_address" toml:"oracle_address"`
}

// MarketRef collects the identifiers the chain assigned during creation.
type MarketRef struct {
	MarketID    *big.Int       `json:"market_id,omitempty"`
	MarketMaker common.Address `json:"market_maker"`
	PositionIDs []*big.Int     `json:"position_ids,omitempty"`
}

// MarketView is a read-side snapshot of a market's pricing wiring.
type MarketView struct {
	MarketID        string         `json:"market_id"`
	PricingMM       common.Address `json:"pricing_mm"`
	PositionIDs     []string       `json:"position_ids"`
	BackPriceWads   []string       `json:"back_price_wads,omitempty"`
	LayPriceWads    []string       `json:"lay_price_wads,omitempty"`
	ReservePriceWad string         `json:"reserve_price_wad,omitempty"`
	FetchedAt       time.Time      `json:"fetched_at"`
}

// HasPricingMM reports whether a pricing market maker is bound.
func (v MarketView) HasPricingMM() bool {
	return v.PricingMM != (common.Address{})
}

// TradeSide is Back (hold the outcome) or Lay (hold its complement).
type TradeSide string

const (
	SideBack TradeSide = "back"
	SideLay  TradeSide = "lay"
)
