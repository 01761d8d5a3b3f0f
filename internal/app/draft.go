package app

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// LoadDraft reads a market draft from a TOML file:
//
//	name = "Premier League Winner"
//	ticker = "EPL"
//	liability = "100"
//
//	[[positions]]
//	name = "Arsenal"
//	ticker = "ARS"
//
// Unknown keys are rejected so typos do not silently fall back to defaults.
func LoadDraft(path string) (domain.MarketDraft, error) {
	var d domain.MarketDraft
	meta, err := toml.DecodeFile(path, &d)
	if err != nil {
		return domain.MarketDraft{}, fmt.Errorf("app: decode draft %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return domain.MarketDraft{}, fmt.Errorf("app: draft %s: unknown key %q", path, undecoded[0].String())
	}
	return d, nil
}
