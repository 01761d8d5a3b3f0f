// Package protocol describes the prediction-market contracts the desk talks
// to: their ABIs, deployed addresses, call builders and event decoding.
package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abis/*.json
var abisFS embed.FS

// ABIs holds the parsed interface of every contract the desk calls.
type ABIs struct {
	Ledger     abi.ABI
	Hub        abi.ABI
	LMSR       abi.ABI
	Collateral abi.ABI
	Oracle     abi.ABI
}

var abiFiles = []struct {
	file string
	set  func(*ABIs, abi.ABI)
}{
	{"Ledger.json", func(a *ABIs, v abi.ABI) { a.Ledger = v }},
	{"MarketMakerHub.json", func(a *ABIs, v abi.ABI) { a.Hub = v }},
	{"LMSRMarketMaker.json", func(a *ABIs, v abi.ABI) { a.LMSR = v }},
	{"ERC20Permit.json", func(a *ABIs, v abi.ABI) { a.Collateral = v }},
	{"MockOracle.json", func(a *ABIs, v abi.ABI) { a.Oracle = v }},
}

// DefaultABIs returns the ABIs compiled into the binary.
func DefaultABIs() (*ABIs, error) {
	return LoadABIs("")
}

// LoadABIs reads contract ABIs from dir, falling back to the embedded copy
// for any file dir does not contain. Files may be bare ABI arrays or build
// artifacts with an "abi" member.
func LoadABIs(dir string) (*ABIs, error) {
	var out ABIs
	for _, f := range abiFiles {
		raw, err := readABIFile(dir, f.file)
		if err != nil {
			return nil, err
		}
		parsed, err := ParseArtifact(raw)
		if err != nil {
			return nil, fmt.Errorf("protocol: parse %s: %w", f.file, err)
		}
		f.set(&out, parsed)
	}
	return &out, nil
}

func readABIFile(dir, name string) ([]byte, error) {
	if dir != "" {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("protocol: read %s: %w", name, err)
		}
	}
	raw, err := abisFS.ReadFile("abis/" + name)
	if err != nil {
		return nil, fmt.Errorf("protocol: read embedded %s: %w", name, err)
	}
	return raw, nil
}

// ParseArtifact parses either a raw ABI array or an artifact object.
func ParseArtifact(raw []byte) (abi.ABI, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(trimmed, &artifact); err != nil {
			return abi.ABI{}, err
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, errors.New("artifact has no abi member")
		}
		trimmed = artifact.ABI
	}
	return abi.JSON(bytes.NewReader(trimmed))
}
