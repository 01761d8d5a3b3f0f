package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = testKey
	cfg.Protocol.Deployments = ""
	cfg.Protocol.Ledger = "0x00000000000000000000000000000000000000a1"
	cfg.Protocol.MarketMakerHub = "0x00000000000000000000000000000000000000a2"
	return cfg
}

func TestDefaultsNeedOnlyAWallet(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg.Wallet.PrivateKey = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet: either private_key or keyfile")
}

func TestValidateListsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.Chain.RPCURL = ""
	cfg.Protocol.Oracle = "not-an-address"
	cfg.Market.MinPositions = 1
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"chain: rpc_url",
		"protocol: oracle is not a hex address",
		"market: min_positions",
		"notify: telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestEncryptKeyModeOnlyNeedsKeyAndPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "encrypt-key"
	cfg.Chain.RPCURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key is required for mode encrypt-key")
	assert.NotContains(t, err.Error(), "rpc_url")

	cfg.Wallet.PrivateKey = testKey
	cfg.Wallet.KeyPassword = "hunter2"
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileAndEnvironment(t *testing.T) {
	path := writeFile(t, "desk.toml", `
mode = "create"

[chain]
rpc_url = "https://rpc.example"
receipt_timeout = "90s"

[market]
ticker_max_len = 6

[server]
cors_origins = ["https://desk.example"]
`)
	t.Setenv("PPDESK_WALLET_PRIVATE_KEY", testKey)
	t.Setenv("PPDESK_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("PPDESK_MARKET_VIEW_TTL", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "create", cfg.Mode)
	assert.Equal(t, "https://rpc.example", cfg.Chain.RPCURL)
	assert.Equal(t, 90*time.Second, cfg.Chain.ReceiptTimeout.Duration)
	assert.Equal(t, 6, cfg.Market.TickerMaxLen)
	assert.Equal(t, 2*time.Second, cfg.Market.ViewTTL.Duration)
	assert.Equal(t, testKey, cfg.Wallet.PrivateKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// Untouched sections keep their defaults.
	assert.Equal(t, int64(11155111), cfg.Chain.ChainID)
	assert.Equal(t, "100", cfg.Market.DefaultLiability)
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Supabase.DSN = "postgres://u:p@h/db"
	cfg.Notify.TelegramToken = "tok"
	cfg.Server.APIKey = "key"
	cfg.Notify.Events = []string{"market_created"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Supabase.DSN)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password)

	out.Notify.Events[0] = "mutated"
	assert.Equal(t, "market_created", cfg.Notify.Events[0])
	assert.Equal(t, testKey, cfg.Wallet.PrivateKey)
}

func TestBuildProtocolLayersManifestAndOverrides(t *testing.T) {
	manifest := writeFile(t, "deployments.json", `{
  "core": {
    "chainId": "11155111",
    "MockUSDC": "0x00000000000000000000000000000000000000c1",
    "MockOracle": "0x00000000000000000000000000000000000000c2",
    "Ledger": "0x00000000000000000000000000000000000000c3",
    "MarketMakerHub": "0x00000000000000000000000000000000000000c4"
  }
}`)
	cfg := validConfig()
	cfg.Protocol.Deployments = manifest
	cfg.Protocol.Ledger = "0x00000000000000000000000000000000000000d3"
	cfg.Protocol.MarketMakerHub = ""
	cfg.Protocol.LockPositions = false

	pc, err := cfg.BuildProtocol()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xd3"), pc.Ledger)
	assert.Equal(t, common.HexToAddress("0xc4"), pc.MarketMakerHub)
	assert.Equal(t, common.HexToAddress("0xc1"), pc.Collateral)
	assert.Equal(t, common.HexToAddress("0xc2"), pc.Oracle)
	assert.False(t, pc.LockPositions)
	assert.Equal(t, int32(6), pc.CollateralDecimals)
	require.NotNil(t, pc.ABIs)
}

func TestBuildProtocolRejectsChainMismatch(t *testing.T) {
	manifest := writeFile(t, "deployments.json", `{"core": {"chainId": "1", "Ledger": "0x00000000000000000000000000000000000000c3", "MarketMakerHub": "0x00000000000000000000000000000000000000c4"}}`)
	cfg := validConfig()
	cfg.Protocol.Deployments = manifest

	_, err := cfg.BuildProtocol()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match chain.chain_id")
}
