// Package config defines the top-level configuration for the prediction
// market desk and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PPDESK_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Protocol ProtocolConfig `toml:"protocol"`
	Market   MarketConfig   `toml:"market"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig says where the desk's signing key lives.
type WalletConfig struct {
	PrivateKey  string `toml:"private_key"`
	Keyfile     string `toml:"keyfile"`
	KeyPassword string `toml:"key_password"`
}

// ChainConfig holds JSON-RPC connection and submission parameters.
type ChainConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	ChainID        int64    `toml:"chain_id"`
	PollInterval   duration `toml:"poll_interval"`
	ReceiptTimeout duration `toml:"receipt_timeout"`
	GasMarginPct   int      `toml:"gas_margin_pct"`
}

// ProtocolConfig locates the deployed contracts. Addresses set here override
// the deployments manifest.
type ProtocolConfig struct {
	Deployments        string `toml:"deployments"`
	ABIDir             string `toml:"abi_dir"`
	Ledger             string `toml:"ledger"`
	MarketMakerHub     string `toml:"market_maker_hub"`
	Collateral         string `toml:"collateral"`
	Oracle             string `toml:"oracle"`
	CollateralName     string `toml:"collateral_name"`
	CollateralVersion  string `toml:"collateral_version"`
	CollateralDecimals int    `toml:"collateral_decimals"`
	LockPositions      bool   `toml:"lock_positions"`
}

// MarketConfig bounds market drafts and read caching.
type MarketConfig struct {
	TickerMaxLen     int      `toml:"ticker_max_len"`
	MinPositions     int      `toml:"min_positions"`
	MaxPositions     int      `toml:"max_positions"`
	DefaultWeight    string   `toml:"default_weight"`
	DefaultLiability string   `toml:"default_liability"`
	ViewTTL          duration `toml:"view_ttl"`
	RunLockTTL       duration `toml:"run_lock_ttl"`
}

// SupabaseConfig holds PostgreSQL connection parameters. Leaving both dsn
// and host empty disables the run journal.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	PreferIPv4    bool   `toml:"prefer_ipv4"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (s SupabaseConfig) Enabled() bool {
	return strings.TrimSpace(s.DSN) != "" || s.Host != ""
}

// RedisConfig holds Redis connection parameters. An empty addr disables
// locking, pub/sub and the view cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters. An empty bucket
// disables run archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// TxRateLimit caps transaction requests per client per TxRateWindow.
	// Zero disables the limiter.
	TxRateLimit  int      `toml:"tx_rate_limit"`
	TxRateWindow duration `toml:"tx_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// via encoding.TextUnmarshaler.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:       "http://127.0.0.1:8545",
			ChainID:      11155111,
			PollInterval: duration{time.Second},
			GasMarginPct: 20,
		},
		Protocol: ProtocolConfig{
			Deployments:        "deployments.json",
			CollateralName:     "Mock USDC",
			CollateralVersion:  "1",
			CollateralDecimals: 6,
			LockPositions:      true,
		},
		Market: MarketConfig{
			TickerMaxLen:     4,
			MinPositions:     2,
			MaxPositions:     16,
			DefaultWeight:    "1",
			DefaultLiability: "100",
			ViewTTL:          duration{5 * time.Second},
			RunLockTTL:       duration{15 * time.Minute},
		},
		Supabase: SupabaseConfig{
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "require",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "ppdesk:",
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:         8080,
			CORSOrigins:  []string{"*"},
			TxRateLimit:  30,
			TxRateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_failed"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":      true,
	"create":      true,
	"encrypt-key": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, create, encrypt-key)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// encrypt-key only needs the raw key and a password.
	if mode == "encrypt-key" {
		if c.Wallet.PrivateKey == "" {
			errs = append(errs, "wallet: private_key is required for mode encrypt-key")
		}
		if c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required for mode encrypt-key")
		}
		return joinProblems(errs)
	}

	// Wallet
	if c.Wallet.PrivateKey == "" && c.Wallet.Keyfile == "" {
		errs = append(errs, "wallet: either private_key or keyfile must be set for mode "+c.Mode)
	}
	if c.Wallet.Keyfile != "" && c.Wallet.PrivateKey == "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when keyfile is set")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.PollInterval.Duration <= 0 {
		errs = append(errs, "chain: poll_interval must be > 0")
	}
	if c.Chain.ReceiptTimeout.Duration < 0 {
		errs = append(errs, "chain: receipt_timeout must be >= 0")
	}
	if c.Chain.GasMarginPct < 0 || c.Chain.GasMarginPct > 200 {
		errs = append(errs, fmt.Sprintf("chain: gas_margin_pct must be 0-200, got %d", c.Chain.GasMarginPct))
	}

	// Protocol
	if c.Protocol.Deployments == "" {
		for _, f := range []struct{ name, v string }{
			{"ledger", c.Protocol.Ledger},
			{"market_maker_hub", c.Protocol.MarketMakerHub},
		} {
			if f.v == "" {
				errs = append(errs, "protocol: "+f.name+" is required when deployments is empty")
			}
		}
	}
	for _, f := range []struct{ name, v string }{
		{"ledger", c.Protocol.Ledger},
		{"market_maker_hub", c.Protocol.MarketMakerHub},
		{"collateral", c.Protocol.Collateral},
		{"oracle", c.Protocol.Oracle},
	} {
		if f.v != "" && !common.IsHexAddress(f.v) {
			errs = append(errs, fmt.Sprintf("protocol: %s is not a hex address: %q", f.name, f.v))
		}
	}
	if c.Protocol.CollateralDecimals < 0 || c.Protocol.CollateralDecimals > 36 {
		errs = append(errs, fmt.Sprintf("protocol: collateral_decimals must be 0-36, got %d", c.Protocol.CollateralDecimals))
	}

	// Market
	if c.Market.TickerMaxLen < 1 {
		errs = append(errs, "market: ticker_max_len must be >= 1")
	}
	if c.Market.MinPositions < 2 {
		errs = append(errs, "market: min_positions must be >= 2")
	}
	if c.Market.MaxPositions < c.Market.MinPositions {
		errs = append(errs, "market: max_positions must not be below min_positions")
	}
	if c.Market.ViewTTL.Duration < 0 {
		errs = append(errs, "market: view_ttl must be >= 0")
	}
	if c.Market.RunLockTTL.Duration <= 0 {
		errs = append(errs, "market: run_lock_ttl must be > 0")
	}

	// Supabase
	if c.Supabase.Enabled() && strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.Enabled() {
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when bucket is set")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Server
	if mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.TxRateLimit < 0 {
			errs = append(errs, "server: tx_rate_limit must be >= 0")
		}
		if c.Server.TxRateLimit > 0 && c.Server.TxRateWindow.Duration <= 0 {
			errs = append(errs, "server: tx_rate_window must be > 0 when tx_rate_limit is set")
		}
	}

	return joinProblems(errs)
}

func joinProblems(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
