package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PPDESK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PPDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PPDESK_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.Keyfile, "PPDESK_WALLET_KEYFILE")
	setStr(&cfg.Wallet.KeyPassword, "PPDESK_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "PPDESK_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "PPDESK_CHAIN_CHAIN_ID")
	setDuration(&cfg.Chain.PollInterval, "PPDESK_CHAIN_POLL_INTERVAL")
	setDuration(&cfg.Chain.ReceiptTimeout, "PPDESK_CHAIN_RECEIPT_TIMEOUT")
	setInt(&cfg.Chain.GasMarginPct, "PPDESK_CHAIN_GAS_MARGIN_PCT")

	// ── Protocol ──
	setStr(&cfg.Protocol.Deployments, "PPDESK_PROTOCOL_DEPLOYMENTS")
	setStr(&cfg.Protocol.ABIDir, "PPDESK_PROTOCOL_ABI_DIR")
	setStr(&cfg.Protocol.Ledger, "PPDESK_PROTOCOL_LEDGER")
	setStr(&cfg.Protocol.MarketMakerHub, "PPDESK_PROTOCOL_MARKET_MAKER_HUB")
	setStr(&cfg.Protocol.Collateral, "PPDESK_PROTOCOL_COLLATERAL")
	setStr(&cfg.Protocol.Oracle, "PPDESK_PROTOCOL_ORACLE")
	setBool(&cfg.Protocol.LockPositions, "PPDESK_PROTOCOL_LOCK_POSITIONS")

	// ── Market ──
	setInt(&cfg.Market.TickerMaxLen, "PPDESK_MARKET_TICKER_MAX_LEN")
	setInt(&cfg.Market.MaxPositions, "PPDESK_MARKET_MAX_POSITIONS")
	setStr(&cfg.Market.DefaultLiability, "PPDESK_MARKET_DEFAULT_LIABILITY")
	setDuration(&cfg.Market.ViewTTL, "PPDESK_MARKET_VIEW_TTL")
	setDuration(&cfg.Market.RunLockTTL, "PPDESK_MARKET_RUN_LOCK_TTL")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "PPDESK_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "PPDESK_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "PPDESK_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "PPDESK_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "PPDESK_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "PPDESK_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "PPDESK_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "PPDESK_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "PPDESK_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "PPDESK_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.PreferIPv4, "PPDESK_SUPABASE_PREFER_IPV4")
	setBool(&cfg.Supabase.RunMigrations, "PPDESK_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PPDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PPDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PPDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PPDESK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PPDESK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PPDESK_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PPDESK_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PPDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PPDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "PPDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PPDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PPDESK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PPDESK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PPDESK_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "PPDESK_S3_PREFIX")

	// ── Server ──
	setInt(&cfg.Server.Port, "PPDESK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PPDESK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PPDESK_SERVER_API_KEY")
	setInt(&cfg.Server.TxRateLimit, "PPDESK_SERVER_TX_RATE_LIMIT")
	setDuration(&cfg.Server.TxRateWindow, "PPDESK_SERVER_TX_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPI, "PPDESK_NOTIFY_TELEGRAM_API")
	setStr(&cfg.Notify.TelegramToken, "PPDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PPDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PPDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PPDESK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PPDESK_MODE")
	setStr(&cfg.LogLevel, "PPDESK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		*dst = cleaned
	}
}
