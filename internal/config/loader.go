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
// built-in defaults, applies UPDOWN_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known UPDOWN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Oracle ──
	setStringSlice(&cfg.Oracle.Symbols, "UPDOWN_ORACLE_SYMBOLS")
	setDuration(&cfg.Oracle.FreshFor, "UPDOWN_ORACLE_FRESH_FOR")
	setDuration(&cfg.Oracle.LockTTL, "UPDOWN_ORACLE_LOCK_TTL")
	setDuration(&cfg.Oracle.PollEvery, "UPDOWN_ORACLE_POLL_EVERY")
	setDuration(&cfg.Oracle.SweepEvery, "UPDOWN_ORACLE_SWEEP_EVERY")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "UPDOWN_FEED_WS_URL")
	setStr(&cfg.Feed.RestURL, "UPDOWN_FEED_REST_URL")
	setDuration(&cfg.Feed.ReconnectBase, "UPDOWN_FEED_RECONNECT_BASE")
	setDuration(&cfg.Feed.ReconnectMax, "UPDOWN_FEED_RECONNECT_MAX")
	setInt(&cfg.Feed.MaxAttempts, "UPDOWN_FEED_MAX_ATTEMPTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "UPDOWN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "UPDOWN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UPDOWN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UPDOWN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UPDOWN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UPDOWN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UPDOWN_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UPDOWN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UPDOWN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UPDOWN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWN_REDIS_TLS_ENABLED")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "UPDOWN_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "UPDOWN_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "UPDOWN_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "UPDOWN_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "UPDOWN_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "UPDOWN_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "UPDOWN_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "UPDOWN_ARCHIVE_FORCE_PATH_STYLE")
	setInt(&cfg.Archive.RetentionDays, "UPDOWN_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.BatchSize, "UPDOWN_ARCHIVE_BATCH_SIZE")
	setDuration(&cfg.Archive.RunEvery, "UPDOWN_ARCHIVE_RUN_EVERY")

	// ── Match ──
	setBool(&cfg.Match.Enabled, "UPDOWN_MATCH_ENABLED")
	setStr(&cfg.Match.Mode, "UPDOWN_MATCH_MODE")
	setBool(&cfg.Match.HouseBotFallbackEnabled, "UPDOWN_MATCH_HOUSE_BOT_FALLBACK_ENABLED")
	setDuration(&cfg.Match.FallbackTimeout, "UPDOWN_MATCH_FALLBACK_TIMEOUT")

	// ── Bets ──
	setDuration(&cfg.Bets.MaxPriceAge, "UPDOWN_BETS_MAX_PRICE_AGE")

	// ── Settle ──
	setStr(&cfg.Settle.FeeRate, "UPDOWN_SETTLE_FEE_RATE")
	setDuration(&cfg.Settle.CountdownEvery, "UPDOWN_SETTLE_COUNTDOWN_EVERY")
	setDuration(&cfg.Settle.ClaimTTL, "UPDOWN_SETTLE_CLAIM_TTL")

	// ── Ledger ──
	setStr(&cfg.Ledger.BaseURL, "UPDOWN_LEDGER_BASE_URL")
	setStr(&cfg.Ledger.Key, "UPDOWN_LEDGER_KEY")
	setStr(&cfg.Ledger.Secret, "UPDOWN_LEDGER_SECRET")
	setStr(&cfg.Ledger.EncryptedSecretPath, "UPDOWN_LEDGER_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Ledger.SecretPassword, "UPDOWN_LEDGER_SECRET_PASSWORD")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPDOWN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPDOWN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "UPDOWN_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "UPDOWN_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "UPDOWN_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UPDOWN_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWN_MODE")
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
