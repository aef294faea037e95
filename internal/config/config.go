// Package config defines the top-level configuration for the updown engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Oracle   OracleConfig   `toml:"oracle"`
	Feed     FeedConfig     `toml:"feed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Archive  ArchiveConfig  `toml:"archive"`
	Match    MatchConfig    `toml:"match"`
	Bets     BetsConfig     `toml:"bets"`
	Settle   SettleConfig   `toml:"settle"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OracleConfig holds price oracle parameters.
type OracleConfig struct {
	Symbols    []string `toml:"symbols"`
	FreshFor   duration `toml:"fresh_for"`
	LockTTL    duration `toml:"lock_ttl"`
	PollEvery  duration `toml:"poll_every"`
	SweepEvery duration `toml:"sweep_every"`
}

// FeedConfig holds the upstream market data endpoints.
type FeedConfig struct {
	WsURL         string   `toml:"ws_url"`
	RestURL       string   `toml:"rest_url"`
	ReconnectBase duration `toml:"reconnect_base"`
	ReconnectMax  duration `toml:"reconnect_max"`
	MaxAttempts   int      `toml:"max_attempts"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ArchiveConfig holds S3-compatible object storage parameters and the settled
// bet retention policy.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	RetentionDays  int      `toml:"retention_days"`
	BatchSize      int      `toml:"batch_size"`
	RunEvery       duration `toml:"run_every"`
}

// MatchConfig holds the initial matchmaking policy. At runtime the policy is
// mutable through the admin API; these are only the boot values.
type MatchConfig struct {
	Enabled                 bool     `toml:"enabled"`
	Mode                    string   `toml:"mode"`
	HouseBotFallbackEnabled bool     `toml:"house_bot_fallback_enabled"`
	FallbackTimeout         duration `toml:"fallback_timeout"`
}

// BetsConfig holds bet creation parameters.
type BetsConfig struct {
	MaxPriceAge duration           `toml:"max_price_age"`
	StakeBounds []StakeBoundConfig `toml:"stake_bounds"`
}

// StakeBoundConfig is one per-asset stake range. Amounts are decimal strings
// so the TOML stays exact.
type StakeBoundConfig struct {
	AssetUnit string `toml:"asset_unit"`
	Min       string `toml:"min"`
	Max       string `toml:"max"`
}

// SettleConfig holds settlement parameters.
type SettleConfig struct {
	FeeRate        string   `toml:"fee_rate"`
	CountdownEvery duration `toml:"countdown_every"`
	ClaimTTL       duration `toml:"claim_ttl"`
}

// LedgerConfig holds the balance ledger endpoint and HMAC credentials. The
// secret may be given inline or as an encrypted file plus password.
type LedgerConfig struct {
	BaseURL             string `toml:"base_url"`
	Key                 string `toml:"key"`
	Secret              string `toml:"secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
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
		Oracle: OracleConfig{
			Symbols:    []string{"BTCUSDT", "ETHUSDT"},
			FreshFor:   duration{5 * time.Second},
			LockTTL:    duration{2 * time.Minute},
			PollEvery:  duration{2 * time.Second},
			SweepEvery: duration{30 * time.Second},
		},
		Feed: FeedConfig{
			WsURL:         "wss://stream.binance.com:9443/stream",
			RestURL:       "https://api.binance.com",
			ReconnectBase: duration{time.Second},
			ReconnectMax:  duration{30 * time.Second},
			MaxAttempts:   10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "updown",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updown-archive",
			UseSSL:         false,
			ForcePathStyle: true,
			RetentionDays:  30,
			BatchSize:      1000,
			RunEvery:       duration{6 * time.Hour},
		},
		Match: MatchConfig{
			Enabled:                 true,
			Mode:                    "P2P",
			HouseBotFallbackEnabled: true,
			FallbackTimeout:         duration{10 * time.Second},
		},
		Bets: BetsConfig{
			MaxPriceAge: duration{30 * time.Second},
			StakeBounds: []StakeBoundConfig{
				{AssetUnit: "USDT", Min: "1", Max: "1000"},
			},
		},
		Settle: SettleConfig{
			FeeRate:        "0.05",
			CountdownEvery: duration{time.Second},
			ClaimTTL:       duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       10,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"feed_down", "feed_restored", "ledger_failure", "oracle_dark"},
		},
		Mode:     "standalone",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":     true,
	"standalone": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Engine reports whether the config selects the full engine mode backed by
// Postgres, Redis, and the remote ledger.
func (c *Config) Engine() bool {
	return strings.ToLower(c.Mode) == "engine"
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, standalone)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Oracle
	if len(c.Oracle.Symbols) == 0 {
		errs = append(errs, "oracle: symbols must not be empty")
	}
	if c.Oracle.LockTTL.Duration <= 0 {
		errs = append(errs, "oracle: lock_ttl must be > 0")
	}
	if c.Oracle.FreshFor.Duration <= 0 {
		errs = append(errs, "oracle: fresh_for must be > 0")
	}

	// Feed
	if c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must not be empty")
	}
	if c.Feed.RestURL == "" {
		errs = append(errs, "feed: rest_url must not be empty")
	}

	// Match
	switch strings.ToUpper(c.Match.Mode) {
	case "P2P", "HOUSE_BOT":
	default:
		errs = append(errs, fmt.Sprintf("match: mode must be P2P or HOUSE_BOT, got %q", c.Match.Mode))
	}
	if c.Match.FallbackTimeout.Duration < 0 {
		errs = append(errs, "match: fallback_timeout must not be negative")
	}

	// Bets
	if len(c.Bets.StakeBounds) == 0 {
		errs = append(errs, "bets: at least one stake_bounds entry is required")
	}
	for _, b := range c.Bets.StakeBounds {
		if b.AssetUnit == "" {
			errs = append(errs, "bets: stake_bounds entries must name an asset_unit")
		}
	}

	// Engine mode wiring.
	if c.Engine() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}

		if c.Ledger.BaseURL == "" {
			errs = append(errs, "ledger: base_url is required in engine mode")
		}
		if c.Ledger.Key == "" {
			errs = append(errs, "ledger: key is required in engine mode")
		}
		if c.Ledger.Secret == "" && c.Ledger.EncryptedSecretPath == "" {
			errs = append(errs, "ledger: either secret or encrypted_secret_path must be set in engine mode")
		}
		if c.Ledger.EncryptedSecretPath != "" && c.Ledger.SecretPassword == "" {
			errs = append(errs, "ledger: secret_password is required when encrypted_secret_path is set")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Engine() {
			errs = append(errs, "archive: requires engine mode")
		}
		if c.Archive.Endpoint == "" {
			errs = append(errs, "archive: endpoint must not be empty")
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
