package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/updownlabs/updown/internal/blob/s3"
	"github.com/updownlabs/updown/internal/cache/redis"
	"github.com/updownlabs/updown/internal/config"
	"github.com/updownlabs/updown/internal/crypto"
	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/ledger"
	"github.com/updownlabs/updown/internal/notify"
	"github.com/updownlabs/updown/internal/store/memory"
	"github.com/updownlabs/updown/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the engine needs to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function. Fields documented as engine-only are nil in standalone mode.
type Dependencies struct {
	// Stores
	BetStore    domain.BetStore
	PolicyStore domain.PolicyStore
	LockStore   domain.LockStore
	AuditStore  domain.AuditStore

	// Messaging and coordination
	SignalBus   domain.SignalBus
	PriceMirror domain.PriceCache  // engine only
	LockManager domain.LockManager // engine only
	RateLimiter domain.RateLimiter // engine only

	// External effects
	Ledger   domain.BalanceLedger
	Archiver *s3blob.Archiver // engine only, when archive.enabled

	// Notifications
	Notifier *notify.Notifier
	Alerts   *notify.Alerts
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	policy, bounds, err := matchPolicyFromConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	// Policy is operator-mutable at runtime but not durable across restarts;
	// boot values come from config.
	deps.PolicyStore = memory.NewPolicyStore(policy, bounds)

	if !cfg.Engine() {
		deps.BetStore = memory.NewBetStore()
		deps.LockStore = memory.NewLockStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.SignalBus = memory.NewSignalBus()
		deps.Ledger = ledger.NewNoop(logger)
		deps.Notifier, deps.Alerts = wireNotify(cfg, logger)
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.BetStore = postgres.NewBetStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.LockStore = redis.NewLockStore(redisClient)
	deps.PriceMirror = redis.NewPriceCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- Balance ledger ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:           cfg.Ledger.Secret,
		EncryptedSecretPath: cfg.Ledger.EncryptedSecretPath,
		SecretPassword:      cfg.Ledger.SecretPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger secret: %w", err)
	}
	deps.Ledger = ledger.NewClient(cfg.Ledger.BaseURL, &crypto.HMACAuth{
		Key:    cfg.Ledger.Key,
		Secret: secret,
	})

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.ArchiverConfig{
			Retention: time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour,
			BatchSize: cfg.Archive.BatchSize,
		}, s3blob.NewWriter(s3Client), deps.BetStore, deps.AuditStore, logger)
	}

	deps.Notifier, deps.Alerts = wireNotify(cfg, logger)

	return deps, cleanup, nil
}

// wireNotify builds the notifier from whichever channels are configured.
func wireNotify(cfg *config.Config, logger *slog.Logger) (*notify.Notifier, *notify.Alerts) {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	n := notify.NewNotifier(senders, cfg.Notify.Events, logger)
	return n, notify.NewAlerts(n)
}

// matchPolicyFromConfig converts the boot-time policy section into domain
// types, parsing the decimal stake bounds.
func matchPolicyFromConfig(cfg *config.Config) (domain.MatchPolicy, []domain.StakeBounds, error) {
	policy := domain.MatchPolicy{
		MatchmakingEnabled:      cfg.Match.Enabled,
		Mode:                    domain.MatchMode(strings.ToUpper(cfg.Match.Mode)),
		HouseBotFallbackEnabled: cfg.Match.HouseBotFallbackEnabled,
		FallbackTimeout:         cfg.Match.FallbackTimeout.Duration,
	}

	bounds := make([]domain.StakeBounds, 0, len(cfg.Bets.StakeBounds))
	for _, b := range cfg.Bets.StakeBounds {
		min, err := decimal.NewFromString(b.Min)
		if err != nil {
			return domain.MatchPolicy{}, nil, fmt.Errorf("stake bounds %s: min %q: %w", b.AssetUnit, b.Min, err)
		}
		max, err := decimal.NewFromString(b.Max)
		if err != nil {
			return domain.MatchPolicy{}, nil, fmt.Errorf("stake bounds %s: max %q: %w", b.AssetUnit, b.Max, err)
		}
		bounds = append(bounds, domain.StakeBounds{AssetUnit: b.AssetUnit, Min: min, Max: max})
	}

	return policy, bounds, nil
}
