package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/predictionperps/internal/blob/s3"
	"github.com/alanyoungcy/predictionperps/internal/cache/redis"
	"github.com/alanyoungcy/predictionperps/internal/config"
	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/notify"
	"github.com/alanyoungcy/predictionperps/internal/server/handler"
	"github.com/alanyoungcy/predictionperps/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure the desk runs on. Every
// field except Notifier may be nil when its backend is not configured; the
// services treat a nil dependency as "feature off".
type Dependencies struct {
	// Stores
	RunStore   domain.RunStore
	AuditStore domain.AuditStore

	// Caches
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	ViewCache   domain.MarketViewCache
	RateLimiter domain.RateLimiter

	// Blob storage
	Archiver domain.RunArchiver

	// Notifications
	Notifier *notify.Notifier

	// Health probes one check per wired backend.
	Health map[string]handler.HealthCheck
}

// Wire constructs the configured backends and returns them together with a
// cleanup function that should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	// --- PostgreSQL run journal and audit log ---
	if cfg.Supabase.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:        cfg.Supabase.DSN,
			Host:       cfg.Supabase.Host,
			Port:       cfg.Supabase.Port,
			Database:   cfg.Supabase.Database,
			User:       cfg.Supabase.User,
			Password:   cfg.Supabase.Password,
			SSLMode:    cfg.Supabase.SSLMode,
			MaxConns:   cfg.Supabase.PoolMaxConns,
			MinConns:   cfg.Supabase.PoolMinConns,
			PreferIPv4: cfg.Supabase.PreferIPv4,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.RunStore = postgres.NewRunStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping
	} else {
		logger.Info("wire: postgres not configured, runs are kept in memory")
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.ViewCache = redis.NewMarketViewCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		logger.Info("wire: redis not configured, run locks are process-local and ws relay is off")
	}

	// --- S3 run archive ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
