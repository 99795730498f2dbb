package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/jmoretti/tokenvest/internal/blob/s3"
	"github.com/jmoretti/tokenvest/internal/cache/redis"
	"github.com/jmoretti/tokenvest/internal/chain"
	"github.com/jmoretti/tokenvest/internal/config"
	"github.com/jmoretti/tokenvest/internal/domain"
	"github.com/jmoretti/tokenvest/internal/notify"
	"github.com/jmoretti/tokenvest/internal/ratelimit"
	"github.com/jmoretti/tokenvest/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	UserStore     domain.UserStore
	KycDocStore   domain.KycDocumentStore
	OrderStore    domain.OrderStore
	HoldingStore  domain.HoldingStore
	TokenStore    domain.TokenStore
	AuditStore    domain.AuditStore

	// Redis-backed infrastructure
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Chain access
	BalanceReader    domain.BalanceReader
	SettlementClient domain.SettlementClient

	// Blob storage (nil unless archiving is enabled)
	AuditArchiver *s3blob.AuditArchiver

	// Notifications
	Notifier *notify.Notifier

	// In-memory limiter kept for its background sweeper; nil when the redis
	// backend is selected.
	memoryLimiter *ratelimit.Limiter
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

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
	deps.UserStore = postgres.NewUserStore(pool)
	deps.KycDocStore = postgres.NewKycDocumentStore(pool)
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.HoldingStore = postgres.NewHoldingStore(pool)
	deps.TokenStore = postgres.NewTokenStore(pool)
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

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	switch strings.ToLower(cfg.RateLimit.Backend) {
	case "redis":
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	default:
		mem := ratelimit.New()
		deps.RateLimiter = mem
		deps.memoryLimiter = mem
	}

	// --- Chain access ---
	balanceReader, err := chain.NewBalanceReader(ctx, cfg.Chain.RPCURL)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}
	closers = append(closers, balanceReader.Close)
	deps.BalanceReader = balanceReader

	deps.SettlementClient = chain.NewSettlementClient(cfg.Chain.SettlementBaseURL, cfg.Chain.SettlementAPIKey)

	// --- S3 audit archiving ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client, 2*time.Minute)
		deps.AuditArchiver = s3blob.NewAuditArchiver(deps.AuditStore, writer, cfg.Archive.Prefix, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookToken))
	}
	senders = append(senders, notify.NewBusSender(deps.SignalBus))
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
