package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/fundingarb/basisbot/internal/blob/s3"
	"github.com/fundingarb/basisbot/internal/cache/redis"
	"github.com/fundingarb/basisbot/internal/config"
	"github.com/fundingarb/basisbot/internal/credentials"
	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/exchange"
	"github.com/fundingarb/basisbot/internal/gateway"
	"github.com/fundingarb/basisbot/internal/lock"
	"github.com/fundingarb/basisbot/internal/metrics"
	"github.com/fundingarb/basisbot/internal/notify"
	"github.com/fundingarb/basisbot/internal/pnl"
	"github.com/fundingarb/basisbot/internal/saga"
	"github.com/fundingarb/basisbot/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Positions domain.PositionStore
	Trades    domain.TradeStore
	Funding   domain.FundingStore
	Audit     domain.AuditStore

	// Redis
	Locks       *lock.Service
	RateLimiter domain.RateLimiter
	Bus         domain.SignalBus
	MarkPrices  domain.MarkPriceCache

	// Exchange access
	Traders exchange.TraderBuilder

	// Blob storage, nil unless S3 is enabled
	Archiver *s3blob.Archiver

	// Notifications and funding accounting
	Notifier *notify.Notifier
	Events   saga.EventSink
	FundSvc  *pnl.FundingService

	// Observability
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	// Health holds per-dependency liveness probes for the API health endpoint.
	Health map[string]func(context.Context) error
}

// needsS3 returns true for modes that require object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.S3.Enabled || cfg.Mode == "archive"
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

	deps := &Dependencies{
		Health: map[string]func(context.Context) error{},
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
	deps.Health["postgres"] = pool.Ping
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Trades = postgres.NewTradeStore(pool)
	deps.Funding = postgres.NewFundingStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)

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
	deps.Health["redis"] = redisClient.Ping

	deps.Locks = lock.NewService(redis.NewLockStore(redisClient), logger)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)
	deps.MarkPrices = redis.NewMarkPriceCache(redisClient)

	// --- Credentials and exchange access ---
	vault, err := credentials.OpenVault(cfg.Vault.Path, cfg.Vault.Password)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: vault: %w", err)
	}

	dialer := gateway.NewDialer(deps.RateLimiter, cfg.Exchanges.RequestTimeout.Duration, logger)
	for name, base := range cfg.Exchanges.BaseURLs {
		dialer.SetBaseURL(name, base)
	}

	deps.Traders = exchange.NewTraderFactory(
		exchange.NewRegistry(),
		vault,
		dialer,
		exchange.NewModeDetector(exchange.NewModeCache(cfg.Exchanges.ModeTTL.Duration), logger),
		exchange.NewMarketCache(cfg.Exchanges.MarketTTL.Duration),
		logger,
	)

	// --- S3 blob storage ---
	if needsS3(cfg) {
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
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Trades, deps.Audit, logger)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Events = fanoutSink{
		notify.NewSink(deps.Notifier),
		newBusSink(deps.Bus, cfg.Redis.EventChannel, cfg.Redis.EventStream, logger),
	}

	deps.FundSvc = pnl.NewFundingService(deps.Funding, logger)

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Metrics = metrics.NewWithRegistry(deps.Registry)

	return deps, cleanup, nil
}
