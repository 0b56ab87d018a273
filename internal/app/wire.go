package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/fluxbot/internal/blob/s3"
	"github.com/alanyoungcy/fluxbot/internal/cache/redis"
	"github.com/alanyoungcy/fluxbot/internal/config"
	"github.com/alanyoungcy/fluxbot/internal/domain"
	"github.com/alanyoungcy/fluxbot/internal/notify"
	"github.com/alanyoungcy/fluxbot/internal/platform/sandbox"
	"github.com/alanyoungcy/fluxbot/internal/server/handler"
	"github.com/alanyoungcy/fluxbot/internal/store/memory"
	"github.com/alanyoungcy/fluxbot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional backends are left nil when disabled.
type Dependencies struct {
	Exchange *sandbox.Exchange

	// Stores; memory-backed when Postgres is disabled.
	Positions domain.PositionRepository
	Audit     domain.AuditStore

	// Caches; nil when Redis is disabled.
	TickerCache domain.TickerCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	Locks       *redis.LockManager

	// Blob storage; nil when S3 is disabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	// HealthChecks maps each connected backend to its ping.
	HealthChecks map[string]handler.HealthCheck
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

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	ex, err := newExchange(cfg.Exchange, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: exchange: %w", err)
	}
	deps.Exchange = ex

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:         cfg.Postgres.DSN,
			Host:        cfg.Postgres.Host,
			Port:        cfg.Postgres.Port,
			Database:    cfg.Postgres.Database,
			User:        cfg.Postgres.User,
			Password:    cfg.Postgres.Password,
			SSLMode:     cfg.Postgres.SSLMode,
			MaxConns:    cfg.Postgres.PoolMaxConns,
			MinConns:    cfg.Postgres.PoolMinConns,
			ConnTimeout: 10 * time.Second,
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
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "wire: postgres disabled, positions are kept in memory only")
		deps.Positions = memory.NewPositionStore()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.TickerCache = redis.NewTickerCache(redisClient, cfg.Redis.TickerTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Risk.OrderRateLimit, cfg.Risk.OrderRateWindow.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient, logger)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = reader
		archiver := s3blob.NewArchiver(writer, reader, deps.Positions, deps.Audit, logger)
		archiver.SetMultipartThreshold(cfg.Archive.MultipartThreshold)
		deps.Archiver = archiver
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// newExchange builds the sandbox exchange from its configuration. Balances
// and markets are applied in sorted order so a fixed seed reproduces the
// same price walk.
func newExchange(cfg config.ExchangeConfig, logger *slog.Logger) (*sandbox.Exchange, error) {
	opts := []sandbox.Option{
		sandbox.WithAccount(cfg.Account, cfg.Account),
		sandbox.WithFeeRate(decimal.NewFromFloat(cfg.FeeRate)),
		sandbox.WithSpread(decimal.NewFromFloat(cfg.Spread)),
		sandbox.WithLogger(logger),
	}

	for _, code := range sortedKeys(cfg.Balances) {
		amount, err := decimal.NewFromString(cfg.Balances[code])
		if err != nil {
			return nil, fmt.Errorf("balance %s: %w", code, err)
		}
		opts = append(opts, sandbox.WithBalance(domain.NewCurrency(code), amount))
	}
	for _, p := range sortedKeys(cfg.Prices) {
		pair, err := domain.ParseCurrencyPair(p)
		if err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(cfg.Prices[p])
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", p, err)
		}
		opts = append(opts, sandbox.WithPrice(pair, price))
	}

	if cfg.Volatility > 0 {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		opts = append(opts, sandbox.WithVolatility(cfg.Volatility, seed))
	}
	return sandbox.New(opts...), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
