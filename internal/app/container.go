package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockrecon/internal/events"
	"github.com/odyssey-erp/stockrecon/internal/observability"
	"github.com/odyssey-erp/stockrecon/internal/platform/cache"
	"github.com/odyssey-erp/stockrecon/internal/platform/db"
	"github.com/odyssey-erp/stockrecon/internal/shared"
	"github.com/odyssey-erp/stockrecon/internal/stock"
)

// Container holds the wired runtime shared by the API, worker and CLI.
type Container struct {
	Config      *Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Metrics     *observability.Metrics
	Idempotency *shared.IdempotencyStore
	Display     *stock.DisplayCache
	Service     *stock.Service

	closers []func() error
}

// Build connects to Postgres and Redis and assembles the stock service.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, err
	}
	c.Pool = pool
	c.closers = append(c.closers, func() error { pool.Close(); return nil })

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Redis = redisClient
	c.closers = append(c.closers, redisClient.Close)

	var locker stock.Locker = stock.NewLocalLocker()
	if cfg.LockBackend == LockBackendRedis {
		locker = stock.NewRedisLocker(redisClient, stock.RedisLockerConfig{TTL: cfg.LockTTL, MaxWait: cfg.LockWait})
	}

	sinkDeps := events.SinkDeps{
		Redis:        redisClient,
		RedisChannel: cfg.EventChannel,
		Audit:        shared.NewAuditLogger(pool),
	}
	if len(cfg.KafkaBrokers) > 0 {
		sinkDeps.Kafka = events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	publisher, closePublisher, err := events.Build(cfg.EventSinks, sinkDeps)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.closers = append(c.closers, closePublisher)

	repo := stock.NewRepository(pool)
	c.Idempotency = shared.NewIdempotencyStore(pool)
	c.Display = stock.NewDisplayCache(redisClient)
	c.Service = stock.NewService(stock.Deps{
		Store:     repo,
		Locker:    locker,
		Publisher: publisher,
		Display:   c.Display,
		Logger:    logger,
	}, repo, c.Idempotency, stock.ServiceConfig{
		SweepConcurrency: cfg.SweepConcurrency,
		StatusTimeout:    cfg.StatusTimeout,
	})

	logger.Info("stock runtime ready",
		slog.String("lock_backend", cfg.LockBackend),
		slog.Any("event_sinks", cfg.EventSinks),
		slog.Int("sweep_concurrency", cfg.SweepConcurrency))
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
