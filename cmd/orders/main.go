package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/niciki/system-design/internal/application/usecases"
	"github.com/niciki/system-design/internal/application/validation"
	"github.com/niciki/system-design/internal/domain/repository"
	"github.com/niciki/system-design/internal/infrastructure/cache"
	"github.com/niciki/system-design/internal/infrastructure/codec"
	"github.com/niciki/system-design/internal/infrastructure/config"
	"github.com/niciki/system-design/internal/infrastructure/db"
	"github.com/niciki/system-design/internal/infrastructure/http/handlers"
	"github.com/niciki/system-design/internal/infrastructure/http/server"
	"github.com/niciki/system-design/internal/infrastructure/identity"
	"github.com/niciki/system-design/internal/infrastructure/messaging/kafka"
	"github.com/niciki/system-design/internal/infrastructure/persistence/memory"
	"github.com/niciki/system-design/internal/infrastructure/persistence/postgres"
	"github.com/niciki/system-design/internal/observability"
	"github.com/niciki/system-design/internal/pkg/circuit"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open order store", zap.Error(err))
	}
	defer closeStore()

	cacheStore, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open cache", zap.Error(err))
	}
	defer closeCache()

	metrics := observability.NewPrometheus(prometheus.DefaultRegisterer)
	ttl := usecases.CacheTTL{Order: cfg.Cache.OrderTTL, List: cfg.Cache.ListTTL}
	orderCodec := codec.NewVersioned()

	coordinator := usecases.NewOrderCoordinator(
		gateway, cacheStore, orderCodec, validation.NewValidator(), metrics, ttl, logger,
	)

	if cfg.Cache.WarmLimit > 0 {
		warm := usecases.NewWarmCacheUseCase(gateway, cacheStore, orderCodec, ttl, logger)
		if _, err := warm.Execute(ctx, cfg.Cache.WarmLimit); err != nil {
			logger.Error("Failed to warm cache", zap.Error(err))
		}
	}

	identityClient, err := identity.NewClient(cfg.Auth.ServiceURL, cfg.Auth.Timeout, logger)
	if err != nil {
		logger.Fatal("Failed to create identity client", zap.Error(err))
	}

	var wg sync.WaitGroup
	if cfg.Kafka.Enabled {
		reader := kafka.NewReader(kafka.ReaderOptions{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		})
		consumer := kafka.NewConsumer(reader, coordinator, logger.With(zap.String("topic", cfg.Kafka.Topic)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
	}

	srv := server.NewServer(
		handlers.NewOrderHandler(coordinator, logger),
		identityClient,
		metrics,
		prometheus.DefaultGatherer,
		logger,
	)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(":" + cfg.HTTP.Port)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}
	wg.Wait()
	logger.Info("Service stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.OrderGateway, func(), error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		logger.Warn("Using in-memory order store; data will not survive a restart")
		return memory.NewOrderGateway(), func() {}, nil
	}

	sqldb, err := db.NewDB(ctx, db.Options{
		DSN:             cfg.Database.DSN(),
		MaxOpenConns:    cfg.Database.PoolSize,
		MaxIdleConns:    cfg.Database.PoolSize,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		TraceSQL:        cfg.Database.TraceSQL,
	}, cfg.Startup, logger)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := sqldb.Close(); err != nil {
			logger.Error("Failed to close DB connection", zap.Error(err))
		}
	}

	if cfg.Database.RunMigrations {
		if err := db.RunMigrations(sqldb, logger); err != nil {
			closeDB()
			return nil, nil, err
		}
	}
	return postgres.NewOrderGateway(sqldb, cfg.Database.AcquireTimeout, logger), closeDB, nil
}

func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.CacheStore, func(), error) {
	var (
		inner   repository.CacheStore
		closeFn = func() {}
	)

	switch cfg.Cache.Backend {
	case config.CacheBackendNone:
		logger.Info("Cache disabled, every read goes to the store")
		return cache.NoopStore{}, closeFn, nil
	case config.CacheBackendMemory:
		store, err := cache.NewMemoryStore(cfg.Cache.MemoryCapacity)
		if err != nil {
			return nil, nil, err
		}
		inner = store
	default:
		client := cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   cfg.Redis.MaxRetries,
			PoolSize:     cfg.Redis.PoolSize,
		}, cfg.Startup, logger)
		store := cache.NewRedisStore(client, logger)
		inner = store
		closeFn = func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close Redis client", zap.Error(err))
			}
		}
	}

	breaker := circuit.New(circuit.Settings{
		Threshold:   cfg.Cache.BreakerThreshold,
		OpenTimeout: cfg.Cache.BreakerOpenTimeout,
		MaxHalfOpen: cfg.Cache.BreakerHalfOpen,
	})
	return cache.NewResilientStore(inner, breaker, logger), closeFn, nil
}
