// Package app assembles the derivative service from configuration. Both the
// API and the worker binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelforge/internal/cache"
	"github.com/dunamismax/pixelforge/internal/config"
	"github.com/dunamismax/pixelforge/internal/pipeline"
	"github.com/dunamismax/pixelforge/internal/service"
	"github.com/dunamismax/pixelforge/internal/storage"
	"github.com/dunamismax/pixelforge/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Service *service.Service
	// Redis is set when the result cache or the rate limiter needs it.
	Redis redis.UniversalClient

	logger  *zap.Logger
	closers []func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, registry prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pipeline.Startup(); err != nil {
		return nil, fmt.Errorf("start image runtime: %w", err)
	}

	a := &App{logger: logger}
	a.closers = append(a.closers, func() error {
		pipeline.Shutdown()
		return nil
	})

	svc, err := a.build(ctx, cfg, registry)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Service = svc
	return a, nil
}

func (a *App) build(ctx context.Context, cfg config.Config, registry prometheus.Registerer) (*service.Service, error) {
	adapter, err := a.storage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	catalog, err := a.catalog(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Backend == config.CacheBackendRedis || cfg.RateLimit.Enabled {
		client := redis.NewClient(cfg.Queue.RedisOptions())
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
	}

	var cacheStore cache.Store = cache.NewMemoryStore()
	if cfg.Cache.Backend == config.CacheBackendRedis {
		cacheStore, err = cache.NewRedisStore(a.Redis, cfg.Cache.KeyPrefix)
		if err != nil {
			return nil, err
		}
	}

	engine := pipeline.NewEngine(pipeline.Options{
		FontPath:  cfg.Pipeline.FontPath,
		FontSize:  cfg.Pipeline.FontSize,
		MaxPixels: cfg.Pipeline.MaxPixels,
	})

	svc, err := service.New(service.Options{
		Storage:        adapter,
		Engine:         engine,
		Cache:          cache.New(cacheStore, a.logger.Named("cache"), cache.NewMetrics(registry)),
		Catalog:        catalog,
		Logger:         a.logger.Named("service"),
		Metrics:        service.NewMetrics(registry),
		MaxConcurrency: cfg.Pipeline.MaxConcurrency,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		svc.Close()
		return nil
	})

	a.logger.Info("derivative service ready",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("cache", cfg.Cache.Backend),
		zap.Bool("postgres_catalog", cfg.Database.DSN != ""),
		zap.Int("max_concurrency", cfg.Pipeline.MaxConcurrency),
	)
	return svc, nil
}

func (a *App) storage(ctx context.Context, cfg config.Config) (storage.Adapter, error) {
	fetcher := storage.NewHTTPFetcher(storage.FetcherConfig{
		Timeout:           cfg.Pipeline.FetchTimeout,
		MaxBytes:          cfg.Pipeline.MaxSourceBytes,
		AllowPrivateHosts: cfg.Pipeline.AllowPrivateHosts,
	})

	if cfg.Storage.Backend == config.StorageBackendLocal {
		return storage.NewLocalStore(cfg.Storage.LocalDir, fetcher)
	}

	client, err := storage.NewClient(storage.Config{
		Endpoint:      cfg.Storage.Endpoint,
		Access:        cfg.Storage.AccessKey,
		Secret:        cfg.Storage.SecretKey,
		Bucket:        cfg.Storage.Bucket,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return storage.NewObjectStore(client, fetcher)
}

func (a *App) catalog(ctx context.Context, cfg config.DatabaseConfig) (store.Catalog, error) {
	if cfg.DSN == "" {
		a.logger.Warn("POSTGRES_DSN not set, catalog is kept in memory")
		return store.NewMemoryCatalog(), nil
	}
	pg, err := store.NewPostgresCatalog(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg.Close)
	return pg, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
