package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/okian/pagespeed/internal/adapters/pagespeed"
	"github.com/okian/pagespeed/internal/adapters/ratewindow"
	"github.com/okian/pagespeed/internal/adapters/repository"
	service "github.com/okian/pagespeed/internal/app"
	"github.com/okian/pagespeed/internal/config"
	"github.com/okian/pagespeed/internal/domain/ratelimit"
	"github.com/okian/pagespeed/pkg/logger"
)

// components holds the service and the limiter it does not own.
type components struct {
	service *service.Service
	window  *ratewindow.RedisWindow
}

// close releases what the service does not own. The store is closed by
// service.Stop.
func (c *components) close(log logger.Logger) {
	if c.window != nil {
		if err := c.window.Close(); err != nil {
			log.Warn(context.Background(), "failed to close redis client", logger.Error(err))
		}
	}
}

// wire builds the service and its adapters from cfg.
func wire(ctx context.Context, cfg *config.Config, log logger.Logger) (*components, error) {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	c := &components{}
	admitter, window, err := newAdmitter(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	c.window = window

	opts := []service.Option{
		service.WithLogger(log.Named("service")),
		service.WithStore(store),
		service.WithAdmitter(admitter),
		service.WithMaxURLs(cfg.MaxURLs),
		service.WithConcurrency(cfg.BatchConcurrency),
		service.WithAPIKeyConfigured(cfg.HasAPIKey()),
	}
	if cfg.HasAPIKey() {
		opts = append(opts, service.WithScorer(newScorer(cfg, log)))
	}
	c.service = service.New(opts...)
	return c, nil
}

// openStore opens the configured result store and applies its migrations.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	storeLog := log.Named("repository")
	if cfg.DBDriver == config.DBDriverMemory {
		log.Warn(ctx, "using in-memory result store; results are lost on restart")
		return repository.NewMemoryStore(repository.WithLogger(storeLog)), nil
	}

	store, err := repository.Open(ctx, repository.Dialect(cfg.DBDriver), cfg.DBDSN, repository.WithLogger(storeLog))
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info(ctx, "result store ready", logger.String("driver", cfg.DBDriver))
	return store, nil
}

// newAdmitter returns the batch rate limiter and, for the redis backend, the
// window that owns the client.
func newAdmitter(ctx context.Context, cfg *config.Config) (ratelimit.Admitter, *ratewindow.RedisWindow, error) {
	if cfg.RateBackend != config.RateBackendRedis {
		return ratelimit.New(
			ratelimit.WithWindow(cfg.RateWindow),
			ratelimit.WithMaxRequests(cfg.RateMax),
		), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis_url: %w", err)
	}
	window := ratewindow.NewRedisWindow(redis.NewClient(opts),
		ratewindow.WithKey(cfg.RedisKey),
		ratewindow.WithWindow(cfg.RateWindow),
		ratewindow.WithMaxRequests(cfg.RateMax),
	)
	if err := window.Ping(ctx); err != nil {
		_ = window.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return window, window, nil
}

func newScorer(cfg *config.Config, log logger.Logger) *pagespeed.Client {
	opts := []pagespeed.Option{
		pagespeed.WithEndpoint(cfg.APIURL),
		pagespeed.WithTimeout(cfg.UpstreamTimeout),
		pagespeed.WithFullReport(cfg.StoreFullReport),
		pagespeed.WithLogger(log.Named("pagespeed")),
	}
	if cfg.UpstreamQPS > 0 {
		opts = append(opts, pagespeed.WithRateLimit(cfg.UpstreamQPS, cfg.UpstreamBurst))
	}
	if cfg.BreakerEnabled {
		opts = append(opts, pagespeed.WithCircuitBreaker(cfg.BreakerFailures, cfg.BreakerTimeout))
	}
	return pagespeed.New(cfg.APIKey, opts...)
}
