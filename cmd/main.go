package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/url-shortener/config"
	"github.com/angeloszaimis/url-shortener/internal/access"
	"github.com/angeloszaimis/url-shortener/internal/cache"
	"github.com/angeloszaimis/url-shortener/internal/circuitbreaker"
	"github.com/angeloszaimis/url-shortener/internal/handler"
	"github.com/angeloszaimis/url-shortener/internal/httpserver"
	"github.com/angeloszaimis/url-shortener/internal/metrics"
	"github.com/angeloszaimis/url-shortener/internal/reconciler"
	"github.com/angeloszaimis/url-shortener/internal/shortid"
	"github.com/angeloszaimis/url-shortener/internal/storage"
	"github.com/angeloszaimis/url-shortener/internal/storage/migrations"
	"github.com/angeloszaimis/url-shortener/pkg/logger"
)

const (
	serviceName      = "url-shortener"
	metricsBufferLen = 1024
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		AddSource:   cfg.Logging.AddSource,
		Environment: cfg.Server.Environment,
		Service:     serviceName,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("URL shortener stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Database.MigrateOnStart {
		if err := migrations.Up(cfg.Database.URL, log); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, config.Duration(cfg.Database.ConnectTimeout))
	pool, err := storage.Connect(connectCtx, cfg.Database.URL, poolConfig(cfg.Database))
	cancelConnect()
	if err != nil {
		return err
	}
	store := storage.NewPostgres(pool, log)
	defer store.Close()

	cacheStore := cache.NewRedisStore(redis.NewClient(redisOptions(cfg.Redis)),
		cache.WithMappingTTL(config.Duration(cfg.Cache.MappingTTL)),
		cache.WithDegradedTTL(config.Duration(cfg.Cache.DegradedTTL)),
		cache.WithLogger(log))
	defer func() {
		if err := cacheStore.Close(); err != nil {
			log.Warn("Failed to close redis client", slog.Any("err", err))
		}
	}()

	collectorCtx, stopCollector := context.WithCancel(context.Background())
	collector := metrics.NewCollector(metricsBufferLen, log)
	collector.Start(collectorCtx)
	defer func() {
		stopCollector()
		<-collector.Done()
	}()

	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(),
		circuitbreaker.WithSink(collector),
		circuitbreaker.WithLogger(log))
	defer registry.Close()

	dbBreaker := breakerConfig(cfg.Breakers.Database)
	cacheBreaker := breakerConfig(cfg.Breakers.Cache)

	coordinator := access.New(store, cacheStore, registry,
		access.WithLogger(log),
		access.WithRecorder(collector),
		access.WithBreakerConfigs(&dbBreaker, &cacheBreaker),
		access.WithMirrorTimeout(config.Duration(cfg.Cache.MirrorTimeout)))
	defer coordinator.Wait()

	if cfg.Reconciler.Enabled {
		rec := reconciler.New(cacheStore, store, reconcilerConfig(cfg.Reconciler),
			reconciler.WithLogger(log),
			reconciler.WithRecorder(collector))
		rec.Start(ctx)
		defer rec.Stop()
	} else {
		log.Info("Reconciler disabled on this instance")
	}

	ids, err := shortid.New(cfg.ShortID.Length)
	if err != nil {
		return err
	}

	urlHandler := handler.NewURLHandler(log, coordinator, ids,
		handler.WithRetryAfter(config.Duration(cfg.Breakers.Database.Timeout)))

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(log, urlHandler, collector, serviceName), serverTimeouts(cfg.Server))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("URL shortener listening",
		slog.String("addr", srv.Addr()),
		slog.Bool("reconciler", cfg.Reconciler.Enabled))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
		return nil
	case err := <-srvErrCh:
		if err != nil {
			return err
		}
		return errors.New("server stopped unexpectedly")
	}
}

func poolConfig(c config.DatabaseConfig) storage.PoolConfig {
	return storage.PoolConfig{
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: config.Duration(c.MaxConnLifetime),
	}
}

func redisOptions(c config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  config.Duration(c.DialTimeout),
		ReadTimeout:  config.Duration(c.ReadTimeout),
		WriteTimeout: config.Duration(c.WriteTimeout),
	}
}

func breakerConfig(c config.BreakerConfig) circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:    c.FailureThreshold,
		SuccessThreshold:    c.SuccessThreshold,
		Timeout:             config.Duration(c.Timeout),
		ResetTimeout:        config.Duration(c.ResetTimeout),
		MonitoringWindow:    config.Duration(c.MonitoringWindow),
		HealthCheckInterval: config.Duration(c.HealthCheckInterval),
	}
}

func reconcilerConfig(c config.ReconcilerConfig) reconciler.Config {
	return reconciler.Config{
		Interval:   config.Duration(c.Interval),
		BatchSize:  c.BatchSize,
		MaxRetries: c.MaxRetries,
		Timeout:    config.Duration(c.Timeout),
	}
}

func serverTimeouts(c config.ServerConfig) httpserver.Timeouts {
	return httpserver.Timeouts{
		Read:     config.Duration(c.ReadTimeout),
		Write:    config.Duration(c.WriteTimeout),
		Idle:     config.Duration(c.IdleTimeout),
		Shutdown: config.Duration(c.ShutdownTimeout),
	}
}
