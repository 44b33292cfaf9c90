package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/dynamic-gateway/internal/admin"
	"github.com/tjfontaine/dynamic-gateway/internal/authority"
	"github.com/tjfontaine/dynamic-gateway/internal/breaker"
	"github.com/tjfontaine/dynamic-gateway/internal/cachestore"
	"github.com/tjfontaine/dynamic-gateway/internal/config"
	"github.com/tjfontaine/dynamic-gateway/internal/domain"
	"github.com/tjfontaine/dynamic-gateway/internal/loader"
	"github.com/tjfontaine/dynamic-gateway/internal/pipeline"
	"github.com/tjfontaine/dynamic-gateway/internal/proxy"
	"github.com/tjfontaine/dynamic-gateway/internal/routing"
	"github.com/tjfontaine/dynamic-gateway/internal/server"
	"github.com/tjfontaine/dynamic-gateway/internal/storage"
	"github.com/tjfontaine/dynamic-gateway/internal/storage/memory"
	"github.com/tjfontaine/dynamic-gateway/internal/storage/sqldb"
	"github.com/tjfontaine/dynamic-gateway/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("GW_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("dynamic-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	ctx := context.Background()

	store, err := openRouteStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open route store: %v", err)
	}
	defer store.Close()

	cache, err := cachestore.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to cache store: %v", err)
	}
	defer cache.Close()

	index := routing.NewIndex(store)
	routeLoader := loader.New(store, cfg.Loader.ServicesFile, cfg.Loader.RoutesDir, logger)
	if err := routeLoader.Load(ctx); err != nil {
		log.Fatalf("Failed to load bundled routes: %v", err)
	}
	if err := index.Rebuild(ctx); err != nil {
		log.Fatalf("Failed to build route index: %v", err)
	}

	registry := breaker.NewRegistry(domain.BreakerPolicy{
		FailureRateThreshold:  cfg.Breaker.FailureRateThreshold,
		SlowCallRateThreshold: cfg.Breaker.SlowCallRateThreshold,
		OpenStateWait:         cfg.Breaker.OpenStateWait,
		HalfOpenCalls:         cfg.Breaker.HalfOpenCalls,
		SlidingWindowSize:     cfg.Breaker.SlidingWindowSize,
	}, cfg.Breaker.SlowCallDuration, logger)

	validator := authority.NewClient(cfg.Auth.AuthorityURL, authority.WithTimeout(cfg.Auth.Timeout))

	forwarder := proxy.New(store, registry, cfg.Proxy.Timeout, nil, logger)

	stages := []pipeline.Stage{
		pipeline.NewBreakerGate(index, store, registry, logger),
		pipeline.NewRouteMatcher(index, logger),
		pipeline.NewAuth(cache, validator, pipeline.AuthConfig{
			CachePrefix: cfg.Auth.CachePrefix,
			CacheBuffer: cfg.Auth.CacheBuffer,
			CacheMargin: cfg.Auth.CacheMargin,
		}, logger),
		pipeline.NewResponseCache(cache, pipeline.CacheConfig{
			Prefix:  cfg.Cache.Prefix,
			TTL:     cfg.Cache.TTL,
			Methods: cfg.Cache.MethodSet(),
		}, logger),
	}
	executor := pipeline.NewExecutor(stages, forwarder, logger)

	srv := server.New(cfg.Server.Port, logger)
	srv.MountAdmin("/routes", admin.NewHandler(store, routeLoader, index, logger).Routes())
	srv.SetPipeline(executor)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	case <-sigCh:
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("gateway shutdown complete")
}

func openRouteStore(cfg *config.Config) (storage.RouteStore, error) {
	if cfg.Storage.Driver == "memory" {
		return memory.New(), nil
	}
	return sqldb.New(cfg.Storage.DSN)
}
