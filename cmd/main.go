package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kkkkikiki/couponhub/internal/api"
	"github.com/kkkkikiki/couponhub/internal/cache"
	"github.com/kkkkikiki/couponhub/internal/codegen"
	"github.com/kkkkikiki/couponhub/internal/config"
	"github.com/kkkkikiki/couponhub/internal/database"
	"github.com/kkkkikiki/couponhub/internal/event"
	"github.com/kkkkikiki/couponhub/internal/handler"
	"github.com/kkkkikiki/couponhub/internal/logger"
	"github.com/kkkkikiki/couponhub/internal/repository"
	"github.com/kkkkikiki/couponhub/internal/repository/memory"
	"github.com/kkkkikiki/couponhub/internal/service"
	"github.com/kkkkikiki/couponhub/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "coupon service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.App.ServiceName, cfg.App.EffectiveLogLevel())
	log.Info("starting coupon service",
		slog.String("environment", cfg.App.Environment),
		slog.String("store", cfg.Database.Driver),
	)

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var campaignCache service.CampaignCache
	if cfg.Redis.Enabled() {
		client, err := database.NewRedis(ctx, &cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Error("error closing redis client", slog.String("error", err.Error()))
			}
		}()
		campaignCache = cache.NewCampaignCache(client, cfg.Redis.CampaignTTL)
	}

	var publisher service.Publisher = event.NopPublisher{}
	if cfg.Kafka.Enabled() {
		producer := event.NewProducer(event.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			Async:        cfg.Kafka.Async,
		}, cfg.App.ServiceName, log)
		defer func() {
			if err := producer.Close(); err != nil {
				log.Error("error closing kafka producer", slog.String("error", err.Error()))
			}
		}()
		publisher = producer
		log.Info("kafka publishing enabled", slog.Any("brokers", cfg.Kafka.Brokers))
	}

	pool := worker.NewPool(cfg.Generation.Workers, cfg.Generation.QueueSize, log)

	registry := service.NewCampaignRegistry(store, campaignCache, log)
	issuer := service.NewBatchIssuer(registry, store, store, pool, codegen.New(), publisher, service.IssuerConfig{
		ChunkSize:     cfg.Generation.ChunkSize,
		DefaultExpiry: cfg.Generation.DefaultExpiry,
		EstimatedRate: cfg.Generation.EstimatedRate,
		MaxRetries:    cfg.Generation.MaxRetries,
		Topic:         cfg.Kafka.TopicGeneration,
	}, log)
	coordinator := service.NewRedemptionCoordinator(store, store, registry, publisher, cfg.Kafka.TopicRedemptions, log)
	stats := service.NewStatsAggregator(store, log)

	couponServer := service.NewCouponServer(registry, issuer, coordinator, stats, log)
	rpcPath, rpcHandler := api.NewCouponServiceHandler(couponServer)

	router := handler.NewRouter(
		handler.NewCouponHandler(registry, issuer, coordinator, stats, log),
		handler.NewHealthHandler(cfg.App.ServiceName, store, log),
		rpcPath, rpcHandler, log,
	)

	// Create server with configuration optimized for high concurrency
	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(router, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("serve: %w", err)
	case sig := <-quit:
		log.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", slog.String("error", err.Error()))
	}

	// Queued generation work drains until the deadline, then running tasks
	// are cancelled and record their failed status before the store closes.
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Error("worker pool did not drain", slog.String("error", err.Error()))
	}

	log.Info("server exited gracefully")
	return nil
}

// openStore returns the configured store and a function that releases it.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (service.Store, func(), error) {
	if cfg.Database.Driver == "memory" {
		if !cfg.App.IsDevelopment() {
			log.Warn("using in-memory store; data is lost on restart",
				slog.String("environment", cfg.App.Environment))
		}
		return memory.New(), func() {}, nil
	}

	db, err := database.NewDB(ctx, &cfg.Database, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database connections", slog.String("error", err.Error()))
		}
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db.Postgres, log); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("migrate schema: %w", err)
		}
	}

	return repository.NewStore(db.Postgres), closeDB, nil
}
