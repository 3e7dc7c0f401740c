package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/scribeworks/generation-engine/internal/config"
	"github.com/scribeworks/generation-engine/internal/handler"
	"github.com/scribeworks/generation-engine/internal/infra/postgresql"
	"github.com/scribeworks/generation-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/scribeworks/generation-engine/internal/infra/redis"
	"github.com/scribeworks/generation-engine/internal/observability"
	"github.com/scribeworks/generation-engine/internal/provider"
	"github.com/scribeworks/generation-engine/internal/queue"
	"github.com/scribeworks/generation-engine/internal/repository"
	"github.com/scribeworks/generation-engine/internal/service"
	"github.com/scribeworks/generation-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	currentBatch, err := infraredis.NewCurrentBatchStore(rdb)
	if err != nil {
		logger.Fatal("current batch store initialization failed", zap.Error(err))
	}

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.JobRetryDelay())
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	publisher := queue.NewRabbitMQPublisher(mq)
	consumer := queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, cfg.JobMaxRetries, logger)

	generator, err := provider.NewOpenAIGenerator(
		cfg.ProviderBaseURL,
		cfg.ProviderAPIKey,
		cfg.ProviderModel,
		provider.WithTimeout(cfg.ProviderTimeout()),
		provider.WithMaxAttempts(cfg.ProviderMaxAttempts),
		provider.WithRetryBaseDelay(time.Duration(cfg.ProviderRetryBaseMillis)*time.Millisecond),
	)
	if err != nil {
		logger.Fatal("provider initialization failed", zap.Error(err))
	}

	batchRepo := repository.NewGormBatchRepo(db)
	articleRepo := repository.NewGormArticleRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	metrics := observability.NewMetrics()

	ledger, err := service.NewCompletionLedger(batchRepo, logger)
	if err != nil {
		logger.Fatal("ledger initialization failed", zap.Error(err))
	}
	ledger.SetMetrics(metrics)

	coordinator, err := service.NewBatchCoordinator(batchRepo, publisher, ledger, currentBatch, logger)
	if err != nil {
		logger.Fatal("coordinator initialization failed", zap.Error(err))
	}
	coordinator.SetMetrics(metrics)

	worker, err := service.NewWorkerService(
		batchRepo,
		articleRepo,
		attemptRepo,
		ledger,
		consumer,
		generator,
		rateLimiter,
		cfg.WorkerConcurrency,
		cfg.JobMaxRetries,
		logger,
	)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	monitor, err := service.NewHealthMonitor(
		batchRepo,
		cfg.MonitorInterval(),
		cfg.StuckThreshold(),
		cfg.HardTimeout(),
		logger,
	)
	if err != nil {
		logger.Fatal("health monitor initialization failed", zap.Error(err))
	}
	monitor.SetMetrics(metrics)

	articleService, err := service.NewArticleService(articleRepo)
	if err != nil {
		logger.Fatal("article service initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterGenerationRoutes(app, coordinator, articleService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("generation-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	g.Go(func() error {
		return worker.Start(groupCtx)
	})

	g.Go(func() error {
		return monitor.Start(groupCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("generation-engine terminated", zap.Error(err))
	}

	logger.Info("generation-engine stopped")
}
