package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/finsight-ai/finsight/internal/agent/tools"
	"github.com/finsight-ai/finsight/internal/app"
	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/ingest"
	"github.com/finsight-ai/finsight/internal/insights"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/observability"
	"github.com/finsight-ai/finsight/internal/platform/cache"
	"github.com/finsight-ai/finsight/internal/platform/db"
	"github.com/finsight-ai/finsight/jobs"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGPoolSize)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	financeRepo := finance.NewRepository(pool)
	financeService := finance.NewService(financeRepo, logger)

	ingestRepo := ingest.NewRepository(pool)
	ingestService := ingest.NewService(financeRepo, ingestRepo, ingest.NewNormalizer(nil), metrics, logger, ingest.Config{
		Workers:     cfg.IngestWorkers,
		RetryMax:    cfg.IngestRetryMax,
		BackoffBase: cfg.IngestBackoffBase,
	})

	provider, err := llm.NewProvider(cfg.LLMProvider, llm.Options{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
	})
	if err != nil {
		logger.Error("configure llm provider", slog.Any("error", err))
		os.Exit(1)
	}
	llmClient := llm.NewClient(provider, metrics, logger, llm.ClientConfig{
		Timeout:    cfg.LLMTimeout,
		MaxRetries: cfg.LLMMaxRetries,
		Backoff:    cfg.LLMBackoff,
	})

	registry := tools.NewRegistry(financeService, metrics, cfg.ToolTimeout)
	insightsCache := insights.NewCache(redisClient, cfg.InsightCacheTTL)
	insightsService := insights.NewService(registry, llmClient, insightsCache, logger)

	warmupTask, err := jobs.NewInsightWarmupTask(jobs.InsightWarmupPayload{
		Periods: []string{fmt.Sprintf("%d", time.Now().UTC().Year())},
	})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIngestBatch, Handler: jobs.NewIngestBatchHandler(ingestService, logger)},
			{Type: jobs.TaskInsightWarmup, Handler: jobs.NewInsightWarmupHandler(insightsService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 1 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker shut down")
}
