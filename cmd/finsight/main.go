package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/finsight-ai/finsight/internal/agent"
	"github.com/finsight-ai/finsight/internal/agent/tools"
	"github.com/finsight-ai/finsight/internal/app"
	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/ingest"
	"github.com/finsight-ai/finsight/internal/insights"
	insighthttp "github.com/finsight-ai/finsight/internal/insights/http"
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
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// Insights fall back to uncached generation; async batches are
		// rejected at the handler.
		logger.Warn("redis unavailable, caching and queueing degraded", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	financeRepo := finance.NewRepository(pool)
	financeService := finance.NewService(financeRepo, logger)
	financeHandler := finance.NewHandler(financeService)

	ingestRepo := ingest.NewRepository(pool)
	ingestService := ingest.NewService(financeRepo, ingestRepo, ingest.NewNormalizer(nil), metrics, logger, ingest.Config{
		Workers:     cfg.IngestWorkers,
		RetryMax:    cfg.IngestRetryMax,
		BackoffBase: cfg.IngestBackoffBase,
	})

	var enqueue ingest.EnqueueFunc
	if redisClient != nil {
		jobsClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := jobsClient.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
		}()
		enqueue = func(ctx context.Context, batchID string, paths, sources []string) error {
			return jobsClient.EnqueueIngestBatch(ctx, jobs.IngestBatchPayload{
				BatchID: batchID,
				Paths:   paths,
				Sources: sources,
			})
		}
	}
	ingestHandler := ingest.NewHandler(ingestService, enqueue)

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

	memory := agent.NewMemory(cfg.ConversationMaxMessages, cfg.ConversationTTL)
	go memory.Reap(ctx, 0)
	controller := agent.NewController(llmClient, registry, memory, logger, agent.Config{
		MaxIterations: cfg.AgentMaxIterations,
		QueryTimeout:  cfg.QueryTimeout,
	})
	agentHandler := agent.NewHandler(controller)

	insightsCache := insights.NewCache(redisClient, cfg.InsightCacheTTL)
	insightsService := insights.NewService(registry, llmClient, insightsCache, logger)
	insightsHandler := insighthttp.NewHandler(insightsService)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		FinanceHandler:  financeHandler,
		IngestHandler:   ingestHandler,
		AgentHandler:    agentHandler,
		InsightsHandler: insightsHandler,
		Pool:            pool,
		Redis:           redisClient,
		LLMProvider:     provider.Name(),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
