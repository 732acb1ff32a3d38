package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/finsight-ai/finsight/internal/agent"
	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/ingest"
	insighthttp "github.com/finsight-ai/finsight/internal/insights/http"
	"github.com/finsight-ai/finsight/internal/observability"
	"github.com/finsight-ai/finsight/internal/platform/httpx"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	FinanceHandler  *finance.Handler
	IngestHandler   *ingest.Handler
	AgentHandler    *agent.Handler
	InsightsHandler *insighthttp.Handler
	Pool            *pgxpool.Pool
	Redis           *redis.Client
	LLMProvider     string
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/detailed", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{"postgres": "ok", "redis": "ok"}
		status := http.StatusOK
		if params.Pool != nil {
			if err := params.Pool.Ping(ctx); err != nil {
				checks["postgres"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if params.Redis != nil {
			if err := params.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		// The LLM is not probed with a live call; report configuration only.
		if params.LLMProvider != "" {
			checks["llm"] = "configured: " + params.LLMProvider
		} else {
			checks["llm"] = "not configured"
		}
		httpx.JSON(w, status, map[string]any{
			"status": http.StatusText(status),
			"checks": checks,
		})
	})

	r.Route("/api/v1", func(api chi.Router) {
		if params.FinanceHandler != nil {
			params.FinanceHandler.Mount(api)
		}
		if params.IngestHandler != nil {
			params.IngestHandler.Mount(api)
		}
		if params.AgentHandler != nil {
			params.AgentHandler.Mount(api)
		}
		if params.InsightsHandler != nil {
			params.InsightsHandler.MountRoutes(api)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
