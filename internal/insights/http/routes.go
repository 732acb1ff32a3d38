// Package insighthttp serves the generated-insight endpoints.
package insighthttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/finsight-ai/finsight/internal/insights"
	"github.com/finsight-ai/finsight/internal/platform/httpx"
)

// Handler serves cached insight reports.
type Handler struct {
	service *insights.Service
}

// NewHandler constructs the insights handler.
func NewHandler(service *insights.Service) *Handler {
	return &Handler{service: service}
}

// MountRoutes registers insight endpoints onto the router. Generation
// is rate limited per client: a cache miss costs several queries plus
// an LLM call.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(30, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/insights/summary", h.handleSummary)
		gr.Get("/insights/{kind}", h.handleInsight)
	})
	r.Delete("/insights/cache", h.handleClearCache)
}

func (h *Handler) handleInsight(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	insight, err := h.service.Get(r.Context(), kind, r.URL.Query().Get("period"))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, insight)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	insight, err := h.service.Get(r.Context(), insights.KindComprehensiveSummary, r.URL.Query().Get("period"))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, insight)
}

func (h *Handler) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearCache(r.Context()); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cache_cleared": true})
}
