package agent

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finsight-ai/finsight/internal/platform/httpx"
	"github.com/finsight-ai/finsight/internal/shared"
)

// Handler serves the natural-language query endpoints.
type Handler struct {
	controller *Controller
}

// NewHandler constructs the agent handler.
func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

// Mount registers routes on the given router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/query", h.handleQuery)
	r.Get("/query/conversations/{id}", h.handleGetConversation)
	r.Delete("/query/conversations/{id}", h.handleDeleteConversation)
}

type queryRequest struct {
	Query          string `json:"query" validate:"required"`
	ConversationID string `json:"conversation_id,omitempty"`
	MaxIterations  *int   `json:"max_iterations,omitempty" validate:"omitempty,min=0,max=20"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, r, "invalid JSON body")
		return
	}
	if err := httpx.Validate(&req); err != nil {
		httpx.BadRequest(w, r, err.Error())
		return
	}
	maxIterations := -1
	if req.MaxIterations != nil {
		maxIterations = *req.MaxIterations
	}

	result, err := h.controller.ProcessQuery(r.Context(), req.Query, req.ConversationID, maxIterations)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messages, ok := h.controller.Memory().Snapshot(id)
	if !ok {
		httpx.RespondError(w, r, shared.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        messages,
	})
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.controller.Memory().Delete(id) {
		httpx.RespondError(w, r, shared.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": id})
}
