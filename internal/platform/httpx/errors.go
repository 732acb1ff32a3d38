package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/internal/shared"
)

// RespondError maps domain errors to problem-details responses.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	correlationID := middleware.GetReqID(r.Context())
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	status := http.StatusInternalServerError
	title := "Internal Error"
	detail := ""

	switch {
	case errors.Is(err, shared.ErrNotFound):
		status, title, detail = http.StatusNotFound, "Not Found", err.Error()
	case errors.Is(err, shared.ErrParse):
		status, title, detail = http.StatusBadRequest, "Parse Error", err.Error()
	case errors.Is(err, shared.ErrValidation):
		status, title, detail = http.StatusUnprocessableEntity, "Validation Failed", err.Error()
	case errors.Is(err, shared.ErrConflict):
		status, title, detail = http.StatusConflict, "Conflict", err.Error()
	case errors.Is(err, shared.ErrRateLimited):
		status, title, detail = http.StatusTooManyRequests, "Rate Limited", err.Error()
	case errors.Is(err, shared.ErrStoreTransient), errors.Is(err, shared.ErrLLMUnavailable):
		status, title, detail = http.StatusServiceUnavailable, "Dependency Unavailable", err.Error()
	}

	Problem(w, status, shared.Kind(err), title, detail, correlationID)
}

// BadRequest sends a 400 validation problem for malformed request input.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	correlationID := middleware.GetReqID(r.Context())
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	Problem(w, http.StatusBadRequest, "validation_error", "Bad Request", detail, correlationID)
}
