// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"net/http"
)

// ProblemDetail represents RFC7807 problem details with a stable error kind
// and a correlation id for log lookup.
type ProblemDetail struct {
	Kind          string `json:"kind"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, kind, title, detail, correlationID string) {
	JSON(w, status, ProblemDetail{
		Kind:          kind,
		Title:         title,
		Status:        status,
		Detail:        detail,
		CorrelationID: correlationID,
	})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
