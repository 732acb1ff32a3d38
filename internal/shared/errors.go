package shared

import "errors"

// Error kinds recognised at the HTTP boundary and inside the agent loop.
var (
	// ErrNotFound indicates a query matched no rows.
	ErrNotFound = errors.New("not found")
	// ErrParse indicates malformed input data; never retried.
	ErrParse = errors.New("parse error")
	// ErrValidation indicates a rule-set failure with an issue list.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates simultaneous writes to the same record key.
	ErrConflict = errors.New("conflict")
	// ErrStoreTransient indicates a recoverable database failure.
	ErrStoreTransient = errors.New("transient store error")
	// ErrLLMTransient indicates a retryable LLM failure (timeout, 5xx, rate limit).
	ErrLLMTransient = errors.New("transient llm error")
	// ErrLLMUnavailable indicates LLM retries were exhausted.
	ErrLLMUnavailable = errors.New("llm unavailable")
	// ErrRateLimited indicates the caller should back off.
	ErrRateLimited = errors.New("rate limited")
	// ErrConfiguration indicates invalid startup configuration.
	ErrConfiguration = errors.New("configuration error")
)

// Kind returns the stable machine-readable kind for an error.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "data_not_found"
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrConflict):
		return "conflict_error"
	case errors.Is(err, ErrStoreTransient):
		return "store_transient_error"
	case errors.Is(err, ErrLLMTransient):
		return "llm_transient_error"
	case errors.Is(err, ErrLLMUnavailable):
		return "llm_unavailable"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	default:
		return "internal_error"
	}
}
