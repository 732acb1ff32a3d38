package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ingestedFiles   *prometheus.CounterVec
	llmCalls        *prometheus.CounterVec
	llmDuration     prometheus.Histogram
	toolCalls       *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finsight_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	ingested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_ingested_files_total",
		Help: "Ingested files by source and outcome.",
	}, []string{"source", "outcome"})
	llmCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_llm_calls_total",
		Help: "LLM calls by provider and outcome.",
	}, []string{"provider", "outcome"})
	llmDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "finsight_llm_call_duration_seconds",
		Help:    "LLM call duration.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	})
	toolCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finsight_tool_calls_total",
		Help: "Agent tool invocations by tool and outcome.",
	}, []string{"tool", "outcome"})
	registry.MustRegister(requests, duration, ingested, llmCalls, llmDuration, toolCalls)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		ingestedFiles:   ingested,
		llmCalls:        llmCalls,
		llmDuration:     llmDuration,
		toolCalls:       toolCalls,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(ww.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveIngestedFile counts a processed file.
func (m *Metrics) ObserveIngestedFile(source, outcome string) {
	if m == nil {
		return
	}
	m.ingestedFiles.WithLabelValues(source, outcome).Inc()
}

// ObserveLLMCall counts an LLM round trip.
func (m *Metrics) ObserveLLMCall(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(provider, outcome).Inc()
	m.llmDuration.Observe(elapsed.Seconds())
}

// ObserveToolCall counts an agent tool invocation.
func (m *Metrics) ObserveToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
