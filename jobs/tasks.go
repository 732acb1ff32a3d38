// Package jobs wires background processing through Asynq: batch
// ingestion runs off the request path, and a nightly insight warmup
// keeps the cache hot.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/ingest"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIngestBatch processes a submitted file batch.
	TaskIngestBatch = "ingest:batch"
	// TaskInsightWarmup regenerates cached insights for recent periods.
	TaskInsightWarmup = "insights:warmup"
)

// IngestBatchPayload carries a queued batch. The batch id is allocated
// at enqueue time so the client can poll status immediately.
type IngestBatchPayload struct {
	BatchID string   `json:"batch_id"`
	Paths   []string `json:"paths"`
	Sources []string `json:"sources,omitempty"`
}

// NewIngestBatchTask constructs an Asynq task for a batch.
func NewIngestBatchTask(payload IngestBatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIngestBatch, data), nil
}

// NewIngestBatchHandler returns the handler processing queued batches.
func NewIngestBatchHandler(svc *ingest.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IngestBatchPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		sources := make([]finance.SourceType, len(payload.Sources))
		for i, s := range payload.Sources {
			sources[i] = finance.SourceType(s)
		}
		result, err := svc.RunBatch(ctx, payload.BatchID, payload.Paths, sources)
		if err != nil {
			logger.Error("batch ingestion", "batch_id", payload.BatchID, "error", err)
			return err
		}
		logger.Info("batch ingestion finished",
			"batch_id", result.BatchID,
			"status", result.Status,
			"files_successful", result.FilesSuccessful,
			"files_failed", result.FilesFailed)
		return nil
	}
}

// InsightWarmupPayload names the periods to pre-generate.
type InsightWarmupPayload struct {
	Periods []string `json:"periods"`
}

// NewInsightWarmupTask constructs the warmup task.
func NewInsightWarmupTask(payload InsightWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInsightWarmup, data), nil
}

// InsightGenerator is the surface the warmup handler needs.
type InsightGenerator interface {
	Generate(ctx context.Context, kind, period string) error
}

// WarmupKinds are regenerated for each requested period.
var WarmupKinds = []string{"revenue-trends", "expense-analysis", "comprehensive-summary"}

// NewInsightWarmupHandler returns the handler pre-generating insights.
func NewInsightWarmupHandler(gen InsightGenerator, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload InsightWarmupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		for _, period := range payload.Periods {
			for _, kind := range WarmupKinds {
				if err := gen.Generate(ctx, kind, period); err != nil {
					logger.Warn("insight warmup", "kind", kind, "period", period, "error", err)
				}
			}
		}
		return nil
	}
}
