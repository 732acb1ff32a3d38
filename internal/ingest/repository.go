package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finsight-ai/finsight/internal/shared"
)

// Repository persists batch headers and the per-file audit trail.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateBatch inserts a batch header in processing state.
func (r *Repository) CreateBatch(ctx context.Context, batchID string, filesTotal int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ingestion_batches (batch_id, status, files_total, started_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (batch_id) DO UPDATE SET status = EXCLUDED.status`, batchID, StatusProcessing, filesTotal)
	if err != nil {
		return fmt.Errorf("create batch %s: %w", batchID, err)
	}
	return nil
}

// FinishBatch closes a batch header with its final tallies.
func (r *Repository) FinishBatch(ctx context.Context, batchID string, status Status, filesOK, filesFailed int, summary map[string]any) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE ingestion_batches
		SET status = $2, files_ok = $3, files_failed = $4, summary = $5, completed_at = NOW()
		WHERE batch_id = $1`, batchID, status, filesOK, filesFailed, summary)
	if err != nil {
		return fmt.Errorf("finish batch %s: %w", batchID, err)
	}
	return nil
}

// AppendAudit records one pipeline phase outcome.
func (r *Repository) AppendAudit(ctx context.Context, entry AuditEntry) error {
	var issues any
	if len(entry.Issues) > 0 {
		raw, err := json.Marshal(entry.Issues)
		if err != nil {
			return fmt.Errorf("marshal audit issues: %w", err)
		}
		issues = raw
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ingestion_audit (batch_id, file, phase, started_at, ended_at, outcome, issues_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.BatchID, entry.File, entry.Phase, entry.StartedAt, entry.EndedAt, entry.Outcome, issues)
	if err != nil {
		return fmt.Errorf("append audit for %s: %w", entry.BatchID, err)
	}
	return nil
}

// GetBatch returns one batch header.
func (r *Repository) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	var b Batch
	err := r.pool.QueryRow(ctx, `
		SELECT batch_id, status, files_total, files_ok, files_failed, started_at, completed_at, summary
		FROM ingestion_batches WHERE batch_id = $1`, batchID,
	).Scan(&b.BatchID, &b.Status, &b.FilesTotal, &b.FilesOK, &b.FilesFailed, &b.StartedAt, &b.CompletedAt, &b.Summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", shared.ErrNotFound, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", batchID, err)
	}
	return &b, nil
}

// ListBatches returns recent batch headers, newest first.
func (r *Repository) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT batch_id, status, files_total, files_ok, files_failed, started_at, completed_at, summary
		FROM ingestion_batches ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.BatchID, &b.Status, &b.FilesTotal, &b.FilesOK, &b.FilesFailed,
			&b.StartedAt, &b.CompletedAt, &b.Summary); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// ListAudit returns the audit trail for one batch in insertion order.
func (r *Repository) ListAudit(ctx context.Context, batchID string) ([]AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT batch_id, file, phase, started_at, ended_at, outcome, issues_json
		FROM ingestion_audit WHERE batch_id = $1 ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list audit %s: %w", batchID, err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var issues []byte
		if err := rows.Scan(&e.BatchID, &e.File, &e.Phase, &e.StartedAt, &e.EndedAt, &e.Outcome, &issues); err != nil {
			return nil, err
		}
		if len(issues) > 0 {
			if err := json.Unmarshal(issues, &e.Issues); err != nil {
				return nil, fmt.Errorf("decode audit issues: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
