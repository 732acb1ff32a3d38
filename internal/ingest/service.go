package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/observability"
	"github.com/finsight-ai/finsight/internal/shared"
)

// RecordStore is the persistence surface the orchestrator writes through.
type RecordStore interface {
	UpsertRecord(ctx context.Context, rec *finance.FinancialRecord, accounts []finance.Account, values []finance.AccountValue) (bool, error)
	UpsertAccounts(ctx context.Context, accounts []finance.Account) error
	UpdateRawData(ctx context.Context, id string, raw map[string]any) error
	FindOverlapping(ctx context.Context, start, end time.Time, currency string, exclude finance.SourceType) (*finance.FinancialRecord, error)
	DeleteRecord(ctx context.Context, id string) error
}

// AuditStore persists batch headers and per-file audit entries.
type AuditStore interface {
	CreateBatch(ctx context.Context, batchID string, filesTotal int) error
	FinishBatch(ctx context.Context, batchID string, status Status, filesOK, filesFailed int, summary map[string]any) error
	AppendAudit(ctx context.Context, entry AuditEntry) error
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	ListBatches(ctx context.Context, limit int) ([]Batch, error)
	ListAudit(ctx context.Context, batchID string) ([]AuditEntry, error)
}

// Config bounds the orchestrator's concurrency and retry policy.
type Config struct {
	Workers     int
	RetryMax    int
	BackoffBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	return c
}

// Service drives detect, parse, validate, normalize, persist for single
// files and batches.
type Service struct {
	records    RecordStore
	audit      AuditStore
	validator  *Validator
	normalizer *Normalizer
	metrics    *observability.Metrics
	logger     *slog.Logger
	cfg        Config
}

// NewService constructs the orchestrator.
func NewService(records RecordStore, audit AuditStore, normalizer *Normalizer, metrics *observability.Metrics, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		records:    records,
		audit:      audit,
		validator:  NewValidator(),
		normalizer: normalizer,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
}

// IngestFile processes one file from disk and tracks it as a single-file
// batch in the audit trail.
func (s *Service) IngestFile(ctx context.Context, path string, source finance.SourceType) (FileResult, error) {
	batchID := uuid.NewString()
	if s.audit != nil {
		if err := s.audit.CreateBatch(ctx, batchID, 1); err != nil {
			return FileResult{}, err
		}
	}
	result := s.processFile(ctx, batchID, path, source)
	s.closeBatch(ctx, batchID, []FileResult{result})
	return result, nil
}

// IngestBatch processes files concurrently with a bounded worker pool.
// Per-file failures never abort the batch.
func (s *Service) IngestBatch(ctx context.Context, paths []string, sources []finance.SourceType) (BatchResult, error) {
	return s.RunBatch(ctx, uuid.NewString(), paths, sources)
}

// RunBatch is IngestBatch with a caller-supplied id, used by the async
// worker so the id handed to the client matches the stored batch.
func (s *Service) RunBatch(ctx context.Context, batchID string, paths []string, sources []finance.SourceType) (BatchResult, error) {
	started := time.Now()
	if s.audit != nil {
		if err := s.audit.CreateBatch(ctx, batchID, len(paths)); err != nil {
			return BatchResult{}, err
		}
	}

	results := make([]FileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, path := range paths {
		i, path := i, path
		var source finance.SourceType
		if i < len(sources) {
			source = sources[i]
		}
		g.Go(func() error {
			results[i] = s.processFile(gctx, batchID, path, source)
			return nil
		})
	}
	_ = g.Wait()

	batch := s.closeBatch(ctx, batchID, results)
	batch.Duration = time.Since(started)
	return batch, nil
}

// PrepareBatch records a batch header before it is queued so clients
// can poll status immediately after submission.
func (s *Service) PrepareBatch(ctx context.Context, batchID string, filesTotal int) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.CreateBatch(ctx, batchID, filesTotal)
}

// Status reports one batch with its audit trail, or recent history when
// no id is given.
func (s *Service) Status(ctx context.Context, batchID string) (*StatusReport, error) {
	if batchID == "" {
		recent, err := s.audit.ListBatches(ctx, 20)
		if err != nil {
			return nil, err
		}
		return &StatusReport{Recent: recent}, nil
	}
	batch, err := s.audit.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	entries, err := s.audit.ListAudit(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &StatusReport{Batch: batch, Entries: entries}, nil
}

func (s *Service) closeBatch(ctx context.Context, batchID string, results []FileResult) BatchResult {
	batch := BatchResult{BatchID: batchID, FilesTotal: len(results), Results: results}
	for _, r := range results {
		if r.Status == StatusCompleted || r.Status == StatusPartiallyCompleted {
			batch.FilesSuccessful++
		} else {
			batch.FilesFailed++
		}
	}
	switch {
	case batch.FilesFailed == 0:
		batch.Status = StatusCompleted
	case batch.FilesSuccessful == 0 && batch.FilesTotal > 0:
		batch.Status = StatusFailed
	default:
		batch.Status = StatusPartiallyCompleted
	}

	if s.audit != nil {
		summary := map[string]any{
			"files_successful": batch.FilesSuccessful,
			"files_failed":     batch.FilesFailed,
		}
		if err := s.audit.FinishBatch(ctx, batchID, batch.Status, batch.FilesSuccessful, batch.FilesFailed, summary); err != nil {
			s.logger.Error("finish batch", "batch_id", batchID, "error", err)
		}
	}
	return batch
}

// processFile runs the whole pipeline for one file and audits each phase.
func (s *Service) processFile(ctx context.Context, batchID, path string, source finance.SourceType) FileResult {
	started := time.Now()
	result := FileResult{File: path, Status: StatusProcessing}

	data, err := os.ReadFile(path)
	if err != nil {
		return s.failFile(ctx, batchID, result, started, "parse",
			fmt.Errorf("%w: read %s: %v", shared.ErrParse, path, err))
	}
	result = s.IngestBytes(ctx, batchID, path, data, source)
	result.Duration = time.Since(started)
	return result
}

// IngestBytes runs the pipeline over in-memory content, used both for
// files on disk and uploaded request bodies.
func (s *Service) IngestBytes(ctx context.Context, batchID, name string, data []byte, source finance.SourceType) FileResult {
	started := time.Now()
	result := FileResult{File: name, Status: StatusProcessing}

	if source == "" {
		detected, err := Detect(data)
		if err != nil {
			return s.failFile(ctx, batchID, result, started, "detect", err)
		}
		source = detected
	} else if !source.Valid() {
		return s.failFile(ctx, batchID, result, started, "detect",
			fmt.Errorf("%w: unknown source %q", shared.ErrValidation, source))
	}
	result.Source = source

	parser, err := ParserFor(source)
	if err != nil {
		return s.failFile(ctx, batchID, result, started, "parse", err)
	}
	candidates, err := parser.Parse(data)
	if err != nil {
		return s.failFile(ctx, batchID, result, started, "parse", err)
	}
	s.auditPhase(ctx, batchID, name, "parse", started, "ok", nil)

	validateStart := time.Now()
	merged := ValidationResult{IsValid: true, QualityScore: 1.0}
	var toPersist []Candidate
	for _, cand := range candidates {
		report := s.validator.Validate(cand)
		merged.Issues = append(merged.Issues, report.Issues...)
		if report.QualityScore < merged.QualityScore {
			merged.QualityScore = report.QualityScore
		}
		if !report.IsValid {
			merged.IsValid = false
			result.RecordsRejected++
			continue
		}
		toPersist = append(toPersist, cand)
	}
	result.Validation = &merged
	s.auditPhase(ctx, batchID, name, "validate", validateStart, validateOutcome(merged), merged.Issues)

	persistStart := time.Now()
	var persistErr error
	for _, cand := range toPersist {
		created, err := s.persistCandidate(ctx, &cand)
		if err != nil {
			persistErr = err
			result.RecordsRejected++
			s.logger.Error("persist record", "file", name, "record", cand.Record.ID, "error", err)
			continue
		}
		if created {
			result.RecordsCreated++
		} else {
			result.RecordsUpdated++
		}
	}
	result.RecordsProcessed = result.RecordsCreated + result.RecordsUpdated + result.RecordsRejected

	switch {
	case result.RecordsRejected == 0 && persistErr == nil:
		result.Status = StatusCompleted
	case result.RecordsCreated+result.RecordsUpdated > 0:
		result.Status = StatusPartiallyCompleted
	default:
		result.Status = StatusFailed
		if persistErr != nil {
			result.ErrorMessage = persistErr.Error()
		} else {
			result.ErrorMessage = "all records failed validation"
		}
	}
	s.auditPhase(ctx, batchID, name, "persist", persistStart, string(result.Status), nil)
	s.observe(source, result.Status)
	result.Duration = time.Since(started)
	return result
}

// persistCandidate finalizes one candidate and writes it, resolving a
// cross-source conflict when another source already covers the period.
func (s *Service) persistCandidate(ctx context.Context, cand *Candidate) (created bool, err error) {
	s.normalizer.Finalize(cand)
	rec := &cand.Record

	var existing *finance.FinancialRecord
	err = s.withRetry(ctx, func() error {
		var ferr error
		existing, ferr = s.records.FindOverlapping(ctx, rec.PeriodStart, rec.PeriodEnd, rec.Currency, rec.Source)
		return ferr
	})
	if err != nil {
		return false, err
	}

	if existing == nil {
		err = s.withRetry(ctx, func() error {
			var uerr error
			created, uerr = s.records.UpsertRecord(ctx, rec, cand.Accounts, cand.Values)
			return uerr
		})
		return created, err
	}

	res := s.normalizer.Resolve(rec, existing)
	if !res.IncomingWon {
		// Existing record stands; merge the incoming account forest and
		// attribute the losing scalars.
		err = s.withRetry(ctx, func() error {
			return s.records.UpsertAccounts(ctx, cand.Accounts)
		})
		if err != nil {
			return false, err
		}
		err = s.withRetry(ctx, func() error {
			return s.records.UpdateRawData(ctx, existing.ID, existing.RawData)
		})
		return false, err
	}

	err = s.withRetry(ctx, func() error {
		derr := s.records.DeleteRecord(ctx, res.LoserID)
		if errors.Is(derr, shared.ErrNotFound) {
			return nil
		}
		return derr
	})
	if err != nil {
		return false, err
	}
	err = s.withRetry(ctx, func() error {
		var uerr error
		created, uerr = s.records.UpsertRecord(ctx, rec, cand.Accounts, cand.Values)
		return uerr
	})
	return created, err
}

// withRetry retries transient store failures with exponential backoff.
// Parse and validation errors are never retried.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	backoff := s.cfg.BackoffBase
	for attempt := 1; attempt <= s.cfg.RetryMax; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, shared.ErrStoreTransient) {
			return err
		}
		if attempt == s.cfg.RetryMax {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (s *Service) failFile(ctx context.Context, batchID string, result FileResult, started time.Time, phase string, err error) FileResult {
	result.Status = StatusFailed
	result.ErrorMessage = err.Error()
	result.Duration = time.Since(started)
	s.auditPhase(ctx, batchID, result.File, phase, started, "failed", []Issue{
		{Severity: SeverityCritical, Code: "PIPELINE", Message: err.Error()},
	})
	s.observe(result.Source, result.Status)
	return result
}

func (s *Service) auditPhase(ctx context.Context, batchID, file, phase string, started time.Time, outcome string, issues []Issue) {
	if s.audit == nil || batchID == "" {
		return
	}
	ended := time.Now()
	entry := AuditEntry{
		BatchID:   batchID,
		File:      file,
		Phase:     phase,
		StartedAt: started,
		EndedAt:   &ended,
		Outcome:   outcome,
		Issues:    issues,
	}
	if err := s.audit.AppendAudit(ctx, entry); err != nil {
		s.logger.Error("append audit", "batch_id", batchID, "phase", phase, "error", err)
	}
}

func (s *Service) observe(source finance.SourceType, status Status) {
	if s.metrics == nil {
		return
	}
	label := string(source)
	if label == "" {
		label = "unknown"
	}
	s.metrics.ObserveIngestedFile(label, string(status))
}

func validateOutcome(r ValidationResult) string {
	if r.IsValid {
		return "ok"
	}
	return "invalid"
}
