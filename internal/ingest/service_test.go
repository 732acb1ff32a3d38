package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/shared"
)

type storedRecord struct {
	record   finance.FinancialRecord
	accounts []finance.Account
	values   []finance.AccountValue
}

// memRecordStore keeps records in memory and can inject transient
// failures ahead of UpsertRecord calls.
type memRecordStore struct {
	mu                sync.Mutex
	records           map[string]storedRecord
	upsertCalls       int
	transientUpserts  int
	upsertAccountArgs [][]finance.Account
	deletedIDs        []string
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{records: map[string]storedRecord{}}
}

func (s *memRecordStore) UpsertRecord(ctx context.Context, rec *finance.FinancialRecord, accounts []finance.Account, values []finance.AccountValue) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	if s.transientUpserts > 0 {
		s.transientUpserts--
		return false, shared.ErrStoreTransient
	}
	_, exists := s.records[rec.ID]
	s.records[rec.ID] = storedRecord{record: *rec, accounts: accounts, values: values}
	return !exists, nil
}

func (s *memRecordStore) UpsertAccounts(ctx context.Context, accounts []finance.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertAccountArgs = append(s.upsertAccountArgs, accounts)
	return nil
}

func (s *memRecordStore) UpdateRawData(ctx context.Context, id string, raw map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.records[id]
	if !ok {
		return shared.ErrNotFound
	}
	stored.record.RawData = raw
	s.records[id] = stored
	return nil
}

func (s *memRecordStore) FindOverlapping(ctx context.Context, start, end time.Time, currency string, exclude finance.SourceType) (*finance.FinancialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.records {
		rec := stored.record
		if rec.Source == exclude || rec.Currency != currency {
			continue
		}
		if !rec.PeriodEnd.Before(start) && !rec.PeriodStart.After(end) {
			found := rec
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memRecordStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return shared.ErrNotFound
	}
	delete(s.records, id)
	s.deletedIDs = append(s.deletedIDs, id)
	return nil
}

// memAuditStore collects batch headers and audit entries.
type memAuditStore struct {
	mu      sync.Mutex
	batches map[string]*Batch
	entries []AuditEntry
}

func newMemAuditStore() *memAuditStore {
	return &memAuditStore{batches: map[string]*Batch{}}
}

func (s *memAuditStore) CreateBatch(ctx context.Context, batchID string, filesTotal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batchID] = &Batch{BatchID: batchID, Status: StatusProcessing, FilesTotal: filesTotal, StartedAt: time.Now()}
	return nil
}

func (s *memAuditStore) FinishBatch(ctx context.Context, batchID string, status Status, filesOK, filesFailed int, summary map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return shared.ErrNotFound
	}
	now := time.Now()
	batch.Status = status
	batch.FilesOK = filesOK
	batch.FilesFailed = filesFailed
	batch.CompletedAt = &now
	batch.Summary = summary
	return nil
}

func (s *memAuditStore) AppendAudit(ctx context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memAuditStore) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *batch
	return &copied, nil
}

func (s *memAuditStore) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Batch
	for _, b := range s.batches {
		out = append(out, *b)
	}
	return out, nil
}

func (s *memAuditStore) ListAudit(ctx context.Context, batchID string) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuditEntry
	for _, e := range s.entries {
		if e.BatchID == batchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memAuditStore) phases(file string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.entries {
		if e.File == file {
			out = append(out, e.Phase)
		}
	}
	return out
}

func newTestService(records *memRecordStore, audit *memAuditStore) *Service {
	return NewService(records, audit, NewNormalizer(nil), nil, nil, Config{BackoffBase: time.Millisecond})
}

func writeFixture(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func checkProcessedInvariant(t *testing.T, r FileResult) {
	t.Helper()
	if r.RecordsProcessed != r.RecordsCreated+r.RecordsUpdated+r.RecordsRejected {
		t.Errorf("processed %d != created %d + updated %d + rejected %d",
			r.RecordsProcessed, r.RecordsCreated, r.RecordsUpdated, r.RecordsRejected)
	}
}

func TestIngestFileYearOfMonths(t *testing.T) {
	records := newMemRecordStore()
	audit := newMemAuditStore()
	svc := newTestService(records, audit)

	path := writeFixture(t, "pl.json", monthlyPL(12, "10000.00", "6000.00"))
	result, err := svc.IngestFile(context.Background(), path, "")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status %s (%s)", result.Status, result.ErrorMessage)
	}
	if result.Source != finance.SourceQuickBooks {
		t.Errorf("detected source %s", result.Source)
	}
	if result.RecordsCreated != 12 || result.RecordsRejected != 0 {
		t.Errorf("created %d rejected %d", result.RecordsCreated, result.RecordsRejected)
	}
	checkProcessedInvariant(t, result)
	if result.Validation == nil || result.Validation.QualityScore != 1.0 {
		t.Errorf("validation: %+v", result.Validation)
	}
	if len(records.records) != 12 {
		t.Errorf("stored %d records", len(records.records))
	}
	if got := audit.phases(path); strings.Join(got, ",") != "parse,validate,persist" {
		t.Errorf("audit phases %v", got)
	}
}

func TestIngestFileIsIdempotent(t *testing.T) {
	records := newMemRecordStore()
	svc := newTestService(records, newMemAuditStore())
	path := writeFixture(t, "pl.json", monthlyPL(3, "100.00", "40.00"))

	if _, err := svc.IngestFile(context.Background(), path, finance.SourceQuickBooks); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	result, err := svc.IngestFile(context.Background(), path, finance.SourceQuickBooks)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if result.RecordsCreated != 0 || result.RecordsUpdated != 3 {
		t.Fatalf("re-ingest created %d updated %d", result.RecordsCreated, result.RecordsUpdated)
	}
	checkProcessedInvariant(t, result)
	if len(records.records) != 3 {
		t.Fatalf("stored %d records", len(records.records))
	}
}

func TestIngestRejectsBrokenBalance(t *testing.T) {
	records := newMemRecordStore()
	svc := newTestService(records, newMemAuditStore())
	// net_profit disagrees with revenue minus expenses.
	data := []byte(`{"data": [` + rootfiPeriodJSON("2024-01-01", "2024-01-31", "100.00", "40.00", "50.00") + `]}`)
	path := writeFixture(t, "rootfi.json", data)

	result, err := svc.IngestFile(context.Background(), path, "")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status %s", result.Status)
	}
	if result.RecordsRejected != 1 || len(records.records) != 0 {
		t.Fatalf("rejected %d stored %d", result.RecordsRejected, len(records.records))
	}
	checkProcessedInvariant(t, result)
	if result.Validation == nil || result.Validation.IsValid {
		t.Fatalf("validation: %+v", result.Validation)
	}
}

func TestIngestBatchMixedOutcomes(t *testing.T) {
	audit := newMemAuditStore()
	svc := newTestService(newMemRecordStore(), audit)
	good := writeFixture(t, "good.json", monthlyPL(2, "10.00", "4.00"))

	batch, err := svc.IngestBatch(context.Background(), []string{good, "/does/not/exist.json"}, nil)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if batch.Status != StatusPartiallyCompleted {
		t.Fatalf("batch status %s", batch.Status)
	}
	if batch.FilesSuccessful != 1 || batch.FilesFailed != 1 {
		t.Fatalf("successful %d failed %d", batch.FilesSuccessful, batch.FilesFailed)
	}

	stored, err := audit.GetBatch(context.Background(), batch.BatchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if stored.Status != StatusPartiallyCompleted || stored.FilesOK != 1 {
		t.Fatalf("persisted batch: %+v", stored)
	}
}

func TestRunBatchEmpty(t *testing.T) {
	svc := newTestService(newMemRecordStore(), newMemAuditStore())
	batch, err := svc.RunBatch(context.Background(), "batch-empty", nil, nil)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if batch.Status != StatusCompleted || batch.FilesTotal != 0 {
		t.Fatalf("empty batch: %+v", batch)
	}
}

func TestIngestRetriesTransientStoreErrors(t *testing.T) {
	records := newMemRecordStore()
	records.transientUpserts = 2
	svc := newTestService(records, newMemAuditStore())
	path := writeFixture(t, "pl.json", monthlyPL(1, "10.00", "4.00"))

	result, err := svc.IngestFile(context.Background(), path, finance.SourceQuickBooks)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != StatusCompleted || result.RecordsCreated != 1 {
		t.Fatalf("result: %+v", result)
	}
	if records.upsertCalls != 3 {
		t.Fatalf("upsert calls %d", records.upsertCalls)
	}
}

func TestIngestFailsAfterRetryExhaustion(t *testing.T) {
	records := newMemRecordStore()
	records.transientUpserts = 100
	svc := newTestService(records, newMemAuditStore())
	path := writeFixture(t, "pl.json", monthlyPL(1, "10.00", "4.00"))

	result, err := svc.IngestFile(context.Background(), path, finance.SourceQuickBooks)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Status != StatusFailed || result.ErrorMessage == "" {
		t.Fatalf("result: %+v", result)
	}
	checkProcessedInvariant(t, result)
	if records.upsertCalls != 5 {
		t.Fatalf("upsert calls %d, want retry cap", records.upsertCalls)
	}
}

func TestIngestResolvesCrossSourceConflict(t *testing.T) {
	records := newMemRecordStore()
	svc := newTestService(records, newMemAuditStore())

	// A lower priority source already covers January.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	loserID := finance.RecordID(finance.SourceRootfi, start, end, "USD")
	records.records[loserID] = storedRecord{record: finance.FinancialRecord{
		ID: loserID, Source: finance.SourceRootfi,
		PeriodStart: start, PeriodEnd: end, Currency: "USD",
		Revenue:   decimal.RequireFromString("14500.00"),
		Expenses:  decimal.RequireFromString("9000.00"),
		NetProfit: decimal.RequireFromString("5500.00"),
	}}

	path := writeFixture(t, "pl.json", monthlyPL(1, "15000.00", "9000.00"))
	result, err := svc.IngestFile(context.Background(), path, finance.SourceQuickBooks)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.RecordsCreated != 1 {
		t.Fatalf("result: %+v", result)
	}
	if len(records.deletedIDs) != 1 || records.deletedIDs[0] != loserID {
		t.Fatalf("deleted %v", records.deletedIDs)
	}
	winnerID := finance.RecordID(finance.SourceQuickBooks, start, end, "USD")
	winner, ok := records.records[winnerID]
	if !ok {
		t.Fatalf("winner not stored; have %v", records.deletedIDs)
	}
	conflicts, _ := winner.record.RawData["conflicts"].([]any)
	if len(conflicts) != 1 {
		t.Fatalf("conflicts: %+v", winner.record.RawData)
	}
	if conflicts[0].(map[string]any)["source"] != "rootfi" {
		t.Errorf("conflict source %v", conflicts[0])
	}
}

func TestIngestKeepsHigherPrioritySource(t *testing.T) {
	records := newMemRecordStore()
	svc := newTestService(records, newMemAuditStore())

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	existingID := finance.RecordID(finance.SourceQuickBooks, start, end, "USD")
	records.records[existingID] = storedRecord{record: finance.FinancialRecord{
		ID: existingID, Source: finance.SourceQuickBooks,
		PeriodStart: start, PeriodEnd: end, Currency: "USD",
		Revenue:   decimal.RequireFromString("15000.00"),
		Expenses:  decimal.RequireFromString("9000.00"),
		NetProfit: decimal.RequireFromString("6000.00"),
	}}

	data := []byte(`{"data": [` + rootfiPeriodJSON("2024-01-01", "2024-01-31", "14500.00", "9000.00", "") + `]}`)
	path := writeFixture(t, "rootfi.json", data)
	result, err := svc.IngestFile(context.Background(), path, finance.SourceRootfi)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.RecordsUpdated != 1 || result.RecordsCreated != 0 {
		t.Fatalf("result: %+v", result)
	}
	checkProcessedInvariant(t, result)
	if len(records.upsertAccountArgs) != 1 {
		t.Fatalf("incoming accounts not merged: %d", len(records.upsertAccountArgs))
	}
	kept := records.records[existingID]
	if !kept.record.Revenue.Equal(decimal.RequireFromString("15000.00")) {
		t.Errorf("kept revenue %s", kept.record.Revenue)
	}
	conflicts, _ := kept.record.RawData["conflicts"].([]any)
	if len(conflicts) != 1 {
		t.Fatalf("conflicts: %+v", kept.record.RawData)
	}
}
