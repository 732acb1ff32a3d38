package ingest

import (
	"time"

	"github.com/finsight-ai/finsight/internal/finance"
)

// Status tracks file and batch lifecycle.
type Status string

const (
	StatusPending            Status = "pending"
	StatusProcessing         Status = "processing"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusPartiallyCompleted Status = "partially_completed"
)

// FileResult reports the outcome of ingesting one file.
type FileResult struct {
	File             string             `json:"file"`
	Source           finance.SourceType `json:"source,omitempty"`
	Status           Status             `json:"status"`
	RecordsProcessed int                `json:"records_processed"`
	RecordsCreated   int                `json:"records_created"`
	RecordsUpdated   int                `json:"records_updated"`
	RecordsRejected  int                `json:"records_rejected"`
	Validation       *ValidationResult  `json:"validation,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
	Duration         time.Duration      `json:"duration_ms"`
}

// BatchResult reports the outcome of a batch submission.
type BatchResult struct {
	BatchID         string        `json:"batch_id"`
	Status          Status        `json:"status"`
	FilesTotal      int           `json:"files_total"`
	FilesSuccessful int           `json:"files_successful"`
	FilesFailed     int           `json:"files_failed"`
	Results         []FileResult  `json:"results"`
	Duration        time.Duration `json:"duration_ms"`
}

// Batch is the persisted batch header row.
type Batch struct {
	BatchID     string         `json:"batch_id"`
	Status      Status         `json:"status"`
	FilesTotal  int            `json:"files_total"`
	FilesOK     int            `json:"files_ok"`
	FilesFailed int            `json:"files_failed"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Summary     map[string]any `json:"summary,omitempty"`
}

// AuditEntry records one pipeline phase for one file within a batch.
type AuditEntry struct {
	BatchID   string     `json:"batch_id"`
	File      string     `json:"file"`
	Phase     string     `json:"phase"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Outcome   string     `json:"outcome"`
	Issues    []Issue    `json:"issues,omitempty"`
}

// StatusReport answers the status endpoint: either one batch with its
// audit trail, or recent batch history.
type StatusReport struct {
	Batch   *Batch       `json:"batch,omitempty"`
	Entries []AuditEntry `json:"entries,omitempty"`
	Recent  []Batch      `json:"recent,omitempty"`
}
