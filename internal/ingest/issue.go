// Package ingest drives the pipeline from raw dialect files to unified
// financial records: detect, parse, validate, normalize, persist.
package ingest

import "fmt"

// Severity grades a validation or parse issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// weight is the quality score penalty per issue of this severity.
func (s Severity) weight() float64 {
	switch s {
	case SeverityInfo:
		return 0.05
	case SeverityWarning:
		return 0.15
	case SeverityError:
		return 0.35
	case SeverityCritical:
		return 0.50
	default:
		return 0
	}
}

// Blocking reports whether the severity invalidates a record.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Issue is a single finding from parsing or validation.
type Issue struct {
	Severity   Severity `json:"severity"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Field      string   `json:"field,omitempty"`
	Value      string   `json:"value,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

func infoIssue(code, message string) Issue {
	return Issue{Severity: SeverityInfo, Code: code, Message: message}
}

func warningIssue(code, field, format string, args ...any) Issue {
	return Issue{Severity: SeverityWarning, Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

func errorIssue(code, field, format string, args ...any) Issue {
	return Issue{Severity: SeverityError, Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}
