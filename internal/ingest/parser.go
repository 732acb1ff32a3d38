package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/shared"
)

// Candidate is the intermediate triple a parser produces for one period:
// a record plus the accounts and per-account values backing it.
type Candidate struct {
	Record   finance.FinancialRecord
	Accounts []finance.Account
	Values   []finance.AccountValue
	// Issues carries parser-level findings (defaulted currency, skipped
	// subtrees, unparseable numbers). Merged into the validation report.
	Issues []Issue
}

// Parser turns one raw file into period candidates.
type Parser interface {
	Parse(data []byte) ([]Candidate, error)
}

// Detect inspects the top-level shape of a JSON document and picks the
// dialect: a tabular report (header + columns + row tree) or a period
// array with category line items.
func Detect(data []byte) (finance.SourceType, error) {
	var probe struct {
		Header  json.RawMessage `json:"Header"`
		Columns json.RawMessage `json:"Columns"`
		Rows    json.RawMessage `json:"Rows"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("%w: not a JSON object: %v", shared.ErrParse, err)
	}

	if isTabularReport(probe.Header, probe.Columns, probe.Rows) {
		return finance.SourceQuickBooks, nil
	}

	if len(probe.Data) > 0 {
		// The tabular report is sometimes wrapped in a "data" envelope.
		var inner struct {
			Header  json.RawMessage `json:"Header"`
			Columns json.RawMessage `json:"Columns"`
			Rows    json.RawMessage `json:"Rows"`
		}
		if err := json.Unmarshal(probe.Data, &inner); err == nil &&
			isTabularReport(inner.Header, inner.Columns, inner.Rows) {
			return finance.SourceQuickBooks, nil
		}

		var periods []struct {
			PeriodStart string `json:"period_start"`
			PeriodEnd   string `json:"period_end"`
		}
		if err := json.Unmarshal(probe.Data, &periods); err == nil && len(periods) > 0 &&
			(periods[0].PeriodStart != "" || periods[0].PeriodEnd != "") {
			return finance.SourceRootfi, nil
		}
	}

	return "", fmt.Errorf("%w: unknown dialect", shared.ErrParse)
}

func isTabularReport(header, columns, rows json.RawMessage) bool {
	return len(header) > 0 && len(columns) > 0 && len(rows) > 0
}

// ParserFor returns the parser for a known source type.
func ParserFor(source finance.SourceType) (Parser, error) {
	switch source {
	case finance.SourceQuickBooks:
		return NewQuickBooksParser(), nil
	case finance.SourceRootfi:
		return NewRootfiParser(), nil
	default:
		return nil, fmt.Errorf("%w: no parser for source %q", shared.ErrParse, source)
	}
}
