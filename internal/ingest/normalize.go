package ingest

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/internal/finance"
)

// DefaultSourcePriority ranks sources for conflict resolution; the
// higher number wins. Overridable through configuration.
func DefaultSourcePriority() map[finance.SourceType]int {
	return map[finance.SourceType]int{
		finance.SourceQuickBooks: 2,
		finance.SourceRootfi:     1,
	}
}

// Normalizer finalizes candidates for persistence and resolves conflicts
// between sources covering the same period.
type Normalizer struct {
	priority map[finance.SourceType]int
}

// NewNormalizer constructs a normalizer with the given source priority
// map; nil falls back to the default ranking.
func NewNormalizer(priority map[finance.SourceType]int) *Normalizer {
	if len(priority) == 0 {
		priority = DefaultSourcePriority()
	}
	return &Normalizer{priority: priority}
}

// Priority returns the configured rank for a source.
func (n *Normalizer) Priority(source finance.SourceType) int {
	return n.priority[source]
}

// Finalize normalizes a candidate in place: currency uppercased, stable
// id assigned, net profit filled when the parser left it at zero totals.
func (n *Normalizer) Finalize(cand *Candidate) {
	rec := &cand.Record
	rec.Currency = strings.ToUpper(strings.TrimSpace(rec.Currency))
	rec.ID = finance.RecordID(rec.Source, rec.PeriodStart, rec.PeriodEnd, rec.Currency)
	for i := range cand.Values {
		cand.Values[i].FinancialRecordID = rec.ID
	}
	if rec.RawData == nil {
		rec.RawData = map[string]any{}
	}
}

// Resolution is the outcome of conflict resolution between an incoming
// record and one already persisted for the same period and currency.
type Resolution struct {
	// Winner is the record to persist.
	Winner *finance.FinancialRecord
	// LoserID names a persisted record to remove, if the incoming
	// record displaced it.
	LoserID string
	// IncomingWon is false when the persisted record stood.
	IncomingWon bool
	// Conflicted reports whether scalars actually disagreed.
	Conflicted bool
	Issues     []Issue
}

var conflictTolerance = decimal.NewFromFloat(0.01)

// Resolve decides between an incoming record and an existing one that
// covers the same (period_start, period_end, currency) from another
// source. The winner keeps its scalars; the loser is attributed in the
// winner's raw_data conflicts list.
func (n *Normalizer) Resolve(incoming, existing *finance.FinancialRecord) Resolution {
	revDelta := incoming.Revenue.Sub(existing.Revenue).Abs()
	expDelta := incoming.Expenses.Sub(existing.Expenses).Abs()
	if revDelta.LessThanOrEqual(conflictTolerance) && expDelta.LessThanOrEqual(conflictTolerance) {
		// Same numbers from two sources: the higher priority one owns
		// the period, no conflict to attribute.
		if n.Priority(incoming.Source) > n.Priority(existing.Source) {
			return Resolution{Winner: incoming, LoserID: existing.ID, IncomingWon: true}
		}
		return Resolution{Winner: existing, IncomingWon: false}
	}

	if n.Priority(incoming.Source) > n.Priority(existing.Source) {
		appendConflict(incoming, existing)
		return Resolution{
			Winner:      incoming,
			LoserID:     existing.ID,
			IncomingWon: true,
			Conflicted:  true,
			Issues: []Issue{infoIssue("SOURCE_CONFLICT",
				"replaced lower priority record from "+string(existing.Source))},
		}
	}

	appendConflict(existing, incoming)
	return Resolution{
		Winner:     existing,
		Conflicted: true,
		Issues: []Issue{infoIssue("SOURCE_CONFLICT",
			"kept higher priority record from "+string(existing.Source))},
	}
}

// appendConflict records the losing record's scalars and deltas in the
// winner's raw_data.
func appendConflict(winner, loser *finance.FinancialRecord) {
	if winner.RawData == nil {
		winner.RawData = map[string]any{}
	}
	entry := map[string]any{
		"source":         string(loser.Source),
		"revenue":        loser.Revenue.String(),
		"expenses":       loser.Expenses.String(),
		"net_profit":     loser.NetProfit.String(),
		"delta_revenue":  winner.Revenue.Sub(loser.Revenue).String(),
		"delta_expenses": winner.Expenses.Sub(loser.Expenses).String(),
	}
	conflicts, _ := winner.RawData["conflicts"].([]any)
	winner.RawData["conflicts"] = append(conflicts, entry)
}
