package ingest

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/internal/finance"
)

func fixedValidator() *Validator {
	v := NewValidator()
	v.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }
	return v
}

func baseCandidate() Candidate {
	return Candidate{
		Record: finance.FinancialRecord{
			ID:          "r1",
			Source:      finance.SourceQuickBooks,
			PeriodStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			PeriodEnd:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			Currency:    "USD",
			Revenue:     decimal.RequireFromString("100.00"),
			Expenses:    decimal.RequireFromString("40.00"),
			NetProfit:   decimal.RequireFromString("60.00"),
		},
	}
}

func hasIssue(result ValidationResult, code string) bool {
	for _, issue := range result.Issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func TestValidateCleanRecord(t *testing.T) {
	result := fixedValidator().Validate(baseCandidate())
	if !result.IsValid {
		t.Fatalf("expected valid, issues: %+v", result.Issues)
	}
	if result.QualityScore != 1.0 {
		t.Fatalf("expected perfect score, got %.2f", result.QualityScore)
	}
}

func TestValidateBalanceEquation(t *testing.T) {
	cand := baseCandidate()
	cand.Record.NetProfit = decimal.RequireFromString("50.00")
	result := fixedValidator().Validate(cand)
	if result.IsValid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(result, "BAL_EQ") {
		t.Fatalf("expected BAL_EQ, got %+v", result.Issues)
	}
}

func TestValidateScalarRules(t *testing.T) {
	cand := baseCandidate()
	cand.Record.Revenue = decimal.RequireFromString("-5.00")
	cand.Record.Expenses = decimal.RequireFromString("-3.00")
	cand.Record.NetProfit = cand.Record.Revenue.Sub(cand.Record.Expenses)
	result := fixedValidator().Validate(cand)
	if !hasIssue(result, "NEG_REV") || !hasIssue(result, "NEG_EXP") {
		t.Fatalf("expected NEG_REV and NEG_EXP, got %+v", result.Issues)
	}
	// Two warnings cost 0.15 each.
	if math.Abs(result.QualityScore-0.70) > 1e-9 {
		t.Fatalf("score %.2f", result.QualityScore)
	}
	if !result.IsValid {
		t.Fatal("warnings alone must not invalidate")
	}
}

func TestValidateHighValue(t *testing.T) {
	cand := baseCandidate()
	cand.Record.Revenue = decimal.New(2, 12) // 2 * 10^12
	cand.Record.NetProfit = cand.Record.Revenue.Sub(cand.Record.Expenses)
	result := fixedValidator().Validate(cand)
	if !hasIssue(result, "HIGH_VAL") {
		t.Fatalf("expected HIGH_VAL, got %+v", result.Issues)
	}
}

func TestValidateDateRules(t *testing.T) {
	cand := baseCandidate()
	cand.Record.PeriodStart = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	cand.Record.PeriodEnd = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	result := fixedValidator().Validate(cand)
	if !hasIssue(result, "DATE_RANGE") {
		t.Fatalf("expected DATE_RANGE, got %+v", result.Issues)
	}

	cand = baseCandidate()
	cand.Record.PeriodEnd = time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	if result := fixedValidator().Validate(cand); !hasIssue(result, "FUTURE_PERIOD") {
		t.Fatalf("expected FUTURE_PERIOD, got %+v", result.Issues)
	}

	cand = baseCandidate()
	cand.Record.PeriodStart = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	cand.Record.PeriodEnd = time.Date(2010, 1, 31, 0, 0, 0, 0, time.UTC)
	if result := fixedValidator().Validate(cand); !hasIssue(result, "OLD_PERIOD") {
		t.Fatalf("expected OLD_PERIOD, got %+v", result.Issues)
	}
}

func TestValidateSingleDayPeriodAccepted(t *testing.T) {
	cand := baseCandidate()
	cand.Record.PeriodEnd = cand.Record.PeriodStart
	result := fixedValidator().Validate(cand)
	if hasIssue(result, "DATE_RANGE") {
		t.Fatal("single-day period must be accepted")
	}
}

func TestValidateCurrencyRules(t *testing.T) {
	cand := baseCandidate()
	cand.Record.Currency = "usd"
	if result := fixedValidator().Validate(cand); !hasIssue(result, "CUR_FMT") || result.IsValid {
		t.Fatalf("expected CUR_FMT error, got %+v", result.Issues)
	}

	cand = baseCandidate()
	cand.Record.Currency = "IDR"
	result := fixedValidator().Validate(cand)
	if !hasIssue(result, "CUR_UNCOMMON") {
		t.Fatalf("expected CUR_UNCOMMON, got %+v", result.Issues)
	}
	if !result.IsValid {
		t.Fatal("uncommon currency is warned, not rejected")
	}
}

func TestValidateHierarchyRules(t *testing.T) {
	missing := "ghost"
	a := "a"
	b := "b"
	cand := baseCandidate()
	cand.Accounts = []finance.Account{
		{AccountID: "orphan", AccountType: finance.AccountTypeExpense, ParentAccountID: &missing},
		{AccountID: "a", AccountType: finance.AccountTypeExpense, ParentAccountID: &b},
		{AccountID: "b", AccountType: finance.AccountTypeExpense, ParentAccountID: &a},
		{AccountID: "mixed", AccountType: finance.AccountTypeRevenue, ParentAccountID: &a},
	}
	result := fixedValidator().Validate(cand)
	if !hasIssue(result, "ACC_ORPHAN") {
		t.Errorf("expected ACC_ORPHAN, got %+v", result.Issues)
	}
	if !hasIssue(result, "ACC_CYCLE") {
		t.Errorf("expected ACC_CYCLE, got %+v", result.Issues)
	}
	if !hasIssue(result, "ACC_TYPE_MIX") {
		t.Errorf("expected ACC_TYPE_MIX, got %+v", result.Issues)
	}
	if result.IsValid {
		t.Error("hierarchy errors must invalidate")
	}
}

func TestValidateSumMismatch(t *testing.T) {
	cand := baseCandidate()
	cand.Accounts = []finance.Account{
		{AccountID: "rev", AccountType: finance.AccountTypeRevenue},
	}
	cand.Values = []finance.AccountValue{
		{AccountID: "rev", FinancialRecordID: "r1", Value: decimal.RequireFromString("90.00")},
	}
	result := fixedValidator().Validate(cand)
	if !hasIssue(result, "SUM_MISMATCH") || result.IsValid {
		t.Fatalf("expected SUM_MISMATCH error, got %+v", result.Issues)
	}
}

func TestScoreClampsAtZero(t *testing.T) {
	issues := make([]Issue, 4)
	for i := range issues {
		issues[i] = Issue{Severity: SeverityCritical, Code: "X"}
	}
	result := Score(issues)
	if result.QualityScore != 0 {
		t.Fatalf("score %.2f", result.QualityScore)
	}
	if result.IsValid {
		t.Fatal("critical issues must invalidate")
	}
}
