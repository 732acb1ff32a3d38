package ingest

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/internal/finance"
)

// ValidationResult is the full report for one candidate.
type ValidationResult struct {
	IsValid      bool    `json:"is_valid"`
	QualityScore float64 `json:"quality_score"`
	Issues       []Issue `json:"issues"`
}

// Validator applies the rule set to candidates. Pure: no store access,
// deterministic report for a given input.
type Validator struct {
	now func() time.Time
}

// NewValidator constructs a validator.
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

var (
	currencyFormat = regexp.MustCompile(`^[A-Z]{3}$`)

	balanceTolerance = decimal.NewFromFloat(0.01)
	highValue        = decimal.New(1, 12) // 10^12
)

// commonCurrencies is the static set that suppresses CUR_UNCOMMON.
var commonCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CAD": true,
	"AUD": true, "CHF": true, "CNY": true, "INR": true, "SGD": true,
	"HKD": true, "NZD": true, "SEK": true, "NOK": true, "AED": true,
}

// Validate runs every rule against the candidate and folds the parser's
// own issues into the scored report.
func (v *Validator) Validate(cand Candidate) ValidationResult {
	issues := append([]Issue{}, cand.Issues...)
	issues = append(issues, v.recordIssues(cand.Record)...)
	issues = append(issues, v.hierarchyIssues(cand.Accounts)...)
	issues = append(issues, v.valueIssues(cand)...)
	return Score(issues)
}

// Score folds issues into a validity flag and a quality score.
func Score(issues []Issue) ValidationResult {
	result := ValidationResult{IsValid: true, QualityScore: 1.0, Issues: issues}
	for _, issue := range issues {
		result.QualityScore -= issue.Severity.weight()
		if issue.Severity.Blocking() {
			result.IsValid = false
		}
	}
	if result.QualityScore < 0 {
		result.QualityScore = 0
	}
	return result
}

func (v *Validator) recordIssues(rec finance.FinancialRecord) []Issue {
	var issues []Issue

	if rec.Revenue.IsNegative() {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Code: "NEG_REV", Field: "revenue",
			Message:    fmt.Sprintf("revenue is negative: %s", rec.Revenue),
			Value:      rec.Revenue.String(),
			Suggestion: "verify whether refunds or returns explain the sign",
		})
	}
	if rec.Expenses.IsNegative() {
		issues = append(issues, Issue{
			Severity: SeverityWarning, Code: "NEG_EXP", Field: "expenses",
			Message:    fmt.Sprintf("expenses are negative: %s", rec.Expenses),
			Value:      rec.Expenses.String(),
			Suggestion: "verify whether expense reversals explain the sign",
		})
	}
	for _, check := range []struct {
		field string
		value decimal.Decimal
	}{
		{"revenue", rec.Revenue}, {"expenses", rec.Expenses}, {"net_profit", rec.NetProfit},
	} {
		if check.value.Abs().GreaterThan(highValue) {
			issues = append(issues, warningIssue("HIGH_VAL", check.field,
				"%s exceeds 10^12: %s", check.field, check.value))
		}
	}

	if diff := rec.NetProfit.Sub(rec.Revenue.Sub(rec.Expenses)).Abs(); diff.GreaterThan(balanceTolerance) {
		issues = append(issues, errorIssue("BAL_EQ", "net_profit",
			"net profit %s does not equal revenue minus expenses (off by %s)", rec.NetProfit, diff))
	}

	if rec.PeriodEnd.Before(rec.PeriodStart) {
		issues = append(issues, errorIssue("DATE_RANGE", "period_end",
			"period_end %s precedes period_start %s",
			rec.PeriodEnd.Format("2006-01-02"), rec.PeriodStart.Format("2006-01-02")))
	}
	today := v.now().UTC().Truncate(24 * time.Hour)
	if rec.PeriodEnd.After(today) {
		issues = append(issues, warningIssue("FUTURE_PERIOD", "period_end",
			"period ends in the future: %s", rec.PeriodEnd.Format("2006-01-02")))
	}
	if rec.PeriodEnd.Before(today.AddDate(-10, 0, 0)) {
		issues = append(issues, infoIssue("OLD_PERIOD",
			fmt.Sprintf("period ended more than ten years ago: %s", rec.PeriodEnd.Format("2006-01-02"))))
	}

	if !currencyFormat.MatchString(rec.Currency) {
		issues = append(issues, errorIssue("CUR_FMT", "currency",
			"currency %q is not three uppercase letters", rec.Currency))
	} else if !commonCurrencies[rec.Currency] {
		issues = append(issues, infoIssue("CUR_UNCOMMON",
			fmt.Sprintf("currency %s is outside the common set", rec.Currency)))
	}

	return issues
}

func (v *Validator) hierarchyIssues(accounts []finance.Account) []Issue {
	var issues []Issue
	lookup := make(map[string]finance.Account, len(accounts))
	for _, a := range accounts {
		lookup[a.AccountID] = a
	}

	for _, a := range accounts {
		if a.ParentAccountID == nil {
			continue
		}
		parent, ok := lookup[*a.ParentAccountID]
		if !ok {
			issues = append(issues, errorIssue("ACC_ORPHAN", "parent_account_id",
				"account %s references missing parent %s", a.AccountID, *a.ParentAccountID))
			continue
		}
		if parent.AccountType.Family() != a.AccountType.Family() {
			issues = append(issues, warningIssue("ACC_TYPE_MIX", "account_type",
				"account %s (%s) nests under %s (%s)", a.AccountID, a.AccountType, parent.AccountID, parent.AccountType))
		}
		if cycleFrom(a, lookup) {
			issues = append(issues, errorIssue("ACC_CYCLE", "parent_account_id",
				"account %s is part of a parent cycle", a.AccountID))
		}
	}
	return issues
}

func cycleFrom(start finance.Account, lookup map[string]finance.Account) bool {
	seen := map[string]bool{start.AccountID: true}
	current := start
	for current.ParentAccountID != nil {
		parent, ok := lookup[*current.ParentAccountID]
		if !ok {
			return false
		}
		if seen[parent.AccountID] {
			return true
		}
		seen[parent.AccountID] = true
		current = parent
	}
	return false
}

func (v *Validator) valueIssues(cand Candidate) []Issue {
	var issues []Issue
	types := make(map[string]finance.AccountType, len(cand.Accounts))
	nested := make(map[string]bool, len(cand.Accounts))
	for _, a := range cand.Accounts {
		types[a.AccountID] = a.AccountType
		nested[a.AccountID] = a.ParentAccountID != nil
	}

	// Child values are already included in their parent's value, so only
	// top-level accounts count toward the record totals.
	revenueSum, expenseSum := decimal.Zero, decimal.Zero
	for _, val := range cand.Values {
		if nested[val.AccountID] {
			continue
		}
		switch types[val.AccountID] {
		case finance.AccountTypeRevenue:
			revenueSum = revenueSum.Add(val.Value)
		case finance.AccountTypeExpense:
			expenseSum = expenseSum.Add(val.Value)
		}
	}
	if len(cand.Values) == 0 {
		return issues
	}

	if diff := revenueSum.Sub(cand.Record.Revenue.Abs()).Abs(); diff.GreaterThan(balanceTolerance) {
		issues = append(issues, errorIssue("SUM_MISMATCH", "revenue",
			"revenue account values sum to %s but record total is %s", revenueSum, cand.Record.Revenue))
	}
	if diff := expenseSum.Sub(cand.Record.Expenses.Abs()).Abs(); diff.GreaterThan(balanceTolerance) {
		issues = append(issues, errorIssue("SUM_MISMATCH", "expenses",
			"expense account values sum to %s but record total is %s", expenseSum, cand.Record.Expenses))
	}
	return issues
}
