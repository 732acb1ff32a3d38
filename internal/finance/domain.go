package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceType identifies the origin dialect of ingested data.
type SourceType string

const (
	SourceQuickBooks SourceType = "quickbooks"
	SourceRootfi     SourceType = "rootfi"
)

// Valid reports whether the source is a known dialect.
func (s SourceType) Valid() bool {
	return s == SourceQuickBooks || s == SourceRootfi
}

// AccountType enumerates unified account categories.
type AccountType string

const (
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeOther     AccountType = "other"
)

// Family groups account types for hierarchy compatibility: revenue with
// revenue, expense with expense, balance-sheet types together.
func (t AccountType) Family() string {
	switch t {
	case AccountTypeRevenue:
		return "revenue"
	case AccountTypeExpense:
		return "expense"
	case AccountTypeAsset, AccountTypeLiability:
		return "balance"
	default:
		return "other"
	}
}

// BalanceTolerance is the maximum accepted drift between net profit and
// revenue minus expenses.
var BalanceTolerance = decimal.NewFromFloat(0.01)

// FinancialRecord is the per (source, period, currency) aggregate.
type FinancialRecord struct {
	ID          string          `json:"id"`
	Source      SourceType      `json:"source"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Currency    string          `json:"currency"`
	Revenue     decimal.Decimal `json:"revenue"`
	Expenses    decimal.Decimal `json:"expenses"`
	NetProfit   decimal.Decimal `json:"net_profit"`
	RawData     map[string]any  `json:"raw_data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Balanced reports whether the record satisfies the balance equation
// within tolerance.
func (r FinancialRecord) Balanced() bool {
	diff := r.NetProfit.Sub(r.Revenue.Sub(r.Expenses)).Abs()
	return diff.LessThanOrEqual(BalanceTolerance)
}

// Account is a node in the account forest.
type Account struct {
	AccountID       string      `json:"account_id"`
	Name            string      `json:"name"`
	AccountType     AccountType `json:"account_type"`
	ParentAccountID *string     `json:"parent_account_id,omitempty"`
	Source          SourceType  `json:"source"`
	Description     string      `json:"description,omitempty"`
	IsActive        bool        `json:"is_active"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// AccountValue attributes part of a record's totals to one account.
type AccountValue struct {
	AccountID         string          `json:"account_id"`
	FinancialRecordID string          `json:"financial_record_id"`
	Value             decimal.Decimal `json:"value"`
	CreatedAt         time.Time       `json:"created_at"`
}

// AccountNode is an account with its resolved children, used by the
// hierarchy endpoint.
type AccountNode struct {
	Account
	Children []*AccountNode `json:"children"`
}

// RecordFilter narrows FindRecords queries.
type RecordFilter struct {
	Source      SourceType
	PeriodFrom  time.Time
	PeriodTo    time.Time
	Currency    string
	MinRevenue  *decimal.Decimal
	MaxRevenue  *decimal.Decimal
	MinExpenses *decimal.Decimal
	MaxExpenses *decimal.Decimal
	SortField   string
	SortOrder   string
	Page        int
	PageSize    int
}

// AccountFilter narrows FindAccounts queries.
type AccountFilter struct {
	Type     AccountType
	Source   SourceType
	Active   *bool
	Name     string
	ParentID string
	Page     int
	PageSize int
}

// PeriodSummary aggregates records over a resolved period.
type PeriodSummary struct {
	Period    string          `json:"period"`
	Revenue   decimal.Decimal `json:"revenue"`
	Expenses  decimal.Decimal `json:"expenses"`
	NetProfit decimal.Decimal `json:"net_profit"`
	Count     int             `json:"count"`
	Sources   []string        `json:"sources"`
}

// MonthlyPoint is one month of aggregated totals, used by analysis tools.
type MonthlyPoint struct {
	Month     string          `json:"month"`
	Revenue   decimal.Decimal `json:"revenue"`
	Expenses  decimal.Decimal `json:"expenses"`
	NetProfit decimal.Decimal `json:"net_profit"`
	Count     int             `json:"count"`
}

// CategoryTotal is the contribution of one top-level account to a period.
type CategoryTotal struct {
	AccountID string          `json:"account_id"`
	Name      string          `json:"name"`
	Total     decimal.Decimal `json:"total"`
	Share     decimal.Decimal `json:"share"`
}

// Metric names accepted by analysis tools.
const (
	MetricRevenue   = "revenue"
	MetricExpenses  = "expenses"
	MetricNetProfit = "net_profit"
)

// ValidMetric reports whether the metric name is recognised.
func ValidMetric(m string) bool {
	return m == MetricRevenue || m == MetricExpenses || m == MetricNetProfit
}

// MetricOf extracts a metric value from a monthly point.
func (p MonthlyPoint) MetricOf(metric string) decimal.Decimal {
	switch metric {
	case MetricExpenses:
		return p.Expenses
	case MetricNetProfit:
		return p.NetProfit
	default:
		return p.Revenue
	}
}
