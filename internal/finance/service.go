package finance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/internal/shared"
)

// Store is the persistence surface the service depends on.
type Store interface {
	UpsertRecord(ctx context.Context, rec *FinancialRecord, accounts []Account, values []AccountValue) (bool, error)
	GetRecord(ctx context.Context, id string) (*FinancialRecord, error)
	GetRecordByKey(ctx context.Context, source SourceType, start, end time.Time, currency string) (*FinancialRecord, error)
	FindRecords(ctx context.Context, f RecordFilter) ([]FinancialRecord, int, error)
	AggregateRange(ctx context.Context, start, end time.Time, source SourceType, currency string) (PeriodSummary, error)
	MonthlySeries(ctx context.Context, start, end time.Time, source SourceType, currency string) ([]MonthlyPoint, error)
	CategoryTotals(ctx context.Context, start, end time.Time, accountType AccountType) ([]CategoryTotal, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	FindAccounts(ctx context.Context, f AccountFilter) ([]Account, int, error)
	Subtree(ctx context.Context, rootID string) ([]Account, error)
	AccountValues(ctx context.Context, recordID string) ([]AccountValue, error)
}

// Service exposes read and query operations over stored financial data.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService constructs the finance service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// RecordPage is a paginated record listing.
type RecordPage struct {
	Records    []FinancialRecord `json:"records"`
	Pagination shared.Pagination `json:"pagination"`
}

// AccountPage is a paginated account listing.
type AccountPage struct {
	Accounts   []Account         `json:"accounts"`
	Pagination shared.Pagination `json:"pagination"`
}

// FindRecords validates the filter and returns a page of records.
func (s *Service) FindRecords(ctx context.Context, f RecordFilter) (*RecordPage, error) {
	if f.Source != "" && !f.Source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", shared.ErrValidation, f.Source)
	}
	if !f.PeriodFrom.IsZero() && !f.PeriodTo.IsZero() && f.PeriodTo.Before(f.PeriodFrom) {
		return nil, fmt.Errorf("%w: period_to precedes period_from", shared.ErrValidation)
	}
	records, total, err := s.store.FindRecords(ctx, f)
	if err != nil {
		return nil, err
	}
	return &RecordPage{
		Records:    records,
		Pagination: shared.NewPagination(f.Page, f.PageSize, total),
	}, nil
}

// GetRecord returns one record with its account value breakdown.
func (s *Service) GetRecord(ctx context.Context, id string) (*FinancialRecord, []AccountValue, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	values, err := s.store.AccountValues(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return rec, values, nil
}

// SummarizePeriod resolves a period spec and aggregates overlapping records.
func (s *Service) SummarizePeriod(ctx context.Context, periodSpec string, source SourceType, currency string) (*PeriodSummary, error) {
	start, end, err := ResolvePeriod(periodSpec)
	if err != nil {
		return nil, err
	}
	summary, err := s.SummarizeRange(ctx, start, end, source, currency)
	if err != nil {
		return nil, err
	}
	summary.Period = periodSpec
	return summary, nil
}

// SummarizeRange aggregates overlapping records for an explicit range.
func (s *Service) SummarizeRange(ctx context.Context, start, end time.Time, source SourceType, currency string) (*PeriodSummary, error) {
	if source != "" && !source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", shared.ErrValidation, source)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end precedes start", shared.ErrValidation)
	}
	summary, err := s.store.AggregateRange(ctx, start, end, source, currency)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// MonthlySeries resolves a period spec into monthly totals.
func (s *Service) MonthlySeries(ctx context.Context, periodSpec string, source SourceType) ([]MonthlyPoint, error) {
	start, end, err := ResolvePeriod(periodSpec)
	if err != nil {
		return nil, err
	}
	return s.store.MonthlySeries(ctx, start, end, source, "")
}

// MonthlySeriesRange returns monthly totals for an explicit date range.
func (s *Service) MonthlySeriesRange(ctx context.Context, start, end time.Time, source SourceType, currency string) ([]MonthlyPoint, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end precedes start", shared.ErrValidation)
	}
	return s.store.MonthlySeries(ctx, start, end, source, currency)
}

// CategoryBreakdown returns root-level totals for an account type with
// each category's share of the overall total.
func (s *Service) CategoryBreakdown(ctx context.Context, periodSpec string, accountType AccountType) ([]CategoryTotal, error) {
	start, end, err := ResolvePeriod(periodSpec)
	if err != nil {
		return nil, err
	}
	return s.CategoryBreakdownRange(ctx, start, end, accountType)
}

// CategoryBreakdownRange is CategoryBreakdown over an explicit range.
func (s *Service) CategoryBreakdownRange(ctx context.Context, start, end time.Time, accountType AccountType) ([]CategoryTotal, error) {
	totals, err := s.store.CategoryTotals(ctx, start, end, accountType)
	if err != nil {
		return nil, err
	}
	grand := decimalSum(totals)
	if !grand.IsZero() {
		for i := range totals {
			totals[i].Share = totals[i].Total.Div(grand).Round(4)
		}
	}
	return totals, nil
}

// FindAccounts validates the filter and returns a page of accounts.
func (s *Service) FindAccounts(ctx context.Context, f AccountFilter) (*AccountPage, error) {
	if f.Source != "" && !f.Source.Valid() {
		return nil, fmt.Errorf("%w: unknown source %q", shared.ErrValidation, f.Source)
	}
	accounts, total, err := s.store.FindAccounts(ctx, f)
	if err != nil {
		return nil, err
	}
	return &AccountPage{
		Accounts:   accounts,
		Pagination: shared.NewPagination(f.Page, f.PageSize, total),
	}, nil
}

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, id string) (*Account, error) {
	return s.store.GetAccount(ctx, id)
}

// Hierarchy returns the account subtree rooted at id as a nested tree.
func (s *Service) Hierarchy(ctx context.Context, rootID string) (*AccountNode, error) {
	accounts, err := s.store.Subtree(ctx, rootID)
	if err != nil {
		return nil, err
	}
	return BuildTree(rootID, accounts)
}

// BuildTree assembles a flat subtree listing into a nested AccountNode.
// Nodes whose parent is missing from the listing are skipped.
func BuildTree(rootID string, accounts []Account) (*AccountNode, error) {
	nodes := make(map[string]*AccountNode, len(accounts))
	for i := range accounts {
		nodes[accounts[i].AccountID] = &AccountNode{Account: accounts[i], Children: []*AccountNode{}}
	}
	root, ok := nodes[rootID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", shared.ErrNotFound, rootID)
	}
	for _, n := range nodes {
		if n.AccountID == rootID || n.ParentAccountID == nil {
			continue
		}
		if parent, ok := nodes[*n.ParentAccountID]; ok {
			parent.Children = append(parent.Children, n)
		}
	}
	sortTree(root)
	return root, nil
}

func sortTree(n *AccountNode) {
	sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].Name < n.Children[j].Name })
	for _, c := range n.Children {
		sortTree(c)
	}
}

func decimalSum(totals []CategoryTotal) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range totals {
		sum = sum.Add(t.Total)
	}
	return sum
}
