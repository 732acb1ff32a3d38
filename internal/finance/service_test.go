package finance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/internal/shared"
)

type stubStore struct {
	Store
	records     []FinancialRecord
	accounts    []Account
	summary     PeriodSummary
	totals      []CategoryTotal
	subtree     []Account
	gotFilter   RecordFilter
	gotStart    time.Time
	gotEnd      time.Time
	subtreeErr  error
}

func (s *stubStore) FindRecords(_ context.Context, f RecordFilter) ([]FinancialRecord, int, error) {
	s.gotFilter = f
	return s.records, len(s.records), nil
}

func (s *stubStore) AggregateRange(_ context.Context, start, end time.Time, _ SourceType, _ string) (PeriodSummary, error) {
	s.gotStart, s.gotEnd = start, end
	return s.summary, nil
}

func (s *stubStore) CategoryTotals(context.Context, time.Time, time.Time, AccountType) ([]CategoryTotal, error) {
	return s.totals, nil
}

func (s *stubStore) Subtree(context.Context, string) ([]Account, error) {
	return s.subtree, s.subtreeErr
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestFindRecordsRejectsUnknownSource(t *testing.T) {
	svc := NewService(&stubStore{}, nil)
	_, err := svc.FindRecords(context.Background(), RecordFilter{Source: "netsuite"})
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFindRecordsRejectsInvertedRange(t *testing.T) {
	svc := NewService(&stubStore{}, nil)
	_, err := svc.FindRecords(context.Background(), RecordFilter{
		PeriodFrom: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		PeriodTo:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSummarizePeriodResolvesSpec(t *testing.T) {
	store := &stubStore{summary: PeriodSummary{Revenue: dec("100"), Count: 2}}
	svc := NewService(store, nil)

	summary, err := svc.SummarizePeriod(context.Background(), "2024-Q2", "", "")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Period != "2024-Q2" {
		t.Errorf("period label: %s", summary.Period)
	}
	if got := store.gotStart.Format("2006-01-02"); got != "2024-04-01" {
		t.Errorf("start: %s", got)
	}
	if got := store.gotEnd.Format("2006-01-02"); got != "2024-06-30" {
		t.Errorf("end: %s", got)
	}
}

func TestCategoryBreakdownComputesShares(t *testing.T) {
	store := &stubStore{totals: []CategoryTotal{
		{AccountID: "qb_payroll", Name: "Payroll", Total: dec("750")},
		{AccountID: "qb_rent", Name: "Rent", Total: dec("250")},
	}}
	svc := NewService(store, nil)

	totals, err := svc.CategoryBreakdown(context.Background(), "2024", AccountTypeExpense)
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if !totals[0].Share.Equal(dec("0.75")) {
		t.Errorf("payroll share: %s", totals[0].Share)
	}
	if !totals[1].Share.Equal(dec("0.25")) {
		t.Errorf("rent share: %s", totals[1].Share)
	}
}

func TestHierarchyBuildsNestedTree(t *testing.T) {
	parent := "qb_expenses"
	store := &stubStore{subtree: []Account{
		{AccountID: "qb_expenses", Name: "Expenses", AccountType: AccountTypeExpense, Source: SourceQuickBooks},
		{AccountID: "qb_rent", Name: "Rent", AccountType: AccountTypeExpense, Source: SourceQuickBooks, ParentAccountID: &parent},
		{AccountID: "qb_payroll", Name: "Payroll", AccountType: AccountTypeExpense, Source: SourceQuickBooks, ParentAccountID: &parent},
	}}
	svc := NewService(store, nil)

	tree, err := svc.Hierarchy(context.Background(), "qb_expenses")
	if err != nil {
		t.Fatalf("hierarchy: %v", err)
	}
	if len(tree.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(tree.Children))
	}
	if tree.Children[0].Name != "Payroll" || tree.Children[1].Name != "Rent" {
		t.Errorf("children not sorted by name: %s, %s", tree.Children[0].Name, tree.Children[1].Name)
	}
}

func TestHierarchyMissingRoot(t *testing.T) {
	store := &stubStore{subtreeErr: shared.ErrNotFound}
	svc := NewService(store, nil)
	if _, err := svc.Hierarchy(context.Background(), "nope"); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordIDStable(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	a := RecordID(SourceQuickBooks, start, end, "USD")
	b := RecordID(SourceQuickBooks, start, end, "USD")
	if a != b {
		t.Fatalf("record id not stable: %s vs %s", a, b)
	}
	if a == RecordID(SourceRootfi, start, end, "USD") {
		t.Fatal("record id should differ by source")
	}
	if a == RecordID(SourceQuickBooks, start, end, "EUR") {
		t.Fatal("record id should differ by currency")
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Cost of Goods Sold":  "cost_of_goods_sold",
		"  Advertising & PR ": "advertising_pr",
		"R&D":                 "r_d",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBalanced(t *testing.T) {
	rec := FinancialRecord{Revenue: dec("100.00"), Expenses: dec("40.00"), NetProfit: dec("60.00")}
	if !rec.Balanced() {
		t.Fatal("expected balanced")
	}
	rec.NetProfit = dec("60.011")
	if rec.Balanced() {
		t.Fatal("expected imbalance beyond tolerance")
	}
}
