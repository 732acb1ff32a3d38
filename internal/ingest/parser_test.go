package ingest

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/shared"
)

// monthlyPL builds a column-major P&L with the given number of monthly
// periods in 2024, each period carrying one income and one expense row.
func monthlyPL(months int, income, expense string) []byte {
	var cols, incomeVals, expenseVals []string
	cols = append(cols, `{"ColTitle":"","ColType":"Account"}`)
	for m := 1; m <= months; m++ {
		end := 31
		switch m {
		case 4, 6, 9, 11:
			end = 30
		case 2:
			end = 29
		}
		cols = append(cols, fmt.Sprintf(
			`{"ColTitle":"%[1]s","ColType":"Money","MetaData":[{"Name":"StartDate","Value":"2024-%02[2]d-01"},{"Name":"EndDate","Value":"2024-%02[2]d-%02[3]d"}]}`,
			fmt.Sprintf("2024-%02d", m), m, end))
		incomeVals = append(incomeVals, fmt.Sprintf(`{"value":"%s"}`, income))
		expenseVals = append(expenseVals, fmt.Sprintf(`{"value":"%s"}`, expense))
	}
	return []byte(fmt.Sprintf(`{
		"data": {
			"Header": {"Currency": "USD", "ReportName": "ProfitAndLoss"},
			"Columns": {"Column": [%s]},
			"Rows": {"Row": [
				{"group": "Income", "Header": {"ColData": [{"value": "Income"}]}, "Rows": {"Row": [
					{"ColData": [{"value": "Consulting Income", "id": "qb_consulting"}, %s]}
				]}},
				{"group": "Expenses", "Header": {"ColData": [{"value": "Expenses"}]}, "Rows": {"Row": [
					{"ColData": [{"value": "Rent Expense", "id": "qb_rent"}, %s]}
				]}}
			]}
		}
	}`, strings.Join(cols, ","), strings.Join(incomeVals, ","), strings.Join(expenseVals, ",")))
}

func rootfiPeriodJSON(start, end, revenue, cogs, netProfit string) string {
	np := ""
	if netProfit != "" {
		np = fmt.Sprintf(`, "net_profit": %s`, netProfit)
	}
	return fmt.Sprintf(`{
		"rootfi_id": 41, "platform_id": "acme",
		"period_start": "%s", "period_end": "%s",
		"currency_id": "USD",
		"revenue": [{"name": "Product Sales", "value": %s}],
		"cost_of_goods_sold": [{"name": "Materials", "value": %s}],
		"operating_expenses": [], "non_operating_expenses": [], "non_operating_revenue": []%s
	}`, start, end, revenue, cogs, np)
}

func TestDetect(t *testing.T) {
	if src, err := Detect(monthlyPL(1, "10", "5")); err != nil || src != finance.SourceQuickBooks {
		t.Fatalf("tabular report: %v %v", src, err)
	}
	rootfi := []byte(`{"data": [` + rootfiPeriodJSON("2024-01-01", "2024-01-31", "100", "40", "") + `]}`)
	if src, err := Detect(rootfi); err != nil || src != finance.SourceRootfi {
		t.Fatalf("period array: %v %v", src, err)
	}
	if _, err := Detect([]byte(`{"foo": 1}`)); !errors.Is(err, shared.ErrParse) {
		t.Fatalf("unknown dialect: %v", err)
	}
	if _, err := Detect([]byte(`not json`)); !errors.Is(err, shared.ErrParse) {
		t.Fatalf("malformed: %v", err)
	}
}

func TestQuickBooksParserTwelveMonths(t *testing.T) {
	cands, err := NewQuickBooksParser().Parse(monthlyPL(12, "10000.00", "6000.00"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cands) != 12 {
		t.Fatalf("expected 12 candidates, got %d", len(cands))
	}
	for _, cand := range cands {
		if !cand.Record.Revenue.Equal(decimal.RequireFromString("10000.00")) {
			t.Errorf("revenue %s", cand.Record.Revenue)
		}
		if !cand.Record.Expenses.Equal(decimal.RequireFromString("6000.00")) {
			t.Errorf("expenses %s", cand.Record.Expenses)
		}
		if !cand.Record.NetProfit.Equal(decimal.RequireFromString("4000.00")) {
			t.Errorf("net profit %s", cand.Record.NetProfit)
		}
		if len(cand.Issues) != 0 {
			t.Errorf("unexpected issues: %+v", cand.Issues)
		}
		if len(cand.Values) != 2 {
			t.Errorf("expected 2 values per period, got %d", len(cand.Values))
		}
	}
	first := cands[0]
	if got := first.Record.PeriodStart.Format("2006-01-02"); got != "2024-01-01" {
		t.Errorf("first period start %s", got)
	}
	var income, rent *finance.Account
	for i := range first.Accounts {
		switch first.Accounts[i].AccountID {
		case "qb_consulting":
			income = &first.Accounts[i]
		case "qb_rent":
			rent = &first.Accounts[i]
		}
	}
	if income == nil || income.AccountType != finance.AccountTypeRevenue {
		t.Errorf("consulting account: %+v", income)
	}
	if rent == nil || rent.AccountType != finance.AccountTypeExpense {
		t.Errorf("rent account: %+v", rent)
	}
	if rent != nil && (rent.ParentAccountID == nil || *rent.ParentAccountID != "qb_expenses") {
		t.Errorf("rent parent: %+v", rent.ParentAccountID)
	}
}

func TestQuickBooksParserDefaultsCurrency(t *testing.T) {
	data := []byte(`{"data": {
		"Header": {"ReportName": "ProfitAndLoss"},
		"Columns": {"Column": [
			{"ColTitle":"Jan","ColType":"Money","MetaData":[{"Name":"StartDate","Value":"2024-01-01"},{"Name":"EndDate","Value":"2024-01-31"}]}
		]},
		"Rows": {"Row": [{"ColData": [{"value": "Sales"}, {"value": "5"}]}]}
	}}`)
	cands, err := NewQuickBooksParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cands[0].Record.Currency != "USD" {
		t.Fatalf("currency %s", cands[0].Record.Currency)
	}
	if len(cands[0].Issues) != 1 || cands[0].Issues[0].Code != "CUR_DEFAULT" {
		t.Fatalf("expected CUR_DEFAULT info, got %+v", cands[0].Issues)
	}
}

func TestQuickBooksParserSubstitutesZeroForBadNumbers(t *testing.T) {
	data := []byte(`{"data": {
		"Header": {"Currency": "USD"},
		"Columns": {"Column": [
			{"ColTitle":"Jan","ColType":"Money","MetaData":[{"Name":"StartDate","Value":"2024-01-01"},{"Name":"EndDate","Value":"2024-01-31"}]}
		]},
		"Rows": {"Row": [{"ColData": [{"value": "Sales"}, {"value": "oops"}]}]}
	}}`)
	cands, err := NewQuickBooksParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cands[0].Record.Revenue.IsZero() {
		t.Errorf("revenue %s", cands[0].Record.Revenue)
	}
	found := false
	for _, issue := range cands[0].Issues {
		if issue.Code == "NUM_PARSE" && issue.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("expected NUM_PARSE warning, got %+v", cands[0].Issues)
	}
}

func TestRootfiParser(t *testing.T) {
	data := []byte(`{"data": [` + rootfiPeriodJSON("2024-01-01", "2024-01-31", "100.00", "40.00", "60.00") + `]}`)
	cands, err := NewRootfiParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	rec := cands[0].Record
	if !rec.Revenue.Equal(decimal.RequireFromString("100.00")) || !rec.Expenses.Equal(decimal.RequireFromString("40.00")) {
		t.Errorf("totals %s / %s", rec.Revenue, rec.Expenses)
	}
	if !rec.NetProfit.Equal(decimal.RequireFromString("60.00")) {
		t.Errorf("net profit %s", rec.NetProfit)
	}
	if rec.RawData["rootfi_id"] != int64(41) {
		t.Errorf("raw rootfi_id %v", rec.RawData["rootfi_id"])
	}
	ids := map[string]bool{}
	for _, a := range cands[0].Accounts {
		ids[a.AccountID] = true
	}
	if !ids["rootfi_revenue_product_sales"] || !ids["rootfi_cost_of_goods_sold_materials"] {
		t.Errorf("generated ids: %v", ids)
	}
}

func TestRootfiParserNestedRollup(t *testing.T) {
	data := []byte(`{"data": [{
		"rootfi_id": 7,
		"period_start": "2024-02-01", "period_end": "2024-02-29",
		"currency_id": "USD",
		"revenue": [{"name": "Sales", "value": 50, "line_items": [
			{"name": "Domestic", "value": 30},
			{"name": "Export", "value": 20}
		]}],
		"cost_of_goods_sold": [], "operating_expenses": [],
		"non_operating_expenses": [], "non_operating_revenue": []
	}]}`)
	cands, err := NewRootfiParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// A parent's value already includes its children; only the top
	// level contributes to the category total.
	if !cands[0].Record.Revenue.Equal(decimal.NewFromInt(50)) {
		t.Errorf("rolled-up revenue %s", cands[0].Record.Revenue)
	}
	// Nested items are still recorded as accounts and values.
	if len(cands[0].Values) != 3 {
		t.Errorf("expected 3 values, got %d", len(cands[0].Values))
	}
	for _, a := range cands[0].Accounts {
		if a.Name == "Domestic" && (a.ParentAccountID == nil || *a.ParentAccountID != "rootfi_revenue_sales") {
			t.Errorf("domestic parent %v", a.ParentAccountID)
		}
	}
}

func TestRootfiParserDeepHierarchyBalances(t *testing.T) {
	data := []byte(`{"data": [{
		"rootfi_id": 9,
		"period_start": "2024-05-01", "period_end": "2024-05-31",
		"currency_id": "USD",
		"revenue": [{"name": "Business Revenue", "value": 100000, "line_items": [
			{"name": "Product Sales", "value": 80000, "line_items": [
				{"name": "Hardware", "value": 50000},
				{"name": "Software", "value": 30000}
			]},
			{"name": "Service Revenue", "value": 20000}
		]}],
		"cost_of_goods_sold": [{"name": "Direct Costs", "value": 10000}],
		"operating_expenses": [{"name": "Operating Costs", "value": 50000}],
		"non_operating_expenses": [], "non_operating_revenue": [],
		"gross_profit": 90000,
		"net_profit": 40000
	}]}`)
	cands, err := NewRootfiParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rec := cands[0].Record
	if !rec.Revenue.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("revenue %s", rec.Revenue)
	}
	if !rec.Expenses.Equal(decimal.NewFromInt(60000)) {
		t.Errorf("expenses %s", rec.Expenses)
	}
	if !rec.NetProfit.Equal(decimal.NewFromInt(40000)) {
		t.Errorf("net profit %s", rec.NetProfit)
	}
	// Books that add up must survive validation untouched.
	result := NewValidator().Validate(cands[0])
	if !result.IsValid {
		t.Fatalf("valid record rejected: %+v", result.Issues)
	}
	if len(cands[0].Values) != 7 {
		t.Errorf("expected 7 values, got %d", len(cands[0].Values))
	}
}

func TestRootfiParserSkipsPeriodsWithoutBounds(t *testing.T) {
	data := []byte(`{"data": [
		{"rootfi_id": 1, "revenue": [], "cost_of_goods_sold": [], "operating_expenses": [], "non_operating_expenses": [], "non_operating_revenue": []},
		` + rootfiPeriodJSON("2024-03-01", "2024-03-31", "10", "5", "") + `
	]}`)
	cands, err := NewRootfiParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	found := false
	for _, issue := range cands[0].Issues {
		if issue.Code == "PERIOD_META" && issue.Severity == SeverityError {
			found = true
		}
	}
	if !found {
		t.Errorf("expected PERIOD_META error, got %+v", cands[0].Issues)
	}
}

func TestRootfiParserDisambiguatesDuplicateNames(t *testing.T) {
	data := []byte(`{"data": [{
		"rootfi_id": 2,
		"period_start": "2024-04-01", "period_end": "2024-04-30",
		"currency_id": "USD",
		"revenue": [
			{"name": "Misc", "value": 1},
			{"name": "Misc", "value": 2}
		],
		"cost_of_goods_sold": [], "operating_expenses": [],
		"non_operating_expenses": [], "non_operating_revenue": []
	}]}`)
	cands, err := NewRootfiParser().Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cands[0].Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(cands[0].Accounts))
	}
	if cands[0].Accounts[1].AccountID != "rootfi_revenue_misc_2" {
		t.Errorf("disambiguated id: %s", cands[0].Accounts[1].AccountID)
	}
}
