package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/shared"
)

// QuickBooksParser reads the column-major P&L report: one column per
// period, one row per account, rows nested into section groups.
type QuickBooksParser struct{}

// NewQuickBooksParser constructs the parser.
func NewQuickBooksParser() *QuickBooksParser {
	return &QuickBooksParser{}
}

type qbReport struct {
	Header  qbHeader  `json:"Header"`
	Columns qbColumns `json:"Columns"`
	Rows    qbRows    `json:"Rows"`
}

type qbEnvelope struct {
	qbReport
	Data *qbReport `json:"data"`
}

type qbHeader struct {
	Currency    string `json:"Currency"`
	ReportName  string `json:"ReportName"`
	ReportBasis string `json:"ReportBasis"`
}

type qbColumns struct {
	Column []qbColumn `json:"Column"`
}

type qbColumn struct {
	ColTitle string   `json:"ColTitle"`
	ColType  string   `json:"ColType"`
	MetaData []qbMeta `json:"MetaData"`
}

type qbMeta struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type qbRows struct {
	Row []qbRow `json:"Row"`
}

type qbRow struct {
	Header  *qbRowHeader `json:"Header"`
	ColData []qbCol      `json:"ColData"`
	Rows    *qbRows      `json:"Rows"`
	Group   string       `json:"group"`
	Type    string       `json:"type"`
}

type qbRowHeader struct {
	ColData []qbCol `json:"ColData"`
}

type qbCol struct {
	Value string `json:"value"`
	ID    string `json:"id"`
}

type qbPeriod struct {
	title  string
	colKey string
	start  time.Time
	end    time.Time
}

// valueCell ties an account to a positional period column.
type valueCell struct {
	accountID string
	periodIdx int
	value     decimal.Decimal
}

type qbState struct {
	periods  []qbPeriod
	accounts map[string]finance.Account
	order    []string
	cells    []valueCell
	issues   []Issue
}

// Parse decodes the report and emits one candidate per period column.
func (p *QuickBooksParser) Parse(data []byte) ([]Candidate, error) {
	var env qbEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrParse, err)
	}
	report := env.qbReport
	if env.Data != nil {
		report = *env.Data
	}

	st := &qbState{accounts: make(map[string]finance.Account)}

	currency := strings.ToUpper(strings.TrimSpace(report.Header.Currency))
	if currency == "" {
		currency = "USD"
		st.issues = append(st.issues, infoIssue("CUR_DEFAULT", "currency missing from header, defaulted to USD"))
	}

	p.parseColumns(report.Columns.Column, st)
	if len(st.periods) == 0 {
		return nil, fmt.Errorf("%w: no period columns found", shared.ErrParse)
	}

	p.walkRows(report.Rows.Row, "", 0, "", st)

	candidates := make([]Candidate, 0, len(st.periods))
	for i, period := range st.periods {
		rec := finance.FinancialRecord{
			Source:      finance.SourceQuickBooks,
			PeriodStart: period.start,
			PeriodEnd:   period.end,
			Currency:    currency,
		}
		rec.ID = finance.RecordID(rec.Source, rec.PeriodStart, rec.PeriodEnd, rec.Currency)
		rec.RawData = map[string]any{
			"period_title": period.title,
			"col_key":      period.colKey,
			"report_name":  report.Header.ReportName,
		}

		var values []finance.AccountValue
		revenue, expenses := decimal.Zero, decimal.Zero
		for _, cell := range st.cells {
			if cell.periodIdx != i {
				continue
			}
			values = append(values, finance.AccountValue{
				AccountID:         cell.accountID,
				FinancialRecordID: rec.ID,
				Value:             cell.value.Abs(),
			})
			switch st.accounts[cell.accountID].AccountType {
			case finance.AccountTypeRevenue:
				revenue = revenue.Add(cell.value.Abs())
			case finance.AccountTypeExpense:
				expenses = expenses.Add(cell.value.Abs())
			}
		}
		rec.Revenue = revenue
		rec.Expenses = expenses
		rec.NetProfit = revenue.Sub(expenses)

		accounts := make([]finance.Account, 0, len(st.order))
		for _, id := range st.order {
			accounts = append(accounts, st.accounts[id])
		}

		candidates = append(candidates, Candidate{
			Record:   rec,
			Accounts: accounts,
			Values:   values,
			Issues:   st.issues,
		})
	}
	return candidates, nil
}

func (p *QuickBooksParser) parseColumns(columns []qbColumn, st *qbState) {
	for _, col := range columns {
		if col.ColType != "Money" {
			continue
		}
		meta := make(map[string]string, len(col.MetaData))
		for _, m := range col.MetaData {
			meta[m.Name] = m.Value
		}
		startStr, endStr := meta["StartDate"], meta["EndDate"]
		if startStr == "" || endStr == "" {
			st.issues = append(st.issues, errorIssue("PERIOD_META", "columns",
				"column %q is missing period bounds, skipped", col.ColTitle))
			continue
		}
		start, err1 := time.Parse("2006-01-02", startStr)
		end, err2 := time.Parse("2006-01-02", endStr)
		if err1 != nil || err2 != nil {
			st.issues = append(st.issues, errorIssue("PERIOD_META", "columns",
				"column %q has unparseable period bounds, skipped", col.ColTitle))
			continue
		}
		st.periods = append(st.periods, qbPeriod{
			title:  col.ColTitle,
			colKey: meta["ColKey"],
			start:  start,
			end:    end,
		})
	}
}

func (p *QuickBooksParser) walkRows(rows []qbRow, parentID string, level int, group string, st *qbState) {
	for _, row := range rows {
		rowGroup := group
		if row.Group != "" {
			rowGroup = row.Group
		}

		currentID := parentID
		switch {
		case row.Header != nil:
			currentID = p.parseAccountRow(row.Header.ColData, parentID, level, rowGroup, st)
		case len(row.ColData) > 0:
			p.parseAccountRow(row.ColData, parentID, level, rowGroup, st)
		}

		if row.Rows != nil {
			p.walkRows(row.Rows.Row, currentID, level+1, rowGroup, st)
		}
	}
}

// parseAccountRow records the account in the forest and its per-period
// cells. Returns the account id so nested rows can attach to it.
func (p *QuickBooksParser) parseAccountRow(colData []qbCol, parentID string, level int, group string, st *qbState) string {
	if len(colData) == 0 {
		return parentID
	}
	name := strings.TrimSpace(colData[0].Value)
	if name == "" || strings.EqualFold(name, "total") {
		return parentID
	}

	accountID := colData[0].ID
	if accountID == "" {
		if parentID != "" {
			accountID = parentID + "_" + finance.Slug(name)
		} else {
			accountID = "qb_" + finance.Slug(name)
		}
	}

	if _, seen := st.accounts[accountID]; !seen {
		account := finance.Account{
			AccountID:   accountID,
			Name:        name,
			AccountType: classifyQuickBooks(name, level, group),
			Source:      finance.SourceQuickBooks,
			Description: fmt.Sprintf("P&L report account at level %d", level),
			IsActive:    true,
		}
		if parentID != "" {
			parent := parentID
			account.ParentAccountID = &parent
		}
		st.accounts[accountID] = account
		st.order = append(st.order, accountID)
	}

	for i, col := range colData[1:] {
		if i >= len(st.periods) {
			break
		}
		raw := strings.TrimSpace(col.Value)
		if raw == "" {
			continue
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			st.issues = append(st.issues, warningIssue("NUM_PARSE", "rows",
				"unparseable value %q for account %s, substituted zero", raw, accountID))
			value = decimal.Zero
		}
		st.cells = append(st.cells, valueCell{accountID: accountID, periodIdx: i, value: value})
	}
	return accountID
}

var qbGroupTypes = map[string]finance.AccountType{
	"income":             finance.AccountTypeRevenue,
	"otherincome":        finance.AccountTypeRevenue,
	"expenses":           finance.AccountTypeExpense,
	"otherexpenses":      finance.AccountTypeExpense,
	"cogs":               finance.AccountTypeExpense,
	"costofgoodssold":    finance.AccountTypeExpense,
	"grossprofit":        finance.AccountTypeOther,
	"netincome":          finance.AccountTypeOther,
	"netoperatingincome": finance.AccountTypeOther,
}

var qbKeywordTypes = []struct {
	accountType finance.AccountType
	keywords    []string
}{
	// Liability first so "accounts payable" does not match revenue terms.
	{finance.AccountTypeLiability, []string{"payable", "loan", "debt", "liability", "accrued"}},
	{finance.AccountTypeRevenue, []string{"income", "revenue", "sales", "service", "consulting"}},
	{finance.AccountTypeExpense, []string{"expense", "cost", "payroll", "rent", "marketing"}},
	{finance.AccountTypeAsset, []string{"cash", "bank", "receivable", "inventory", "equipment"}},
}

func classifyQuickBooks(name string, level int, group string) finance.AccountType {
	if group != "" {
		key := strings.ToLower(strings.ReplaceAll(group, " ", ""))
		if t, ok := qbGroupTypes[key]; ok && t != finance.AccountTypeOther {
			return t
		}
	}

	lower := strings.ToLower(name)
	for _, entry := range qbKeywordTypes {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.accountType
			}
		}
	}

	if level == 0 && strings.Contains(lower, "income") {
		return finance.AccountTypeRevenue
	}
	return finance.AccountTypeExpense
}
