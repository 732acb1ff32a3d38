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

// RootfiParser reads the period-major dialect: a data array of period
// objects, each carrying five category arrays of nested line items.
type RootfiParser struct{}

// NewRootfiParser constructs the parser.
func NewRootfiParser() *RootfiParser {
	return &RootfiParser{}
}

type rootfiEnvelope struct {
	Data []rootfiPeriod `json:"data"`
}

type rootfiPeriod struct {
	RootfiID             int64            `json:"rootfi_id"`
	PlatformID           string           `json:"platform_id"`
	PeriodStart          string           `json:"period_start"`
	PeriodEnd            string           `json:"period_end"`
	CurrencyID           string           `json:"currency_id"`
	Revenue              []rootfiLineItem `json:"revenue"`
	CostOfGoodsSold      []rootfiLineItem `json:"cost_of_goods_sold"`
	OperatingExpenses    []rootfiLineItem `json:"operating_expenses"`
	NonOperatingExpenses []rootfiLineItem `json:"non_operating_expenses"`
	NonOperatingRevenue  []rootfiLineItem `json:"non_operating_revenue"`
	GrossProfit          *json.Number     `json:"gross_profit"`
	OperatingProfit      *json.Number     `json:"operating_profit"`
	NetProfit            *json.Number     `json:"net_profit"`
}

type rootfiLineItem struct {
	Name      string           `json:"name"`
	Value     json.Number      `json:"value"`
	AccountID string           `json:"account_id"`
	LineItems []rootfiLineItem `json:"line_items"`
}

type rootfiCategory struct {
	name        string
	items       []rootfiLineItem
	accountType finance.AccountType
}

// Parse decodes the envelope and emits one candidate per period element.
// A period missing its bounds is skipped with an ERROR issue rather than
// failing the file.
func (p *RootfiParser) Parse(data []byte) ([]Candidate, error) {
	var env rootfiEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrParse, err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: expected a data array", shared.ErrParse)
	}

	var candidates []Candidate
	var fileIssues []Issue
	for _, period := range env.Data {
		cand, issues := p.parsePeriod(period)
		fileIssues = append(fileIssues, issues...)
		if cand != nil {
			cand.Issues = append(cand.Issues, fileIssues...)
			fileIssues = nil
			candidates = append(candidates, *cand)
		}
	}
	if len(candidates) == 0 && len(fileIssues) > 0 {
		return nil, fmt.Errorf("%w: no usable periods: %s", shared.ErrParse, fileIssues[0].Message)
	}
	return candidates, nil
}

func (p *RootfiParser) parsePeriod(period rootfiPeriod) (*Candidate, []Issue) {
	if period.PeriodStart == "" || period.PeriodEnd == "" {
		return nil, []Issue{errorIssue("PERIOD_META", "data",
			"record %d is missing period bounds, skipped", period.RootfiID)}
	}
	start, err1 := time.Parse("2006-01-02", period.PeriodStart)
	end, err2 := time.Parse("2006-01-02", period.PeriodEnd)
	if err1 != nil || err2 != nil {
		return nil, []Issue{errorIssue("PERIOD_META", "data",
			"record %d has unparseable period bounds, skipped", period.RootfiID)}
	}

	st := &rootfiState{
		accounts: make(map[string]finance.Account),
		idCounts: make(map[string]int),
	}

	currency := strings.ToUpper(strings.TrimSpace(period.CurrencyID))
	if currency == "" {
		currency = "USD"
		st.issues = append(st.issues, infoIssue("CUR_DEFAULT", "currency_id missing, defaulted to USD"))
	}

	rec := finance.FinancialRecord{
		Source:      finance.SourceRootfi,
		PeriodStart: start,
		PeriodEnd:   end,
		Currency:    currency,
	}
	rec.ID = finance.RecordID(rec.Source, start, end, currency)

	categories := []rootfiCategory{
		{"revenue", period.Revenue, finance.AccountTypeRevenue},
		{"cost_of_goods_sold", period.CostOfGoodsSold, finance.AccountTypeExpense},
		{"operating_expenses", period.OperatingExpenses, finance.AccountTypeExpense},
		{"non_operating_expenses", period.NonOperatingExpenses, finance.AccountTypeExpense},
		{"non_operating_revenue", period.NonOperatingRevenue, finance.AccountTypeRevenue},
	}

	revenue, expenses := decimal.Zero, decimal.Zero
	for _, cat := range categories {
		total := st.walkItems(cat.items, cat.accountType, rec.ID, cat.name, "")
		if cat.accountType == finance.AccountTypeRevenue {
			revenue = revenue.Add(total)
		} else {
			expenses = expenses.Add(total)
		}
	}
	rec.Revenue = revenue
	rec.Expenses = expenses

	// The source's own net profit is kept when present so the balance
	// check can catch books that do not add up.
	if period.NetProfit != nil {
		if np, err := decimal.NewFromString(period.NetProfit.String()); err == nil {
			rec.NetProfit = np
		} else {
			rec.NetProfit = revenue.Sub(expenses)
		}
	} else {
		rec.NetProfit = revenue.Sub(expenses)
	}

	rec.RawData = map[string]any{
		"rootfi_id":   period.RootfiID,
		"platform_id": period.PlatformID,
	}
	if period.GrossProfit != nil {
		rec.RawData["gross_profit"] = period.GrossProfit.String()
	}
	if period.OperatingProfit != nil {
		rec.RawData["operating_profit"] = period.OperatingProfit.String()
	}

	accounts := make([]finance.Account, 0, len(st.order))
	for _, id := range st.order {
		accounts = append(accounts, st.accounts[id])
	}
	return &Candidate{Record: rec, Accounts: accounts, Values: st.values, Issues: st.issues}, nil
}

type rootfiState struct {
	accounts map[string]finance.Account
	order    []string
	idCounts map[string]int
	values   []finance.AccountValue
	issues   []Issue
}

// walkItems descends a line item tree. A parent's value already
// includes its children, so the returned total sums only the items at
// this level; recursion registers the nested accounts and values.
func (st *rootfiState) walkItems(items []rootfiLineItem, accountType finance.AccountType, recordID, category, parentID string) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}

		value := decimal.Zero
		if raw := item.Value.String(); raw != "" && raw != "0" {
			parsed, err := decimal.NewFromString(raw)
			if err != nil {
				st.issues = append(st.issues, warningIssue("NUM_PARSE", category,
					"unparseable value %q for item %q, substituted zero", raw, name))
			} else {
				value = parsed
			}
		}
		total = total.Add(value)

		accountID := item.AccountID
		if accountID == "" {
			accountID = st.generateID(name, category, parentID)
		}

		if _, seen := st.accounts[accountID]; !seen {
			account := finance.Account{
				AccountID:   accountID,
				Name:        name,
				AccountType: accountType,
				Source:      finance.SourceRootfi,
				Description: fmt.Sprintf("%s line item", strings.ReplaceAll(category, "_", " ")),
				IsActive:    true,
			}
			if parentID != "" {
				parent := parentID
				account.ParentAccountID = &parent
			}
			st.accounts[accountID] = account
			st.order = append(st.order, accountID)
		}

		if !value.IsZero() {
			st.values = append(st.values, finance.AccountValue{
				AccountID:         accountID,
				FinancialRecordID: recordID,
				Value:             value.Abs(),
			})
		}

		if len(item.LineItems) > 0 {
			st.walkItems(item.LineItems, accountType, recordID, category, accountID)
		}
	}
	return total
}

// generateID derives an account id from the name; repeated names within
// one parse get an incrementing suffix.
func (st *rootfiState) generateID(name, category, parentID string) string {
	base := "rootfi_" + category + "_" + finance.Slug(name)
	if parentID != "" {
		base = parentID + "_" + finance.Slug(name)
	}
	st.idCounts[base]++
	if n := st.idCounts[base]; n > 1 {
		return fmt.Sprintf("%s_%d", base, n)
	}
	return base
}
