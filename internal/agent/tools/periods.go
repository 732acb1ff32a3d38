package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/shared"
)

func periodArgs(a Args) (start, end time.Time, source finance.SourceType, currency string, err error) {
	start, end, err = a.DateRange("start_date", "end_date")
	if err != nil {
		return
	}
	source, err = a.Source()
	if err != nil {
		return
	}
	currency, err = a.Str("currency", "")
	if err != nil {
		return
	}
	currency = strings.ToUpper(currency)
	if currency != "" && len(currency) != 3 {
		err = fmt.Errorf("%w: currency must be a three letter code", shared.ErrValidation)
	}
	return
}

func monthlyBreakdown(points []finance.MonthlyPoint, metric string) []map[string]any {
	out := make([]map[string]any, 0, len(points))
	for _, p := range points {
		out = append(out, map[string]any{
			"month": p.Month,
			metric:  p.MetricOf(metric).String(),
		})
	}
	return out
}

func revenueByPeriodTool(reader FinanceReader) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "get_revenue_by_period",
			Description: "Total revenue between two dates, with a monthly breakdown.",
			Parameters: schema([]string{"start_date", "end_date"}, map[string]any{
				"start_date": dateProp("Range start, YYYY-MM-DD."),
				"end_date":   dateProp("Range end, YYYY-MM-DD."),
				"source":     sourceProp,
				"currency":   currencyProp,
			}),
		},
		Run: func(ctx context.Context, a Args) (any, error) {
			start, end, source, currency, err := periodArgs(a)
			if err != nil {
				return nil, err
			}
			summary, err := reader.SummarizeRange(ctx, start, end, source, currency)
			if err != nil {
				return nil, err
			}
			if summary.Count == 0 {
				return noData("no financial records in the requested range"), nil
			}
			points, err := reader.MonthlySeriesRange(ctx, start, end, source, currency)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"total_revenue": summary.Revenue.String(),
				"record_count":  summary.Count,
				"sources":       summary.Sources,
				"monthly":       monthlyBreakdown(points, finance.MetricRevenue),
			}, nil
		},
	}
}

func expensesByPeriodTool(reader FinanceReader) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "get_expenses_by_period",
			Description: "Total expenses between two dates, with monthly breakdown and category split.",
			Parameters: schema([]string{"start_date", "end_date"}, map[string]any{
				"start_date": dateProp("Range start, YYYY-MM-DD."),
				"end_date":   dateProp("Range end, YYYY-MM-DD."),
				"source":     sourceProp,
				"currency":   currencyProp,
			}),
		},
		Run: func(ctx context.Context, a Args) (any, error) {
			start, end, source, currency, err := periodArgs(a)
			if err != nil {
				return nil, err
			}
			summary, err := reader.SummarizeRange(ctx, start, end, source, currency)
			if err != nil {
				return nil, err
			}
			if summary.Count == 0 {
				return noData("no financial records in the requested range"), nil
			}
			points, err := reader.MonthlySeriesRange(ctx, start, end, source, currency)
			if err != nil {
				return nil, err
			}
			result := map[string]any{
				"total_expenses": summary.Expenses.String(),
				"record_count":   summary.Count,
				"sources":        summary.Sources,
				"monthly":        monthlyBreakdown(points, finance.MetricExpenses),
			}
			// Category split is best effort: account-level data may be
			// missing for some sources.
			if categories, err := reader.CategoryBreakdownRange(ctx, start, end, finance.AccountTypeExpense); err == nil && len(categories) > 0 {
				result["categories"] = categorySplit(categories)
			}
			return result, nil
		},
	}
}

func expenseCategoriesTool(reader FinanceReader) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "get_expense_categories",
			Description: "Expense totals per top-level category with each category's share.",
			Parameters: schema([]string{"start_date", "end_date"}, map[string]any{
				"start_date": dateProp("Range start, YYYY-MM-DD."),
				"end_date":   dateProp("Range end, YYYY-MM-DD."),
			}),
		},
		Run: func(ctx context.Context, a Args) (any, error) {
			start, end, err := a.DateRange("start_date", "end_date")
			if err != nil {
				return nil, err
			}
			categories, err := reader.CategoryBreakdownRange(ctx, start, end, finance.AccountTypeExpense)
			if err != nil {
				return nil, err
			}
			if len(categories) == 0 {
				return noData("no categorized expenses in the requested range"), nil
			}
			return map[string]any{"categories": categorySplit(categories)}, nil
		},
	}
}

func categorySplit(categories []finance.CategoryTotal) []map[string]any {
	out := make([]map[string]any, 0, len(categories))
	for _, c := range categories {
		out = append(out, map[string]any{
			"account_id": c.AccountID,
			"name":       c.Name,
			"total":      c.Total.String(),
			"share":      c.Share.String(),
		})
	}
	return out
}
