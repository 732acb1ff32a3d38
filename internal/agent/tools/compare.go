package tools

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/shared"
)

func metricOfSummary(s *finance.PeriodSummary, metric string) decimal.Decimal {
	switch metric {
	case finance.MetricExpenses:
		return s.Expenses
	case finance.MetricNetProfit:
		return s.NetProfit
	default:
		return s.Revenue
	}
}

// percentChange returns (to-from)/|from|*100, or nil when from is zero.
func percentChange(from, to decimal.Decimal) *string {
	if from.IsZero() {
		return nil
	}
	pct := to.Sub(from).Div(from.Abs()).Mul(decimal.NewFromInt(100)).Round(2).String()
	return &pct
}

func compareMetricsTool(reader FinanceReader) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "compare_financial_metrics",
			Description: "Compare metrics between two date ranges: absolute and percent change.",
			Parameters: schema([]string{"start1", "end1", "start2", "end2", "metrics"}, map[string]any{
				"start1": dateProp("First range start, YYYY-MM-DD."),
				"end1":   dateProp("First range end, YYYY-MM-DD."),
				"start2": dateProp("Second range start, YYYY-MM-DD."),
				"end2":   dateProp("Second range end, YYYY-MM-DD."),
				"metrics": map[string]any{
					"type":        "array",
					"items":       metricProp,
					"description": "Metrics to compare.",
				},
			}),
		},
		Run: func(ctx context.Context, a Args) (any, error) {
			start1, end1, err := a.DateRange("start1", "end1")
			if err != nil {
				return nil, err
			}
			start2, end2, err := a.DateRange("start2", "end2")
			if err != nil {
				return nil, err
			}
			metrics, err := a.Strings("metrics")
			if err != nil {
				return nil, err
			}
			for _, m := range metrics {
				if !finance.ValidMetric(m) {
					return nil, fmt.Errorf("%w: unknown metric %q", shared.ErrValidation, m)
				}
			}

			first, err := reader.SummarizeRange(ctx, start1, end1, "", "")
			if err != nil {
				return nil, err
			}
			second, err := reader.SummarizeRange(ctx, start2, end2, "", "")
			if err != nil {
				return nil, err
			}
			if first.Count == 0 && second.Count == 0 {
				return noData("no financial records in either range"), nil
			}

			comparison := make(map[string]any, len(metrics))
			for _, m := range metrics {
				v1 := metricOfSummary(first, m)
				v2 := metricOfSummary(second, m)
				entry := map[string]any{
					"period1":         v1.String(),
					"period2":         v2.String(),
					"absolute_change": v2.Sub(v1).String(),
				}
				if pct := percentChange(v1, v2); pct != nil {
					entry["percent_change"] = *pct
				}
				comparison[m] = entry
			}
			return map[string]any{
				"period1_records": first.Count,
				"period2_records": second.Count,
				"comparison":      comparison,
			}, nil
		},
	}
}

func growthRateTool(reader FinanceReader) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "calculate_growth_rate",
			Description: "Growth of a metric across an ordered list of periods, with a compound rate.",
			Parameters: schema([]string{"metric", "periods"}, map[string]any{
				"metric": metricProp,
				"periods": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Period specs in order: YYYY, YYYY-Qn or YYYY-MM.",
				},
			}),
		},
		Run: func(ctx context.Context, a Args) (any, error) {
			metric, err := a.Metric("")
			if err != nil {
				return nil, err
			}
			specs, err := a.Strings("periods")
			if err != nil {
				return nil, err
			}
			if len(specs) < 2 {
				return nil, fmt.Errorf("%w: periods needs at least two entries", shared.ErrValidation)
			}

			values := make([]decimal.Decimal, len(specs))
			records := 0
			for i, spec := range specs {
				start, end, err := finance.ResolvePeriod(spec)
				if err != nil {
					return nil, err
				}
				summary, err := reader.SummarizeRange(ctx, start, end, "", "")
				if err != nil {
					return nil, err
				}
				values[i] = metricOfSummary(summary, metric)
				records += summary.Count
			}
			if records == 0 {
				return noData("no financial records in the requested periods"), nil
			}

			steps := make([]map[string]any, 0, len(specs)-1)
			for i := 1; i < len(specs); i++ {
				step := map[string]any{
					"from":   specs[i-1],
					"to":     specs[i],
					"change": values[i].Sub(values[i-1]).String(),
				}
				if pct := percentChange(values[i-1], values[i]); pct != nil {
					step["growth_percent"] = *pct
				}
				steps = append(steps, step)
			}

			result := map[string]any{
				"metric": metric,
				"steps":  steps,
			}
			first, _ := values[0].Float64()
			last, _ := values[len(values)-1].Float64()
			if first > 0 && last > 0 {
				compound := math.Pow(last/first, 1/float64(len(values)-1)) - 1
				result["compound_growth_percent"] = fmt.Sprintf("%.2f", compound*100)
			}
			return result, nil
		},
	}
}

func quarterlyPerformanceTool(reader FinanceReader) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "get_quarterly_performance",
			Description: "Four quarter summaries for one year, with year-over-year change when available.",
			Parameters: schema([]string{"year", "metric"}, map[string]any{
				"year":   map[string]any{"type": "integer", "description": "Calendar year, e.g. 2024."},
				"metric": metricProp,
			}),
		},
		Run: func(ctx context.Context, a Args) (any, error) {
			year, err := a.Int("year", 0)
			if err != nil {
				return nil, err
			}
			if year < 1900 || year > 2200 {
				return nil, fmt.Errorf("%w: year out of range", shared.ErrValidation)
			}
			metric, err := a.Metric("")
			if err != nil {
				return nil, err
			}

			quarters := make([]map[string]any, 0, 4)
			records := 0
			for q := 1; q <= 4; q++ {
				spec := fmt.Sprintf("%d-Q%d", year, q)
				start, end, err := finance.ResolvePeriod(spec)
				if err != nil {
					return nil, err
				}
				summary, err := reader.SummarizeRange(ctx, start, end, "", "")
				if err != nil {
					return nil, err
				}
				records += summary.Count

				entry := map[string]any{
					"quarter":      spec,
					metric:         metricOfSummary(summary, metric).String(),
					"record_count": summary.Count,
				}
				prevStart, prevEnd, _ := finance.ResolvePeriod(fmt.Sprintf("%d-Q%d", year-1, q))
				prev, err := reader.SummarizeRange(ctx, prevStart, prevEnd, "", "")
				if err != nil {
					return nil, err
				}
				if prev.Count > 0 {
					if pct := percentChange(metricOfSummary(prev, metric), metricOfSummary(summary, metric)); pct != nil {
						entry["yoy_percent"] = *pct
					}
				}
				quarters = append(quarters, entry)
			}
			if records == 0 {
				return noData(fmt.Sprintf("no financial records for %d", year)), nil
			}
			return map[string]any{
				"year":     year,
				"metric":   metric,
				"quarters": quarters,
			}, nil
		},
	}
}
