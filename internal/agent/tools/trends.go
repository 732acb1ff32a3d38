package tools

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/shared"
)

// nowFunc is stubbed in tests.
var nowFunc = time.Now

func metricSeries(points []finance.MonthlyPoint, metric string) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i], _ = p.MetricOf(metric).Float64()
	}
	return out
}

func meanStddev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		stddev += (v - mean) * (v - mean)
	}
	stddev = math.Sqrt(stddev / float64(len(values)))
	return mean, stddev
}

func anomaliesTool(reader FinanceReader) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "detect_anomalies",
			Description: "Months where a metric deviates from its recent mean by more than a threshold.",
			Parameters: schema([]string{"metric"}, map[string]any{
				"metric": metricProp,
				"threshold": map[string]any{
					"type":        "number",
					"description": "Relative deviation from the mean that counts as an anomaly. Default 0.2.",
				},
				"lookback_months": map[string]any{
					"type":        "integer",
					"description": "How many months back to analyze, 1 to 120. Default 12.",
				},
			}),
		},
		Run: func(ctx context.Context, a Args) (any, error) {
			metric, err := a.Metric("")
			if err != nil {
				return nil, err
			}
			threshold, err := a.Float("threshold", 0.2)
			if err != nil {
				return nil, err
			}
			if threshold <= 0 {
				return nil, fmt.Errorf("%w: threshold must be positive", shared.ErrValidation)
			}
			lookback, err := a.Int("lookback_months", 12)
			if err != nil {
				return nil, err
			}
			if lookback < 1 || lookback > 120 {
				return nil, fmt.Errorf("%w: lookback_months must be between 1 and 120", shared.ErrValidation)
			}

			end := nowFunc().UTC()
			start := end.AddDate(0, -lookback, 0)
			points, err := reader.MonthlySeriesRange(ctx, start, end, "", "")
			if err != nil {
				return nil, err
			}
			if len(points) == 0 {
				return noData("no monthly data in the lookback window"), nil
			}

			values := metricSeries(points, metric)
			mean, stddev := meanStddev(values)

			var anomalies []map[string]any
			for i, v := range values {
				if mean == 0 {
					continue
				}
				deviation := (v - mean) / math.Abs(mean)
				if math.Abs(deviation) <= threshold {
					continue
				}
				entry := map[string]any{
					"month":     points[i].Month,
					"value":     fmt.Sprintf("%.2f", v),
					"deviation": fmt.Sprintf("%.3f", deviation),
				}
				if stddev > 0 {
					entry["z_score"] = fmt.Sprintf("%.2f", (v-mean)/stddev)
				}
				anomalies = append(anomalies, entry)
			}
			return map[string]any{
				"metric":          metric,
				"months_analyzed": len(points),
				"mean":            fmt.Sprintf("%.2f", mean),
				"stddev":          fmt.Sprintf("%.2f", stddev),
				"anomalies":       anomalies,
			}, nil
		},
	}
}

func expenseTrendsTool(reader FinanceReader) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "analyze_expense_trends",
			Description: "Monotonic segments and inflection points of monthly expenses.",
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
			points, err := reader.MonthlySeriesRange(ctx, start, end, "", "")
			if err != nil {
				return nil, err
			}
			if len(points) == 0 {
				return noData("no monthly data in the requested range"), nil
			}

			values := metricSeries(points, finance.MetricExpenses)
			segments, inflections := monotonicSegments(points, values)
			return map[string]any{
				"months_analyzed": len(points),
				"segments":        segments,
				"inflections":     inflections,
				"monthly":         monthlyBreakdown(points, finance.MetricExpenses),
			}, nil
		},
	}
}

// monotonicSegments splits the series into runs of one direction and
// collects the months where the direction flips.
func monotonicSegments(points []finance.MonthlyPoint, values []float64) ([]map[string]any, []string) {
	if len(values) < 2 {
		return []map[string]any{{
			"from": points[0].Month, "to": points[0].Month, "direction": "flat",
		}}, nil
	}

	direction := func(a, b float64) string {
		switch {
		case b > a:
			return "rising"
		case b < a:
			return "falling"
		default:
			return "flat"
		}
	}

	var segments []map[string]any
	var inflections []string
	segStart := 0
	current := direction(values[0], values[1])
	for i := 2; i < len(values); i++ {
		next := direction(values[i-1], values[i])
		if next == current {
			continue
		}
		segments = append(segments, map[string]any{
			"from":      points[segStart].Month,
			"to":        points[i-1].Month,
			"direction": current,
		})
		inflections = append(inflections, points[i-1].Month)
		segStart = i - 1
		current = next
	}
	segments = append(segments, map[string]any{
		"from":      points[segStart].Month,
		"to":        points[len(points)-1].Month,
		"direction": current,
	})
	return segments, inflections
}

func seasonalPatternsTool(reader FinanceReader) Tool {
	return Tool{
		Schema: llm.ToolSchema{
			Name:        "analyze_seasonal_patterns",
			Description: "Per-calendar-month averages of a metric across years, with peak and trough months.",
			Parameters: schema([]string{"metric", "years"}, map[string]any{
				"metric": metricProp,
				"years": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "integer"},
					"description": "Calendar years to average over.",
				},
			}),
		},
		Run: func(ctx context.Context, a Args) (any, error) {
			metric, err := a.Metric("")
			if err != nil {
				return nil, err
			}
			years, err := a.Ints("years")
			if err != nil {
				return nil, err
			}
			for _, y := range years {
				if y < 1900 || y > 2200 {
					return nil, fmt.Errorf("%w: year %d out of range", shared.ErrValidation, y)
				}
			}

			sums := make([]float64, 12)
			counts := make([]int, 12)
			for _, y := range years {
				start := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
				end := time.Date(y, 12, 31, 0, 0, 0, 0, time.UTC)
				points, err := reader.MonthlySeriesRange(ctx, start, end, "", "")
				if err != nil {
					return nil, err
				}
				for _, p := range points {
					t, err := time.Parse("2006-01", p.Month)
					if err != nil {
						continue
					}
					v, _ := p.MetricOf(metric).Float64()
					sums[t.Month()-1] += v
					counts[t.Month()-1]++
				}
			}

			observed := 0
			months := make([]map[string]any, 0, 12)
			peak, trough := -1, -1
			var peakAvg, troughAvg float64
			for m := 0; m < 12; m++ {
				if counts[m] == 0 {
					continue
				}
				observed++
				avg := sums[m] / float64(counts[m])
				months = append(months, map[string]any{
					"month":   time.Month(m + 1).String(),
					"average": fmt.Sprintf("%.2f", avg),
					"samples": counts[m],
				})
				if peak == -1 || avg > peakAvg {
					peak, peakAvg = m, avg
				}
				if trough == -1 || avg < troughAvg {
					trough, troughAvg = m, avg
				}
			}
			if observed == 0 {
				return noData("no monthly data for the requested years"), nil
			}
			return map[string]any{
				"metric": metric,
				"months": months,
				"peak":   time.Month(peak + 1).String(),
				"trough": time.Month(trough + 1).String(),
			}, nil
		},
	}
}
