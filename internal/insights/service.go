// Package insights composes canned analyses over the tool set and asks
// the LLM for a narrative.
package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/shared"
)

// Insight kinds.
const (
	KindRevenueTrends        = "revenue-trends"
	KindExpenseAnalysis      = "expense-analysis"
	KindCashFlow             = "cash-flow"
	KindSeasonalPatterns     = "seasonal-patterns"
	KindQuarterlyPerformance = "quarterly-performance"
	KindComprehensiveSummary = "comprehensive-summary"
)

// Kinds lists every supported insight in presentation order.
var Kinds = []string{
	KindRevenueTrends,
	KindExpenseAnalysis,
	KindCashFlow,
	KindSeasonalPatterns,
	KindQuarterlyPerformance,
	KindComprehensiveSummary,
}

// ValidKind reports whether the insight kind is supported.
func ValidKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Insight is one generated analysis.
type Insight struct {
	InsightType     string         `json:"insight_type"`
	Period          string         `json:"period"`
	Narrative       string         `json:"narrative"`
	KeyFindings     []string       `json:"key_findings"`
	Recommendations []string       `json:"recommendations"`
	DataPoints      map[string]any `json:"data_points"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// ToolRunner executes analysis tools by name.
type ToolRunner interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (any, error)
}

// ChatClient requests narratives from the LLM.
type ChatClient interface {
	Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (*llm.Response, error)
}

// Service generates and caches insights.
type Service struct {
	tools  ToolRunner
	chat   ChatClient
	cache  *Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the insights service.
func NewService(tools ToolRunner, chat ChatClient, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tools: tools, chat: chat, cache: cache, logger: logger, now: time.Now}
}

// Get returns the insight for (kind, period), serving from cache when
// fresh. An empty period defaults to the current calendar year.
func (s *Service) Get(ctx context.Context, kind, period string) (*Insight, error) {
	if !ValidKind(kind) {
		return nil, fmt.Errorf("%w: unknown insight %q", shared.ErrValidation, kind)
	}
	if period == "" {
		period = fmt.Sprintf("%d", s.now().UTC().Year())
	}
	start, end, err := finance.ResolvePeriod(period)
	if err != nil {
		return nil, err
	}

	key, err := s.cache.BuildKey(ctx, "insights", kind,
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	var insight Insight
	err = s.cache.FetchJSON(ctx, key, &insight, func(ctx context.Context) (any, error) {
		return s.build(ctx, kind, period, start, end)
	})
	if err != nil {
		return nil, err
	}
	return &insight, nil
}

// Generate computes and caches one insight, discarding the result. The
// background warmup job calls this.
func (s *Service) Generate(ctx context.Context, kind, period string) error {
	_, err := s.Get(ctx, kind, period)
	return err
}

// ClearCache invalidates every cached insight.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) build(ctx context.Context, kind, period string, start, end time.Time) (*Insight, error) {
	dataPoints, err := s.collect(ctx, kind, start, end)
	if err != nil {
		return nil, err
	}
	insight := &Insight{
		InsightType: kind,
		Period:      period,
		DataPoints:  dataPoints,
		GeneratedAt: s.now().UTC(),
	}
	s.narrate(ctx, insight)
	return insight, nil
}

// collect runs the tool sequence for one insight kind and keys each
// result by tool name in data_points.
func (s *Service) collect(ctx context.Context, kind string, start, end time.Time) (map[string]any, error) {
	startArg := start.Format("2006-01-02")
	endArg := end.Format("2006-01-02")
	rangeArgs := map[string]any{"start_date": startArg, "end_date": endArg}
	year := start.Year()

	type step struct {
		key  string
		tool string
		args map[string]any
	}
	var steps []step
	switch kind {
	case KindRevenueTrends:
		steps = []step{
			{"revenue", "get_revenue_by_period", rangeArgs},
			{"growth", "calculate_growth_rate", map[string]any{
				"metric": "revenue", "periods": quarterSpecs(year)}},
			{"anomalies", "detect_anomalies", map[string]any{
				"metric": "revenue", "lookback_months": 12}},
		}
	case KindExpenseAnalysis:
		steps = []step{
			{"expenses", "get_expenses_by_period", rangeArgs},
			{"categories", "get_expense_categories", rangeArgs},
			{"trend", "analyze_expense_trends", rangeArgs},
		}
	case KindCashFlow:
		mid := start.Add(end.Sub(start) / 2)
		steps = []step{
			{"revenue", "get_revenue_by_period", rangeArgs},
			{"expenses", "get_expenses_by_period", rangeArgs},
			{"halves", "compare_financial_metrics", map[string]any{
				"start1": startArg, "end1": mid.Format("2006-01-02"),
				"start2": mid.AddDate(0, 0, 1).Format("2006-01-02"), "end2": endArg,
				"metrics": []string{"revenue", "expenses", "net_profit"},
			}},
		}
	case KindSeasonalPatterns:
		steps = []step{
			{"seasonal", "analyze_seasonal_patterns", map[string]any{
				"metric": "revenue", "years": yearsBetween(start, end)}},
			{"anomalies", "detect_anomalies", map[string]any{
				"metric": "revenue", "lookback_months": 24}},
		}
	case KindQuarterlyPerformance:
		steps = []step{
			{"revenue_quarters", "get_quarterly_performance", map[string]any{
				"year": year, "metric": "revenue"}},
			{"profit_quarters", "get_quarterly_performance", map[string]any{
				"year": year, "metric": "net_profit"}},
		}
	case KindComprehensiveSummary:
		steps = []step{
			{"revenue", "get_revenue_by_period", rangeArgs},
			{"expenses", "get_expenses_by_period", rangeArgs},
			{"categories", "get_expense_categories", rangeArgs},
			{"quarters", "get_quarterly_performance", map[string]any{
				"year": year, "metric": "net_profit"}},
		}
	}

	out := make(map[string]any, len(steps))
	for _, st := range steps {
		raw, err := json.Marshal(st.args)
		if err != nil {
			return nil, err
		}
		result, err := s.tools.Invoke(ctx, st.tool, json.RawMessage(raw))
		if err != nil {
			return nil, fmt.Errorf("insight %s: tool %s: %w", kind, st.tool, err)
		}
		out[st.key] = result
	}
	return out, nil
}

const narrativePrompt = `You are a financial analyst. Based on the JSON data below, write a short ` +
	`narrative for a "%s" report covering %s. Respond with a single JSON object of the shape ` +
	`{"narrative": string, "key_findings": [string], "recommendations": [string]} and nothing else. ` +
	`Findings must cite concrete numbers from the data.

%s`

type narrativeReply struct {
	Narrative       string   `json:"narrative"`
	KeyFindings     []string `json:"key_findings"`
	Recommendations []string `json:"recommendations"`
}

// narrate fills the narrative fields. LLM failures degrade to a data
// only insight instead of failing the request.
func (s *Service) narrate(ctx context.Context, insight *Insight) {
	insight.KeyFindings = []string{}
	insight.Recommendations = []string{}
	if s.chat == nil {
		return
	}

	data, err := json.Marshal(insight.DataPoints)
	if err != nil {
		return
	}
	prompt := fmt.Sprintf(narrativePrompt, insight.InsightType, insight.Period, data)
	res, err := s.chat.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil)
	if err != nil {
		s.logger.Warn("insight narrative unavailable", "insight", insight.InsightType, "error", err)
		return
	}

	var reply narrativeReply
	text := strings.TrimSpace(res.Text)
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		// Not the requested shape; keep the raw text as narrative.
		insight.Narrative = text
		return
	}
	insight.Narrative = reply.Narrative
	if reply.KeyFindings != nil {
		insight.KeyFindings = reply.KeyFindings
	}
	if reply.Recommendations != nil {
		insight.Recommendations = reply.Recommendations
	}
}

func quarterSpecs(year int) []string {
	return []string{
		fmt.Sprintf("%d-Q1", year),
		fmt.Sprintf("%d-Q2", year),
		fmt.Sprintf("%d-Q3", year),
		fmt.Sprintf("%d-Q4", year),
	}
}

func yearsBetween(start, end time.Time) []int {
	var years []int
	for y := start.Year(); y <= end.Year(); y++ {
		years = append(years, y)
	}
	return years
}
