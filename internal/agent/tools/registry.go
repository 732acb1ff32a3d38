// Package tools hosts the read-only analysis tools the agent can call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finsight-ai/finsight/internal/finance"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/observability"
	"github.com/finsight-ai/finsight/internal/shared"
)

// FinanceReader is the read surface tools query. Tools never mutate state.
type FinanceReader interface {
	SummarizeRange(ctx context.Context, start, end time.Time, source finance.SourceType, currency string) (*finance.PeriodSummary, error)
	MonthlySeriesRange(ctx context.Context, start, end time.Time, source finance.SourceType, currency string) ([]finance.MonthlyPoint, error)
	CategoryBreakdownRange(ctx context.Context, start, end time.Time, accountType finance.AccountType) ([]finance.CategoryTotal, error)
}

// Handler executes one tool over validated arguments.
type Handler func(ctx context.Context, a Args) (any, error)

// Tool pairs a schema with its handler.
type Tool struct {
	Schema llm.ToolSchema
	Run    Handler
}

// Registry maps tool names to schemas and handlers. Argument validation
// happens here, before any handler runs.
type Registry struct {
	tools   map[string]Tool
	order   []string
	reader  FinanceReader
	metrics *observability.Metrics
	timeout time.Duration
}

// NewRegistry builds the registry with the full tool set.
func NewRegistry(reader FinanceReader, metrics *observability.Metrics, toolTimeout time.Duration) *Registry {
	if toolTimeout <= 0 {
		toolTimeout = 10 * time.Second
	}
	r := &Registry{
		tools:   map[string]Tool{},
		reader:  reader,
		metrics: metrics,
		timeout: toolTimeout,
	}
	r.register(revenueByPeriodTool(reader))
	r.register(expensesByPeriodTool(reader))
	r.register(compareMetricsTool(reader))
	r.register(growthRateTool(reader))
	r.register(anomaliesTool(reader))
	r.register(expenseTrendsTool(reader))
	r.register(expenseCategoriesTool(reader))
	r.register(seasonalPatternsTool(reader))
	r.register(quarterlyPerformanceTool(reader))
	return r
}

func (r *Registry) register(t Tool) {
	r.tools[t.Schema.Name] = t
	r.order = append(r.order, t.Schema.Name)
}

// Schemas lists the tool catalog in registration order.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema)
	}
	return out
}

// Invoke validates arguments and runs the named tool under the tool
// timeout. Unknown tools and bad arguments are validation errors.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs json.RawMessage) (any, error) {
	tool, ok := r.tools[name]
	if !ok {
		r.observe(name, "unknown")
		return nil, fmt.Errorf("%w: unknown tool %q", shared.ErrValidation, name)
	}
	args, err := parseArgs(rawArgs)
	if err != nil {
		r.observe(name, "invalid_args")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	result, err := tool.Run(ctx, args)
	if err != nil {
		r.observe(name, "error")
		return nil, err
	}
	r.observe(name, "ok")
	return result, nil
}

func (r *Registry) observe(tool, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.ObserveToolCall(tool, outcome)
}

// noData is the structured result for queries that matched no records;
// the model sees it as a tool result, not an error.
func noData(detail string) map[string]any {
	return map[string]any{
		"status":  "no_data",
		"message": detail,
	}
}

// Args is the decoded argument object of one tool call.
type Args map[string]any

func parseArgs(raw json.RawMessage) (Args, error) {
	if len(raw) == 0 {
		return Args{}, nil
	}
	var args Args
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: arguments are not a JSON object: %v", shared.ErrValidation, err)
	}
	return args, nil
}

// Str returns a string argument, or def when absent.
func (a Args) Str(key, def string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", shared.ErrValidation, key)
	}
	return s, nil
}

// Date returns a required YYYY-MM-DD argument.
func (a Args) Date(key string) (time.Time, error) {
	raw, err := a.Str(key, "")
	if err != nil {
		return time.Time{}, err
	}
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", shared.ErrValidation, key)
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD, got %q", shared.ErrValidation, key, raw)
	}
	return t, nil
}

// DateRange returns a validated [start, end] pair from the named keys.
func (a Args) DateRange(startKey, endKey string) (time.Time, time.Time, error) {
	start, err := a.Date(startKey)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := a.Date(endKey)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s precedes %s", shared.ErrValidation, endKey, startKey)
	}
	return start, end, nil
}

// Source returns a validated optional source argument.
func (a Args) Source() (finance.SourceType, error) {
	raw, err := a.Str("source", "")
	if err != nil {
		return "", err
	}
	source := finance.SourceType(raw)
	if raw != "" && !source.Valid() {
		return "", fmt.Errorf("%w: unknown source %q", shared.ErrValidation, raw)
	}
	return source, nil
}

// Metric returns a validated metric argument.
func (a Args) Metric(def string) (string, error) {
	raw, err := a.Str("metric", def)
	if err != nil {
		return "", err
	}
	if !finance.ValidMetric(raw) {
		return "", fmt.Errorf("%w: metric must be one of revenue, expenses, net_profit", shared.ErrValidation)
	}
	return raw, nil
}

// Float returns a numeric argument, or def when absent.
func (a Args) Float(key string, def float64) (float64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", shared.ErrValidation, key)
	}
	return f, nil
}

// Int returns an integer argument, or def when absent.
func (a Args) Int(key string, def int) (int, error) {
	f, err := a.Float(key, float64(def))
	if err != nil {
		return 0, err
	}
	n := int(f)
	if float64(n) != f {
		return 0, fmt.Errorf("%w: %s must be an integer", shared.ErrValidation, key)
	}
	return n, nil
}

// Strings returns a required non-empty string-array argument.
func (a Args) Strings(key string) ([]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s is required", shared.ErrValidation, key)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array of strings", shared.ErrValidation, key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be an array of strings", shared.ErrValidation, key)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s must not be empty", shared.ErrValidation, key)
	}
	return out, nil
}

// Ints returns a required non-empty integer-array argument.
func (a Args) Ints(key string) ([]int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s is required", shared.ErrValidation, key)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array of integers", shared.ErrValidation, key)
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		f, ok := item.(float64)
		if !ok || float64(int(f)) != f {
			return nil, fmt.Errorf("%w: %s must be an array of integers", shared.ErrValidation, key)
		}
		out = append(out, int(f))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s must not be empty", shared.ErrValidation, key)
	}
	return out, nil
}

// schema builds the JSON-schema object for a tool's parameters.
func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func dateProp(desc string) map[string]any {
	return map[string]any{"type": "string", "format": "date", "description": desc}
}

var sourceProp = map[string]any{
	"type":        "string",
	"enum":        []string{"quickbooks", "rootfi"},
	"description": "Restrict to one data source.",
}

var metricProp = map[string]any{
	"type":        "string",
	"enum":        []string{"revenue", "expenses", "net_profit"},
	"description": "Metric to analyze.",
}

var currencyProp = map[string]any{
	"type":        "string",
	"description": "ISO 4217 currency code filter, e.g. USD.",
}
