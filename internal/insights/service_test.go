package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/shared"
)

type stubTools struct {
	calls []string
	args  map[string]json.RawMessage
	err   error
}

func (s *stubTools) Invoke(_ context.Context, name string, args json.RawMessage) (any, error) {
	s.calls = append(s.calls, name)
	if s.args == nil {
		s.args = map[string]json.RawMessage{}
	}
	s.args[name] = args
	if s.err != nil {
		return nil, s.err
	}
	return map[string]any{"tool": name, "total_revenue": "30000"}, nil
}

type stubChat struct {
	calls  int
	prompt string
	text   string
	err    error
}

func (s *stubChat) Chat(_ context.Context, messages []llm.Message, _ []llm.ToolSchema) (*llm.Response, error) {
	s.calls++
	s.prompt = messages[len(messages)-1].Content
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.text, StopReason: llm.StopEndTurn}, nil
}

func newTestService(t *testing.T, tools ToolRunner, chat ChatClient) (*Service, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(tools, chat, NewCache(client, time.Minute), nil)
	svc.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }
	return svc, client
}

func narrativeJSON() string {
	return `{"narrative":"Revenue grew steadily.","key_findings":["Q4 revenue was 30000"],"recommendations":["Watch expense growth"]}`
}

func TestGetBuildsAndCaches(t *testing.T) {
	tools := &stubTools{}
	chat := &stubChat{text: narrativeJSON()}
	svc, _ := newTestService(t, tools, chat)

	insight, err := svc.Get(context.Background(), KindRevenueTrends, "2024")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if insight.InsightType != KindRevenueTrends || insight.Period != "2024" {
		t.Errorf("identity %s/%s", insight.InsightType, insight.Period)
	}
	if insight.Narrative != "Revenue grew steadily." {
		t.Errorf("narrative %q", insight.Narrative)
	}
	if len(insight.KeyFindings) != 1 || len(insight.Recommendations) != 1 {
		t.Errorf("findings %v recommendations %v", insight.KeyFindings, insight.Recommendations)
	}
	want := []string{"get_revenue_by_period", "calculate_growth_rate", "detect_anomalies"}
	if strings.Join(tools.calls, ",") != strings.Join(want, ",") {
		t.Errorf("tool sequence %v", tools.calls)
	}
	if !strings.Contains(chat.prompt, "total_revenue") {
		t.Errorf("prompt missing data points: %q", chat.prompt)
	}

	// Second read must come from the cache.
	again, err := svc.Get(context.Background(), KindRevenueTrends, "2024")
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if len(tools.calls) != 3 || chat.calls != 1 {
		t.Errorf("cache miss on second read: %d tool calls, %d llm calls", len(tools.calls), chat.calls)
	}
	if again.Narrative != insight.Narrative {
		t.Errorf("cached narrative %q", again.Narrative)
	}
}

func TestClearCacheForcesRebuild(t *testing.T) {
	tools := &stubTools{}
	svc, _ := newTestService(t, tools, &stubChat{text: narrativeJSON()})

	if _, err := svc.Get(context.Background(), KindExpenseAnalysis, "2024"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	before := len(tools.calls)

	if err := svc.ClearCache(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := svc.Get(context.Background(), KindExpenseAnalysis, "2024"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if len(tools.calls) != before*2 {
		t.Errorf("expected a rebuild after clear, tool calls %d -> %d", before, len(tools.calls))
	}
}

func TestGetRejectsUnknownKind(t *testing.T) {
	svc, _ := newTestService(t, &stubTools{}, &stubChat{text: "{}"})
	if _, err := svc.Get(context.Background(), "profit-magic", "2024"); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetDefaultsPeriodToCurrentYear(t *testing.T) {
	tools := &stubTools{}
	svc, _ := newTestService(t, tools, &stubChat{text: narrativeJSON()})

	insight, err := svc.Get(context.Background(), KindQuarterlyPerformance, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if insight.Period != "2026" {
		t.Errorf("default period %q", insight.Period)
	}
	var args struct {
		Year int `json:"year"`
	}
	if err := json.Unmarshal(tools.args["get_quarterly_performance"], &args); err != nil || args.Year != 2026 {
		t.Errorf("quarterly args %s (err %v)", tools.args["get_quarterly_performance"], err)
	}
}

func TestNarrativeFallsBackToRawText(t *testing.T) {
	svc, _ := newTestService(t, &stubTools{}, &stubChat{text: "Plain prose, not JSON."})
	insight, err := svc.Get(context.Background(), KindCashFlow, "2024")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if insight.Narrative != "Plain prose, not JSON." {
		t.Errorf("narrative %q", insight.Narrative)
	}
	if insight.KeyFindings == nil || insight.Recommendations == nil {
		t.Error("findings must be empty lists, not null")
	}
}

func TestLLMFailureDegradesToDataOnly(t *testing.T) {
	chat := &stubChat{err: fmt.Errorf("%w: provider down", shared.ErrLLMUnavailable)}
	svc, _ := newTestService(t, &stubTools{}, chat)

	insight, err := svc.Get(context.Background(), KindSeasonalPatterns, "2024")
	if err != nil {
		t.Fatalf("llm outage must not fail the insight: %v", err)
	}
	if insight.Narrative != "" || len(insight.DataPoints) == 0 {
		t.Errorf("degraded insight %+v", insight)
	}
}

func TestToolFailureIsNotCached(t *testing.T) {
	tools := &stubTools{err: fmt.Errorf("%w: connection reset", shared.ErrStoreTransient)}
	svc, client := newTestService(t, tools, &stubChat{text: narrativeJSON()})

	if _, err := svc.Get(context.Background(), KindComprehensiveSummary, "2024"); !errors.Is(err, shared.ErrStoreTransient) {
		t.Fatalf("expected store error, got %v", err)
	}
	keys, err := client.Keys(context.Background(), "insights:"+KindComprehensiveSummary+":*").Result()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("failed build was cached: %v", keys)
	}

	// Recovery works on the next request.
	tools.err = nil
	tools.calls = nil
	if _, err := svc.Get(context.Background(), KindComprehensiveSummary, "2024"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(tools.calls) != 4 {
		t.Errorf("comprehensive summary ran %d tools", len(tools.calls))
	}
}
