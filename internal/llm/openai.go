package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/finsight-ai/finsight/internal/shared"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAI speaks the chat-completions dialect with function tools.
type OpenAI struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	temp    float64
	maxTok  int
	http    *http.Client
}

// NewOpenAI constructs the OpenAI provider.
func NewOpenAI(opts Options) *OpenAI {
	return newChatCompletions("openai", openAIDefaultBaseURL, opts)
}

func newChatCompletions(name, defaultBase string, opts Options) *OpenAI {
	base := opts.BaseURL
	if base == "" {
		base = defaultBase
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 2048
	}
	return &OpenAI{
		name:    name,
		baseURL: base,
		apiKey:  opts.APIKey,
		model:   opts.Model,
		temp:    opts.Temperature,
		maxTok:  maxTok,
		http:    client,
	}
}

// Name reports the provider label used in logs and metrics.
func (p *OpenAI) Name() string { return p.name }

type oaFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function oaFunctionCall `json:"function"`
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Name       string       `json:"name,omitempty"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	Temperature float64     `json:"temperature"`
	MaxTokens   int         `json:"max_tokens"`
}

type oaResponse struct {
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat sends one chat-completions round trip.
func (p *OpenAI) Chat(ctx context.Context, messages []Message, tools []ToolSchema) (*Response, error) {
	body := oaRequest{
		Model:       p.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: p.temp,
		MaxTokens:   p.maxTok,
	}
	for _, t := range tools {
		tool := oaTool{Type: "function"}
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.Parameters
		body.Tools = append(body.Tools, tool)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	res, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrLLMTransient, p.name, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", shared.ErrLLMTransient, p.name, err)
	}
	if err := classifyStatus(p.name, res, raw); err != nil {
		return nil, err
	}

	var parsed oaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%s: %s (%s)", p.name, parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s: response has no choices", p.name)
	}

	choice := parsed.Choices[0]
	out := &Response{
		Text: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	switch {
	case len(out.ToolCalls) > 0:
		out.StopReason = StopToolUse
	case choice.FinishReason == "length":
		out.StopReason = StopMaxToken
	default:
		out.StopReason = StopEndTurn
	}
	return out, nil
}

func toOpenAIMessages(messages []Message) []oaMessage {
	out := make([]oaMessage, 0, len(messages))
	for _, m := range messages {
		msg := oaMessage{Role: m.Role, Content: m.Content}
		if m.Role == RoleTool {
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, oaToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: oaFunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// classifyStatus maps HTTP failures onto retry semantics: 429 carries a
// retry hint, 5xx and timeouts are transient, 4xx is terminal.
func classifyStatus(name string, res *http.Response, body []byte) error {
	switch {
	case res.StatusCode == http.StatusOK:
		return nil
	case res.StatusCode == http.StatusTooManyRequests:
		hint := retryAfterHint(res.Header.Get("Retry-After"))
		return fmt.Errorf("%w: %s: %w", shared.ErrLLMTransient, name, &RateLimitError{RetryAfter: hint})
	case res.StatusCode >= 500:
		return fmt.Errorf("%w: %s: status %d: %s", shared.ErrLLMTransient, name, res.StatusCode, truncate(body, 200))
	default:
		return fmt.Errorf("%s: status %d: %s", name, res.StatusCode, truncate(body, 200))
	}
}

func retryAfterHint(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(body []byte, n int) string {
	if len(body) > n {
		body = body[:n]
	}
	return string(body)
}
