package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/finsight-ai/finsight/internal/shared"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
)

// Anthropic speaks the messages API with tool_use content blocks.
type Anthropic struct {
	baseURL string
	apiKey  string
	model   string
	temp    float64
	maxTok  int
	http    *http.Client
}

// NewAnthropic constructs the Anthropic provider.
func NewAnthropic(opts Options) *Anthropic {
	base := opts.BaseURL
	if base == "" {
		base = anthropicDefaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 2048
	}
	return &Anthropic{
		baseURL: base,
		apiKey:  opts.APIKey,
		model:   opts.Model,
		temp:    opts.Temperature,
		maxTok:  maxTok,
		http:    client,
	}
}

// Name reports the provider label used in logs and metrics.
func (p *Anthropic) Name() string { return "anthropic" }

type anContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// tool_use fields
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	// tool_result fields
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anMessage struct {
	Role    string           `json:"role"`
	Content []anContentBlock `json:"content"`
}

type anTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anRequest struct {
	Model       string      `json:"model"`
	System      string      `json:"system,omitempty"`
	Messages    []anMessage `json:"messages"`
	Tools       []anTool    `json:"tools,omitempty"`
	Temperature float64     `json:"temperature"`
	MaxTokens   int         `json:"max_tokens"`
}

type anResponse struct {
	Content    []anContentBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends one messages-API round trip, translating tool results into
// tool_result user blocks the way the API expects.
func (p *Anthropic) Chat(ctx context.Context, messages []Message, tools []ToolSchema) (*Response, error) {
	body := anRequest{
		Model:       p.model,
		Temperature: p.temp,
		MaxTokens:   p.maxTok,
	}
	for _, t := range tools {
		body.Tools = append(body.Tools, anTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			// The messages API takes the system prompt out of band.
			if body.System != "" {
				body.System += "\n\n"
			}
			body.System += m.Content
		case RoleTool:
			body.Messages = append(body.Messages, anMessage{
				Role: RoleUser,
				Content: []anContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case RoleAssistant:
			blocks := []anContentBlock{}
			if m.Content != "" {
				blocks = append(blocks, anContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			body.Messages = append(body.Messages, anMessage{Role: RoleAssistant, Content: blocks})
		default:
			body.Messages = append(body.Messages, anMessage{
				Role:    RoleUser,
				Content: []anContentBlock{{Type: "text", Text: m.Content}},
			})
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	res, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %v", shared.ErrLLMTransient, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: read body: %v", shared.ErrLLMTransient, err)
	}
	if err := classifyStatus("anthropic", res, raw); err != nil {
		return nil, err
	}

	var parsed anResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("anthropic: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}

	out := &Response{
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	switch parsed.StopReason {
	case "tool_use":
		out.StopReason = StopToolUse
	case "max_tokens":
		out.StopReason = StopMaxToken
	default:
		out.StopReason = StopEndTurn
	}
	return out, nil
}
