// Package llm abstracts chat-completion providers behind one
// tool-calling contract.
package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Message roles shared by all providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Stop reasons normalized across provider dialects.
const (
	StopEndTurn  = "end_turn"
	StopToolUse  = "tool_use"
	StopMaxToken = "max_tokens"
	StopError    = "llm_error"
)

// Message is one turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	// ToolCalls carries the calls an assistant message requested, so
	// the transcript round-trips through providers that require them.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSchema describes one callable tool to the model. Parameters is a
// JSON schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized reply from any provider.
type Response struct {
	Text       string     `json:"text,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Usage      Usage      `json:"usage"`
	StopReason string     `json:"stop_reason"`
}

// Provider is one chat-completion backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []Message, tools []ToolSchema) (*Response, error)
}

// RateLimitError reports a 429 with the provider's retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "rate limited by provider"
}

// Options configure a provider-specific client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}
