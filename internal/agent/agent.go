// Package agent runs the tool-calling query loop over conversation
// memory.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/shared"
)

const systemPrompt = `You are a financial analysis assistant with access to a company's ` +
	`profit and loss data ingested from accounting systems. Use the provided tools to ` +
	`read revenue, expense and profitability figures before answering; never invent ` +
	`numbers. Dates are YYYY-MM-DD. Amounts are reported in the stored currency. ` +
	`When data is missing, say so plainly. Keep answers concise and quantitative.`

const defaultMaxIterations = 5

// fallbackAnswer is returned when the LLM is unreachable.
const fallbackAnswer = "I could not reach the language model to finish answering. " +
	"Please retry in a moment."

// ChatClient is the LLM surface the controller calls.
type ChatClient interface {
	Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (*llm.Response, error)
}

// ToolRunner executes validated tool calls.
type ToolRunner interface {
	Schemas() []llm.ToolSchema
	Invoke(ctx context.Context, name string, args json.RawMessage) (any, error)
}

// Result is the outcome of one query turn.
type Result struct {
	Answer         string   `json:"answer"`
	ConversationID string   `json:"conversation_id"`
	ToolCallsMade  []string `json:"tool_calls_made"`
	Iterations     int      `json:"iterations"`
	StopReason     string   `json:"stop_reason"`
}

// Config bounds the controller.
type Config struct {
	MaxIterations int
	QueryTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 60 * time.Second
	}
	return c
}

// Controller drives the plan-execute loop.
type Controller struct {
	llm    ChatClient
	tools  ToolRunner
	memory *Memory
	logger *slog.Logger
	cfg    Config
}

// NewController constructs the agent controller.
func NewController(chat ChatClient, tools ToolRunner, memory *Memory, logger *slog.Logger, cfg Config) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if memory == nil {
		memory = NewMemory(0, 0)
	}
	return &Controller{llm: chat, tools: tools, memory: memory, logger: logger, cfg: cfg.withDefaults()}
}

// Memory exposes the conversation store for the HTTP handler.
func (c *Controller) Memory() *Memory { return c.memory }

// ProcessQuery runs one query turn. maxIterations < 0 means the
// configured default; 0 forces an immediate no-tool answer. The loop
// makes at most maxIterations+1 LLM calls.
func (c *Controller) ProcessQuery(ctx context.Context, query, conversationID string, maxIterations int) (*Result, error) {
	if query == "" {
		return nil, shared.ErrValidation
	}
	if maxIterations < 0 {
		maxIterations = c.cfg.MaxIterations
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	conv, release := c.memory.Acquire(conversationID)
	defer release()

	transcript := append([]llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}, conv.History()...)
	userMsg := llm.Message{Role: llm.RoleUser, Content: query}
	transcript = append(transcript, userMsg)
	newMessages := []llm.Message{userMsg}

	result := &Result{ConversationID: conversationID, ToolCallsMade: []string{}}
	for {
		var catalog []llm.ToolSchema
		if result.Iterations < maxIterations {
			catalog = c.tools.Schemas()
		}

		resp, err := c.llm.Chat(ctx, transcript, catalog)
		if err != nil {
			// Degrade instead of failing the request: the caller still
			// gets an answer and the conversation survives.
			c.logger.Error("llm call failed", "conversation_id", conversationID, "error", err)
			result.Answer = fallbackAnswer
			result.StopReason = llm.StopError
			break
		}

		if len(resp.ToolCalls) == 0 || catalog == nil {
			assistant := llm.Message{Role: llm.RoleAssistant, Content: resp.Text}
			transcript = append(transcript, assistant)
			newMessages = append(newMessages, assistant)
			result.Answer = resp.Text
			result.StopReason = llm.StopEndTurn
			break
		}

		assistant := llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls}
		transcript = append(transcript, assistant)
		newMessages = append(newMessages, assistant)

		for _, call := range resp.ToolCalls {
			result.ToolCallsMade = append(result.ToolCallsMade, call.Name)
			toolMsg := llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    c.runTool(ctx, call),
			}
			transcript = append(transcript, toolMsg)
			newMessages = append(newMessages, toolMsg)
		}
		result.Iterations++
	}

	c.memory.Append(conv, newMessages...)
	return result, nil
}

// runTool executes one call and renders the result, or the typed error,
// as a JSON tool message for the model.
func (c *Controller) runTool(ctx context.Context, call llm.ToolCall) string {
	out, err := c.tools.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		c.logger.Warn("tool call failed", "tool", call.Name, "error", err)
		payload, _ := json.Marshal(map[string]any{
			"error":   shared.Kind(err),
			"message": err.Error(),
		})
		return string(payload)
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return `{"error":"internal_error","message":"tool result was not serializable"}`
	}
	return string(payload)
}
