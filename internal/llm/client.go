package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finsight-ai/finsight/internal/observability"
	"github.com/finsight-ai/finsight/internal/shared"
)

// ClientConfig bounds the retrying client.
type ClientConfig struct {
	Timeout          time.Duration
	MaxRetries       int
	Backoff          time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Client wraps a provider with per-call timeouts, bounded retries on
// transient failures, and a circuit breaker that fast-fails once the
// provider has exhausted several calls in a row. Non-retryable provider
// errors pass through.
type Client struct {
	provider Provider
	metrics  *observability.Metrics
	logger   *slog.Logger
	cfg      ClientConfig
	breaker  *breaker
}

// NewClient constructs the retrying client.
func NewClient(provider Provider, metrics *observability.Metrics, logger *slog.Logger, cfg ClientConfig) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Client{
		provider: provider,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		breaker:  newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
	}
}

// Provider reports the underlying provider label.
func (c *Client) Provider() string { return c.provider.Name() }

// Chat calls the provider, retrying transient failures. After the retry
// budget is spent the error is ErrLLMUnavailable, and enough exhausted
// calls in a row open the breaker so later calls fail fast instead of
// burning the retry budget against a dead provider.
func (c *Client) Chat(ctx context.Context, messages []Message, tools []ToolSchema) (*Response, error) {
	if !c.breaker.allow() {
		c.observe("unavailable", 0)
		return nil, fmt.Errorf("%w: %s: circuit open", shared.ErrLLMUnavailable, c.provider.Name())
	}

	var lastErr error
	backoff := c.cfg.Backoff
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		res, err := c.chatOnce(ctx, messages, tools)
		if err == nil {
			c.breaker.success()
			return res, nil
		}
		if !errors.Is(err, shared.ErrLLMTransient) {
			// The provider answered, just not usefully; the path is
			// healthy as far as the breaker is concerned.
			c.breaker.success()
			c.observe("error", 0)
			return nil, err
		}
		lastErr = err

		wait := backoff
		var rl *RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		c.logger.Warn("llm call failed",
			"provider", c.provider.Name(), "attempt", attempt, "wait", wait, "error", err)
		if attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			c.breaker.release()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	c.breaker.failure()
	c.observe("unavailable", 0)
	return nil, fmt.Errorf("%w: %v", shared.ErrLLMUnavailable, lastErr)
}

func (c *Client) chatOnce(ctx context.Context, messages []Message, tools []ToolSchema) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	started := time.Now()
	res, err := c.provider.Chat(ctx, messages, tools)
	elapsed := time.Since(started)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %s: timeout after %s", shared.ErrLLMTransient, c.provider.Name(), c.cfg.Timeout)
		}
		return nil, err
	}
	c.observe("ok", elapsed)
	return res, nil
}

func (c *Client) observe(outcome string, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveLLMCall(c.provider.Name(), outcome, elapsed)
}

// NewProvider builds the configured provider by name.
func NewProvider(name string, opts Options) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAI(opts), nil
	case "groq":
		return NewGroq(opts), nil
	case "anthropic":
		return NewAnthropic(opts), nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", shared.ErrConfiguration, name)
	}
}
