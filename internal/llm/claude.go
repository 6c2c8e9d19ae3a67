package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/raphaelgruber/mindstream/internal/config"
	"github.com/raphaelgruber/mindstream/internal/metrics"
)

const defaultClaudeMaxTokens = 1024

// ClaudeModel talks to the Anthropic Messages API directly and records token usage.
type ClaudeModel struct {
	client      anthropic.Client
	modelName   string
	temperature float64
	maxTokens   int64
	attempts    int
	metrics     *metrics.Collector
}

var _ Generator = (*ClaudeModel)(nil)

// NewClaudeModel creates a Messages API generator.
func NewClaudeModel(cfg config.Config, mc *metrics.Collector, opts ...option.RequestOption) (*ClaudeModel, error) {
	if cfg.Anthropic.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key required")
	}
	maxTokens := int64(cfg.LLM.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}
	attempts := cfg.LLM.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	// The SDK retries on its own; retries are owned by withRetry instead.
	opts = append([]option.RequestOption{
		option.WithAPIKey(cfg.Anthropic.APIKey),
		option.WithMaxRetries(0),
	}, opts...)

	return &ClaudeModel{
		client:      anthropic.NewClient(opts...),
		modelName:   cfg.LLM.Model,
		temperature: cfg.LLM.Temperature,
		maxTokens:   maxTokens,
		attempts:    attempts,
		metrics:     mc,
	}, nil
}

// Generate sends prompt as a single user message and joins the text blocks of the reply.
func (c *ClaudeModel) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.modelName),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	resp, err := withRetry(ctx, c.attempts, c.metrics, "claude_messages", func() (*anthropic.Message, error) {
		return c.client.Messages.New(ctx, params)
	})
	if err != nil {
		c.metrics.RecordTiming(metrics.OpLLMGenerate, time.Since(start))
		return "", fmt.Errorf("claude generate: %w", err)
	}
	c.metrics.RecordLLMUsage(metrics.OpLLMGenerate, time.Since(start), resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// Model returns the Claude model name.
func (c *ClaudeModel) Model() string {
	return c.modelName
}
