// Package llm talks to the chat-completion provider that analyses documents.
package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/visa-eval-backend/internal/config"
	"github.com/tbourn/visa-eval-backend/internal/prompt"
)

var (
	ErrNotConfigured   = errors.New("llm provider not configured")
	ErrEmptyCompletion = errors.New("llm returned no choices")
)

// Analyzer sends one prompt and returns the model's raw text.
type Analyzer interface {
	Analyze(ctx context.Context, p prompt.Prompt) (string, error)
}

// Client is an Analyzer backed by an OpenAI-compatible chat completion API.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// New builds a Client. It fails with ErrNotConfigured when no API key is set.
func New(cfg config.LLMConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Analyze issues a single JSON-mode chat completion. Cancellation and
// deadlines come from ctx.
func (c *Client) Analyze(ctx context.Context, p prompt.Prompt) (string, error) {
	ctx, span := otel.Tracer("llm").Start(ctx, "Analyze",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", c.model),
			attribute.Int("llm.max_tokens", c.maxTokens),
			attribute.Int("llm.prompt_chars", len(p.System)+len(p.User)),
		))
	defer span.End()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion")
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "empty completion")
		return "", ErrEmptyCompletion
	}
	span.SetAttributes(
		attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens),
		attribute.String("llm.finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return resp.Choices[0].Message.Content, nil
}
