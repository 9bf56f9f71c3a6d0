// Package llm wraps the OpenAI-compatible chat completion API used for
// classification and digest summaries. The default endpoint is Gemini's
// OpenAI compatibility layer.
package llm

import (
	"context"
	"fmt"

	"digest_server/core/port/out"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultModel   = "gemini-2.0-flash"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// Client is the chat completion client. It owns no timeout; callers wrap
// calls with their own context deadline.
type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	topP        float32
}

// ClientConfig configures the chat completion client.
type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// NewClient creates a client with default settings against the default
// endpoint.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(ClientConfig{APIKey: apiKey})
}

// NewClientWithConfig creates a client, falling back to defaults for any
// zero-valued field.
func NewClientWithConfig(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.1
	}
	topP := cfg.TopP
	if topP == 0 {
		topP = 0.95
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = baseURL

	return &Client{
		client:      openai.NewClientWithConfig(apiCfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
		topP:        float32(topP),
	}
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return c.model
}

// Generate runs one chat completion and returns the raw completion text.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string, opts out.GenerateOptions) (string, error) {
	temperature := c.temperature
	if opts.Temperature > 0 {
		temperature = float32(opts.Temperature)
	}
	topP := c.topP
	if opts.TopP > 0 {
		topP = float32(opts.TopP)
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
