package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4-turbo-preview"

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // any OpenAI-compatible gateway
	Model       string
	Temperature float32
	HTTPTimeout time.Duration
}

// OpenAICompleter sends the prompt as a single system message to a chat
// completion endpoint and returns the first choice's content.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAICompleter(cfg OpenAIConfig) *OpenAICompleter {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPTimeout > 0 {
		c.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(c),
		model:       model,
		temperature: cfg.Temperature,
	}
}

func (p *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.Prompt},
		},
		Temperature: p.temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
