// Package llm wraps the chat completion engine.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/dalil/internal/config"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Completer returns one reply for an ordered message sequence.
type Completer interface {
	Complete(ctx context.Context, messages []models.Message) (string, error)
}

// NewOpenAIClient builds the SDK client shared by completions and embeddings.
func NewOpenAIClient(cfg config.OpenAIConfig) *openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.ResolveAPIKey()),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	client := openai.NewClient(opts...)
	return &client
}

// OpenAICompleter calls the Chat Completions API.
type OpenAICompleter struct {
	client *openai.Client
	model  string
}

// NewOpenAICompleter returns a completer for model.
func NewOpenAICompleter(client *openai.Client, model string) (*OpenAICompleter, error) {
	if client == nil {
		return nil, fmt.Errorf("openai client is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	return &OpenAICompleter{client: client, model: model}, nil
}

// Complete sends messages in order and returns the first choice's content.
func (c *OpenAICompleter) Complete(ctx context.Context, messages []models.Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case models.RoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		case models.RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			return "", fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
