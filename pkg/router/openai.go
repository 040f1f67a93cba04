package router

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// ChatClient is the slice of the go-openai client the adapter needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider adapts the OpenAI Chat Completions API. With an overridden
// base URL it also fronts OpenRouter, which speaks the same protocol.
type OpenAIProvider struct {
	name string
	chat ChatClient
}

// NewOpenAIProvider builds an adapter against api.openai.com.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{name: "openai", chat: openai.NewClient(apiKey)}
}

// NewOpenRouterProvider builds an adapter against the OpenRouter gateway.
func NewOpenRouterProvider(apiKey string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = openRouterBaseURL
	return &OpenAIProvider{name: "openrouter", chat: openai.NewClientWithConfig(cfg)}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (string, Usage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	resp, err := p.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("%s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, errors.New(p.name + ": empty choices in response")
	}

	return resp.Choices[0].Message.Content, Usage{
		TokensIn:  int64(resp.Usage.PromptTokens),
		TokensOut: int64(resp.Usage.CompletionTokens),
	}, nil
}
