package extraction

import (
	"context"
	"fmt"
	"sync"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	kgerrors "kgraph/backend/pkg/errors"
	"kgraph/backend/pkg/logger"
)

// OpenAICompleter talks to any OpenAI-compatible endpoint (LiteLLM, OpenRouter)
type OpenAICompleter struct {
	client *openai.Client
	model  string
	mu     sync.RWMutex // Protects model field for concurrent access
	logger *zap.Logger
}

// NewOpenAICompleter creates a completer for baseURL + "/v1"
func NewOpenAICompleter(baseURL, apiKey, modelID string) *OpenAICompleter {
	// For LiteLLM, we can use a dummy API key if not provided
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"

	return &OpenAICompleter{
		client: openai.NewClientWithConfig(config),
		model:  modelID,
		logger: logger.Named("extraction.openai"),
	}
}

// SetModel updates the model used by this completer
func (c *OpenAICompleter) SetModel(model string) {
	if model != "" {
		c.mu.Lock()
		c.model = model
		c.mu.Unlock()
		c.logger.Debug("Extraction model updated", zap.String("model", model))
	}
}

// Model returns the current model
func (c *OpenAICompleter) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// Complete implements Completer
func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	model := c.Model()
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Error("Chat completion failed",
			zap.Error(err),
			zap.String("model", model),
		)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", kgerrors.MalformedResponse("extraction.openai", "response has no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}
