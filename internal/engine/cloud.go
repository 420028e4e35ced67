package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/grace/internal/openai"
)

// CloudEngine talks to an OpenAI-compatible provider (OpenAI, xAI, OpenRouter).
type CloudEngine struct {
	name   string
	client *openai.Client
}

// NewCloudEngine creates a CloudEngine for the named provider.
func NewCloudEngine(name, apiKey, baseURL string) *CloudEngine {
	return &CloudEngine{name: name, client: openai.NewClient(apiKey, baseURL)}
}

func (e *CloudEngine) Name() string { return e.name }

// Chat forwards messages to the provider. A non-nil jsonSchema switches the
// request to JSON mode and appends the expected shape as a system message.
func (e *CloudEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]openai.Message, 0, len(messages)+1)
	for _, m := range messages {
		msgs = append(msgs, openai.Message{Role: m.Role, Content: m.Content})
	}

	req := openai.ChatRequest{Model: model, Messages: msgs}
	if jsonSchema != nil {
		shape, err := json.Marshal(jsonSchema)
		if err != nil {
			return "", fmt.Errorf("encoding schema: %w", err)
		}
		req.Messages = append(req.Messages, openai.Message{
			Role:    "system",
			Content: "Respond only with a JSON object matching this schema: " + string(shape),
		})
		req.ResponseFormat = &openai.ResponseFormat{Type: "json_object"}
	}

	out, err := e.client.Chat(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s chat: %w", e.name, err)
	}
	return strings.TrimSpace(out), nil
}

func (e *CloudEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}
