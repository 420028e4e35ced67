// Package companion implements the chat endpoint: a reply from the model
// given the newest few exchanges as context.
package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/grace/internal/engine"
	"github.com/kalambet/grace/internal/oracle"
	"github.com/kalambet/grace/internal/storage"
)

// DefaultWindow is the number of past turns sent as context.
const DefaultWindow = 5

// ErrEmptyMessage is returned for a blank chat message.
var ErrEmptyMessage = errors.New("message is empty")

// Chatter is the chat completion dependency. engine.Engine satisfies it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// History reads and appends conversation turns.
type History interface {
	RecentConversations(limit int) ([]storage.Conversation, error)
	AppendConversation(userText, responseText string) (storage.Conversation, error)
}

// Companion answers chat messages.
type Companion struct {
	client  Chatter
	model   string
	history History
	window  int
}

// New creates a Companion. A non-positive window uses DefaultWindow.
func New(client Chatter, model string, history History, window int) *Companion {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Companion{client: client, model: model, history: history, window: window}
}

// Chat replies to msg and records the exchange.
func (c *Companion) Chat(ctx context.Context, msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", ErrEmptyMessage
	}

	recent, err := c.history.RecentConversations(c.window)
	if err != nil {
		return "", fmt.Errorf("reading conversation history: %w", err)
	}

	reply, err := c.client.Chat(ctx, c.model, BuildPrompt(msg, recent), nil)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	reply = strings.TrimSpace(reply)

	if _, err := c.history.AppendConversation(msg, reply); err != nil {
		return "", fmt.Errorf("recording conversation: %w", err)
	}
	return reply, nil
}

// BuildPrompt constructs the chat messages: personality, the recent
// exchanges oldest-first, and the new message.
func BuildPrompt(msg string, recent []storage.Conversation) []engine.Message {
	var sb strings.Builder
	sb.WriteString("Recent conversation context:")
	for _, turn := range recent {
		fmt.Fprintf(&sb, "\nUser: %s\nGrace: %s", turn.UserText, turn.ResponseText)
	}

	return []engine.Message{
		{Role: "system", Content: oracle.Personality},
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: msg},
	}
}
