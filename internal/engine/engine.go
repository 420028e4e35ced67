package engine

import "context"

// Engine abstracts a chat backend: a local Ollama server or an
// OpenAI-compatible cloud provider. The decision oracle and the companion
// use this interface instead of depending on a concrete client.
type Engine interface {
	// Name identifies the backend for status output ("ollama", "openai", ...).
	Name() string

	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by backends that host models locally and can
// download missing ones.
type ModelManager interface {
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
