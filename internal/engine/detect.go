package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/grace/internal/ollama"
	"github.com/kalambet/grace/internal/openai"
)

// Provider names accepted in configuration.
const (
	ProviderAuto       = "auto"
	ProviderOllama     = "ollama"
	ProviderOpenAI     = "openai"
	ProviderXAI        = "xai"
	ProviderOpenRouter = "openrouter"
)

// DetectConfig holds parameters for backend detection.
type DetectConfig struct {
	Provider      string
	OllamaBaseURL string
	// ChatTimeout bounds Ollama chat requests that carry no deadline, such
	// as companion chat. Zero uses ollama.DefaultChatTimeout.
	ChatTimeout time.Duration

	// BaseURL overrides the provider's default API endpoint.
	BaseURL          string
	OpenAIAPIKey     string
	XAIAPIKey        string
	OpenRouterAPIKey string
}

const probeTimeout = 2 * time.Second

// Detect returns the backend named by cfg.Provider. With "auto" (or empty)
// it prefers a reachable local Ollama server, then the first cloud provider
// with an API key, and finally falls back to Ollama so startup can report
// it as unreachable.
func Detect(ctx context.Context, cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return newLocal(cfg), nil
	case ProviderOpenAI:
		return cloud(ProviderOpenAI, cfg.OpenAIAPIKey, baseURL(cfg.BaseURL, openai.OpenAIBaseURL))
	case ProviderXAI:
		return cloud(ProviderXAI, cfg.XAIAPIKey, baseURL(cfg.BaseURL, openai.XAIBaseURL))
	case ProviderOpenRouter:
		return cloud(ProviderOpenRouter, cfg.OpenRouterAPIKey, baseURL(cfg.BaseURL, openai.OpenRouterBaseURL))
	case ProviderAuto, "":
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	local := newLocal(cfg)
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if local.IsRunning(probeCtx) {
		return local, nil
	}

	switch {
	case cfg.OpenAIAPIKey != "":
		return NewCloudEngine(ProviderOpenAI, cfg.OpenAIAPIKey, baseURL(cfg.BaseURL, openai.OpenAIBaseURL)), nil
	case cfg.XAIAPIKey != "":
		return NewCloudEngine(ProviderXAI, cfg.XAIAPIKey, baseURL(cfg.BaseURL, openai.XAIBaseURL)), nil
	case cfg.OpenRouterAPIKey != "":
		return NewCloudEngine(ProviderOpenRouter, cfg.OpenRouterAPIKey, baseURL(cfg.BaseURL, openai.OpenRouterBaseURL)), nil
	}
	return local, nil
}

func newLocal(cfg DetectConfig) *OllamaEngine {
	var opts []ollama.Option
	if cfg.ChatTimeout > 0 {
		opts = append(opts, ollama.WithChatTimeout(cfg.ChatTimeout))
	}
	return NewOllamaEngine(cfg.OllamaBaseURL, opts...)
}

func cloud(name, key, url string) (Engine, error) {
	if key == "" {
		return nil, fmt.Errorf("llm provider %s selected but no API key is configured", name)
	}
	return NewCloudEngine(name, key, url), nil
}

func baseURL(override, def string) string {
	if override != "" {
		return override
	}
	return def
}
