// Package llm provides the language-model clients used for plan extraction
// and code synthesis. Providers implement a small completion interface; all
// prompt construction lives with the callers.
package llm

import (
	"context"
	"fmt"

	"quizagent/internal/config"
)

// Client defines the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// NewClient builds the provider selected by the configuration.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(cfg)
	case "openrouter":
		return NewOpenRouterClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
