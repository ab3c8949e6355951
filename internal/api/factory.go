package api

import (
	"context"
	"fmt"

	"github.com/notexe/assistant-bot/internal/config"
)

// NewProvider creates a Provider based on the configuration.
func NewProvider(ctx context.Context, cfg *config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case config.ProviderDeepSeek:
		return NewDeepSeekProvider(cfg.DeepSeek)

	case config.ProviderOllama:
		return NewOllamaProvider(cfg.Ollama)

	case config.ProviderGemini:
		return NewGeminiProvider(ctx, cfg.Gemini)

	default:
		return nil, fmt.Errorf("unknown provider type: %s (supported: %s, %s, %s)",
			cfg.Type, config.ProviderDeepSeek, config.ProviderOllama, config.ProviderGemini)
	}
}
