package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mailtriage/pkg/config"
)

// NewProvider builds the configured provider, wrapped with a fallback when one is set.
func NewProvider(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Provider, error) {
	primary, err := newSingle(ctx, cfg.Provider, cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.TimeoutSeconds, logger)
	if err != nil {
		return nil, err
	}
	if cfg.FallbackProvider == "" {
		return primary, nil
	}

	secondary, err := newSingle(ctx, cfg.FallbackProvider, cfg.FallbackAPIKey, cfg.FallbackModel, "", cfg.TimeoutSeconds, logger)
	if err != nil {
		return nil, fmt.Errorf("fallback provider: %w", err)
	}
	logger.Info("LLM fallback provider enabled",
		zap.String("primary", primary.Name()),
		zap.String("secondary", secondary.Name()),
	)
	return NewFallbackProvider(primary, secondary, logger), nil
}

func newSingle(ctx context.Context, name, apiKey, model, baseURL string, timeoutSec int, logger *zap.Logger) (Provider, error) {
	switch name {
	case "anthropic", "":
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic: api key is required")
		}
		return NewAnthropicClient(apiKey, model, baseURL, time.Duration(timeoutSec)*time.Second, logger), nil
	case "gemini":
		return NewGeminiClient(ctx, apiKey, model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}
