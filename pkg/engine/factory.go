package engine

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Config selects and configures an engine. Kind is echo, anthropic or openai.
type Config struct {
	Kind         string
	Model        string
	APIKey       string
	BaseURL      string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	PlanFirst    bool
	Logger       zerolog.Logger
}

// Models used when Config.Model is empty, by provider.
var defaultModels = map[string]string{
	"anthropic": DefaultModel,
	"openai":    "gpt-4o-mini",
}

// New builds the engine named by cfg.Kind. An empty kind is echo.
func New(cfg Config) (Engine, error) {
	if cfg.Kind == "" || cfg.Kind == "echo" {
		return NewEcho(), nil
	}
	model, known := defaultModels[cfg.Kind]
	if !known {
		return nil, fmt.Errorf("unsupported engine: %s", cfg.Kind)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("engine %s requires an api key", cfg.Kind)
	}
	if cfg.Model != "" {
		model = cfg.Model
	}

	provider, err := NewProvider(ProviderConfig{Provider: cfg.Kind, APIKey: cfg.APIKey, BaseURL: cfg.BaseURL})
	if err != nil {
		return nil, err
	}
	return NewLLM(LLMConfig{
		Provider:     provider,
		Model:        model,
		SystemPrompt: cfg.SystemPrompt,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		PlanFirst:    cfg.PlanFirst,
		Logger:       cfg.Logger,
	})
}
