// Package sqlgen turns natural language prompts into SQL using an LLM
// and validates what comes back before anything touches a database.
package sqlgen

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/datapilot/datapilot/internal/config"
)

// Model is the text generation surface the generator depends on.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LLMModel adapts a langchaingo model to the Model interface.
type LLMModel struct {
	llm         llms.Model
	modelName   string
	temperature float64
}

// NewLLMModel builds a provider-specific model from configuration.
func NewLLMModel(cfg config.AIConfig) (*LLMModel, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
	case config.ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai api key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
	case config.ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic api key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	return &LLMModel{
		llm:         model,
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

func (m *LLMModel) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt, llms.WithTemperature(m.temperature))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return response, nil
}

// ModelName returns the configured model identifier.
func (m *LLMModel) ModelName() string {
	return m.modelName
}
