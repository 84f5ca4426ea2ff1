package embedding

import (
	"context"
	"fmt"
	"strings"
)

// Provider turns texts into vectors. Results are positional: the i-th vector
// belongs to the i-th text.
type Provider interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	Mode         string
	OpenAIAPIKey string
	OpenAIModel  string
	OllamaURL    string
	OllamaModel  string
	Dimensions   int
}

func NewProvider(cfg Config) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
			return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
		}
		if strings.TrimSpace(cfg.OllamaURL) != "" {
			return NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel), nil
		}
		return NewMockProvider(cfg.Dimensions), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, fmt.Errorf("openai api key is required for openai embeddings")
		}
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "ollama":
		return NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel), nil
	case "mock":
		return NewMockProvider(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Mode)
	}
}
