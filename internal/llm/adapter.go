package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Purpose tells adapters what the completion is for. Real providers ignore
// it; the mock uses it to produce well-formed output.
type Purpose string

const (
	PurposeReply      Purpose = "reply"
	PurposeExtract    Purpose = "extract"
	PurposeCategorize Purpose = "categorize"
)

// Request is a provider-neutral chat completion request.
type Request struct {
	Purpose   Purpose
	System    string
	Messages  []Message
	MaxTokens int
}

type Response struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
}

// Adapter produces a single completion for a request.
type Adapter interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

const defaultMaxTokens = 1024

// Config controls adapter construction.
type Config struct {
	Mode            string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("llm api key is required for openai mode")
		}
		return NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("anthropic api key is required for anthropic mode")
		}
		return NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm adapter mode %q", cfg.Mode)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	var openAI, claude Adapter
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		openAI = NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	}
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		claude = NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	}

	switch {
	case openAI != nil && claude != nil:
		return NewFallbackAdapter(openAI, claude)
	case openAI != nil:
		return openAI
	case claude != nil:
		return claude
	default:
		return NewMockAdapter()
	}
}

// Describe names the concrete adapter for startup logs.
func Describe(a Adapter) string {
	switch v := a.(type) {
	case *OpenAIAdapter:
		return "openai:" + v.model
	case *AnthropicAdapter:
		return "anthropic:" + v.model
	case *FallbackAdapter:
		return Describe(v.primary) + "->" + Describe(v.fallback)
	case *MockAdapter:
		return "mock"
	case nil:
		return "none"
	default:
		return fmt.Sprintf("%T", a)
	}
}

func maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}
