package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/ent0n29/secondbrain/internal/conversation"
	"github.com/ent0n29/secondbrain/internal/embedding"
	"github.com/ent0n29/secondbrain/internal/llm"
	"github.com/ent0n29/secondbrain/internal/memory"
)

// Prefix is prepended to every variable name, e.g. SECONDBRAIN_BIND_ADDR.
// The bare name is read as a fallback.
const Prefix = "SECONDBRAIN"

// Config contains all runtime settings for the assistant service.
type Config struct {
	BindAddr         string        `envconfig:"BIND_ADDR" default:":8080"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	MetricsNamespace string        `envconfig:"METRICS_NAMESPACE" default:"secondbrain"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	AllowAnyOrigin   bool          `envconfig:"ALLOW_ANY_ORIGIN" default:"false"`

	ConversationPolicy    string        `envconfig:"CONVERSATION_POLICY" default:"thresholded"`
	MaxConversationLength int           `envconfig:"MAX_CONVERSATION_LENGTH" default:"200"`
	SaveMessageThreshold  int           `envconfig:"SAVE_MESSAGE_THRESHOLD" default:"10"`
	SaveInterval          time.Duration `envconfig:"SAVE_INTERVAL" default:"5m"`
	IdleTimeout           time.Duration `envconfig:"IDLE_TIMEOUT" default:"5m"`
	EndGracePeriod        time.Duration `envconfig:"END_GRACE_PERIOD" default:"1h"`

	LLMProvider     string `envconfig:"LLM_PROVIDER" default:"auto"`
	LLMAPIKey       string `envconfig:"LLM_API_KEY"`
	LLMBaseURL      string `envconfig:"LLM_BASE_URL" default:"https://openrouter.ai/api/v1"`
	LLMModel        string `envconfig:"LLM_MODEL" default:"openai/gpt-4o-mini"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `envconfig:"ANTHROPIC_MODEL"`

	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"auto"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	EmbedModel    string `envconfig:"EMBED_MODEL"`
	OllamaURL     string `envconfig:"OLLAMA_URL"`
	EmbeddingDim  int    `envconfig:"EMBEDDING_DIM" default:"1536"`

	DatabaseURL     string  `envconfig:"DATABASE_URL"`
	SQLitePath      string  `envconfig:"SQLITE_PATH"`
	SearchThreshold float64 `envconfig:"SEARCH_THRESHOLD" default:"0.5"`
	SearchLimit     int     `envconfig:"SEARCH_LIMIT" default:"10"`

	VaultGitHubToken string `envconfig:"VAULT_GITHUB_TOKEN"`
	VaultGitHubRepo  string `envconfig:"VAULT_GITHUB_REPO"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"secondbrain.thoughts"`

	// Policy is ConversationPolicy after validation.
	Policy conversation.Policy `ignored:"true"`
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field rules and resolves derived fields.
func (c *Config) Validate() error {
	policy, err := conversation.ParsePolicy(c.ConversationPolicy)
	if err != nil {
		return fmt.Errorf("CONVERSATION_POLICY: %w", err)
	}
	c.Policy = policy

	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	switch c.LLMProvider {
	case "auto", "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of auto, openai, anthropic, mock")
	}
	c.EmbedProvider = strings.ToLower(strings.TrimSpace(c.EmbedProvider))
	switch c.EmbedProvider {
	case "auto", "openai", "ollama", "mock":
	default:
		return fmt.Errorf("EMBED_PROVIDER must be one of auto, openai, ollama, mock")
	}

	if c.MaxConversationLength <= 0 {
		return fmt.Errorf("MAX_CONVERSATION_LENGTH must be positive")
	}
	if c.SaveMessageThreshold <= 0 {
		return fmt.Errorf("SAVE_MESSAGE_THRESHOLD must be positive")
	}
	if c.SaveInterval < time.Second {
		return fmt.Errorf("SAVE_INTERVAL must be at least 1s")
	}
	if c.IdleTimeout < 5*time.Second {
		return fmt.Errorf("IDLE_TIMEOUT must be at least 5s")
	}
	if c.EndGracePeriod < time.Second {
		return fmt.Errorf("END_GRACE_PERIOD must be at least 1s")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if c.SearchThreshold <= 0 || c.SearchThreshold > 1 {
		return fmt.Errorf("SEARCH_THRESHOLD must be in (0, 1]")
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("SEARCH_LIMIT must be positive")
	}
	if (c.VaultGitHubToken == "") != (c.VaultGitHubRepo == "") {
		return fmt.Errorf("VAULT_GITHUB_TOKEN and VAULT_GITHUB_REPO must be set together")
	}
	return nil
}

func (c Config) Conversation() conversation.Config {
	return conversation.Config{
		Policy:               c.Policy,
		MaxMessages:          c.MaxConversationLength,
		SaveMessageThreshold: c.SaveMessageThreshold,
		SaveInterval:         c.SaveInterval,
		IdleTimeout:          c.IdleTimeout,
		EndGracePeriod:       c.EndGracePeriod,
	}
}

func (c Config) LLM() llm.Config {
	return llm.Config{
		Mode:            c.LLMProvider,
		OpenAIAPIKey:    c.LLMAPIKey,
		OpenAIBaseURL:   c.LLMBaseURL,
		OpenAIModel:     c.LLMModel,
		AnthropicAPIKey: c.AnthropicAPIKey,
		AnthropicModel:  c.AnthropicModel,
	}
}

func (c Config) Embedding() embedding.Config {
	return embedding.Config{
		Mode:         c.EmbedProvider,
		OpenAIAPIKey: c.OpenAIAPIKey,
		OpenAIModel:  c.EmbedModel,
		OllamaURL:    c.OllamaURL,
		OllamaModel:  c.EmbedModel,
		Dimensions:   c.EmbeddingDim,
	}
}

func (c Config) Memory() memory.Config {
	return memory.Config{
		DatabaseURL: c.DatabaseURL,
		SQLitePath:  c.SQLitePath,
		Dimensions:  c.EmbeddingDim,
	}
}

// VaultEnabled reports whether markdown mirroring is configured.
func (c Config) VaultEnabled() bool {
	return c.VaultGitHubToken != "" && c.VaultGitHubRepo != ""
}
