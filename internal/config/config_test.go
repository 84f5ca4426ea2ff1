package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/secondbrain/internal/conversation"
)

func TestLoadDefaults(t *testing.T) {
	unsetAll(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.Policy != conversation.PolicyThresholded {
		t.Fatalf("Policy = %q, want thresholded", cfg.Policy)
	}
	if cfg.MaxConversationLength != 200 || cfg.SaveMessageThreshold != 10 {
		t.Fatalf("unexpected conversation limits: %+v", cfg)
	}
	if cfg.SaveInterval != 5*time.Minute || cfg.EndGracePeriod != time.Hour {
		t.Fatalf("unexpected conversation timings: %+v", cfg)
	}
	if cfg.EmbeddingDim != 1536 {
		t.Fatalf("EmbeddingDim = %d, want 1536", cfg.EmbeddingDim)
	}
	if cfg.VaultEnabled() {
		t.Fatalf("VaultEnabled() = true, want false")
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("KafkaBrokers = %v, want empty", cfg.KafkaBrokers)
	}
}

func TestLoadReadsPrefixedAndBareNames(t *testing.T) {
	unsetAll(t)
	t.Setenv("SECONDBRAIN_BIND_ADDR", ":9090")
	t.Setenv("CONVERSATION_POLICY", "idle-timeout")
	t.Setenv("SECONDBRAIN_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SECONDBRAIN_SAVE_INTERVAL", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.Policy != conversation.PolicyIdleTimeout {
		t.Fatalf("Policy = %q, want idle-timeout", cfg.Policy)
	}
	if !reflect.DeepEqual(cfg.KafkaBrokers, []string{"k1:9092", "k2:9092"}) {
		t.Fatalf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	conv := cfg.Conversation()
	if conv.SaveInterval != 90*time.Second || conv.Policy != conversation.PolicyIdleTimeout {
		t.Fatalf("Conversation() = %+v", conv)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value, wantErr string
	}{
		{"SECONDBRAIN_CONVERSATION_POLICY", "forever", "CONVERSATION_POLICY"},
		{"SECONDBRAIN_LLM_PROVIDER", "llama", "LLM_PROVIDER"},
		{"SECONDBRAIN_EMBED_PROVIDER", "bert", "EMBED_PROVIDER"},
		{"SECONDBRAIN_IDLE_TIMEOUT", "1s", "IDLE_TIMEOUT"},
		{"SECONDBRAIN_SEARCH_THRESHOLD", "1.5", "SEARCH_THRESHOLD"},
		{"SECONDBRAIN_EMBEDDING_DIM", "0", "EMBEDDING_DIM"},
		{"SECONDBRAIN_VAULT_GITHUB_TOKEN", "tok", "VAULT_GITHUB_REPO"},
		{"SECONDBRAIN_SAVE_INTERVAL", "soon", "SAVE_INTERVAL"},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			unsetAll(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() error = nil, want error mentioning %s", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Load() error = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	unsetAll(t)
	t.Setenv("SECONDBRAIN_LLM_API_KEY", "sk-test")
	t.Setenv("SECONDBRAIN_EMBED_MODEL", "nomic-embed-text")
	t.Setenv("SECONDBRAIN_SQLITE_PATH", "/tmp/brain.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.LLM(); got.OpenAIAPIKey != "sk-test" || got.OpenAIBaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("LLM() = %+v", got)
	}
	if got := cfg.Embedding(); got.OllamaModel != "nomic-embed-text" || got.Dimensions != 1536 {
		t.Fatalf("Embedding() = %+v", got)
	}
	if got := cfg.Memory(); got.SQLitePath != "/tmp/brain.db" {
		t.Fatalf("Memory() = %+v", got)
	}
}

// unsetAll clears every key in both prefixed and bare form. envconfig treats
// a set-but-empty variable as a value, so the keys are removed rather than
// blanked.
func unsetAll(t *testing.T) {
	t.Helper()
	typ := reflect.TypeOf(Config{})
	for i := 0; i < typ.NumField(); i++ {
		key := typ.Field(i).Tag.Get("envconfig")
		if key == "" {
			continue
		}
		for _, name := range []string{Prefix + "_" + key, key} {
			unsetEnv(t, name)
		}
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	prev, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
	t.Cleanup(func() { _ = os.Setenv(key, prev) })
}
