package extraction

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/secondbrain/internal/conversation"
	"github.com/ent0n29/secondbrain/internal/llm"
	"github.com/ent0n29/secondbrain/internal/observability"
	"github.com/ent0n29/secondbrain/internal/thought"
)

const (
	extractionMaxTokens     = 4096
	categorizationMaxTokens = 512
)

// Sizing returns the thought count to aim for and the soft minimum for a
// conversation of n messages. Neither is enforced on the output.
func Sizing(n int) (target, min int) {
	target = int(math.Ceil(float64(n) / 3))
	if target < 6 {
		target = 6
	}
	if target > 25 {
		target = 25
	}
	min = int(math.Ceil(0.6 * float64(target)))
	if min < 3 {
		min = 3
	}
	if min > target {
		min = target
	}
	return target, min
}

// Engine turns conversations and notes into thoughts via a language model.
type Engine struct {
	adapter llm.Adapter
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewEngine(adapter llm.Adapter, metrics *observability.Metrics, log zerolog.Logger) *Engine {
	return &Engine{adapter: adapter, metrics: metrics, log: log}
}

// ExtractThoughts returns at least one validated thought or an error.
func (e *Engine) ExtractThoughts(ctx context.Context, messages []conversation.Message) ([]thought.Extracted, error) {
	target, min := Sizing(len(messages))
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, string(msg.Role)+": "+msg.Content)
	}

	start := time.Now()
	resp, err := e.adapter.Complete(ctx, llm.Request{
		Purpose:   llm.PurposeExtract,
		System:    extractionSystemPrompt(target, min),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: extractionUserPrompt(target, min, strings.Join(lines, "\n"))}},
		MaxTokens: extractionMaxTokens,
	})
	e.metrics.ObserveStage(observability.StageExtractLLM, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("extract thoughts: %w", err)
	}

	thoughts, err := ParseExtraction(resp.Text)
	if err != nil {
		e.log.Warn().Err(err).Int("messages", len(messages)).Str("provider", resp.Provider).Msg("extraction output rejected")
		return nil, err
	}
	e.log.Debug().Int("messages", len(messages)).Int("target", target).Int("thoughts", len(thoughts)).Msg("extraction parsed")
	return thoughts, nil
}

// Categorize classifies a single note into one of the note kinds.
func (e *Engine) Categorize(ctx context.Context, note string) (thought.Extracted, error) {
	resp, err := e.adapter.Complete(ctx, llm.Request{
		Purpose:   llm.PurposeCategorize,
		System:    categorizationPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: categorizationUserPrompt(note)}},
		MaxTokens: categorizationMaxTokens,
	})
	if err != nil {
		return thought.Extracted{}, fmt.Errorf("categorize note: %w", err)
	}
	ex, err := ParseCategorization(resp.Text)
	if err != nil {
		e.log.Warn().Err(err).Str("provider", resp.Provider).Msg("categorization output rejected")
		return thought.Extracted{}, err
	}
	return ex, nil
}
