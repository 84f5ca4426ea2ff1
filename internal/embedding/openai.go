package embedding

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "text-embedding-3-small"

type OpenAIProvider struct {
	client openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model string, extra ...ooption.RequestOption) *OpenAIProvider {
	opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(apiKey))}
	opts = append(opts, extra...)
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", idx)
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	return out, nil
}
