package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ent0n29/secondbrain/internal/reliability"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "nomic-embed-text"
)

// OllamaProvider calls the local Ollama batch embeddings API.
type OllamaProvider struct {
	client *resty.Client
	model  string
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOllamaURL
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOllamaModel
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(2 * time.Minute)
	return &OllamaProvider{client: c, model: model}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out ollamaEmbedResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(&ollamaEmbedRequest{Model: p.model, Input: texts}).
		SetResult(&out).
		Post("/api/embed")
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &reliability.StatusError{Op: "ollama embed", StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return out.Embeddings, nil
}
