package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

type AnthropicAdapter struct {
	client anthropic.Client
	model  string
}

func NewAnthropicAdapter(apiKey, model string, extra ...aoption.RequestOption) *AnthropicAdapter {
	opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(apiKey))}
	opts = append(opts, extra...)
	if strings.TrimSpace(model) == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicAdapter{client: anthropic.NewClient(opts...), model: model}
}

func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens(req)),
		Messages:  messages,
	}
	if strings.TrimSpace(req.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if sb.Len() == 0 {
		return Response{}, errors.New("anthropic messages returned no text")
	}
	return Response{Text: sb.String(), Provider: "anthropic"}, nil
}
