package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIAdapter talks to any OpenAI-compatible chat completions endpoint.
type OpenAIAdapter struct {
	client openai.Client
	model  string
}

func NewOpenAIAdapter(apiKey, baseURL, model string, extra ...ooption.RequestOption) *OpenAIAdapter {
	opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	opts = append(opts, extra...)
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIAdapter{client: openai.NewClient(opts...), model: model}
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		if msg.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(msg.Content))
			continue
		}
		messages = append(messages, openai.UserMessage(msg.Content))
	}

	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(a.model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(maxTokens(req))),
	})
	if err != nil {
		return Response{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, errors.New("openai chat completion returned no choices")
	}
	return Response{Text: completion.Choices[0].Message.Content, Provider: "openai"}, nil
}
