package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local completions when no provider key
// is configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}

	var text string
	switch req.Purpose {
	case PurposeExtract:
		text = mockExtraction(lastContent(req))
	case PurposeCategorize:
		text = mockCategorization(lastContent(req))
	default:
		text = mockReply(lastContent(req))
	}
	return Response{Text: text, Provider: "mock"}, nil
}

func lastContent(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return strings.TrimSpace(req.Messages[i].Content)
		}
	}
	return ""
}

func mockReply(input string) string {
	if input == "" {
		return "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", input)
}

type mockThought struct {
	Kind        string   `json:"kind"`
	Domain      string   `json:"domain"`
	Claim       string   `json:"claim"`
	Stance      string   `json:"stance"`
	Confidence  float64  `json:"confidence"`
	Context     string   `json:"context,omitempty"`
	Evidence    []string `json:"evidence"`
	Examples    []string `json:"examples"`
	Actionables []string `json:"actionables"`
	Tags        []string `json:"tags"`
}

// mockExtraction turns every "user: ..." line into one observation.
func mockExtraction(transcript string) string {
	var thoughts []mockThought
	for _, line := range strings.Split(transcript, "\n") {
		content, ok := strings.CutPrefix(strings.TrimSpace(line), "user: ")
		if !ok || strings.TrimSpace(content) == "" {
			continue
		}
		thoughts = append(thoughts, mockThought{
			Kind:        "observation",
			Domain:      "mixed",
			Claim:       truncate(content, 160),
			Stance:      "tentative",
			Confidence:  0.5,
			Evidence:    []string{truncate(content, 80)},
			Examples:    []string{},
			Actionables: []string{},
			Tags:        []string{"mock"},
		})
	}
	raw, _ := json.Marshal(map[string]any{"thoughts": thoughts})
	return string(raw)
}

func mockCategorization(note string) string {
	if _, body, ok := strings.Cut(note, "\n\n"); ok {
		note = strings.TrimSpace(body)
	}
	raw, _ := json.Marshal(mockThought{
		Kind:        "fact",
		Domain:      "personal",
		Claim:       truncate(note, 160),
		Stance:      "believe",
		Confidence:  0.8,
		Evidence:    []string{},
		Examples:    []string{},
		Actionables: []string{},
		Tags:        []string{"note"},
	})
	return string(raw)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
