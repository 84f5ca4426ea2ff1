package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/secondbrain/internal/conversation"
	"github.com/ent0n29/secondbrain/internal/llm"
	"github.com/ent0n29/secondbrain/internal/thought"
)

type cannedAdapter struct {
	text string
	err  error
	last llm.Request
}

func (a *cannedAdapter) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	a.last = req
	return llm.Response{Text: a.text, Provider: "canned"}, a.err
}

func TestSizing(t *testing.T) {
	cases := []struct {
		n, target, min int
	}{
		{0, 6, 4},
		{3, 6, 4},
		{18, 6, 4},
		{30, 10, 6},
		{60, 20, 12},
		{75, 25, 15},
		{500, 25, 15},
	}
	for _, tc := range cases {
		target, min := Sizing(tc.n)
		if target != tc.target || min != tc.min {
			t.Fatalf("Sizing(%d) = (%d, %d), want (%d, %d)", tc.n, target, min, tc.target, tc.min)
		}
	}
}

func TestParseExtractionAppliesDefaults(t *testing.T) {
	raw := `{"thoughts":[
		{"kind":"heuristic","claim":"When a pod OOMs, check the JVM container flags.","tags":["JVM","jvm"," k8s "]},
		{"kind":"Goal","claim":"Learn Rust this year","domain":"personal","stance":"tentative","confidence":0.6,"evidence":["said so"]}
	]}`

	got, err := ParseExtraction(raw)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, thought.KindHeuristic, first.Kind)
	assert.Equal(t, thought.StanceBelieve, first.Stance)
	assert.Equal(t, thought.DomainMixed, first.Domain)
	assert.Equal(t, 0.8, first.Confidence)
	assert.Equal(t, []string{"jvm", "k8s"}, first.Tags)
	assert.NotNil(t, first.Evidence)
	assert.NotNil(t, first.Examples)
	assert.NotNil(t, first.Actionables)

	second := got[1]
	assert.Equal(t, thought.KindGoal, second.Kind)
	assert.Equal(t, thought.StanceTentative, second.Stance)
	assert.Equal(t, 0.6, second.Confidence)
	assert.Equal(t, []string{"said so"}, second.Evidence)
}

func TestParseExtractionErrors(t *testing.T) {
	_, err := ParseExtraction("Sure! Here are your thoughts:")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)

	_, err = ParseExtraction(`{"thoughts":[]}`)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.ErrorIs(t, err, ErrNoThoughts)
	assert.False(t, errors.As(err, &parseErr))

	_, err = ParseExtraction(`{"thoughts":[{"kind":"insight","claim":"x"}]}`)
	require.ErrorAs(t, err, &valErr)
	assert.ErrorIs(t, err, ErrInvalidKind)
	assert.Equal(t, "kind", valErr.Field)

	_, err = ParseExtraction(`{"thoughts":[{"kind":"fact","claim":"ok"},{"kind":"fact","claim":"  "}]}`)
	require.ErrorAs(t, err, &valErr)
	assert.ErrorIs(t, err, ErrMissingClaim)
	assert.Equal(t, 1, valErr.Index)
}

func TestParseExtractionStripsFences(t *testing.T) {
	got, err := ParseExtraction("```json\n{\"thoughts\":[{\"kind\":\"fact\",\"claim\":\"c\"}]}\n```")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestParseCategorization(t *testing.T) {
	got, err := ParseCategorization(`{"kind":"preference","claim":"I prefer aisle seats","tags":["travel"]}`)
	require.NoError(t, err)
	assert.Equal(t, thought.KindPreference, got.Kind)
	assert.Equal(t, thought.DomainPersonal, got.Domain)
	assert.Equal(t, 0.8, got.Confidence)

	_, err = ParseCategorization(`{"kind":"heuristic","claim":"always retry"}`)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = ParseCategorization(`not json`)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestEngineExtractThoughtsBuildsRequest(t *testing.T) {
	adapter := &cannedAdapter{text: `{"thoughts":[{"kind":"lesson","claim":"Small PRs merge faster."}]}`}
	engine := NewEngine(adapter, nil, zerolog.Nop())

	msgs := []conversation.Message{
		{Role: conversation.RoleUser, Content: "I learned small PRs merge faster"},
		{Role: conversation.RoleAssistant, Content: "What happened?"},
	}
	got, err := engine.ExtractThoughts(context.Background(), msgs)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, llm.PurposeExtract, adapter.last.Purpose)
	assert.Contains(t, adapter.last.System, "about 6 thoughts")
	require.Len(t, adapter.last.Messages, 1)
	assert.True(t, strings.HasSuffix(adapter.last.Messages[0].Content, "user: I learned small PRs merge faster\nassistant: What happened?"))
}

func TestEngineWrapsAdapterFailure(t *testing.T) {
	engine := NewEngine(&cannedAdapter{err: errors.New("upstream 500")}, nil, zerolog.Nop())
	_, err := engine.ExtractThoughts(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream 500")

	_, err = engine.Categorize(context.Background(), "note")
	assert.Contains(t, err.Error(), "categorize note")
}

func TestEngineWithMockAdapter(t *testing.T) {
	engine := NewEngine(llm.NewMockAdapter(), nil, zerolog.Nop())

	got, err := engine.ExtractThoughts(context.Background(), []conversation.Message{
		{Role: conversation.RoleUser, Content: "Mornings are my best focus time"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Mornings are my best focus time", got[0].Claim)

	note, err := engine.Categorize(context.Background(), "Mom's birthday is March 15")
	require.NoError(t, err)
	assert.Equal(t, thought.KindFact, note.Kind)
	assert.Equal(t, "Mom's birthday is March 15", note.Claim)
}
