package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/secondbrain/internal/conversation"
	"github.com/ent0n29/secondbrain/internal/thought"
)

func newThought(userID, claim string, emb []float32, tags ...string) thought.Thought {
	return thought.Thought{
		Extracted: thought.Extracted{
			Kind:       thought.KindObservation,
			Domain:     thought.DomainPersonal,
			Claim:      claim,
			Stance:     thought.StanceBelieve,
			Confidence: 0.8,
			Tags:       tags,
		},
		UserID:    userID,
		Embedding: emb,
	}
}

func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewInMemoryStore() },
		"sqlite": func() Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "brain", "memory.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()
			t.Cleanup(func() { _ = s.Close() })

			t.Run("save assigns identity and defaults", func(t *testing.T) {
				saved, err := s.SaveThought(ctx, newThought("u1", "  tea beats coffee  ", []float32{1, 0}))
				require.NoError(t, err)
				assert.NotEmpty(t, saved.ID)
				assert.Equal(t, "tea beats coffee", saved.Claim)
				assert.Equal(t, thought.PrivacyPrivate, saved.Privacy)
				assert.NotNil(t, saved.Evidence)
				assert.False(t, saved.CreatedAt.IsZero())

				got, err := s.GetThought(ctx, saved.ID)
				require.NoError(t, err)
				assert.Equal(t, saved.Claim, got.Claim)
				assert.Equal(t, []float32{1, 0}, got.Embedding)
				assert.Equal(t, []string{}, got.Tags)
			})

			t.Run("rejects invalid thought", func(t *testing.T) {
				_, err := s.SaveThought(ctx, newThought("u1", "   ", nil))
				require.ErrorIs(t, err, thought.ErrMissingClaim)

				bad := newThought("u1", "x", nil)
				bad.Kind = "rumor"
				_, err = s.SaveThought(ctx, bad)
				require.Error(t, err)
			})

			t.Run("missing thought is not found", func(t *testing.T) {
				_, err := s.GetThought(ctx, "00000000-0000-0000-0000-000000000000")
				require.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("supersedes sets back-link", func(t *testing.T) {
				old, err := s.SaveThought(ctx, newThought("u1", "old view", nil))
				require.NoError(t, err)
				next := newThought("u1", "new view", nil)
				next.SupersedesID = old.ID
				next, err = s.SaveThought(ctx, next)
				require.NoError(t, err)

				reloaded, err := s.GetThought(ctx, old.ID)
				require.NoError(t, err)
				assert.Equal(t, next.ID, reloaded.SupersededByID)
			})

			t.Run("vector search honors threshold user and limit", func(t *testing.T) {
				_, err := s.SaveThought(ctx, newThought("u2", "close", []float32{1, 0.1}))
				require.NoError(t, err)
				_, err = s.SaveThought(ctx, newThought("u2", "orthogonal", []float32{0, 1}))
				require.NoError(t, err)
				_, err = s.SaveThought(ctx, newThought("u3", "other user", []float32{1, 0}))
				require.NoError(t, err)

				matches, err := s.SearchThoughts(ctx, SearchQuery{UserID: "u2", Embedding: []float32{1, 0}})
				require.NoError(t, err)
				require.Len(t, matches, 1)
				assert.Equal(t, "close", matches[0].Claim)
				assert.Greater(t, matches[0].Similarity, 0.9)

				all, err := s.SearchThoughts(ctx, SearchQuery{Embedding: []float32{1, 0}, Limit: 1})
				require.NoError(t, err)
				require.Len(t, all, 1)
			})

			t.Run("hybrid search filters by tag and kind", func(t *testing.T) {
				a := newThought("u4", "sourdough needs patience", []float32{1, 0}, "baking")
				b := newThought("u4", "patience pays in investing", []float32{0, 1}, "money")
				b.Kind = thought.KindLesson
				_, err := s.SaveThought(ctx, a)
				require.NoError(t, err)
				_, err = s.SaveThought(ctx, b)
				require.NoError(t, err)

				both, err := s.HybridSearchThoughts(ctx, HybridQuery{UserID: "u4", Text: "patience", Embedding: []float32{1, 0}})
				require.NoError(t, err)
				require.Len(t, both, 2)
				assert.Equal(t, "sourdough needs patience", both[0].Claim)

				tagged, err := s.HybridSearchThoughts(ctx, HybridQuery{UserID: "u4", Text: "patience", Tags: []string{"money"}})
				require.NoError(t, err)
				require.Len(t, tagged, 1)
				assert.Equal(t, thought.KindLesson, tagged[0].Kind)

				kinded, err := s.HybridSearchThoughts(ctx, HybridQuery{UserID: "u4", Text: "patience", Kind: thought.KindObservation})
				require.NoError(t, err)
				require.Len(t, kinded, 1)
			})

			t.Run("sources link to thoughts", func(t *testing.T) {
				th, err := s.SaveThought(ctx, newThought("u5", "linked", nil))
				require.NoError(t, err)
				src, err := s.SaveSource(ctx, thought.Source{
					UserID: "u5", Type: thought.SourceConversation, Raw: "user: hi",
					Metadata: map[string]any{"message_count": float64(1)},
				})
				require.NoError(t, err)
				require.NotEmpty(t, src.ID)
				require.NoError(t, s.LinkThoughtToSource(ctx, th.ID, src.ID, ""))
				require.NoError(t, s.LinkThoughtToSource(ctx, th.ID, src.ID, "dup"))

				sources, err := s.ThoughtSources(ctx, th.ID)
				require.NoError(t, err)
				require.Len(t, sources, 1)
				assert.Equal(t, "user: hi", sources[0].Raw)
				assert.Equal(t, float64(1), sources[0].Metadata["message_count"])

				_, err = s.SaveSource(ctx, thought.Source{UserID: "u5", Type: thought.SourceManual, Raw: "note"})
				require.NoError(t, err)
				manual, err := s.SourcesByUser(ctx, "u5", thought.SourceManual, 10)
				require.NoError(t, err)
				require.Len(t, manual, 1)
				all, err := s.SourcesByUser(ctx, "u5", "", 10)
				require.NoError(t, err)
				assert.Len(t, all, 2)

				_, err = s.SaveSource(ctx, thought.Source{UserID: "u5", Type: "tweet"})
				require.Error(t, err)
			})

			t.Run("conversation lifecycle", func(t *testing.T) {
				none, err := s.ActiveConversation(ctx, "u6")
				require.NoError(t, err)
				assert.Nil(t, none)

				rec := conversation.Record{ID: "c-1", UserID: "u6", RawTranscript: "user: one"}
				require.NoError(t, s.SaveConversation(ctx, rec))
				rec.RawTranscript = "user: one\n\nassistant: two"
				require.NoError(t, s.SaveConversation(ctx, rec))

				active, err := s.ActiveConversation(ctx, "u6")
				require.NoError(t, err)
				require.NotNil(t, active)
				assert.Equal(t, "c-1", active.ID)
				assert.Equal(t, "user: one\n\nassistant: two", active.RawTranscript)
				assert.Equal(t, conversation.RecordActive, active.Status)

				require.NoError(t, s.SetConversationStatus(ctx, "c-1", conversation.RecordExtracted))
				none, err = s.ActiveConversation(ctx, "u6")
				require.NoError(t, err)
				assert.Nil(t, none)

				require.ErrorIs(t, s.SetConversationStatus(ctx, "missing", conversation.RecordArchived), ErrNotFound)
				require.Error(t, s.SetConversationStatus(ctx, "c-1", "deleted"))
			})
		})
	}
}

func TestInMemoryLinkRequiresBothRecords(t *testing.T) {
	s := NewInMemoryStore()
	err := s.LinkThoughtToSource(context.Background(), "t", "s", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewStorePicksBackend(t *testing.T) {
	s, err := NewStore(context.Background(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "memory", Describe(s))

	s, err = NewStore(context.Background(), Config{SQLitePath: filepath.Join(t.TempDir(), "m.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.Equal(t, "sqlite", Describe(s))
}
