package memory

import (
	"context"
	"errors"

	"github.com/ent0n29/secondbrain/internal/conversation"
	"github.com/ent0n29/secondbrain/internal/thought"
)

var ErrNotFound = errors.New("record not found")

const (
	DefaultSearchThreshold = 0.5
	DefaultSearchLimit     = 10
	// RRFK is the reciprocal rank fusion constant used by hybrid search.
	RRFK = 60
)

// SearchQuery is a pure vector similarity search. An empty UserID searches
// across all users.
type SearchQuery struct {
	UserID    string
	Embedding []float32
	Threshold float64
	Limit     int
}

func (q SearchQuery) withDefaults() SearchQuery {
	if q.Threshold <= 0 {
		q.Threshold = DefaultSearchThreshold
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	return q
}

// HybridQuery fuses vector and full-text rankings. Tags match when a thought
// carries any of them.
type HybridQuery struct {
	UserID    string
	Embedding []float32
	Text      string
	Limit     int
	Tags      []string
	Kind      thought.Kind
}

func (q HybridQuery) withDefaults() HybridQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	return q
}

// candidatePool is how many rows each ranking contributes before fusion.
func (q HybridQuery) candidatePool() int {
	pool := q.Limit * 4
	if pool < 20 {
		pool = 20
	}
	return pool
}

type ThoughtStore interface {
	// SaveThought assigns an ID and timestamps and returns the stored record.
	// When SupersedesID is set the superseded thought gets a back-link.
	SaveThought(ctx context.Context, t thought.Thought) (thought.Thought, error)
	GetThought(ctx context.Context, id string) (thought.Thought, error)
	SearchThoughts(ctx context.Context, q SearchQuery) ([]thought.Match, error)
	HybridSearchThoughts(ctx context.Context, q HybridQuery) ([]thought.Match, error)
}

type SourceStore interface {
	SaveSource(ctx context.Context, s thought.Source) (thought.Source, error)
	LinkThoughtToSource(ctx context.Context, thoughtID, sourceID, quoted string) error
	ThoughtSources(ctx context.Context, thoughtID string) ([]thought.Source, error)
	// SourcesByUser lists newest first. An empty sourceType lists all types.
	SourcesByUser(ctx context.Context, userID string, sourceType thought.SourceType, limit int) ([]thought.Source, error)
}

type ConversationStore interface {
	// SaveConversation upserts by record ID.
	SaveConversation(ctx context.Context, rec conversation.Record) error
	// ActiveConversation returns the most recently updated active record, or
	// nil when the user has none.
	ActiveConversation(ctx context.Context, userID string) (*conversation.Record, error)
	SetConversationStatus(ctx context.Context, id string, status conversation.RecordStatus) error
}

// Store is the full persistence facade.
type Store interface {
	ThoughtStore
	SourceStore
	ConversationStore
	Close() error
}
