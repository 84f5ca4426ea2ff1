package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/secondbrain/internal/conversation"
	"github.com/ent0n29/secondbrain/internal/thought"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu            sync.RWMutex
	thoughts      map[string]thought.Thought
	order         []string
	sources       map[string]thought.Source
	links         []thought.Link
	conversations map[string]conversation.Record
	now           func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		thoughts:      make(map[string]thought.Thought),
		sources:       make(map[string]thought.Source),
		conversations: make(map[string]conversation.Record),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) SaveThought(_ context.Context, t thought.Thought) (thought.Thought, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	t, err := prepareThought(t, now)
	if err != nil {
		return thought.Thought{}, err
	}
	if _, exists := s.thoughts[t.ID]; !exists {
		s.order = append(s.order, t.ID)
	}
	s.thoughts[t.ID] = cloneThought(t)
	if t.SupersedesID != "" {
		if old, ok := s.thoughts[t.SupersedesID]; ok {
			old.SupersededByID = t.ID
			old.UpdatedAt = now
			s.thoughts[old.ID] = old
		}
	}
	return cloneThought(t), nil
}

func (s *InMemoryStore) GetThought(_ context.Context, id string) (thought.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.thoughts[id]
	if !ok {
		return thought.Thought{}, ErrNotFound
	}
	return cloneThought(t), nil
}

func (s *InMemoryStore) snapshotThoughts() []thought.Thought {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]thought.Thought, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneThought(s.thoughts[id]))
	}
	return out
}

func (s *InMemoryStore) SearchThoughts(_ context.Context, q SearchQuery) ([]thought.Match, error) {
	return rankByVector(s.snapshotThoughts(), q), nil
}

func (s *InMemoryStore) HybridSearchThoughts(_ context.Context, q HybridQuery) ([]thought.Match, error) {
	return rankHybrid(s.snapshotThoughts(), q), nil
}

func (s *InMemoryStore) SaveSource(_ context.Context, src thought.Source) (thought.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, err := prepareSource(src, s.now())
	if err != nil {
		return thought.Source{}, err
	}
	s.sources[src.ID] = cloneSource(src)
	return cloneSource(src), nil
}

func (s *InMemoryStore) LinkThoughtToSource(_ context.Context, thoughtID, sourceID, quoted string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.thoughts[thoughtID]; !ok {
		return fmt.Errorf("link thought %s: %w", thoughtID, ErrNotFound)
	}
	if _, ok := s.sources[sourceID]; !ok {
		return fmt.Errorf("link source %s: %w", sourceID, ErrNotFound)
	}
	s.links = append(s.links, thought.Link{ThoughtID: thoughtID, SourceID: sourceID, Quoted: quoted, CreatedAt: s.now()})
	return nil
}

func (s *InMemoryStore) ThoughtSources(_ context.Context, thoughtID string) ([]thought.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []thought.Source
	for _, link := range s.links {
		if link.ThoughtID != thoughtID {
			continue
		}
		if _, dup := seen[link.SourceID]; dup {
			continue
		}
		seen[link.SourceID] = struct{}{}
		if src, ok := s.sources[link.SourceID]; ok {
			out = append(out, cloneSource(src))
		}
	}
	return out, nil
}

func (s *InMemoryStore) SourcesByUser(_ context.Context, userID string, sourceType thought.SourceType, limit int) ([]thought.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []thought.Source
	for _, src := range s.sources {
		if src.UserID != userID {
			continue
		}
		if sourceType != "" && src.Type != sourceType {
			continue
		}
		out = append(out, cloneSource(src))
	}
	newestSourcesFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) SaveConversation(_ context.Context, rec conversation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.conversations[rec.ID]; ok && rec.CreatedAt.IsZero() {
		rec.CreatedAt = existing.CreatedAt
	}
	rec, err := prepareConversation(rec, now)
	if err != nil {
		return err
	}
	s.conversations[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) ActiveConversation(_ context.Context, userID string) (*conversation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *conversation.Record
	for _, rec := range s.conversations {
		if rec.UserID != userID || rec.Status != conversation.RecordActive {
			continue
		}
		if latest == nil || rec.UpdatedAt.After(latest.UpdatedAt) {
			r := rec
			latest = &r
		}
	}
	return latest, nil
}

func (s *InMemoryStore) SetConversationStatus(_ context.Context, id string, status conversation.RecordStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set conversation status: invalid status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("set conversation status %s: %w", id, ErrNotFound)
	}
	rec.Status = status
	rec.UpdatedAt = s.now()
	s.conversations[id] = rec
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
