package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/secondbrain/internal/conversation"
	"github.com/ent0n29/secondbrain/internal/thought"
)

// prepareThought enforces the write-path contract shared by every store.
func prepareThought(t thought.Thought, now time.Time) (thought.Thought, error) {
	t.Normalize()
	if err := t.Validate(); err != nil {
		return thought.Thought{}, fmt.Errorf("save thought: %w", err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return t, nil
}

func prepareSource(s thought.Source, now time.Time) (thought.Source, error) {
	if err := s.Validate(); err != nil {
		return thought.Source{}, fmt.Errorf("save source: %w", err)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = now
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	return s, nil
}

func prepareConversation(rec conversation.Record, now time.Time) (conversation.Record, error) {
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.UserID) == "" {
		return conversation.Record{}, fmt.Errorf("save conversation: id and user id are required")
	}
	if rec.Status == "" {
		rec.Status = conversation.RecordActive
	}
	if !rec.Status.Valid() {
		return conversation.Record{}, fmt.Errorf("save conversation: invalid status %q", rec.Status)
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return rec, nil
}

func cloneThought(t thought.Thought) thought.Thought {
	t.Evidence = append([]string(nil), t.Evidence...)
	t.Examples = append([]string(nil), t.Examples...)
	t.Actionables = append([]string(nil), t.Actionables...)
	t.Tags = append([]string(nil), t.Tags...)
	t.RelatedIDs = append([]string(nil), t.RelatedIDs...)
	t.Embedding = append([]float32(nil), t.Embedding...)
	t.Normalize()
	return t
}

func cloneSource(s thought.Source) thought.Source {
	meta := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		meta[k] = v
	}
	s.Metadata = meta
	return s
}

func newestSourcesFirst(sources []thought.Source) {
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].CreatedAt.After(sources[j].CreatedAt)
	})
}
