package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/secondbrain/internal/events"
	"github.com/ent0n29/secondbrain/internal/policy"
	"github.com/ent0n29/secondbrain/internal/vault"
)

// VaultSink writes the source note first so thought notes can link to it.
// PII is masked before anything leaves the process.
type VaultSink struct {
	writer vault.Writer
}

func NewVaultSink(w vault.Writer) *VaultSink {
	return &VaultSink{writer: w}
}

func (s *VaultSink) Name() string { return "vault" }

func (s *VaultSink) Mirror(ctx context.Context, b Batch) error {
	var sourceIDs []string
	if b.Source != nil {
		if _, err := s.writer.WriteSource(ctx, policy.RedactSource(*b.Source), b.ThoughtIDs()); err != nil {
			return fmt.Errorf("vault source %s: %w", b.Source.ID, err)
		}
		sourceIDs = []string{b.Source.ID}
	}
	var errs []error
	for _, t := range b.Thoughts {
		if _, err := s.writer.WriteThought(ctx, policy.RedactThought(t), sourceIDs); err != nil {
			errs = append(errs, fmt.Errorf("vault thought %s: %w", t.ID, err))
		}
	}
	return errors.Join(errs...)
}

// EventSink publishes a summary event for each batch.
type EventSink struct {
	publisher events.Publisher
}

func NewEventSink(p events.Publisher) *EventSink {
	return &EventSink{publisher: p}
}

func (s *EventSink) Name() string { return "events" }

func (s *EventSink) Mirror(ctx context.Context, b Batch) error {
	eventType := b.EventType
	if eventType == "" {
		eventType = events.EventTypeThoughtsExtracted
	}
	ev := events.NewExtractionEvent(eventType, b.UserID, b.ThoughtIDs())
	ev.ConversationID = b.ConversationID
	ev.MessageCount = b.MessageCount
	if b.Source != nil {
		ev.SourceID = b.Source.ID
	}
	return s.publisher.Publish(ctx, ev)
}
