package events

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeThoughtsExtracted is emitted after an extraction run finishes.
	EventTypeThoughtsExtracted = "thoughts.extracted"
	// EventTypeThoughtRemembered is emitted after a quick note is stored.
	EventTypeThoughtRemembered = "thought.remembered"
)

var ErrNilEvent = errors.New("nil event")

// ExtractionEvent describes thoughts that reached durable storage.
type ExtractionEvent struct {
	SchemaVersion  int       `json:"schema_version"`
	EventType      string    `json:"event_type"`
	EventID        string    `json:"event_id"`
	EmittedAt      time.Time `json:"emitted_at"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SourceID       string    `json:"source_id,omitempty"`
	ThoughtIDs     []string  `json:"thought_ids"`
	MessageCount   int       `json:"message_count"`
}

// NewExtractionEvent stamps identity and schema fields.
func NewExtractionEvent(eventType, userID string, thoughtIDs []string) *ExtractionEvent {
	if thoughtIDs == nil {
		thoughtIDs = []string{}
	}
	return &ExtractionEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		UserID:        userID,
		ThoughtIDs:    thoughtIDs,
	}
}
