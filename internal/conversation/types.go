package conversation

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Policy selects how the live conversation relates to durable storage.
type Policy string

const (
	// PolicyThresholded persists the transcript after enough messages or
	// enough elapsed time. Extraction is always explicit.
	PolicyThresholded Policy = "thresholded"
	// PolicyIdleTimeout persists after every exchange and extracts once the
	// user goes quiet.
	PolicyIdleTimeout Policy = "idle-timeout"
	// PolicyMemoryOnly never writes the transcript anywhere.
	PolicyMemoryOnly Policy = "memory-only"
)

func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicyThresholded, nil
	case PolicyThresholded, PolicyIdleTimeout, PolicyMemoryOnly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown conversation policy %q", raw)
	}
}

// Persists reports whether transcripts are written to durable storage.
func (p Policy) Persists() bool {
	return p != PolicyMemoryOnly
}

// State is a point-in-time copy of one user's conversation.
type State struct {
	ConversationID        string    `json:"conversation_id"`
	UserID                string    `json:"user_id"`
	Messages              []Message `json:"messages"`
	StartedAt             time.Time `json:"started_at"`
	LastActivity          time.Time `json:"last_activity"`
	Active                bool      `json:"active"`
	LastSavedAt           time.Time `json:"last_saved_at,omitempty"`
	MessagesSinceLastSave int       `json:"messages_since_last_save"`
	// Seq counts every message ever appended, including trimmed ones.
	Seq uint64 `json:"-"`
}

type RecordStatus string

const (
	RecordActive    RecordStatus = "active"
	RecordExtracted RecordStatus = "extracted"
	RecordArchived  RecordStatus = "archived"
)

func (s RecordStatus) Valid() bool {
	switch s {
	case RecordActive, RecordExtracted, RecordArchived:
		return true
	default:
		return false
	}
}

// Record is the durable form of a conversation.
type Record struct {
	ID            string       `json:"id"`
	UserID        string       `json:"user_id"`
	StartedAt     time.Time    `json:"started_at"`
	RawTranscript string       `json:"raw_transcript"`
	Status        RecordStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// RecordFromState builds the durable record for an active conversation.
func RecordFromState(s State) Record {
	return Record{
		ID:            s.ConversationID,
		UserID:        s.UserID,
		StartedAt:     s.StartedAt,
		RawTranscript: FormatTranscript(s.Messages),
		Status:        RecordActive,
	}
}
