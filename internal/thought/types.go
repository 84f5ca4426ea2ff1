package thought

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a thought. The set is closed.
type Kind string

const (
	KindHeuristic   Kind = "heuristic"
	KindLesson      Kind = "lesson"
	KindDecision    Kind = "decision"
	KindObservation Kind = "observation"
	KindPrinciple   Kind = "principle"
	KindFact        Kind = "fact"
	KindPreference  Kind = "preference"
	KindFeeling     Kind = "feeling"
	KindGoal        Kind = "goal"
	KindPrediction  Kind = "prediction"
)

// Kinds lists every accepted kind in a stable order.
var Kinds = []Kind{
	KindHeuristic, KindLesson, KindDecision, KindObservation, KindPrinciple,
	KindFact, KindPreference, KindFeeling, KindGoal, KindPrediction,
}

// NoteKinds is the restricted subset allowed when categorizing a single note.
var NoteKinds = []Kind{KindFact, KindPreference, KindFeeling, KindGoal, KindObservation}

func (k Kind) Valid() bool {
	return containsKind(Kinds, k)
}

// ValidForNote reports whether k may be assigned to a categorized note.
func (k Kind) ValidForNote() bool {
	return containsKind(NoteKinds, k)
}

func containsKind(set []Kind, k Kind) bool {
	for _, candidate := range set {
		if candidate == k {
			return true
		}
	}
	return false
}

type Domain string

const (
	DomainProfessional Domain = "professional"
	DomainPersonal     Domain = "personal"
	DomainMixed        Domain = "mixed"
)

func (d Domain) Valid() bool {
	switch d {
	case DomainProfessional, DomainPersonal, DomainMixed:
		return true
	default:
		return false
	}
}

type Stance string

const (
	StanceBelieve   Stance = "believe"
	StanceTentative Stance = "tentative"
	StanceQuestion  Stance = "question"
	StanceRejected  Stance = "rejected"
)

func (s Stance) Valid() bool {
	switch s {
	case StanceBelieve, StanceTentative, StanceQuestion, StanceRejected:
		return true
	default:
		return false
	}
}

type Privacy string

const (
	PrivacyPrivate   Privacy = "private"
	PrivacySensitive Privacy = "sensitive"
	PrivacyShareable Privacy = "shareable"
)

func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPrivate, PrivacySensitive, PrivacyShareable:
		return true
	default:
		return false
	}
}

type SourceType string

const (
	SourceConversation SourceType = "conversation"
	SourceArticle      SourceType = "article"
	SourceResearch     SourceType = "research"
	SourceManual       SourceType = "manual"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourceConversation, SourceArticle, SourceResearch, SourceManual:
		return true
	default:
		return false
	}
}

// DefaultConfidence is applied when the model omits a confidence value.
const DefaultConfidence = 0.8

// Extracted is a thought as produced by the language model, before it has
// an identity or an embedding.
type Extracted struct {
	Kind        Kind     `json:"kind"`
	Domain      Domain   `json:"domain"`
	Claim       string   `json:"claim"`
	Stance      Stance   `json:"stance"`
	Confidence  float64  `json:"confidence"`
	Context     string   `json:"context,omitempty"`
	Evidence    []string `json:"evidence"`
	Examples    []string `json:"examples"`
	Actionables []string `json:"actionables"`
	Tags        []string `json:"tags"`
}

// EmbeddingText is the text fed to the embedding model for this thought.
func (e Extracted) EmbeddingText() string {
	parts := make([]string, 0, 3)
	if claim := strings.TrimSpace(e.Claim); claim != "" {
		parts = append(parts, claim)
	}
	if ctx := strings.TrimSpace(e.Context); ctx != "" {
		parts = append(parts, ctx)
	}
	if len(e.Tags) > 0 {
		parts = append(parts, strings.Join(e.Tags, " "))
	}
	return strings.Join(parts, " ")
}

// Thought is a persisted unit of knowledge.
type Thought struct {
	Extracted
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Privacy        Privacy   `json:"privacy"`
	SupersedesID   string    `json:"supersedes_id,omitempty"`
	SupersededByID string    `json:"superseded_by_id,omitempty"`
	RelatedIDs     []string  `json:"related_ids"`
	Embedding      []float32 `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

var (
	ErrMissingClaim = errors.New("thought claim is required")
	ErrMissingUser  = errors.New("thought user id is required")
)

// Normalize fills write-path defaults so stored rows never carry nil arrays
// or an empty privacy level.
func (t *Thought) Normalize() {
	t.Claim = strings.TrimSpace(t.Claim)
	if t.Privacy == "" {
		t.Privacy = PrivacyPrivate
	}
	if t.Stance == "" {
		t.Stance = StanceBelieve
	}
	if t.Domain == "" {
		t.Domain = DomainMixed
	}
	t.Evidence = nonNil(t.Evidence)
	t.Examples = nonNil(t.Examples)
	t.Actionables = nonNil(t.Actionables)
	t.Tags = nonNil(t.Tags)
	t.RelatedIDs = nonNil(t.RelatedIDs)
}

// Validate rejects records that must never reach storage.
func (t Thought) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(t.Claim) == "" {
		return ErrMissingClaim
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("invalid thought kind %q", t.Kind)
	}
	if !t.Domain.Valid() {
		return fmt.Errorf("invalid thought domain %q", t.Domain)
	}
	if !t.Stance.Valid() {
		return fmt.Errorf("invalid thought stance %q", t.Stance)
	}
	if !t.Privacy.Valid() {
		return fmt.Errorf("invalid thought privacy %q", t.Privacy)
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("thought confidence %.2f out of range", t.Confidence)
	}
	return nil
}

// Source is a document a thought was derived from.
type Source struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Type       SourceType     `json:"type"`
	Title      string         `json:"title,omitempty"`
	URL        string         `json:"url,omitempty"`
	Raw        string         `json:"raw,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CapturedAt time.Time      `json:"captured_at"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (s Source) Validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return errors.New("source user id is required")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("invalid source type %q", s.Type)
	}
	return nil
}

// Link joins a thought to a source. Duplicate links are tolerated.
type Link struct {
	ThoughtID string    `json:"thought_id"`
	SourceID  string    `json:"source_id"`
	Quoted    string    `json:"quoted,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is a search hit. TextRank and HybridScore are only set by hybrid search.
type Match struct {
	Thought
	Similarity  float64 `json:"similarity"`
	TextRank    float64 `json:"text_rank,omitempty"`
	HybridScore float64 `json:"hybrid_score,omitempty"`
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
