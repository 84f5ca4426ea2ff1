package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/secondbrain/internal/conversation"
	"github.com/ent0n29/secondbrain/internal/events"
	"github.com/ent0n29/secondbrain/internal/llm"
	"github.com/ent0n29/secondbrain/internal/memory"
	"github.com/ent0n29/secondbrain/internal/mirror"
	"github.com/ent0n29/secondbrain/internal/observability"
	"github.com/ent0n29/secondbrain/internal/policy"
	"github.com/ent0n29/secondbrain/internal/thought"
)

const (
	replyMaxTokens        = 1024
	idleExtractionTimeout = 3 * time.Minute
)

// Extractor turns transcripts and notes into validated thoughts.
type Extractor interface {
	ExtractThoughts(ctx context.Context, messages []conversation.Message) ([]thought.Extracted, error)
	Categorize(ctx context.Context, note string) (thought.Extracted, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Mirror accepts side-channel work. Submit must not block.
type Mirror interface {
	Submit(b mirror.Batch) bool
}

type Deps struct {
	Conversations *conversation.Manager
	LLM           llm.Adapter
	Extractor     Extractor
	Embedder      Embedder
	Store         memory.Store
	Mirror        Mirror
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

type Config struct {
	SearchThreshold float64
	SearchLimit     int
}

// Service is the chat assistant: it answers messages, keeps the live
// conversation in sync with storage and runs extraction.
//
// Calls for the same user must not overlap; calls for different users may.
type Service struct {
	conv      *conversation.Manager
	llm       llm.Adapter
	extractor Extractor
	embedder  Embedder
	store     memory.Store
	mirror    Mirror
	metrics   *observability.Metrics
	log       zerolog.Logger
	cfg       Config
}

func New(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Conversations == nil:
		return nil, errors.New("assistant: conversation manager is required")
	case deps.LLM == nil:
		return nil, errors.New("assistant: llm adapter is required")
	case deps.Extractor == nil:
		return nil, errors.New("assistant: extractor is required")
	case deps.Embedder == nil:
		return nil, errors.New("assistant: embedder is required")
	case deps.Store == nil:
		return nil, errors.New("assistant: store is required")
	}
	if cfg.SearchThreshold <= 0 {
		cfg.SearchThreshold = memory.DefaultSearchThreshold
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = memory.DefaultSearchLimit
	}
	s := &Service{
		conv:      deps.Conversations,
		llm:       deps.LLM,
		extractor: deps.Extractor,
		embedder:  deps.Embedder,
		store:     deps.Store,
		mirror:    deps.Mirror,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		cfg:       cfg,
	}
	if s.conv.Policy() == conversation.PolicyIdleTimeout {
		s.conv.SetIdleHook(s.onIdle)
	}
	return s, nil
}

// Policy exposes the conversation persistence policy in effect.
func (s *Service) Policy() conversation.Policy {
	return s.conv.Policy()
}

type Reply struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"reply"`
	MessageCount   int    `json:"message_count"`
}

// HandleIncomingText records the user's message, generates a reply and
// persists the transcript when the policy says it is due.
func (s *Service) HandleIncomingText(ctx context.Context, userID, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	s.ensureLoaded(ctx, userID)

	st := s.conv.AddMessage(userID, conversation.RoleUser, text)
	if len(st.Messages) == 1 {
		s.metrics.ConversationEvent("started")
		s.log.Info().Str("user_id", userID).Str("conversation_id", st.ConversationID).Msg("conversation started")
	}

	start := time.Now()
	resp, err := s.llm.Complete(ctx, llm.Request{
		Purpose:   llm.PurposeReply,
		System:    conversationPrompt,
		Messages:  toLLMMessages(st.Messages),
		MaxTokens: replyMaxTokens,
	})
	s.metrics.ObserveStage(observability.StageReply, time.Since(start))
	if err != nil {
		s.metrics.ProviderError("llm", "reply")
		return Reply{}, fmt.Errorf("generate reply: %w", err)
	}

	st = s.conv.AddMessage(userID, conversation.RoleAssistant, resp.Text)
	s.metrics.SetActiveConversations(s.conv.ActiveCount())
	s.persistIfDue(ctx, userID)

	return Reply{ConversationID: st.ConversationID, Text: resp.Text, MessageCount: len(st.Messages)}, nil
}

// ensureLoaded looks up the user's persisted conversation once per process.
func (s *Service) ensureLoaded(ctx context.Context, userID string) {
	if s.conv.HasLoaded(userID) {
		return
	}
	defer s.conv.MarkLoaded(userID)
	if !s.conv.Policy().Persists() {
		return
	}
	if st, ok := s.conv.Snapshot(userID); ok && len(st.Messages) > 0 {
		return
	}
	rec, err := s.store.ActiveConversation(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("load persisted conversation failed")
		return
	}
	if rec == nil {
		return
	}
	s.conv.LoadFromRecord(*rec)
	s.metrics.ConversationEvent("loaded")
	s.log.Info().Str("user_id", userID).Str("conversation_id", rec.ID).Msg("conversation loaded")
}

func (s *Service) persistIfDue(ctx context.Context, userID string) {
	if !s.conv.ShouldPersist(userID) {
		return
	}
	st, ok := s.conv.Snapshot(userID)
	if !ok || !st.Active {
		return
	}
	if err := s.store.SaveConversation(ctx, conversation.RecordFromState(st)); err != nil {
		s.metrics.ConversationEvent("autosave_failed")
		s.log.Warn().Err(err).Str("user_id", userID).Str("conversation_id", st.ConversationID).Msg("conversation autosave failed")
		return
	}
	s.conv.MarkPersisted(userID)
	s.metrics.ConversationEvent("autosaved")
	s.log.Debug().Str("user_id", userID).Str("conversation_id", st.ConversationID).Int("messages", len(st.Messages)).Msg("conversation autosaved")
}

type ExtractionResult struct {
	ConversationID string   `json:"conversation_id"`
	SourceID       string   `json:"source_id"`
	ThoughtsSaved  int      `json:"thoughts_saved"`
	ThoughtIDs     []string `json:"thought_ids"`
}

// TriggerExtraction distills the active conversation into thoughts. The
// conversation is only ended after every thought and link is stored; any
// earlier failure returns an *ExtractionError and leaves it active. A second
// run for the same conversation fails with ErrExtractionInProgress while the
// first is still going.
func (s *Service) TriggerExtraction(ctx context.Context, userID string) (ExtractionResult, error) {
	s.ensureLoaded(ctx, userID)
	st, err := s.conv.BeginExtraction(userID)
	if err != nil {
		return ExtractionResult{}, err
	}
	defer s.conv.EndExtraction(userID, st.ConversationID)

	start := time.Now()
	log := s.log.With().Str("user_id", userID).Str("conversation_id", st.ConversationID).Logger()
	log.Info().Int("messages", len(st.Messages)).Msg("extraction started")

	saved, src, err := s.runExtraction(ctx, st)
	if err != nil {
		var xerr *ExtractionError
		if errors.As(err, &xerr) {
			outcome := "nothing_saved"
			if xerr.Partial() {
				outcome = "partial"
			}
			s.metrics.ExtractionFailed(string(xerr.Stage), outcome)
			log.Error().Err(xerr.Err).Str("stage", string(xerr.Stage)).Int("thoughts_saved", xerr.Saved).Msg("extraction failed")
		}
		return ExtractionResult{}, err
	}

	s.finalize(ctx, log, st)
	s.metrics.ObserveStage(observability.StageExtractTotal, time.Since(start))
	s.metrics.ConversationEvent("extracted")
	s.metrics.SetActiveConversations(s.conv.ActiveCount())

	ids := thoughtIDs(saved)
	log.Info().Int("thoughts_saved", len(saved)).Str("source_id", src.ID).Dur("elapsed", time.Since(start)).Msg("extraction finished")

	s.submitMirror(mirror.Batch{
		EventType:      events.EventTypeThoughtsExtracted,
		UserID:         userID,
		ConversationID: st.ConversationID,
		MessageCount:   len(st.Messages),
		Source:         &src,
		Thoughts:       saved,
	})
	return ExtractionResult{
		ConversationID: st.ConversationID,
		SourceID:       src.ID,
		ThoughtsSaved:  len(saved),
		ThoughtIDs:     ids,
	}, nil
}

// runExtraction covers the extracting, embedding, persisting and linking
// stages. Stored thoughts are never rolled back.
func (s *Service) runExtraction(ctx context.Context, st conversation.State) ([]thought.Thought, thought.Source, error) {
	extracted, err := s.extractor.ExtractThoughts(ctx, st.Messages)
	if err != nil {
		return nil, thought.Source{}, &ExtractionError{Stage: StageExtracting, Err: err}
	}
	if len(extracted) == 0 {
		return nil, thought.Source{}, &ExtractionError{Stage: StageExtracting, Err: errors.New("no thoughts extracted")}
	}

	saved := make([]thought.Thought, 0, len(extracted))
	for i, ex := range extracted {
		stored, stage, err := s.storeThought(ctx, st.UserID, ex)
		if err != nil {
			return saved, thought.Source{}, &ExtractionError{
				Stage: stage,
				Saved: len(saved),
				Err:   fmt.Errorf("thought %d of %d: %w", i+1, len(extracted), err),
			}
		}
		saved = append(saved, stored)
	}

	src, err := s.store.SaveSource(ctx, thought.Source{
		UserID: st.UserID,
		Type:   thought.SourceConversation,
		Raw:    conversation.FormatTranscript(st.Messages),
		Metadata: map[string]any{
			"conversation_id": st.ConversationID,
			"message_count":   len(st.Messages),
		},
		CapturedAt: st.StartedAt,
	})
	if err != nil {
		return saved, thought.Source{}, &ExtractionError{Stage: StagePersisting, Saved: len(saved), Err: fmt.Errorf("save source: %w", err)}
	}
	for _, t := range saved {
		if err := s.store.LinkThoughtToSource(ctx, t.ID, src.ID, ""); err != nil {
			return saved, src, &ExtractionError{Stage: StageLinking, Saved: len(saved), Err: err}
		}
	}
	return saved, src, nil
}

// storeThought embeds and persists one thought, reporting the stage that
// failed.
func (s *Service) storeThought(ctx context.Context, userID string, ex thought.Extracted) (thought.Thought, Stage, error) {
	vec, err := s.embedder.Embed(ctx, ex.EmbeddingText())
	if err != nil {
		return thought.Thought{}, StageEmbedding, err
	}
	start := time.Now()
	stored, err := s.store.SaveThought(ctx, thought.Thought{
		Extracted: ex,
		UserID:    userID,
		Privacy:   policy.ClassifyPrivacy(ex.Claim + "\n" + ex.Context),
		Embedding: vec,
	})
	s.metrics.ObserveStage(observability.StagePersistThought, time.Since(start))
	if err != nil {
		return thought.Thought{}, StagePersisting, err
	}
	s.metrics.ThoughtPersisted(string(stored.Kind))
	return stored, "", nil
}

// finalize marks the record extracted and ends the live conversation. A
// failed status write is logged; the thoughts are already stored.
func (s *Service) finalize(ctx context.Context, log zerolog.Logger, st conversation.State) {
	if s.conv.Policy().Persists() {
		rec := conversation.RecordFromState(st)
		rec.Status = conversation.RecordExtracted
		if err := s.store.SaveConversation(ctx, rec); err != nil {
			s.metrics.ExtractionFailed(string(StageFinalizing), "status_not_saved")
			log.Warn().Err(err).Msg("mark conversation extracted failed")
		}
	}
	if ended := s.conv.CompleteExtraction(st.UserID, st.ConversationID, st.Seq); ended == nil {
		log.Warn().Msg("conversation changed during extraction")
	}
}

func (s *Service) onIdle(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), idleExtractionTimeout)
	defer cancel()
	res, err := s.TriggerExtraction(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoActiveConversation):
		case errors.Is(err, ErrExtractionInProgress):
			s.log.Debug().Str("user_id", userID).Msg("idle extraction skipped, run already in flight")
		default:
			s.log.Warn().Err(err).Str("user_id", userID).Msg("idle extraction failed")
		}
		return
	}
	s.log.Info().Str("user_id", userID).Int("thoughts_saved", res.ThoughtsSaved).Msg("idle extraction finished")
}

// Remember categorizes a single note and stores it as one thought with a
// manual source.
func (s *Service) Remember(ctx context.Context, userID, note string) (thought.Thought, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return thought.Thought{}, ErrEmptyNote
	}
	start := time.Now()
	ex, err := s.extractor.Categorize(ctx, note)
	if err != nil {
		return thought.Thought{}, fmt.Errorf("remember: %w", err)
	}
	stored, _, err := s.storeThought(ctx, userID, ex)
	if err != nil {
		return thought.Thought{}, fmt.Errorf("remember: %w", err)
	}

	batch := mirror.Batch{
		EventType: events.EventTypeThoughtRemembered,
		UserID:    userID,
		Thoughts:  []thought.Thought{stored},
	}
	src, err := s.store.SaveSource(ctx, thought.Source{UserID: userID, Type: thought.SourceManual, Raw: note})
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("thought_id", stored.ID).Msg("note source not saved")
	} else if err := s.store.LinkThoughtToSource(ctx, stored.ID, src.ID, note); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("thought_id", stored.ID).Msg("note source not linked")
	} else {
		batch.Source = &src
	}

	s.metrics.ObserveStage(observability.StageRemember, time.Since(start))
	s.submitMirror(batch)
	s.log.Info().Str("user_id", userID).Str("thought_id", stored.ID).Str("kind", string(stored.Kind)).Msg("note remembered")
	return stored, nil
}

type Status struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Active         bool   `json:"active"`
	MessageCount   int    `json:"message_count"`
	// HasTranscript is set when there is unsaved conversation the user can
	// extract or clear.
	HasTranscript bool                `json:"has_transcript"`
	Policy        conversation.Policy `json:"policy"`
}

// Status is a read-only view of the user's conversation. Ended
// conversations still report their transcript until released.
func (s *Service) Status(ctx context.Context, userID string) Status {
	s.ensureLoaded(ctx, userID)
	out := Status{Policy: s.conv.Policy()}
	st, ok := s.conv.Snapshot(userID)
	if !ok {
		return out
	}
	out.ConversationID = st.ConversationID
	out.Active = st.Active
	out.MessageCount = len(st.Messages)
	out.HasTranscript = st.Active && len(st.Messages) > 0
	return out
}

// Clear discards the live conversation without extracting it and archives
// its persisted record. It reports whether anything was discarded.
func (s *Service) Clear(ctx context.Context, userID string) bool {
	s.ensureLoaded(ctx, userID)
	st, ok := s.conv.Snapshot(userID)
	if !ok || len(st.Messages) == 0 {
		s.conv.Clear(userID)
		return false
	}
	s.conv.Clear(userID)
	s.metrics.ConversationEvent("cleared")
	s.metrics.SetActiveConversations(s.conv.ActiveCount())
	s.log.Info().Str("user_id", userID).Str("conversation_id", st.ConversationID).Msg("conversation cleared")

	if s.conv.Policy().Persists() {
		err := s.store.SetConversationStatus(ctx, st.ConversationID, conversation.RecordArchived)
		if err != nil && !errors.Is(err, memory.ErrNotFound) {
			s.log.Warn().Err(err).Str("conversation_id", st.ConversationID).Msg("archive conversation failed")
		}
	}
	return true
}

type SearchOptions struct {
	Limit     int
	Threshold float64
	Hybrid    bool
	Tags      []string
	Kind      thought.Kind
	// AllUsers searches every user's thoughts.
	AllUsers bool
}

// Search embeds the query and returns the closest thoughts.
func (s *Service) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]thought.Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if opts.Kind != "" && !opts.Kind.Valid() {
		return nil, fmt.Errorf("search: invalid kind %q", opts.Kind)
	}
	if opts.Limit <= 0 {
		opts.Limit = s.cfg.SearchLimit
	}
	if opts.Threshold <= 0 {
		opts.Threshold = s.cfg.SearchThreshold
	}
	scope := userID
	if opts.AllUsers {
		scope = ""
	}

	start := time.Now()
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	var matches []thought.Match
	if opts.Hybrid || len(opts.Tags) > 0 || opts.Kind != "" {
		matches, err = s.store.HybridSearchThoughts(ctx, memory.HybridQuery{
			UserID:    scope,
			Embedding: vec,
			Text:      query,
			Limit:     opts.Limit,
			Tags:      opts.Tags,
			Kind:      opts.Kind,
		})
	} else {
		matches, err = s.store.SearchThoughts(ctx, memory.SearchQuery{
			UserID:    scope,
			Embedding: vec,
			Threshold: opts.Threshold,
			Limit:     opts.Limit,
		})
	}
	s.metrics.ObserveStage(observability.StageSearch, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return matches, nil
}

// Thought returns a stored thought with its sources. A missing thought is
// memory.ErrNotFound.
func (s *Service) Thought(ctx context.Context, id string) (thought.Thought, []thought.Source, error) {
	t, err := s.store.GetThought(ctx, id)
	if err != nil {
		return thought.Thought{}, nil, err
	}
	sources, err := s.store.ThoughtSources(ctx, id)
	if err != nil {
		return thought.Thought{}, nil, err
	}
	return t, sources, nil
}

func (s *Service) Sources(ctx context.Context, userID string, sourceType thought.SourceType, limit int) ([]thought.Source, error) {
	if sourceType != "" && !sourceType.Valid() {
		return nil, fmt.Errorf("invalid source type %q", sourceType)
	}
	return s.store.SourcesByUser(ctx, userID, sourceType, limit)
}

func (s *Service) submitMirror(b mirror.Batch) {
	if s.mirror == nil {
		return
	}
	s.mirror.Submit(b)
}

func toLLMMessages(in []conversation.Message) []llm.Message {
	out := make([]llm.Message, len(in))
	for i, m := range in {
		out[i] = llm.Message{Role: llm.Role(m.Role), Content: m.Content}
	}
	return out
}

func thoughtIDs(ts []thought.Thought) []string {
	ids := make([]string, len(ts))
	for i, t := range ts {
		ids[i] = t.ID
	}
	return ids
}
