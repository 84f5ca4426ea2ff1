package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/secondbrain/internal/assistant"
	"github.com/ent0n29/secondbrain/internal/config"
	"github.com/ent0n29/secondbrain/internal/memory"
	"github.com/ent0n29/secondbrain/internal/observability"
	"github.com/ent0n29/secondbrain/internal/protocol"
	"github.com/ent0n29/secondbrain/internal/thought"
)

type Server struct {
	cfg       config.Config
	assistant *assistant.Service
	metrics   *observability.Metrics
	log       zerolog.Logger
	storeMode string
	upgrader  websocket.Upgrader
	users     userLocks
}

func New(cfg config.Config, svc *assistant.Service, metrics *observability.Metrics, log zerolog.Logger, storeMode string) *Server {
	return &Server{
		cfg:       cfg,
		assistant: svc,
		metrics:   metrics,
		log:       log,
		storeMode: storeMode,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handleResetPerfLatency)

	r.Route("/v1/chat", func(r chi.Router) {
		r.Get("/ws", s.handleChatWS)
		r.Post("/{userID}/messages", s.handleMessage)
		r.Post("/{userID}/extract", s.handleExtract)
		r.Get("/{userID}/status", s.handleStatus)
		r.Post("/{userID}/clear", s.handleClear)
		r.Post("/{userID}/remember", s.handleRemember)
	})
	r.Get("/v1/search", s.handleSearch)
	r.Get("/v1/thoughts/{id}", s.handleGetThought)
	r.Get("/v1/users/{userID}/sources", s.handleListSources)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.assistant == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "assistant is not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode,
		"policy":     s.assistant.Policy(),
	})
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	unlock := s.users.lock(userID)
	reply, err := s.assistant.HandleIncomingText(r.Context(), userID, req.Text)
	unlock()
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	unlock := s.users.lock(userID)
	res, err := s.assistant.TriggerExtraction(r.Context(), userID)
	unlock()
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	unlock := s.users.lock(userID)
	st := s.assistant.Status(r.Context(), userID)
	unlock()
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	unlock := s.users.lock(userID)
	cleared := s.assistant.Clear(r.Context(), userID)
	unlock()
	respondJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

type rememberRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	var req rememberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	stored, err := s.assistant.Remember(r.Context(), userID, req.Note)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	opts := assistant.SearchOptions{
		Kind:     thought.Kind(strings.TrimSpace(q.Get("kind"))),
		AllUsers: userID == "",
	}
	if opts.Kind != "" && !opts.Kind.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_kind", "unknown thought kind")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}
	if raw := q.Get("threshold"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f <= 0 || f > 1 {
			respondError(w, http.StatusBadRequest, "invalid_threshold", "threshold must be in (0, 1]")
			return
		}
		opts.Threshold = f
	}
	if raw := q.Get("hybrid"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_hybrid", "hybrid must be a boolean")
			return
		}
		opts.Hybrid = b
	}
	for _, tag := range strings.Split(q.Get("tags"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			opts.Tags = append(opts.Tags, tag)
		}
	}

	matches, err := s.assistant.Search(r.Context(), userID, q.Get("q"), opts)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if matches == nil {
		matches = []thought.Match{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": matches})
}

func (s *Server) handleGetThought(w http.ResponseWriter, r *http.Request) {
	t, sources, err := s.assistant.Thought(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"thought": t,
		"sources": sources,
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	userID, ok := userParam(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	sourceType := thought.SourceType(strings.TrimSpace(r.URL.Query().Get("type")))
	if sourceType != "" && !sourceType.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_type", "unknown source type")
		return
	}
	sources, err := s.assistant.Sources(r.Context(), userID, sourceType, limit)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if sources == nil {
		sources = []thought.Source{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user_id query param is required")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.ConversationEvent("ws_connected")
	log := s.log.With().Str("user_id", userID).Logger()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 64)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer close(outbound)
		for msg := range inbound {
			out := s.dispatchFrame(ctx, userID, msg)
			select {
			case <-ctx.Done():
				// Drain so the reader never blocks on a full queue.
				continue
			case outbound <- out:
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			if ctx.Err() != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				cancel()
				continue
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessage("outbound", string(t))
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			parsed = protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			}
		} else if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessage("inbound", string(t))
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ConversationEvent("ws_disconnected")
}

// dispatchFrame runs one client frame against the assistant and returns
// the frame to send back.
func (s *Server) dispatchFrame(ctx context.Context, userID string, msg any) any {
	switch m := msg.(type) {
	case protocol.ErrorEvent:
		return m
	case protocol.UserText:
		unlock := s.users.lock(userID)
		reply, err := s.assistant.HandleIncomingText(ctx, userID, m.Text)
		unlock()
		if err != nil {
			return errorEventFor(err)
		}
		return protocol.AssistantText{Type: protocol.TypeAssistantText, ConversationID: reply.ConversationID, Text: reply.Text}
	case protocol.Command:
		unlock := s.users.lock(userID)
		defer unlock()
		switch m.Action {
		case protocol.ActionExtract:
			res, err := s.assistant.TriggerExtraction(ctx, userID)
			if err != nil {
				return errorEventFor(err)
			}
			return protocol.ExtractionResult{
				Type:           protocol.TypeExtractionResult,
				ConversationID: res.ConversationID,
				ThoughtsSaved:  res.ThoughtsSaved,
				ThoughtIDs:     res.ThoughtIDs,
			}
		case protocol.ActionClear:
			s.assistant.Clear(ctx, userID)
			return statusFrame(s.assistant.Status(ctx, userID))
		default:
			return statusFrame(s.assistant.Status(ctx, userID))
		}
	default:
		return protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "unsupported_message", Detail: "unsupported message"}
	}
}

func statusFrame(st assistant.Status) protocol.Status {
	return protocol.Status{
		Type:           protocol.TypeStatus,
		ConversationID: st.ConversationID,
		Active:         st.Active,
		MessageCount:   st.MessageCount,
		Policy:         string(st.Policy),
	}
}

func errorEventFor(err error) protocol.ErrorEvent {
	status, body := classifyError(err)
	return protocol.ErrorEvent{
		Type:          protocol.TypeErrorEvent,
		Code:          body.Code,
		Stage:         body.Stage,
		ThoughtsSaved: body.ThoughtsSaved,
		Retryable:     status >= http.StatusInternalServerError,
		Detail:        body.Error,
	}
}

type errorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	Stage         string `json:"stage,omitempty"`
	ThoughtsSaved int    `json:"thoughts_saved,omitempty"`
}

func classifyError(err error) (int, errorResponse) {
	var xerr *assistant.ExtractionError
	switch {
	case errors.As(err, &xerr):
		return http.StatusBadGateway, errorResponse{
			Error:         xerr.Error(),
			Code:          "extraction_failed",
			Stage:         string(xerr.Stage),
			ThoughtsSaved: xerr.Saved,
		}
	case errors.Is(err, assistant.ErrNoActiveConversation):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "no_active_conversation"}
	case errors.Is(err, assistant.ErrExtractionInProgress):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "extraction_in_progress"}
	case errors.Is(err, assistant.ErrEmptyMessage),
		errors.Is(err, assistant.ErrEmptyNote),
		errors.Is(err, assistant.ErrEmptyQuery):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_request"}
	case errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Error: err.Error(), Code: "timeout"}
	default:
		return http.StatusBadGateway, errorResponse{Error: err.Error(), Code: "upstream_failed"}
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	status, body := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn().Err(err).Str("code", body.Code).Int("status", status).Msg("request failed")
	}
	respondJSON(w, status, body)
}

func userParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "user id is required")
		return "", false
	}
	return userID, true
}

// userLocks serializes assistant calls per user across requests and
// websocket connections.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (u *userLocks) lock(userID string) func() {
	u.mu.Lock()
	if u.locks == nil {
		u.locks = make(map[string]*sync.Mutex)
	}
	l, ok := u.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		u.locks[userID] = l
	}
	u.mu.Unlock()
	l.Lock()
	return l.Unlock
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserText:
		return m.Type, true
	case protocol.Command:
		return m.Type, true
	case protocol.AssistantText:
		return m.Type, true
	case protocol.ExtractionResult:
		return m.Type, true
	case protocol.Status:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
