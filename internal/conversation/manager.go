package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Config struct {
	Policy               Policy
	MaxMessages          int
	SaveMessageThreshold int
	SaveInterval         time.Duration
	IdleTimeout          time.Duration
	EndGracePeriod       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Policy:               PolicyThresholded,
		MaxMessages:          200,
		SaveMessageThreshold: 10,
		SaveInterval:         5 * time.Minute,
		IdleTimeout:          5 * time.Minute,
		EndGracePeriod:       time.Hour,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Policy == "" {
		c.Policy = def.Policy
	}
	if c.MaxMessages <= 0 {
		c.MaxMessages = def.MaxMessages
	}
	if c.SaveMessageThreshold <= 0 {
		c.SaveMessageThreshold = def.SaveMessageThreshold
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = def.SaveInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.EndGracePeriod <= 0 {
		c.EndGracePeriod = def.EndGracePeriod
	}
	return c
}

var (
	ErrNothingToExtract     = errors.New("no active conversation")
	ErrExtractionInProgress = errors.New("extraction already in progress")
)

type entry struct {
	id           string
	userID       string
	messages     []Message
	seq          uint64
	startedAt    time.Time
	lastActivity time.Time
	active       bool
	lastSavedAt  time.Time
	unsaved      int
	extracting   bool

	graceTimer *time.Timer
	idleTimer  *time.Timer
	idleToken  uint64
}

func (e *entry) stopTimers() {
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
	e.idleToken++
}

// Manager owns the live conversation of every user.
//
// Callers must deliver messages for a single user one at a time. The
// manager guards its own maps, but it does not order concurrent appends to
// the same conversation.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
	loaded  map[string]struct{}
	onIdle  func(userID string)
	now     func() time.Time
	log     zerolog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*entry),
		loaded:  make(map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Policy() Policy {
	return m.cfg.Policy
}

// SetIdleHook registers the callback fired when an idle-timeout conversation
// goes quiet. The hook runs on its own goroutine.
func (m *Manager) SetIdleHook(hook func(userID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onIdle = hook
}

// GetOrCreate returns the user's active conversation, starting a new one
// when there is none or the previous one has ended.
func (m *Manager) GetOrCreate(userID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot(m.activeEntryLocked(userID))
}

func (m *Manager) activeEntryLocked(userID string) *entry {
	if e, ok := m.entries[userID]; ok && e.active {
		return e
	}
	if old, ok := m.entries[userID]; ok {
		old.stopTimers()
	}
	now := m.now()
	e := &entry{
		id:           uuid.NewString(),
		userID:       userID,
		startedAt:    now,
		lastActivity: now,
		active:       true,
	}
	m.entries[userID] = e
	return e
}

// AddMessage appends to the active conversation and trims it to the
// configured window.
func (m *Manager) AddMessage(userID string, role Role, content string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.activeEntryLocked(userID)
	now := m.now()
	e.messages = append(e.messages, Message{Role: role, Content: content, Timestamp: now})
	e.seq++
	if over := len(e.messages) - m.cfg.MaxMessages; over > 0 {
		// Reslice; the next growth copies only the window.
		e.messages = e.messages[over:]
	}
	e.lastActivity = now
	e.unsaved++
	if m.cfg.Policy == PolicyIdleTimeout {
		m.resetIdleLocked(e)
	}
	return snapshot(e)
}

func (m *Manager) resetIdleLocked(e *entry) {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleToken++
	token := e.idleToken
	e.idleTimer = time.AfterFunc(m.cfg.IdleTimeout, func() { m.fireIdle(e, token) })
}

func (m *Manager) fireIdle(e *entry, token uint64) {
	m.mu.Lock()
	current, ok := m.entries[e.userID]
	stale := !ok || current != e || !e.active || e.extracting || e.idleToken != token
	if !stale {
		e.idleTimer = nil
	}
	hook := m.onIdle
	m.mu.Unlock()

	if stale || hook == nil {
		return
	}
	m.log.Debug().Str("user_id", e.userID).Str("conversation_id", e.id).Msg("conversation idle")
	hook(e.userID)
}

// Messages returns a copy of the current transcript, or nil if the user has
// no conversation.
func (m *Manager) Messages(userID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok {
		return nil
	}
	return cloneMessages(e.messages)
}

// Snapshot returns the user's conversation, ended or not.
func (m *Manager) Snapshot(userID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok {
		return State{}, false
	}
	return snapshot(e), true
}

// BeginExtraction claims the user's active conversation for one extraction
// run and returns its snapshot. Only one run per conversation may hold the
// claim; release it with EndExtraction.
func (m *Manager) BeginExtraction(userID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok || !e.active || len(e.messages) == 0 {
		return State{}, ErrNothingToExtract
	}
	if e.extracting {
		return State{}, ErrExtractionInProgress
	}
	e.extracting = true
	return snapshot(e), nil
}

// EndExtraction releases the claim taken by BeginExtraction. It is a no-op
// once the conversation has been replaced or cleared.
func (m *Manager) EndExtraction(userID, conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[userID]; ok && e.id == conversationID {
		e.extracting = false
	}
}

// ShouldPersist reports whether the transcript is due to be written.
func (m *Manager) ShouldPersist(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok {
		return false
	}
	switch m.cfg.Policy {
	case PolicyMemoryOnly:
		return false
	case PolicyIdleTimeout:
		return e.lastSavedAt.IsZero() || e.unsaved > 0
	}
	if e.lastSavedAt.IsZero() {
		return true
	}
	if e.unsaved >= m.cfg.SaveMessageThreshold {
		return true
	}
	return m.now().Sub(e.lastSavedAt) >= m.cfg.SaveInterval
}

func (m *Manager) MarkPersisted(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok {
		return
	}
	e.unsaved = 0
	e.lastSavedAt = m.now()
}

// End marks the conversation inactive. Its transcript stays readable for the
// grace period and is then dropped. Returns nil for unknown users.
func (m *Manager) End(userID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok {
		return nil
	}
	m.endLocked(e)
	s := snapshot(e)
	return &s
}

func (m *Manager) endLocked(e *entry) {
	if !e.active {
		return
	}
	e.stopTimers()
	e.active = false
	e.lastActivity = m.now()
	e.graceTimer = time.AfterFunc(m.cfg.EndGracePeriod, func() { m.expire(e) })
}

func (m *Manager) expire(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.entries[e.userID]
	if !ok || current != e || e.active {
		return
	}
	delete(m.entries, e.userID)
	delete(m.loaded, e.userID)
	m.log.Debug().Str("user_id", e.userID).Str("conversation_id", e.id).Msg("ended conversation released")
}

// CompleteExtraction ends the conversation that was extracted at seq.
// Messages appended after that point move into a fresh active conversation.
// Returns nil when the conversation is no longer the user's current one.
func (m *Manager) CompleteExtraction(userID, conversationID string, seq uint64) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok || e.id != conversationID {
		return nil
	}
	carried := int(e.seq - seq)
	if carried > len(e.messages) {
		carried = len(e.messages)
	}
	var tail []Message
	if carried > 0 {
		tail = cloneMessages(e.messages[len(e.messages)-carried:])
	}
	m.endLocked(e)
	e.extracting = false
	ended := snapshot(e)

	if len(tail) > 0 {
		next := m.activeEntryLocked(userID)
		next.messages = tail
		next.seq = uint64(len(tail))
		next.startedAt = tail[0].Timestamp
		next.lastActivity = tail[len(tail)-1].Timestamp
		next.unsaved = len(tail)
		if m.cfg.Policy == PolicyIdleTimeout {
			m.resetIdleLocked(next)
		}
	}
	return &ended
}

// Clear discards the conversation immediately. It reports whether there was
// anything to discard.
func (m *Manager) Clear(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if ok {
		e.stopTimers()
		delete(m.entries, userID)
	}
	delete(m.loaded, userID)
	return ok
}

// LoadFromRecord restores a persisted conversation. The loaded state counts
// as freshly saved and the reconstructed messages are stamped with the
// current time.
func (m *Manager) LoadFromRecord(rec Record) {
	if rec.UserID == "" {
		return
	}
	messages := ParseTranscript(rec.RawTranscript, m.now())
	if over := len(messages) - m.cfg.MaxMessages; over > 0 {
		messages = messages[over:]
	}
	savedAt := rec.UpdatedAt
	if savedAt.IsZero() {
		savedAt = m.now()
	}
	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = savedAt
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.entries[rec.UserID]; ok {
		old.stopTimers()
	}
	e := &entry{
		id:           rec.ID,
		userID:       rec.UserID,
		messages:     messages,
		seq:          uint64(len(messages)),
		startedAt:    startedAt,
		lastActivity: savedAt,
		active:       rec.Status == RecordActive,
		lastSavedAt:  savedAt,
	}
	m.entries[rec.UserID] = e
	m.loaded[rec.UserID] = struct{}{}
}

// HasLoaded reports whether the persisted conversation has already been
// looked up for this user.
func (m *Manager) HasLoaded(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loaded[userID]
	return ok
}

func (m *Manager) MarkLoaded(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded[userID] = struct{}{}
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.entries {
		if e.active {
			count++
		}
	}
	return count
}

func snapshot(e *entry) State {
	return State{
		ConversationID:        e.id,
		UserID:                e.userID,
		Messages:              cloneMessages(e.messages),
		StartedAt:             e.startedAt,
		LastActivity:          e.lastActivity,
		Active:                e.active,
		LastSavedAt:           e.lastSavedAt,
		MessagesSinceLastSave: e.unsaved,
		Seq:                   e.seq,
	}
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
