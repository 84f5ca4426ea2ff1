package conversation

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestGetOrCreateReturnsSameActiveConversation(t *testing.T) {
	m := NewManager(DefaultConfig())
	first := m.GetOrCreate("u1")
	second := m.GetOrCreate("u1")

	require.NotEmpty(t, first.ConversationID)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.True(t, second.Active)
	assert.NotEqual(t, first.ConversationID, m.GetOrCreate("u2").ConversationID)
}

func TestAddMessageTrimsToMostRecentWindow(t *testing.T) {
	m := NewManager(Config{MaxMessages: 200})
	for i := 0; i < 201; i++ {
		m.AddMessage("u1", RoleUser, fmt.Sprintf("m%d", i))
	}

	msgs := m.Messages("u1")
	require.Len(t, msgs, 200)
	assert.Equal(t, "m1", msgs[0].Content)
	assert.Equal(t, "m200", msgs[199].Content)

	for i := 201; i < 650; i++ {
		m.AddMessage("u1", RoleAssistant, fmt.Sprintf("m%d", i))
	}
	msgs = m.Messages("u1")
	require.Len(t, msgs, 200)
	assert.Equal(t, "m450", msgs[0].Content)
	assert.Equal(t, "m649", msgs[199].Content)
}

func TestMessagesReturnsCopy(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.AddMessage("u1", RoleUser, "hello")

	msgs := m.Messages("u1")
	msgs[0].Content = "mutated"
	assert.Equal(t, "hello", m.Messages("u1")[0].Content)
	assert.Nil(t, m.Messages("nobody"))
}

func TestShouldPersistThresholds(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(DefaultConfig(), WithClock(clock.Now))

	assert.False(t, m.ShouldPersist("unknown"))

	m.AddMessage("u1", RoleUser, "first")
	assert.True(t, m.ShouldPersist("u1"), "never-saved conversation is always due")

	m.MarkPersisted("u1")
	for i := 0; i < 9; i++ {
		m.AddMessage("u1", RoleUser, "x")
	}
	assert.False(t, m.ShouldPersist("u1"), "9 unsaved messages are below threshold")

	m.AddMessage("u1", RoleUser, "tenth")
	assert.True(t, m.ShouldPersist("u1"), "10 unsaved messages reach threshold")

	m.MarkPersisted("u1")
	m.AddMessage("u1", RoleUser, "one")
	assert.False(t, m.ShouldPersist("u1"))

	clock.Advance(5*time.Minute + time.Second)
	assert.True(t, m.ShouldPersist("u1"), "elapsed interval makes save due")
}

func TestShouldPersistByPolicy(t *testing.T) {
	mem := NewManager(Config{Policy: PolicyMemoryOnly})
	mem.AddMessage("u1", RoleUser, "hi")
	assert.False(t, mem.ShouldPersist("u1"))

	idle := NewManager(Config{Policy: PolicyIdleTimeout, IdleTimeout: time.Hour})
	idle.AddMessage("u1", RoleUser, "hi")
	assert.True(t, idle.ShouldPersist("u1"))
	idle.MarkPersisted("u1")
	assert.False(t, idle.ShouldPersist("u1"))
	idle.AddMessage("u1", RoleAssistant, "hello")
	assert.True(t, idle.ShouldPersist("u1"))
}

func TestEndKeepsTranscriptDuringGracePeriod(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.AddMessage("u1", RoleUser, "hello")
	m.AddMessage("u1", RoleAssistant, "hi there")

	ended := m.End("u1")
	require.NotNil(t, ended)
	assert.False(t, ended.Active)

	msgs := m.Messages("u1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi there", msgs[1].Content)

	assert.Nil(t, m.End("nobody"))
	assert.Zero(t, m.ActiveCount())
}

func TestEndReleasesStateAfterGracePeriod(t *testing.T) {
	m := NewManager(Config{EndGracePeriod: 20 * time.Millisecond})
	m.AddMessage("u1", RoleUser, "hello")
	m.MarkLoaded("u1")
	m.End("u1")

	require.Eventually(t, func() bool {
		_, ok := m.Snapshot("u1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.False(t, m.HasLoaded("u1"))
}

func TestNewMessageAfterEndStartsFreshConversation(t *testing.T) {
	m := NewManager(Config{EndGracePeriod: 20 * time.Millisecond})
	first := m.AddMessage("u1", RoleUser, "old")
	m.End("u1")

	second := m.AddMessage("u1", RoleUser, "new")
	assert.NotEqual(t, first.ConversationID, second.ConversationID)
	require.Len(t, second.Messages, 1)

	time.Sleep(50 * time.Millisecond)
	msgs := m.Messages("u1")
	require.Len(t, msgs, 1, "grace timer of the ended conversation must not drop the new one")
	assert.Equal(t, "new", msgs[0].Content)
}

func TestClearIsImmediate(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.AddMessage("u1", RoleUser, "hello")
	m.MarkLoaded("u1")

	assert.True(t, m.Clear("u1"))
	assert.Nil(t, m.Messages("u1"))
	assert.False(t, m.HasLoaded("u1"))
	assert.False(t, m.Clear("u1"))
}

func TestLoadedGate(t *testing.T) {
	m := NewManager(DefaultConfig())
	assert.False(t, m.HasLoaded("u1"))
	m.MarkLoaded("u1")
	assert.True(t, m.HasLoaded("u1"))
}

func TestLoadFromRecord(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(DefaultConfig(), WithClock(clock.Now))
	updated := clock.Now().Add(-time.Minute)

	m.LoadFromRecord(Record{
		ID:            "conv-1",
		UserID:        "u1",
		RawTranscript: "user: hi\n\nassistant: hello\nsecond line\n\nsystem: ignored",
		Status:        RecordActive,
		UpdatedAt:     updated,
	})

	s, ok := m.Snapshot("u1")
	require.True(t, ok)
	assert.Equal(t, "conv-1", s.ConversationID)
	assert.True(t, s.Active)
	assert.Equal(t, updated, s.LastSavedAt)
	assert.Zero(t, s.MessagesSinceLastSave)
	require.Len(t, s.Messages, 2)
	assert.Equal(t, "hello\nsecond line", s.Messages[1].Content)
	for _, msg := range s.Messages {
		assert.Equal(t, clock.Now(), msg.Timestamp)
	}
	assert.True(t, m.HasLoaded("u1"))
	assert.False(t, m.ShouldPersist("u1"))

	next := m.AddMessage("u1", RoleUser, "more")
	assert.Equal(t, "conv-1", next.ConversationID)

	m.LoadFromRecord(Record{ID: "orphan", RawTranscript: "user: x"})
	_, ok = m.Snapshot("")
	assert.False(t, ok)
}

func TestCompleteExtractionCarriesLateMessages(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.AddMessage("u1", RoleUser, "a")
	m.AddMessage("u1", RoleAssistant, "b")
	snap, _ := m.Snapshot("u1")

	m.AddMessage("u1", RoleUser, "late")

	ended := m.CompleteExtraction("u1", snap.ConversationID, snap.Seq)
	require.NotNil(t, ended)
	assert.False(t, ended.Active)

	next, ok := m.Snapshot("u1")
	require.True(t, ok)
	assert.True(t, next.Active)
	assert.NotEqual(t, snap.ConversationID, next.ConversationID)
	require.Len(t, next.Messages, 1)
	assert.Equal(t, "late", next.Messages[0].Content)
	assert.Equal(t, 1, next.MessagesSinceLastSave)
}

func TestBeginExtractionAllowsOneRunPerConversation(t *testing.T) {
	m := NewManager(DefaultConfig())
	_, err := m.BeginExtraction("u1")
	require.ErrorIs(t, err, ErrNothingToExtract)

	m.AddMessage("u1", RoleUser, "a")
	st, err := m.BeginExtraction("u1")
	require.NoError(t, err)
	require.Len(t, st.Messages, 1)

	_, err = m.BeginExtraction("u1")
	require.ErrorIs(t, err, ErrExtractionInProgress)

	m.EndExtraction("u1", st.ConversationID)
	again, err := m.BeginExtraction("u1")
	require.NoError(t, err)
	assert.Equal(t, st.ConversationID, again.ConversationID)

	require.NotNil(t, m.CompleteExtraction("u1", again.ConversationID, again.Seq))
	m.EndExtraction("u1", again.ConversationID)
	_, err = m.BeginExtraction("u1")
	require.ErrorIs(t, err, ErrNothingToExtract)
}

func TestBeginExtractionReleasedByCarryOver(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.AddMessage("u1", RoleUser, "a")
	st, err := m.BeginExtraction("u1")
	require.NoError(t, err)
	m.AddMessage("u1", RoleUser, "late")

	require.NotNil(t, m.CompleteExtraction("u1", st.ConversationID, st.Seq))
	m.EndExtraction("u1", st.ConversationID)

	next, err := m.BeginExtraction("u1")
	require.NoError(t, err)
	assert.NotEqual(t, st.ConversationID, next.ConversationID)
}

func TestIdleHookSkippedWhileExtracting(t *testing.T) {
	m := NewManager(Config{Policy: PolicyIdleTimeout, IdleTimeout: 20 * time.Millisecond})
	var fired atomic.Int32
	m.SetIdleHook(func(string) { fired.Add(1) })

	m.AddMessage("u1", RoleUser, "a")
	_, err := m.BeginExtraction("u1")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestCompleteExtractionWithoutLateMessagesEnds(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.AddMessage("u1", RoleUser, "a")
	snap, _ := m.Snapshot("u1")

	require.NotNil(t, m.CompleteExtraction("u1", snap.ConversationID, snap.Seq))
	s, ok := m.Snapshot("u1")
	require.True(t, ok)
	assert.False(t, s.Active)
	assert.Len(t, s.Messages, 1)

	assert.Nil(t, m.CompleteExtraction("u1", "other", snap.Seq))
}

func TestIdleHookFiresOnceAfterQuietPeriod(t *testing.T) {
	m := NewManager(Config{Policy: PolicyIdleTimeout, IdleTimeout: 30 * time.Millisecond})
	var fired atomic.Int32
	m.SetIdleHook(func(userID string) {
		if userID == "u1" {
			fired.Add(1)
		}
	})

	m.AddMessage("u1", RoleUser, "a")
	time.Sleep(10 * time.Millisecond)
	m.AddMessage("u1", RoleAssistant, "b")

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestIdleHookSkippedAfterClear(t *testing.T) {
	m := NewManager(Config{Policy: PolicyIdleTimeout, IdleTimeout: 20 * time.Millisecond})
	var fired atomic.Int32
	m.SetIdleHook(func(string) { fired.Add(1) })

	m.AddMessage("u1", RoleUser, "a")
	m.Clear("u1")
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyThresholded, p)

	p, err = ParsePolicy(" Memory-Only ")
	require.NoError(t, err)
	assert.Equal(t, PolicyMemoryOnly, p)
	assert.False(t, p.Persists())

	_, err = ParsePolicy("forever")
	assert.Error(t, err)
}
