package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/secondbrain/internal/events"
	"github.com/ent0n29/secondbrain/internal/reliability"
	"github.com/ent0n29/secondbrain/internal/thought"
)

type recordingSink struct {
	mu      sync.Mutex
	name    string
	fails   int
	err     error
	batches []Batch
	calls   int
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Mirror(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fails > 0 {
		s.fails--
		return s.err
	}
	s.batches = append(s.batches, b)
	return nil
}

type panicSink struct{}

func (panicSink) Name() string                        { return "panic" }
func (panicSink) Mirror(context.Context, Batch) error { panic("boom") }

func noSleep(context.Context, time.Duration) error { return nil }

func TestDispatcherDeliversToEverySink(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	d := NewDispatcher(Config{}, []Sink{a, panicSink{}, b}, WithSleep(noSleep))
	d.Start(context.Background())

	require.True(t, d.Submit(Batch{UserID: "u1", Thoughts: []thought.Thought{{ID: "t1"}}}))
	d.Close()

	require.Len(t, a.batches, 1)
	require.Len(t, b.batches, 1)
	assert.Equal(t, []string{"t1"}, b.batches[0].ThoughtIDs())
	assert.False(t, d.Submit(Batch{UserID: "u1"}))
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	sink := &recordingSink{name: "flaky", fails: 2, err: errors.New("timeout")}
	var waits []time.Duration
	d := NewDispatcher(Config{BaseDelay: time.Second, MaxDelay: time.Minute}, []Sink{sink},
		WithSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}))
	d.Start(context.Background())
	d.Submit(Batch{UserID: "u1"})
	d.Close()

	assert.Equal(t, 3, sink.calls)
	assert.Len(t, sink.batches, 1)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestDispatcherStopsOnPermanentFailure(t *testing.T) {
	sink := &recordingSink{name: "gone", fails: 5, err: &reliability.StatusError{Op: "put", StatusCode: 403}}
	d := NewDispatcher(Config{}, []Sink{sink}, WithSleep(noSleep))
	d.Start(context.Background())
	d.Submit(Batch{UserID: "u1"})
	d.Close()

	assert.Equal(t, 1, sink.calls)
}

func TestDispatcherWithoutSinksIsDisabled(t *testing.T) {
	d := NewDispatcher(Config{}, nil)
	assert.False(t, d.Enabled())
	assert.False(t, d.Submit(Batch{}))
	d.Close()
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	d := NewDispatcher(Config{QueueSize: 1}, []Sink{&recordingSink{name: "a"}})
	require.True(t, d.Submit(Batch{}))
	assert.False(t, d.Submit(Batch{}))
	d.Close()
}

type fakeWriter struct {
	sources  []string
	thoughts map[string][]string
	failID   string
}

func (f *fakeWriter) WriteThought(_ context.Context, t thought.Thought, sourceIDs []string) (string, error) {
	if t.ID == f.failID {
		return "", errors.New("write failed")
	}
	f.thoughts[t.ID] = sourceIDs
	return "thoughts/" + t.ID, nil
}

func (f *fakeWriter) WriteSource(_ context.Context, src thought.Source, _ []string) (string, error) {
	f.sources = append(f.sources, src.ID)
	return "sources/" + src.ID, nil
}

func TestVaultSinkLinksThoughtsToSource(t *testing.T) {
	w := &fakeWriter{thoughts: map[string][]string{}, failID: "t2"}
	sink := NewVaultSink(w)
	err := sink.Mirror(context.Background(), Batch{
		Source:   &thought.Source{ID: "s1"},
		Thoughts: []thought.Thought{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "t2")
	assert.Equal(t, []string{"s1"}, w.sources)
	assert.Equal(t, []string{"s1"}, w.thoughts["t1"])
	assert.Equal(t, []string{"s1"}, w.thoughts["t3"])
}

type captureWriter struct {
	thoughts []thought.Thought
	sources  []thought.Source
}

func (c *captureWriter) WriteThought(_ context.Context, t thought.Thought, _ []string) (string, error) {
	c.thoughts = append(c.thoughts, t)
	return "", nil
}

func (c *captureWriter) WriteSource(_ context.Context, src thought.Source, _ []string) (string, error) {
	c.sources = append(c.sources, src)
	return "", nil
}

func TestVaultSinkMasksPII(t *testing.T) {
	w := &captureWriter{}
	sink := NewVaultSink(w)
	sensitive := thought.Thought{ID: "t1", Privacy: thought.PrivacySensitive}
	sensitive.Claim = "email sam@example.com weekly"
	plain := thought.Thought{ID: "t2", Privacy: thought.PrivacyPrivate}
	plain.Claim = "walk after lunch"
	require.NoError(t, sink.Mirror(context.Background(), Batch{
		Source:   &thought.Source{ID: "s1", Raw: "user: email sam@example.com weekly"},
		Thoughts: []thought.Thought{sensitive, plain},
	}))
	require.Len(t, w.thoughts, 2)
	assert.Equal(t, "email [REDACTED_EMAIL] weekly", w.thoughts[0].Claim)
	assert.Equal(t, "walk after lunch", w.thoughts[1].Claim)
	require.Len(t, w.sources, 1)
	assert.Equal(t, "user: email [REDACTED_EMAIL] weekly", w.sources[0].Raw)
}

type capturePublisher struct {
	got *events.ExtractionEvent
}

func (c *capturePublisher) Publish(_ context.Context, ev *events.ExtractionEvent) error {
	c.got = ev
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestEventSinkBuildsEvent(t *testing.T) {
	p := &capturePublisher{}
	sink := NewEventSink(p)
	require.NoError(t, sink.Mirror(context.Background(), Batch{
		UserID:         "u1",
		ConversationID: "c1",
		MessageCount:   4,
		Source:         &thought.Source{ID: "s1"},
		Thoughts:       []thought.Thought{{ID: "t1"}},
	}))
	require.NotNil(t, p.got)
	assert.Equal(t, events.EventTypeThoughtsExtracted, p.got.EventType)
	assert.Equal(t, "s1", p.got.SourceID)
	assert.Equal(t, 4, p.got.MessageCount)
	assert.Equal(t, []string{"t1"}, p.got.ThoughtIDs)
}
