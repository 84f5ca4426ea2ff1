package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/secondbrain/internal/observability"
	"github.com/ent0n29/secondbrain/internal/reliability"
	"github.com/ent0n29/secondbrain/internal/thought"
)

// Batch is one unit of side-channel work: the thoughts produced by a single
// extraction or note, plus their source when one was stored.
type Batch struct {
	EventType      string
	UserID         string
	ConversationID string
	MessageCount   int
	Source         *thought.Source
	Thoughts       []thought.Thought
}

func (b Batch) ThoughtIDs() []string {
	ids := make([]string, len(b.Thoughts))
	for i, t := range b.Thoughts {
		ids[i] = t.ID
	}
	return ids
}

// Sink receives batches after the primary write path has succeeded.
type Sink interface {
	Name() string
	Mirror(ctx context.Context, b Batch) error
}

type Config struct {
	QueueSize   int
	Attempts    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	SinkTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = 30 * time.Second
	}
	return c
}

// Dispatcher runs sinks on a background worker. Submit never blocks and sink
// failures never reach the submitter.
type Dispatcher struct {
	cfg     Config
	sinks   []Sink
	queue   chan Batch
	metrics *observability.Metrics
	log     zerolog.Logger
	sleep   reliability.SleepFunc

	mu      sync.Mutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

type Option func(*Dispatcher)

func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

func WithSleep(sleep reliability.SleepFunc) Option {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

func NewDispatcher(cfg Config, sinks []Sink, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		cfg:   cfg,
		sinks: sinks,
		queue: make(chan Batch, cfg.QueueSize),
		log:   zerolog.Nop(),
		sleep: reliability.SleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enabled reports whether any sink is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && len(d.sinks) > 0
}

// Start launches the worker. It stops when ctx is done or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run(ctx)
}

// Submit enqueues a batch. A full queue drops the batch.
func (d *Dispatcher) Submit(b Batch) bool {
	if !d.Enabled() {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- b:
		return true
	default:
		d.metrics.MirrorOutcome("queue", "dropped")
		d.log.Warn().Str("user_id", b.UserID).Int("thoughts", len(b.Thoughts)).Msg("mirror queue full, batch dropped")
		return false
	}
}

// Close stops accepting batches and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-d.queue:
			if !ok {
				return
			}
			for _, sink := range d.sinks {
				d.deliver(ctx, sink, b)
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, b Batch) {
	var err error
	for attempt := 0; attempt < d.cfg.Attempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, d.cfg.BaseDelay, d.cfg.MaxDelay)
			if sleepErr := d.sleep(ctx, wait); sleepErr != nil {
				err = sleepErr
				break
			}
		}
		err = d.callSink(ctx, sink, b)
		if err == nil {
			d.metrics.MirrorOutcome(sink.Name(), "ok")
			return
		}
		if !reliability.IsRetryable(err) {
			break
		}
	}
	d.metrics.MirrorOutcome(sink.Name(), "failed")
	d.log.Error().Err(err).
		Str("sink", sink.Name()).
		Str("user_id", b.UserID).
		Str("conversation_id", b.ConversationID).
		Int("thoughts", len(b.Thoughts)).
		Msg("mirror failed")
}

func (d *Dispatcher) callSink(ctx context.Context, sink Sink, b Batch) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SinkTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = reliability.ErrUnknown
		}
	}()
	return sink.Mirror(ctx, b)
}
