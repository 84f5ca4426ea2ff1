package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/secondbrain/internal/observability"
	"github.com/ent0n29/secondbrain/internal/reliability"
)

// Client wraps a Provider with retries, validation and metrics.
type Client struct {
	provider Provider
	retrier  *reliability.Retrier
	metrics  *observability.Metrics
	log      zerolog.Logger
}

type Option func(*clientOptions)

type clientOptions struct {
	policy  reliability.Policy
	sleep   reliability.SleepFunc
	metrics *observability.Metrics
	log     zerolog.Logger
}

// WithSleep replaces the delay between attempts.
func WithSleep(sleep reliability.SleepFunc) Option {
	return func(o *clientOptions) { o.sleep = sleep }
}

func WithPolicy(p reliability.Policy) Option {
	return func(o *clientOptions) { o.policy = p }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *clientOptions) { o.log = log }
}

func NewClient(provider Provider, opts ...Option) *Client {
	o := clientOptions{policy: reliability.DefaultPolicy(), log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{provider: provider, metrics: o.metrics, log: o.log}
	c.retrier = reliability.NewRetrier(o.policy,
		reliability.WithSleep(o.sleep),
		reliability.WithRetryHook(func(op string, attempt int, err error, wait time.Duration) {
			c.metrics.RetryAttempt(op)
			c.metrics.ProviderError(provider.Name(), op)
			c.log.Warn().Err(err).Str("provider", provider.Name()).Int("attempt", attempt).Dur("wait", wait).Msg("embedding attempt failed")
		}),
	)
	return c
}

func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per input, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()
	var out [][]float32
	err := c.retrier.Do(ctx, "embed", func(ctx context.Context) error {
		vecs, err := c.provider.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return fmt.Errorf("provider returned empty vector at index %d", i)
			}
		}
		out = vecs
		return nil
	})
	if err != nil {
		var exhausted *reliability.ExhaustedError
		if errors.As(err, &exhausted) {
			c.metrics.ProviderError(c.provider.Name(), "embed_exhausted")
		}
		return nil, err
	}
	c.metrics.ObserveStage(observability.StageEmbed, time.Since(start))
	return out, nil
}
