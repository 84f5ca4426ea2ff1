package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ent0n29/secondbrain/internal/assistant"
	"github.com/ent0n29/secondbrain/internal/config"
	"github.com/ent0n29/secondbrain/internal/conversation"
	"github.com/ent0n29/secondbrain/internal/embedding"
	"github.com/ent0n29/secondbrain/internal/events"
	"github.com/ent0n29/secondbrain/internal/extraction"
	"github.com/ent0n29/secondbrain/internal/httpapi"
	"github.com/ent0n29/secondbrain/internal/llm"
	"github.com/ent0n29/secondbrain/internal/memory"
	"github.com/ent0n29/secondbrain/internal/mirror"
	"github.com/ent0n29/secondbrain/internal/observability"
	"github.com/ent0n29/secondbrain/internal/vault"
)

type BuildResult struct {
	Config        config.Config
	API           *httpapi.Server
	Assistant     *assistant.Service
	Conversations *conversation.Manager
	Mirror        *mirror.Dispatcher
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	StoreMode     string

	// Cleanup should be called on shutdown to drain the mirror queue and
	// release external resources (DB, Kafka writer).
	Cleanup func() error
}

// Build wires every component from cfg. The mirror worker is started on
// ctx; cancel ctx or call Cleanup to stop it.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	logger := observability.NewLogger("secondbrain", cfg.LogLevel)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	memoryStore, err := memory.NewStore(ctx, cfg.Memory())
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	storeMode := memory.Describe(memoryStore)

	adapter, err := llm.NewAdapter(cfg.LLM())
	if err != nil {
		_ = memoryStore.Close()
		return nil, fmt.Errorf("llm adapter init failed: %w", err)
	}

	provider, err := embedding.NewProvider(cfg.Embedding())
	if err != nil {
		_ = memoryStore.Close()
		return nil, fmt.Errorf("embedding provider init failed: %w", err)
	}
	embedder := embedding.NewClient(provider,
		embedding.WithMetrics(metrics),
		embedding.WithLogger(logger.With().Str("component", "embedding").Logger()),
	)

	publisher, err := newPublisher(cfg)
	if err != nil {
		_ = memoryStore.Close()
		return nil, err
	}
	sinks := []mirror.Sink{mirror.NewEventSink(publisher)}
	if cfg.VaultEnabled() {
		exporter, err := vault.NewGitHubExporter(cfg.VaultGitHubToken, cfg.VaultGitHubRepo,
			vault.WithLogger(logger.With().Str("component", "vault").Logger()),
		)
		if err != nil {
			_ = publisher.Close()
			_ = memoryStore.Close()
			return nil, fmt.Errorf("vault exporter init failed: %w", err)
		}
		sinks = append(sinks, mirror.NewVaultSink(exporter))
	}
	dispatcher := mirror.NewDispatcher(mirror.Config{}, sinks,
		mirror.WithMetrics(metrics),
		mirror.WithLogger(logger.With().Str("component", "mirror").Logger()),
	)
	dispatcher.Start(ctx)

	conversations := conversation.NewManager(cfg.Conversation(),
		conversation.WithLogger(logger.With().Str("component", "conversation").Logger()),
	)

	svc, err := assistant.New(assistant.Deps{
		Conversations: conversations,
		LLM:           adapter,
		Extractor:     extraction.NewEngine(adapter, metrics, logger.With().Str("component", "extraction").Logger()),
		Embedder:      embedder,
		Store:         memoryStore,
		Mirror:        dispatcher,
		Metrics:       metrics,
		Logger:        logger.With().Str("component", "assistant").Logger(),
	}, assistant.Config{
		SearchThreshold: cfg.SearchThreshold,
		SearchLimit:     cfg.SearchLimit,
	})
	if err != nil {
		dispatcher.Close()
		_ = publisher.Close()
		_ = memoryStore.Close()
		return nil, err
	}

	api := httpapi.New(cfg, svc, metrics, logger.With().Str("component", "httpapi").Logger(), storeMode)

	cleanup := func() error {
		dispatcher.Close()
		var errs []error
		if err := publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher: %w", err))
		}
		if err := memoryStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("memory store: %w", err))
		}
		return errors.Join(errs...)
	}

	logger.Info().
		Str("store", storeMode).
		Str("policy", string(cfg.Policy)).
		Str("llm", cfg.LLMProvider).
		Str("embedding", provider.Name()).
		Bool("vault", cfg.VaultEnabled()).
		Bool("kafka", len(cfg.KafkaBrokers) > 0).
		Msg("components ready")

	return &BuildResult{
		Config:        cfg,
		API:           api,
		Assistant:     svc,
		Conversations: conversations,
		Mirror:        dispatcher,
		Metrics:       metrics,
		Logger:        logger,
		StoreMode:     storeMode,
		Cleanup:       cleanup,
	}, nil
}

func newPublisher(cfg config.Config) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NewNopPublisher(), nil
	}
	p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher init failed: %w", err)
	}
	return p, nil
}
