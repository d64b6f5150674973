package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/iammorganparry/clive/apps/projmem/internal/cache"
	"github.com/iammorganparry/clive/apps/projmem/internal/config"
	"github.com/iammorganparry/clive/apps/projmem/internal/embedding"
	"github.com/iammorganparry/clive/apps/projmem/internal/memory"
	"github.com/iammorganparry/clive/apps/projmem/internal/registry"
	"github.com/iammorganparry/clive/apps/projmem/internal/search"
	"github.com/iammorganparry/clive/apps/projmem/internal/sessions"
	"github.com/iammorganparry/clive/apps/projmem/internal/vectorsync"
)

// embeddingCacheSize bounds the in-memory query embedding cache.
const embeddingCacheSize = 1024

// app holds the wired service and everything that must be closed with it.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	manager  *cache.Manager
	syncer   *memory.Syncer
	svc      *memory.Service
}

func newLogger(w io.Writer, level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	reg, err := registry.Open(cfg.RegistryPath(), cfg.DataDir, registry.Options{
		FlushDelay:    cfg.RegistryFlushDelay,
		TouchInterval: cfg.RegistryTouchInterval,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	ollama := embedding.NewOllamaClient(cfg.OllamaBaseURL, cfg.EmbeddingModel)
	factory, err := backendFactory(cfg, ollama)
	if err != nil {
		reg.Close()
		return nil, err
	}

	manager := cache.NewManager(cache.ManagerConfig{
		StoreCapacity:  cfg.StoreCacheSize,
		VectorCapacity: cfg.VectorCacheSize,
		Backend:        factory,
		Vector: vectorsync.Options{
			CallTimeout: cfg.VectorCallTimeout,
			BatchSize:   cfg.VectorBatchSize,
			ChunkSize:   cfg.VectorChunkSize,
		},
		Logger: logger,
	})
	syncer := memory.NewSyncer(manager, memory.SyncerOptions{
		Workers:   cfg.SyncWorkers,
		QueueSize: cfg.SyncQueueSize,
		Logger:    logger,
	})
	searcher := search.NewOrchestrator(reg, manager, search.Config{
		Threshold: cfg.SimilarityThreshold,
		Baseline:  cfg.KeywordBaseline,
		Logger:    logger,
	})

	deps := memory.Deps{
		Projects:      reg,
		Resources:     manager,
		Searcher:      searcher,
		Syncer:        syncer,
		Summarizer:    sessions.NewSummarizer(cfg.OllamaBaseURL, cfg.SummaryModel, cfg.SummaryEnabled, logger),
		VectorBackend: cfg.VectorBackend,
		Logger:        logger,
	}
	// Ollama is only checked when something depends on it.
	if cfg.VectorBackend == config.BackendEmbedded || cfg.SummaryEnabled {
		deps.Ollama = ollama
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		manager:  manager,
		syncer:   syncer,
		svc:      memory.NewService(deps),
	}, nil
}

func backendFactory(cfg *config.Config, ollama *embedding.OllamaClient) (vectorsync.BackendFactory, error) {
	switch cfg.VectorBackend {
	case config.BackendChroma:
		return vectorsync.ChromaFactory(vectorsync.ChromaConfig{
			Command: cfg.VectorCommand,
			Args:    cfg.VectorArgs,
		}), nil
	case config.BackendEmbedded:
		return vectorsync.EmbeddedFactory(embedding.NewCachedEmbedder(ollama, embeddingCacheSize).Func()), nil
	case config.BackendNone:
		return vectorsync.NoBackend, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

// Close drains pending syncs before the vector clients go away, then
// persists the registry.
func (a *app) Close() {
	a.syncer.Close()
	a.manager.Close()
	if err := a.registry.Close(); err != nil {
		a.logger.Error("failed to flush registry", "error", err)
	}
}
