// Package app assembles the engine and its stores from configuration. Both
// binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/bull/edu-rag-server/internal/cache"
	"github.com/bull/edu-rag-server/internal/chunking"
	"github.com/bull/edu-rag-server/internal/config"
	"github.com/bull/edu-rag-server/internal/embedding"
	"github.com/bull/edu-rag-server/internal/engine"
	"github.com/bull/edu-rag-server/internal/github"
	"github.com/bull/edu-rag-server/internal/indexer"
	"github.com/bull/edu-rag-server/internal/retrieval"
	"github.com/bull/edu-rag-server/internal/routing"
	"github.com/bull/edu-rag-server/internal/storage"
)

const defaultOllamaHost = "http://localhost:11434"

// App owns every long-lived component. Close releases them in reverse order.
type App struct {
	Config   *config.Config
	Vectors  *storage.QdrantStorage
	Chunks   *storage.ChunkStore
	Embedder *embedding.Embedder
	Cache    *cache.ResultCache
	Pipeline *indexer.Pipeline
	Engine   *engine.Engine

	closers []func() error
	logger  *slog.Logger
}

// New connects to Qdrant, SQLite and (when configured) Redis and wires the
// engine. Redis being unreachable is logged and leaves the cache disabled.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	vectors, err := storage.NewQdrantStorage(cfg.QdrantHost, cfg.QdrantPort, cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	a.Vectors = vectors
	a.closers = append(a.closers, vectors.Close)

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	chunks, err := storage.OpenChunkStore(cfg.SQLitePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}
	a.Chunks = chunks
	a.closers = append(a.closers, chunks.Close)

	embedder, err := a.newEmbedder()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Embedder = embedder

	a.Cache = cache.New(a.redisClient(ctx), cfg.Cache, logger)

	router, err := routing.NewRouter(cfg.Routing)
	if err != nil {
		a.Close()
		return nil, err
	}

	var opts []indexer.Option
	opts = append(opts, indexer.WithLogger(logger))
	if cfg.GitHub.Owner != "" && cfg.GitHub.Repo != "" {
		client, err := github.NewClient(cfg.GitHub.Token)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create GitHub client: %w", err)
		}
		opts = append(opts, indexer.WithSource(
			github.NewFetcher(client, cfg.GitHub.Owner, cfg.GitHub.Repo, cfg.GitHub.Ref, cfg.GitHub.Path)))
	}
	pipeline, err := indexer.NewPipeline(chunking.NewChunker(chunking.DefaultConfig()), embedder, vectors, chunks, cfg.Indexer, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = pipeline
	a.closers = append(a.closers, func() error { pipeline.Release(); return nil })

	retriever := retrieval.NewHybridRetriever(vectors, chunks, embedder, cfg.Retrieval, logger)
	a.Engine = engine.New(router, retriever, pipeline, a.Cache, cfg.Engine, logger)
	a.closers = append(a.closers, func() error { a.Engine.StopWarmer(); return nil })
	return a, nil
}

func (a *App) newEmbedder() (*embedding.Embedder, error) {
	ec := a.Config.Embedding

	var backend embedding.Backend
	var err error
	switch ec.Provider {
	case config.ProviderOllama:
		host := ec.BaseURL
		if host == "" {
			host = defaultOllamaHost
		}
		backend, err = embedding.NewOllamaBackend(host, ec.Model)
	default:
		backend, err = embedding.NewOpenAIBackend(ec.BaseURL, ec.APIKey, ec.Model)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding backend: %w", err)
	}

	opts := []embedding.Option{embedding.WithLogger(a.logger)}
	if ec.CacheDir != "" {
		vc, err := embedding.OpenBadgerCache(ec.CacheDir, ec.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to open embedding cache: %w", err)
		}
		a.closers = append(a.closers, vc.Close)
		opts = append(opts, embedding.WithCache(vc))
	}

	return embedding.NewEmbedder(backend, embedding.Config{
		Model:             ec.Model,
		Dimension:         ec.Dimension,
		BatchSize:         ec.BatchSize,
		MaxTokens:         ec.MaxTokens,
		RequestsPerSecond: ec.RequestsPerSecond,
	}, opts...), nil
}

// redisClient returns nil when Redis is not configured or not reachable, so
// the cache runs in pass-through mode.
func (a *App) redisClient(ctx context.Context) redis.UniversalClient {
	if a.Config.RedisURL == "" {
		a.logger.Info("Redis not configured, result cache disabled")
		return nil
	}
	rdb, err := cache.NewRedisClient(ctx, a.Config.RedisURL, a.Config.RedisPassword, a.Config.RedisDB)
	if err != nil {
		a.logger.Warn("Redis unavailable, result cache disabled", "error", err)
		return nil
	}
	a.closers = append(a.closers, rdb.Close)
	return rdb
}

// Close releases every component.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
