// Package main provides the edurag CLI for ingesting textbooks and querying the index.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bull/edu-rag-server/internal/app"
	"github.com/bull/edu-rag-server/internal/cache"
	"github.com/bull/edu-rag-server/internal/config"
	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/engine"
	"github.com/bull/edu-rag-server/internal/indexer"
	"github.com/bull/edu-rag-server/internal/logger"
	"github.com/bull/edu-rag-server/internal/storage"
)

var (
	cfg *config.Config
	log *slog.Logger

	jsonOutput bool
	logLevel   string
)

// engineAPI is the part of the engine the commands call.
type engineAPI interface {
	Search(ctx context.Context, req engine.SearchRequest) (*engine.SearchResponse, error)
	IngestDocument(ctx context.Context, documentID, text string, meta domain.DocumentMetadata) ([]domain.Chunk, error)
	RemoveDocument(ctx context.Context, documentID string) error
	DocumentStatus(ctx context.Context, documentID string) (*storage.DocumentRecord, error)
}

// statsCache is the part of the result cache the cache commands call.
type statsCache interface {
	PopularQueries(ctx context.Context, limit int) []cache.PopularQuery
	SubjectQueries(ctx context.Context, subject string, limit int) []cache.PopularQuery
	Metrics(ctx context.Context) cache.Metrics
	Clear(ctx context.Context) int
}

// backend holds what the index commands need from a wired application.
type backend struct {
	engine engineAPI
	sync   func(ctx context.Context) (*indexer.IndexResult, error)
	close  func()
}

// Service hooks. Tests replace them with fakes.
var (
	loadConfig  = config.Load
	openBackend = openAppBackend
	openCache   = openRedisCache
)

var rootCmd = &cobra.Command{
	Use:   "edurag",
	Short: "Educational content retrieval tool",
	Long: `CLI for the hybrid semantic and keyword retrieval engine over textbook content.

Configuration comes from the environment (and a .env file when present):
  QDRANT_HOST, QDRANT_PORT   Qdrant gRPC endpoint (default localhost:6334)
  SQLITE_PATH                chunk repository (default data/chunks.db)
  REDIS_URL                  result cache (optional)
  EMBEDDING_PROVIDER         openai or ollama
  EMBEDDING_BASE_URL         embedding endpoint
  EMBEDDING_API_KEY          API key (falls back to OPENAI_API_KEY)
  CONFIG_FILE                TOML tuning file (optional)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		log, err = logger.New(level, "text")
		if err != nil {
			return err
		}
		slog.SetDefault(log)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openAppBackend wires every component for commands that touch the indexes.
func openAppBackend(ctx context.Context) (*backend, error) {
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &backend{
		engine: a.Engine,
		sync: func(ctx context.Context) (*indexer.IndexResult, error) {
			result, err := a.Pipeline.IndexAll(ctx)
			if err != nil {
				return nil, err
			}
			if n := a.Cache.Invalidate(ctx, ""); n > 0 {
				log.Info("Invalidated cached searches", "keys", n)
			}
			return result, nil
		},
		close: func() { a.Close() },
	}, nil
}

// openRedisCache connects to Redis only, for commands that never touch the indexes.
func openRedisCache(ctx context.Context) (statsCache, func(), error) {
	if cfg.RedisURL == "" {
		return nil, nil, fmt.Errorf("REDIS_URL is not set")
	}
	rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return cache.New(rdb, cfg.Cache, log), func() { rdb.Close() }, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
