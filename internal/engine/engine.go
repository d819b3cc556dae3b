// Package engine is the entry point used by the MCP tools and the CLI. It gates
// queries through the router, serves repeated searches from the result cache,
// and keeps the cache consistent with ingestion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/bull/edu-rag-server/internal/cache"
	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/retrieval"
	"github.com/bull/edu-rag-server/internal/storage"
)

// Router classifies queries.
type Router interface {
	Route(query string, callerContext map[string]string) domain.RoutingDecision
}

// Retriever runs hybrid searches.
type Retriever interface {
	Search(ctx context.Context, req retrieval.Request) ([]domain.SearchResult, error)
}

// Ingester writes documents to the indexes.
type Ingester interface {
	IngestDocument(ctx context.Context, documentID, text string, meta domain.DocumentMetadata) ([]domain.Chunk, error)
	RemoveDocument(ctx context.Context, documentID string) error
	Status(ctx context.Context, documentID string) (*storage.DocumentRecord, error)
}

// Config tunes the facade.
type Config struct {
	MaxLimit     int           // results retrieved and cached per query; larger limits are rejected
	DefaultLimit int           // used when a request has no limit
	WarmInterval time.Duration // 0 disables the popular-query warmer
	WarmQueries  int           // popular queries refreshed per warm run
}

// DefaultConfig returns the stock facade settings.
func DefaultConfig() Config {
	return Config{
		MaxLimit:     20,
		DefaultLimit: 5,
		WarmInterval: 15 * time.Minute,
		WarmQueries:  10,
	}
}

// SearchRequest is a retrieval call from a client.
type SearchRequest struct {
	Query   string               `json:"query"`
	Filters domain.SearchFilters `json:"filters"`
	Limit   int                  `json:"limit,omitempty"`
}

// SearchResponse carries ranked results and how they were produced.
type SearchResponse struct {
	Query   string                 `json:"query"`
	Routing domain.RoutingDecision `json:"routing"`
	Results []domain.SearchResult  `json:"results"`
	Cached  bool                   `json:"cached"`
	Took    time.Duration          `json:"took"`
}

// Engine wires routing, caching, retrieval and ingestion together.
type Engine struct {
	router    Router
	retriever Retriever
	ingester  Ingester
	cache     *cache.ResultCache
	cfg       Config
	logger    *slog.Logger
	scheduler *gocron.Scheduler
}

// New creates an engine. rc may wrap a nil Redis client, in which case every
// search goes to the retriever.
func New(router Router, retriever Retriever, ingester Ingester, rc *cache.ResultCache, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if rc == nil {
		rc = cache.New(nil, cache.DefaultConfig(), logger)
	}
	def := DefaultConfig()
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	cfg.DefaultLimit = min(cfg.DefaultLimit, cfg.MaxLimit)
	if cfg.WarmQueries <= 0 {
		cfg.WarmQueries = def.WarmQueries
	}
	return &Engine{
		router:    router,
		retriever: retriever,
		ingester:  ingester,
		cache:     rc,
		cfg:       cfg,
		logger:    logger,
	}
}

// Cache exposes the result cache for statistics and maintenance.
func (e *Engine) Cache() *cache.ResultCache { return e.cache }

// Route classifies a query, consulting the routing cache first.
func (e *Engine) Route(ctx context.Context, query string) (domain.RoutingDecision, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.RoutingDecision{}, fmt.Errorf("%w: empty query", domain.ErrValidation)
	}
	if decision, ok := e.cache.GetRouting(ctx, query); ok {
		return decision, nil
	}
	decision := e.router.Route(query, nil)
	e.cache.PutRouting(ctx, query, decision)
	return decision, nil
}

// Search validates the request, rejects non-educational queries with
// ErrNonEducational, and returns cached results when present. Results are
// always retrieved to MaxLimit depth so one cache entry serves every limit.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrValidation)
	}
	if err := req.Filters.Validate(); err != nil {
		return nil, err
	}
	limit := req.Limit
	switch {
	case limit < 0 || limit > e.cfg.MaxLimit:
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, e.cfg.MaxLimit)
	case limit == 0:
		limit = e.cfg.DefaultLimit
	}

	decision, err := e.Route(ctx, query)
	if err != nil {
		return nil, err
	}
	if !decision.IsEducational {
		return nil, fmt.Errorf("%w: %s", domain.ErrNonEducational, decision.Reason)
	}

	resp := &SearchResponse{Query: query, Routing: decision}

	key := cache.SearchKey(query, req.Filters)
	if results, ok := e.cache.GetSearch(ctx, key); ok {
		resp.Results = truncate(results, limit)
		resp.Cached = true
		resp.Took = time.Since(start)
		return resp, nil
	}

	results, err := e.retriever.Search(ctx, retrieval.Request{Query: query, Filters: req.Filters, Limit: e.cfg.MaxLimit})
	if err != nil {
		return nil, err
	}
	e.cache.StoreSearch(ctx, query, req.Filters, results)

	resp.Results = truncate(results, limit)
	resp.Took = time.Since(start)
	e.logger.Info("Search completed",
		"query", query,
		"subject", decision.PrimarySubject,
		"results", len(resp.Results),
		"took", resp.Took,
	)
	return resp, nil
}

func truncate(results []domain.SearchResult, limit int) []domain.SearchResult {
	if results == nil {
		return []domain.SearchResult{}
	}
	if len(results) > limit {
		return results[:limit]
	}
	return results
}

// IngestDocument indexes a document and drops cached search results, which
// may no longer reflect the corpus.
func (e *Engine) IngestDocument(ctx context.Context, documentID, text string, meta domain.DocumentMetadata) ([]domain.Chunk, error) {
	chunks, err := e.ingester.IngestDocument(ctx, documentID, text, meta)
	if err != nil {
		return nil, err
	}
	e.invalidate(ctx, documentID)
	return chunks, nil
}

// RemoveDocument deletes a document from both indexes and drops cached
// search results.
func (e *Engine) RemoveDocument(ctx context.Context, documentID string) error {
	if strings.TrimSpace(documentID) == "" {
		return fmt.Errorf("%w: empty document id", domain.ErrValidation)
	}
	if err := e.ingester.RemoveDocument(ctx, documentID); err != nil {
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return fmt.Errorf("%w: document %s not found", domain.ErrValidation, documentID)
		}
		return err
	}
	e.invalidate(ctx, documentID)
	return nil
}

// DocumentStatus returns the ingestion record of a document.
func (e *Engine) DocumentStatus(ctx context.Context, documentID string) (*storage.DocumentRecord, error) {
	return e.ingester.Status(ctx, documentID)
}

// Cached search keys are hashed, so any corpus change drops every search entry.
func (e *Engine) invalidate(ctx context.Context, documentID string) {
	if n := e.cache.Invalidate(ctx, ""); n > 0 {
		e.logger.Info("Invalidated cached searches", "document", documentID, "keys", n)
	}
}

// PopularQueries returns the most frequently cached queries.
func (e *Engine) PopularQueries(ctx context.Context, limit int) []cache.PopularQuery {
	return e.cache.PopularQueries(ctx, limit)
}

// CacheMetrics reports cache hit and miss counts.
func (e *Engine) CacheMetrics(ctx context.Context) cache.Metrics {
	return e.cache.Metrics(ctx)
}

// SubjectQueries returns the recently popular queries of one subject.
func (e *Engine) SubjectQueries(ctx context.Context, subject string, limit int) []cache.PopularQuery {
	return e.cache.SubjectQueries(ctx, subject, limit)
}
