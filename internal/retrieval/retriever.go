// Package retrieval fuses semantic and keyword search into one ranked result list.
package retrieval

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/storage"
)

// VectorIndex is the nearest-neighbor side of a hybrid search.
type VectorIndex interface {
	Search(ctx context.Context, collection string, q storage.VectorQuery) ([]storage.ScoredPoint, error)
}

// KeywordIndex is the lexical side of a hybrid search.
type KeywordIndex interface {
	SearchByKeywords(ctx context.Context, filters domain.SearchFilters, keywords []string, limit int) ([]domain.Chunk, error)
}

// QueryEmbedder turns a query into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config holds the fusion and reranking parameters.
type Config struct {
	SemanticWeight   float64       `toml:"semantic_weight"`
	KeywordWeight    float64       `toml:"keyword_weight"`
	MinConfidence    float64       `toml:"min_confidence"`
	SemanticLimit    int           `toml:"semantic_limit"`
	SemanticMinScore float64       `toml:"semantic_min_score"`
	KeywordLimit     int           `toml:"keyword_limit"`
	KeywordMinScore  float64       `toml:"keyword_min_score"`
	HybridShare      float64       `toml:"hybrid_share"` // weight of hybridScore in finalScore
	RerankShare      float64       `toml:"rerank_share"` // weight of rerankingScore in finalScore
	DefaultLimit     int           `toml:"default_limit"`
	Timeout          time.Duration `toml:"-"` // per sub-search; set from [timeouts] search
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		SemanticWeight:   0.7,
		KeywordWeight:    0.3,
		MinConfidence:    0.6,
		SemanticLimit:    20,
		SemanticMinScore: 0.5,
		KeywordLimit:     10,
		KeywordMinScore:  0.1,
		HybridShare:      0.7,
		RerankShare:      0.3,
		DefaultLimit:     5,
		Timeout:          5 * time.Second,
	}
}

// Request is one retrieval call.
type Request struct {
	Query   string
	Filters domain.SearchFilters
	Limit   int // DefaultLimit when <= 0
}

// HybridRetriever runs semantic and keyword search concurrently and fuses the results.
type HybridRetriever struct {
	vectors  VectorIndex
	keywords KeywordIndex
	embedder QueryEmbedder
	cfg      Config
	logger   *slog.Logger
}

// NewHybridRetriever creates a retriever. A nil logger uses slog.Default().
func NewHybridRetriever(vectors VectorIndex, keywords KeywordIndex, embedder QueryEmbedder, cfg Config, logger *slog.Logger) *HybridRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		vectors:  vectors,
		keywords: keywords,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
	}
}

// Config returns the retriever's tuning.
func (r *HybridRetriever) Config() Config { return r.cfg }

// candidate is one chunk seen by either sub-search.
type candidate struct {
	id       string
	content  string
	meta     domain.ResultMetadata
	semantic float64
	keyword  float64
}

// Search returns results ordered by finalScore descending, ties by chunk id.
// A failure of one sub-search degrades to the other; both failing is an error.
func (r *HybridRetriever) Search(ctx context.Context, req Request) ([]domain.SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrValidation)
	}
	if err := req.Filters.Validate(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = r.cfg.DefaultLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	collection := storage.CollectionFor(req.Filters.Subject, req.Filters.Standard)
	ctx, span := otel.Tracer("edu-rag-server/retrieval").Start(ctx, "retrieval.Search",
		trace.WithAttributes(
			attribute.String("retrieval.collection", collection),
			attribute.Int("retrieval.limit", limit),
		))
	defer span.End()

	var semantic, lexical []candidate
	var semanticErr, keywordErr error

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		semantic, semanticErr = r.semanticSearch(ctx, collection, query, req.Filters)
	}()

	go func() {
		defer wg.Done()
		lexical, keywordErr = r.keywordSearch(ctx, query, req.Filters)
	}()

	wg.Wait()

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return nil, err
	}

	if semanticErr != nil && keywordErr != nil {
		span.SetStatus(codes.Error, "both searches failed")
		r.logger.Warn("hybrid search: both semantic and keyword searches failed",
			"semantic_error", semanticErr, "keyword_error", keywordErr)
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, errors.Join(semanticErr, keywordErr))
	}
	if semanticErr != nil {
		r.logger.Warn("hybrid search: semantic search failed, using keyword results only", "error", semanticErr)
	}
	if keywordErr != nil {
		r.logger.Warn("hybrid search: keyword search failed, using semantic results only", "error", keywordErr)
	}

	results := r.rank(query, semantic, lexical, limit)
	span.SetAttributes(
		attribute.Int("retrieval.semantic_candidates", len(semantic)),
		attribute.Int("retrieval.keyword_candidates", len(lexical)),
		attribute.Int("retrieval.results", len(results)),
	)
	r.logger.Debug("hybrid search completed",
		"query", query, "semantic", len(semantic), "keyword", len(lexical), "results", len(results))
	return results, nil
}

func (r *HybridRetriever) subContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, r.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (r *HybridRetriever) semanticSearch(ctx context.Context, collection, query string, filters domain.SearchFilters) ([]candidate, error) {
	if r.vectors == nil || r.embedder == nil {
		return nil, errors.New("semantic search unavailable")
	}
	ctx, cancel := r.subContext(ctx)
	defer cancel()

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	points, err := r.vectors.Search(ctx, collection, storage.VectorQuery{
		Vector:   vector,
		Limit:    r.cfg.SemanticLimit,
		MinScore: r.cfg.SemanticMinScore,
		Filters:  filters,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]candidate, 0, len(points))
	for _, p := range points {
		if p.ID == "" {
			continue
		}
		chunk := storage.ChunkFromPayload(p.Payload)
		out = append(out, candidate{
			id:       p.ID,
			content:  chunk.Text,
			meta:     domain.MetadataOf(chunk),
			semantic: p.Score,
		})
	}
	return out, nil
}

func (r *HybridRetriever) keywordSearch(ctx context.Context, query string, filters domain.SearchFilters) ([]candidate, error) {
	if r.keywords == nil {
		return nil, errors.New("keyword search unavailable")
	}
	terms := ExtractKeywords(query)
	if len(terms) == 0 {
		return []candidate{}, nil
	}

	ctx, cancel := r.subContext(ctx)
	defer cancel()

	chunks, err := r.keywords.SearchByKeywords(ctx, filters, terms, r.cfg.KeywordLimit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	out := make([]candidate, 0, len(chunks))
	for _, c := range chunks {
		score := KeywordScore(terms, c.SectionTitle, c.Text)
		if score <= r.cfg.KeywordMinScore {
			continue
		}
		out = append(out, candidate{
			id:      c.ID,
			content: c.Text,
			meta:    domain.MetadataOf(c),
			keyword: score,
		})
	}
	return out, nil
}

// rank fuses, filters, reranks and truncates.
func (r *HybridRetriever) rank(query string, semantic, lexical []candidate, limit int) []domain.SearchResult {
	merged := make(map[string]*candidate, len(semantic)+len(lexical))
	for i := range semantic {
		c := semantic[i]
		merged[c.id] = &c
	}
	for _, c := range lexical {
		if existing, ok := merged[c.id]; ok {
			existing.keyword = c.keyword
			continue
		}
		merged[c.id] = &c
	}

	words := QueryWords(query)
	results := make([]domain.SearchResult, 0, len(merged))
	for _, c := range merged {
		hybrid := r.HybridScore(c.semantic, c.keyword)
		if hybrid <= r.cfg.MinConfidence {
			continue
		}
		rerank := RerankScore(words, c.content)
		results = append(results, domain.SearchResult{
			ChunkID:        c.id,
			Content:        c.content,
			Metadata:       c.meta,
			SemanticScore:  c.semantic,
			KeywordScore:   c.keyword,
			HybridScore:    hybrid,
			RerankingScore: rerank,
			FinalScore:     r.cfg.HybridShare*hybrid + r.cfg.RerankShare*rerank,
		})
	}

	slices.SortFunc(results, func(a, b domain.SearchResult) int {
		if c := cmp.Compare(b.FinalScore, a.FinalScore); c != 0 {
			return c
		}
		return strings.Compare(a.ChunkID, b.ChunkID)
	})

	final := make([]domain.SearchResult, 0, min(limit, len(results)))
	for _, res := range results {
		if len(final) == limit {
			break
		}
		if res.FinalScore <= r.cfg.MinConfidence {
			continue
		}
		final = append(final, res)
	}
	return final
}

// HybridScore is the weighted fusion of a semantic and a keyword score.
func (r *HybridRetriever) HybridScore(semantic, keyword float64) float64 {
	return r.cfg.SemanticWeight*semantic + r.cfg.KeywordWeight*keyword
}
