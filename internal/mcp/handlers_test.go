package mcp

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/edu-rag-server/internal/cache"
	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/engine"
)

type fakeEngine struct {
	searchReq  engine.SearchRequest
	searchResp *engine.SearchResponse
	searchErr  error
	ingested   domain.DocumentMetadata
	chunks     []domain.Chunk
	removed    string
	subject    string
}

func (f *fakeEngine) Search(_ context.Context, req engine.SearchRequest) (*engine.SearchResponse, error) {
	f.searchReq = req
	return f.searchResp, f.searchErr
}

func (f *fakeEngine) Route(_ context.Context, query string) (domain.RoutingDecision, error) {
	if query == "" {
		return domain.RoutingDecision{}, fmt.Errorf("%w: empty query", domain.ErrValidation)
	}
	return domain.RoutingDecision{Query: query, IsEducational: true, PrimarySubject: "mathematics"}, nil
}

func (f *fakeEngine) IngestDocument(_ context.Context, _, _ string, meta domain.DocumentMetadata) ([]domain.Chunk, error) {
	f.ingested = meta
	return f.chunks, nil
}

func (f *fakeEngine) RemoveDocument(_ context.Context, documentID string) error {
	f.removed = documentID
	return nil
}

func (f *fakeEngine) PopularQueries(context.Context, int) []cache.PopularQuery {
	return []cache.PopularQuery{{Query: "what are fractions", Count: 7}}
}

func (f *fakeEngine) SubjectQueries(_ context.Context, subject string, _ int) []cache.PopularQuery {
	f.subject = subject
	return []cache.PopularQuery{{Query: "what is a cell", Count: 2}}
}

func (f *fakeEngine) CacheMetrics(context.Context) cache.Metrics {
	return cache.Metrics{Hits: 3, Misses: 1, Total: 4, HitRate: 0.75, Available: true}
}

func TestSearchHandler(t *testing.T) {
	eng := &fakeEngine{searchResp: &engine.SearchResponse{
		Results: []domain.SearchResult{{ChunkID: "chunk_doc_1_0", FinalScore: 0.9}},
		Routing: domain.RoutingDecision{IsEducational: true, PrimarySubject: "mathematics"},
		Cached:  true,
	}}

	_, out, err := makeSearchHandler(eng)(context.Background(), nil, SearchContentInput{
		Query:        "What are fractions?",
		Subject:      " Mathematics ",
		Standard:     6,
		ContentTypes: []string{"Formula"},
		Difficulties: []string{"basic"},
		MaxResults:   3,
	})
	require.NoError(t, err)

	assert.Len(t, out.Results, 1)
	assert.True(t, out.Cached)
	assert.Equal(t, "mathematics", out.Routing.PrimarySubject)
	assert.Empty(t, out.Message)

	assert.Equal(t, domain.SearchFilters{
		Subject:      "mathematics",
		Standard:     6,
		ContentTypes: []domain.ContentType{domain.ContentFormula},
		Difficulties: []domain.Difficulty{domain.DifficultyBasic},
	}, eng.searchReq.Filters)
	assert.Equal(t, 3, eng.searchReq.Limit)
}

func TestSearchHandler_NoResults(t *testing.T) {
	eng := &fakeEngine{searchResp: &engine.SearchResponse{Results: []domain.SearchResult{}}}

	_, out, err := makeSearchHandler(eng)(context.Background(), nil, SearchContentInput{Query: "What is a prime?"})
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Contains(t, out.Message, "No matching content")
}

func TestSearchHandler_NonEducational(t *testing.T) {
	eng := &fakeEngine{searchErr: fmt.Errorf("%w: matched_non_educational_pattern", domain.ErrNonEducational)}

	_, out, err := makeSearchHandler(eng)(context.Background(), nil, SearchContentInput{Query: "How are you?"})
	require.NoError(t, err)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
	assert.Contains(t, out.Message, "does not look educational")
}

func TestSearchHandler_Failure(t *testing.T) {
	eng := &fakeEngine{searchErr: fmt.Errorf("%w: both searches failed", domain.ErrUpstreamUnavailable)}

	_, _, err := makeSearchHandler(eng)(context.Background(), nil, SearchContentInput{Query: "What is a prime?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestRouteHandler(t *testing.T) {
	eng := &fakeEngine{}

	_, out, err := makeRouteHandler(eng)(context.Background(), nil, RouteQueryInput{Query: "What are fractions?"})
	require.NoError(t, err)
	assert.Equal(t, "mathematics", out.Decision.PrimarySubject)

	_, _, err = makeRouteHandler(eng)(context.Background(), nil, RouteQueryInput{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIngestHandler(t *testing.T) {
	eng := &fakeEngine{chunks: []domain.Chunk{
		{Level: domain.LevelSection, VectorID: "vec_doc_1_0"},
		{Level: domain.LevelConcept, VectorID: "vec_doc_2_1"},
		{Level: domain.LevelDetail},
	}}

	_, out, err := makeIngestHandler(eng)(context.Background(), nil, IngestDocumentInput{
		DocumentID: "doc",
		Text:       "A fraction has a numerator and denominator",
		Subject:    "Mathematics",
		Standard:   6,
		Chapter:    "7",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, out.Chunks)
	assert.Equal(t, 2, out.Vectors)
	assert.Equal(t, map[string]int{"level_1": 1, "level_2": 1, "level_3": 1}, out.ByLevel)
	assert.Equal(t, domain.DocumentMetadata{Subject: "mathematics", Standard: 6, Chapter: "7"}, eng.ingested)
}

func TestRemoveHandler(t *testing.T) {
	eng := &fakeEngine{}
	_, out, err := makeRemoveHandler(eng)(context.Background(), nil, RemoveDocumentInput{DocumentID: "doc"})
	require.NoError(t, err)
	assert.True(t, out.Removed)
	assert.Equal(t, "doc", eng.removed)
}

func TestPopularHandler(t *testing.T) {
	eng := &fakeEngine{}

	_, out, err := makePopularHandler(eng)(context.Background(), nil, PopularQueriesInput{})
	require.NoError(t, err)
	require.Len(t, out.Queries, 1)
	assert.Equal(t, "what are fractions", out.Queries[0].Query)

	_, out, err = makePopularHandler(eng)(context.Background(), nil, PopularQueriesInput{Subject: "Science"})
	require.NoError(t, err)
	assert.Equal(t, "science", eng.subject)
	assert.Equal(t, "what is a cell", out.Queries[0].Query)
}

func TestMetricsHandler(t *testing.T) {
	_, out, err := makeMetricsHandler(&fakeEngine{})(context.Background(), nil, CacheMetricsInput{})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, out.Metrics.HitRate, 1e-9)
}

func TestNewServer(t *testing.T) {
	s := NewServer(&Config{Engine: &fakeEngine{}})
	assert.NotNil(t, s.MCPServer())
}
