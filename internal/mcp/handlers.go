package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/edu-rag-server/internal/cache"
	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/engine"
)

const defaultPopularLimit = 10

// Engine is the facade the tools call into.
type Engine interface {
	Search(ctx context.Context, req engine.SearchRequest) (*engine.SearchResponse, error)
	Route(ctx context.Context, query string) (domain.RoutingDecision, error)
	IngestDocument(ctx context.Context, documentID, text string, meta domain.DocumentMetadata) ([]domain.Chunk, error)
	RemoveDocument(ctx context.Context, documentID string) error
	PopularQueries(ctx context.Context, limit int) []cache.PopularQuery
	SubjectQueries(ctx context.Context, subject string, limit int) []cache.PopularQuery
	CacheMetrics(ctx context.Context) cache.Metrics
}

// makeSearchHandler creates the search_content tool handler.
// Non-educational queries and empty result sets are answered with a message
// rather than a tool error.
func makeSearchHandler(eng Engine) func(
	context.Context, *mcp.CallToolRequest, SearchContentInput,
) (*mcp.CallToolResult, SearchContentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchContentInput) (
		*mcp.CallToolResult, SearchContentOutput, error,
	) {
		filters := domain.SearchFilters{
			Subject:  strings.ToLower(strings.TrimSpace(input.Subject)),
			Standard: input.Standard,
		}
		for _, ct := range input.ContentTypes {
			filters.ContentTypes = append(filters.ContentTypes, domain.ContentType(strings.ToLower(ct)))
		}
		for _, d := range input.Difficulties {
			filters.Difficulties = append(filters.Difficulties, domain.Difficulty(strings.ToLower(d)))
		}

		resp, err := eng.Search(ctx, engine.SearchRequest{Query: input.Query, Filters: filters, Limit: input.MaxResults})
		if errors.Is(err, domain.ErrNonEducational) {
			return nil, SearchContentOutput{
				Results: []domain.SearchResult{},
				Message: "This question does not look educational, so no textbook content was searched.",
			}, nil
		}
		if err != nil {
			return nil, SearchContentOutput{}, fmt.Errorf("search failed: %w", err)
		}

		out := SearchContentOutput{Results: resp.Results, Routing: &resp.Routing, Cached: resp.Cached}
		if len(out.Results) == 0 {
			out.Message = "No matching content found. Try broader search terms or fewer filters."
		}
		return nil, out, nil
	}
}

// makeRouteHandler creates the route_query tool handler.
func makeRouteHandler(eng Engine) func(
	context.Context, *mcp.CallToolRequest, RouteQueryInput,
) (*mcp.CallToolResult, RouteQueryOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RouteQueryInput) (
		*mcp.CallToolResult, RouteQueryOutput, error,
	) {
		decision, err := eng.Route(ctx, input.Query)
		if err != nil {
			return nil, RouteQueryOutput{}, err
		}
		return nil, RouteQueryOutput{Decision: decision}, nil
	}
}

// makeIngestHandler creates the ingest_document tool handler.
func makeIngestHandler(eng Engine) func(
	context.Context, *mcp.CallToolRequest, IngestDocumentInput,
) (*mcp.CallToolResult, IngestDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestDocumentInput) (
		*mcp.CallToolResult, IngestDocumentOutput, error,
	) {
		meta := domain.DocumentMetadata{
			Title:    input.Title,
			Subject:  strings.ToLower(strings.TrimSpace(input.Subject)),
			Standard: input.Standard,
			Chapter:  input.Chapter,
			Source:   input.Source,
		}
		chunks, err := eng.IngestDocument(ctx, input.DocumentID, input.Text, meta)
		if err != nil {
			return nil, IngestDocumentOutput{}, fmt.Errorf("ingestion failed: %w", err)
		}

		out := IngestDocumentOutput{DocumentID: input.DocumentID, Chunks: len(chunks), ByLevel: map[string]int{}}
		for _, c := range chunks {
			out.ByLevel[fmt.Sprintf("level_%d", c.Level)]++
			if c.VectorID != "" {
				out.Vectors++
			}
		}
		return nil, out, nil
	}
}

// makeRemoveHandler creates the remove_document tool handler.
func makeRemoveHandler(eng Engine) func(
	context.Context, *mcp.CallToolRequest, RemoveDocumentInput,
) (*mcp.CallToolResult, RemoveDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RemoveDocumentInput) (
		*mcp.CallToolResult, RemoveDocumentOutput, error,
	) {
		if err := eng.RemoveDocument(ctx, input.DocumentID); err != nil {
			return nil, RemoveDocumentOutput{}, err
		}
		return nil, RemoveDocumentOutput{DocumentID: input.DocumentID, Removed: true}, nil
	}
}

// makePopularHandler creates the popular_queries tool handler.
func makePopularHandler(eng Engine) func(
	context.Context, *mcp.CallToolRequest, PopularQueriesInput,
) (*mcp.CallToolResult, PopularQueriesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PopularQueriesInput) (
		*mcp.CallToolResult, PopularQueriesOutput, error,
	) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultPopularLimit
		}
		subject := strings.ToLower(strings.TrimSpace(input.Subject))
		if subject != "" {
			return nil, PopularQueriesOutput{Queries: eng.SubjectQueries(ctx, subject, limit)}, nil
		}
		return nil, PopularQueriesOutput{Queries: eng.PopularQueries(ctx, limit)}, nil
	}
}

// makeMetricsHandler creates the cache_metrics tool handler.
func makeMetricsHandler(eng Engine) func(
	context.Context, *mcp.CallToolRequest, CacheMetricsInput,
) (*mcp.CallToolResult, CacheMetricsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CacheMetricsInput) (
		*mcp.CallToolResult, CacheMetricsOutput, error,
	) {
		return nil, CacheMetricsOutput{Metrics: eng.CacheMetrics(ctx)}, nil
	}
}
