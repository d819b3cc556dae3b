// Package mcp exposes the retrieval engine as MCP tools and serves the health
// and landing HTTP endpoints.
package mcp

import (
	"github.com/bull/edu-rag-server/internal/cache"
	"github.com/bull/edu-rag-server/internal/domain"
)

// SearchContentInput defines the input parameters for the search_content tool.
type SearchContentInput struct {
	Query        string   `json:"query" jsonschema:"the student's question or search text"`
	Subject      string   `json:"subject,omitempty" jsonschema:"restrict to a subject such as mathematics or science"`
	Standard     int      `json:"standard,omitempty" jsonschema:"restrict to a school standard between 1 and 12"`
	ContentTypes []string `json:"content_types,omitempty" jsonschema:"any of text, formula, diagram, mixed"`
	Difficulties []string `json:"difficulties,omitempty" jsonschema:"any of basic, intermediate, advanced"`
	MaxResults   int      `json:"max_results,omitempty" jsonschema:"maximum number of chunks to return (default 5, at most 20)"`
}

// SearchContentOutput contains ranked chunks.
type SearchContentOutput struct {
	Results []domain.SearchResult   `json:"results"`
	Routing *domain.RoutingDecision `json:"routing,omitempty"`
	Cached  bool                    `json:"cached"`
	// Message explains an empty result list.
	Message string `json:"message,omitempty"`
}

// RouteQueryInput defines the input parameters for the route_query tool.
type RouteQueryInput struct {
	Query string `json:"query" jsonschema:"the query to classify"`
}

// RouteQueryOutput wraps the routing decision.
type RouteQueryOutput struct {
	Decision domain.RoutingDecision `json:"decision"`
}

// IngestDocumentInput defines the input parameters for the ingest_document tool.
type IngestDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"stable id of the document, letters digits dot dash and underscore"`
	Text       string `json:"text" jsonschema:"extracted plain text or markdown of the document"`
	Title      string `json:"title,omitempty" jsonschema:"document title"`
	Subject    string `json:"subject,omitempty" jsonschema:"subject of the document"`
	Standard   int    `json:"standard,omitempty" jsonschema:"school standard between 1 and 12"`
	Chapter    string `json:"chapter,omitempty" jsonschema:"chapter label"`
	Source     string `json:"source,omitempty" jsonschema:"where the text came from"`
}

// IngestDocumentOutput summarizes an ingestion.
type IngestDocumentOutput struct {
	DocumentID string         `json:"document_id"`
	Chunks     int            `json:"chunks"`
	Vectors    int            `json:"vectors"`
	ByLevel    map[string]int `json:"chunks_by_level"`
}

// RemoveDocumentInput defines the input parameters for the remove_document tool.
type RemoveDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"id of the document to remove"`
}

// RemoveDocumentOutput confirms a removal.
type RemoveDocumentOutput struct {
	DocumentID string `json:"document_id"`
	Removed    bool   `json:"removed"`
}

// PopularQueriesInput defines the input parameters for the popular_queries tool.
type PopularQueriesInput struct {
	Limit   int    `json:"limit,omitempty" jsonschema:"number of queries to return (default 10)"`
	Subject string `json:"subject,omitempty" jsonschema:"only queries recently searched within this subject"`
}

// PopularQueriesOutput lists queries by how often their results were cached.
type PopularQueriesOutput struct {
	Queries []cache.PopularQuery `json:"queries"`
}

// CacheMetricsInput takes no parameters.
type CacheMetricsInput struct{}

// CacheMetricsOutput reports cache effectiveness.
type CacheMetricsOutput struct {
	Metrics cache.Metrics `json:"metrics"`
}
