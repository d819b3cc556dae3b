package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
	engine Engine
}

// Config holds server dependencies.
type Config struct {
	Engine  Engine
	Version string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	impl := &mcp.Implementation{
		Name:    "edu-rag-server",
		Version: version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_content",
		Description: "Search textbook content with hybrid semantic and keyword retrieval. Returns ranked chunks with scores and metadata. Non-educational questions are declined.",
	}, makeSearchHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "route_query",
		Description: "Classify a question: whether it is educational, its subject, query type, difficulty and confidence.",
	}, makeRouteHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_document",
		Description: "Chunk, embed and index the extracted text of a textbook document. Re-ingesting an id replaces the previous version.",
	}, makeIngestHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_document",
		Description: "Remove a document and all of its chunks from the indexes.",
	}, makeRemoveHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "popular_queries",
		Description: "List the most frequently searched questions, optionally within one subject.",
	}, makePopularHandler(cfg.Engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cache_metrics",
		Description: "Report result cache hits, misses and hit rate.",
	}, makeMetricsHandler(cfg.Engine))

	return &Server{
		server: server,
		engine: cfg.Engine,
	}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
