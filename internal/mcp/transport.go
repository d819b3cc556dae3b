package mcp

import (
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPHandlerOptions configures the HTTP transport behavior.
type HTTPHandlerOptions struct {
	// Stateless disables session management. Every tool here is a plain
	// request/response call, so stateless mode suits load-balanced deployments.
	Stateless bool
}

// NewHTTPHandler creates a Streamable HTTP handler for the server, mounted by
// cmd/mcp-server at /mcp next to /health and the landing page.
func NewHTTPHandler(server *Server, opts *HTTPHandlerOptions) http.Handler {
	if opts == nil {
		opts = &HTTPHandlerOptions{}
	}
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server.MCPServer()
	}, &mcp.StreamableHTTPOptions{Stateless: opts.Stateless})
}

// NewHealthMux serves only /health. Stdio mode uses it so the MCP endpoint is
// reachable through exactly one transport.
func NewHealthMux(health http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", health)
	return mux
}

// NewMux routes /mcp, /health and / for HTTP mode.
func NewMux(server *Server, health http.Handler, opts *HTTPHandlerOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/mcp", NewHTTPHandler(server, opts))
	mux.Handle("/health", health)
	mux.HandleFunc("/", NewLandingHandler())
	return mux
}
