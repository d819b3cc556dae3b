package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status       string `json:"status"` // healthy, degraded or unhealthy
	Qdrant       string `json:"qdrant"`
	KeywordIndex string `json:"keyword_index"`
	Redis        string `json:"redis"`
	Timestamp    string `json:"timestamp"`
}

// HealthChecker is implemented by the Qdrant and SQLite stores.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// CacheChecker is implemented by the result cache.
type CacheChecker interface {
	Available() bool
	Ping(ctx context.Context) error
}

// HealthDeps are the components reported by /health.
type HealthDeps struct {
	Vectors  HealthChecker
	Keywords HealthChecker
	Cache    CacheChecker // optional
}

// NewHealthHandler creates an HTTP handler for the /health endpoint. Both
// indexes must be reachable for a 200; a missing or failing cache only
// degrades the status.
func NewHealthHandler(deps HealthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:       "healthy",
			Qdrant:       probe(ctx, deps.Vectors),
			KeywordIndex: probe(ctx, deps.Keywords),
			Redis:        "disabled",
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
		}
		if deps.Cache != nil && deps.Cache.Available() {
			response.Redis = "connected"
			if err := deps.Cache.Ping(ctx); err != nil {
				response.Redis = "disconnected"
				response.Status = "degraded"
			}
		}

		code := http.StatusOK
		if response.Qdrant != "connected" || response.KeywordIndex != "connected" {
			response.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response)
	}
}

func probe(ctx context.Context, c HealthChecker) string {
	if c == nil || c.Health(ctx) != nil {
		return "disconnected"
	}
	return "connected"
}
