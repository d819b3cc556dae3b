package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct{ err error }

func (s stubChecker) Health(context.Context) error { return s.err }

type stubCache struct {
	available bool
	err       error
}

func (s stubCache) Available() bool            { return s.available }
func (s stubCache) Ping(context.Context) error { return s.err }

func getHealth(t *testing.T, deps HealthDeps) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	NewHealthHandler(deps)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealthHandler(t *testing.T) {
	down := errors.New("connection refused")

	tests := []struct {
		name       string
		deps       HealthDeps
		wantCode   int
		wantStatus string
		wantRedis  string
	}{
		{"all up", HealthDeps{stubChecker{}, stubChecker{}, stubCache{available: true}}, http.StatusOK, "healthy", "connected"},
		{"no cache configured", HealthDeps{stubChecker{}, stubChecker{}, nil}, http.StatusOK, "healthy", "disabled"},
		{"cache down", HealthDeps{stubChecker{}, stubChecker{}, stubCache{available: true, err: down}}, http.StatusOK, "degraded", "disconnected"},
		{"qdrant down", HealthDeps{stubChecker{err: down}, stubChecker{}, stubCache{available: true}}, http.StatusServiceUnavailable, "unhealthy", "connected"},
		{"sqlite down", HealthDeps{stubChecker{}, stubChecker{err: down}, nil}, http.StatusServiceUnavailable, "unhealthy", "disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := getHealth(t, tt.deps)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantRedis, resp.Redis)
			assert.NotEmpty(t, resp.Timestamp)
		})
	}
}

func TestLandingHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewLandingHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "search_content")

	rec = httptest.NewRecorder()
	NewLandingHandler()(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewMux(t *testing.T) {
	mux := NewMux(NewServer(&Config{Engine: &fakeEngine{}}), NewHealthHandler(HealthDeps{stubChecker{}, stubChecker{}, nil}), nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewHealthMux_OnlyHealth(t *testing.T) {
	mux := NewHealthMux(NewHealthHandler(HealthDeps{stubChecker{}, stubChecker{}, nil}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{"/mcp", "/"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
