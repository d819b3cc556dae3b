package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/bull/edu-rag-server/internal/domain"
)

const (
	// DefaultModel is the sentence-embedding model served behind the backend.
	DefaultModel = "BAAI/bge-large-en-v1.5"

	// DefaultDimension is the vector size of bge-large-en-v1.5.
	DefaultDimension = 1024

	// DefaultBatchSize keeps requests small enough for self-hosted inference servers.
	DefaultBatchSize = 16

	// MaxBatchSize is the largest batch sent in one request.
	MaxBatchSize = 32

	// DefaultMaxTokens is the model's input window; text is cut to MaxTokens*4 characters.
	DefaultMaxTokens = 512
)

// ErrInvalidVector is returned by Validate for vectors that must not be indexed.
var ErrInvalidVector = fmt.Errorf("%w: invalid embedding vector", domain.ErrDataIntegrity)

// Vector is an embedding plus the hash of the text it was produced from.
type Vector struct {
	Key    string    // SHA-256 hex of the normalized input text
	Values []float32 // Model output, Dimension long when valid
}

// Config controls batching, validation and throttling.
type Config struct {
	Model             string
	Dimension         int
	BatchSize         int
	MaxTokens         int
	RequestsPerSecond float64 // 0 disables throttling
}

// Embedder implements the embedding provider contract on top of a Backend.
type Embedder struct {
	backend Backend
	cache   VectorCache
	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// Option customizes an Embedder.
type Option func(*Embedder)

// WithCache enables a vector cache keyed by text hash.
func WithCache(c VectorCache) Option {
	return func(e *Embedder) { e.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Embedder) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEmbedder creates an Embedder. Zero config values fall back to defaults and
// BatchSize is clamped to MaxBatchSize.
func NewEmbedder(backend Backend, cfg Config, opts ...Option) *Embedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	cfg.BatchSize = min(cfg.BatchSize, MaxBatchSize)
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	e := &Embedder{
		backend: backend,
		cfg:     cfg,
		logger:  slog.Default(),
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dimension returns the configured vector size.
func (e *Embedder) Dimension() int { return e.cfg.Dimension }

// Model returns the configured model name.
func (e *Embedder) Model() string { return e.cfg.Model }

// Embed returns one Vector per input text, in input order. Texts are normalized
// and truncated first; identical texts share a key and are sent once. A text
// that is empty after normalization is not sent and gets a nil Values. Returned
// vectors are not validated: callers skip those for which Validate fails.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	ctx, span := otel.Tracer("edu-rag-server/embedding").Start(ctx, "embedding.Embed")
	defer span.End()
	span.SetAttributes(attribute.Int("embedding.texts", len(texts)), attribute.String("embedding.model", e.cfg.Model))

	vectors, err := e.embed(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return vectors, err
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([]Vector, error) {
	maxChars := e.cfg.MaxTokens * 4
	vectors := make([]Vector, len(texts))

	pending := make(map[string][]int) // key -> positions waiting for it
	var missKeys []string
	var missTexts []string

	for i, raw := range texts {
		text := Truncate(Normalize(raw), maxChars)
		if text == "" {
			e.logger.Warn("Skipping text that is empty after normalization", "position", i)
			continue
		}
		key := CacheKey(text)
		vectors[i].Key = key

		if e.cache != nil {
			if v, ok := e.cache.Get(key); ok {
				vectors[i].Values = v
				continue
			}
		}
		if _, seen := pending[key]; !seen {
			missKeys = append(missKeys, key)
			missTexts = append(missTexts, text)
		}
		pending[key] = append(pending[key], i)
	}

	for start := 0; start < len(missTexts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(missTexts))

		embeddings, err := e.callBackend(ctx, missTexts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}

		for j, values := range embeddings {
			key := missKeys[start+j]
			for _, pos := range pending[key] {
				vectors[pos].Values = values
			}
			if e.cache != nil && e.Validate(Vector{Key: key, Values: values}) == nil {
				if err := e.cache.Put(key, values); err != nil {
					e.logger.Warn("Failed to cache embedding", "key", key, "error", err)
				}
			}
		}
	}

	return vectors, nil
}

// EmbedQuery embeds a single text and validates the result.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if Normalize(text) == "" {
		return nil, fmt.Errorf("%w: query is empty after normalization", domain.ErrValidation)
	}
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if err := e.Validate(vectors[0]); err != nil {
		return nil, err
	}
	return vectors[0].Values, nil
}

// callBackend runs one backend request behind the rate limiter and circuit breaker.
func (e *Embedder) callBackend(ctx context.Context, batch []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrUpstreamUnavailable, err)
		}
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.backend.EmbedBatch(ctx, batch)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: embedding circuit open", domain.ErrUpstreamUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	embeddings := result.([][]float32)
	if len(embeddings) != len(batch) {
		return nil, fmt.Errorf("%w: backend returned %d embeddings for %d texts",
			domain.ErrDataIntegrity, len(embeddings), len(batch))
	}
	return embeddings, nil
}

// Validate rejects vectors with the wrong dimension or non-finite components.
func (e *Embedder) Validate(v Vector) error {
	if len(v.Values) != e.cfg.Dimension {
		return fmt.Errorf("%w: dimension %d, expected %d", ErrInvalidVector, len(v.Values), e.cfg.Dimension)
	}
	for i, x := range v.Values {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: component %d is %v", ErrInvalidVector, i, x)
		}
	}
	return nil
}
