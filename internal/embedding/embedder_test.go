package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/edu-rag-server/internal/domain"
)

// fakeBackend returns a vector whose first component is the text length.
type fakeBackend struct {
	mu     sync.Mutex
	calls  [][]string
	dim    int
	err    error
	poison string // texts equal to poison get a NaN vector
}

func (f *fakeBackend) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(t))
		if t == f.poison {
			v[1] = float32(math.NaN())
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestEmbedder(backend *fakeBackend, batchSize int, opts ...Option) *Embedder {
	return NewEmbedder(backend, Config{Dimension: backend.dim, BatchSize: batchSize}, opts...)
}

func TestTruncate_LongTextAtWordBoundary(t *testing.T) {
	text := strings.Repeat("numerator ", 300) // 3000 characters
	require.Len(t, text, 3000)

	got := Truncate(text, 512*4)

	assert.LessOrEqual(t, len(got), 2048)
	assert.True(t, strings.HasPrefix(text, got))
	assert.True(t, unicode.IsSpace(rune(text[len(got)])), "cut must fall on a word boundary")
	assert.False(t, strings.HasSuffix(got, " "))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short text", Truncate("short text", 2048))
	assert.Equal(t, "abc def", Truncate("abc def ghi", 8))
	assert.Equal(t, "abc def", Truncate("abc def ghi", 7), "boundary exactly at the limit")
	assert.Equal(t, "abcde", Truncate("abcdefghij", 5), "single long word is hard cut")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  a\n\n b\t\tc  "))
	assert.Equal(t, "ab", Normalize("a\x00b"))
	assert.Equal(t, "", Normalize(" \n\t "))
}

func TestCacheKey_Stable(t *testing.T) {
	k1 := CacheKey("A fraction has a numerator")
	k2 := CacheKey("A fraction has a numerator")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
	assert.NotEqual(t, k1, CacheKey("A fraction has a denominator"))
}

func TestEmbed_BatchesInOrder(t *testing.T) {
	backend := &fakeBackend{dim: 4}
	e := newTestEmbedder(backend, 2)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	for i, v := range vectors {
		assert.Equal(t, float32(len(texts[i])), v.Values[0])
		assert.Equal(t, CacheKey(texts[i]), v.Key)
	}
	require.Equal(t, 3, backend.callCount())
	assert.Len(t, backend.calls[0], 2)
	assert.Len(t, backend.calls[2], 1)
}

func TestEmbed_BatchSizeClamped(t *testing.T) {
	backend := &fakeBackend{dim: 2}
	e := newTestEmbedder(backend, 100)

	texts := make([]string, 40)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}
	_, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)

	require.Equal(t, 2, backend.callCount())
	assert.Len(t, backend.calls[0], MaxBatchSize)
	assert.Len(t, backend.calls[1], 8)
}

func TestEmbed_DeduplicatesIdenticalTexts(t *testing.T) {
	backend := &fakeBackend{dim: 2}
	e := newTestEmbedder(backend, 16)

	vectors, err := e.Embed(context.Background(), []string{"same  text", "same text"})
	require.NoError(t, err)

	require.Equal(t, 1, backend.callCount())
	assert.Equal(t, []string{"same text"}, backend.calls[0])
	assert.Equal(t, vectors[0], vectors[1])
}

func TestEmbed_TruncatesBeforeSending(t *testing.T) {
	backend := &fakeBackend{dim: 2}
	e := newTestEmbedder(backend, 16)

	_, err := e.Embed(context.Background(), []string{strings.Repeat("word ", 1000)})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backend.calls[0][0]), DefaultMaxTokens*4)
}

func TestEmbed_EmptyTextSkipped(t *testing.T) {
	backend := &fakeBackend{dim: 2}
	e := newTestEmbedder(backend, 16)

	vectors, err := e.Embed(context.Background(), []string{"fractions are parts", "\x00\x01", "decimals"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	assert.NoError(t, e.Validate(vectors[0]))
	assert.Nil(t, vectors[1].Values)
	assert.ErrorIs(t, e.Validate(vectors[1]), ErrInvalidVector)
	assert.NoError(t, e.Validate(vectors[2]))
	require.Equal(t, 1, backend.callCount())
	assert.Equal(t, []string{"fractions are parts", "decimals"}, backend.calls[0])
}

func TestEmbedQuery_EmptyRejected(t *testing.T) {
	backend := &fakeBackend{dim: 2}
	e := newTestEmbedder(backend, 16)

	_, err := e.EmbedQuery(context.Background(), "  \n ")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, backend.callCount())
}

func TestEmbed_BackendErrorIsUpstreamUnavailable(t *testing.T) {
	e := newTestEmbedder(&fakeBackend{dim: 2, err: errors.New("connection refused")}, 16)

	_, err := e.Embed(context.Background(), []string{"hello"})
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestEmbed_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	backend := &fakeBackend{dim: 2, err: errors.New("boom")}
	e := newTestEmbedder(backend, 16)

	for i := 0; i < 6; i++ {
		_, err := e.Embed(context.Background(), []string{"hello"})
		require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	}
	assert.Equal(t, 5, backend.callCount(), "sixth call must be rejected by the open breaker")
}

func TestValidate(t *testing.T) {
	e := newTestEmbedder(&fakeBackend{dim: 3}, 16)

	assert.NoError(t, e.Validate(Vector{Values: []float32{0.1, 0.2, 0.3}}))
	assert.ErrorIs(t, e.Validate(Vector{Values: []float32{0.1, 0.2}}), ErrInvalidVector)
	assert.ErrorIs(t, e.Validate(Vector{Values: []float32{0.1, float32(math.NaN()), 0.3}}), domain.ErrDataIntegrity)
	assert.ErrorIs(t, e.Validate(Vector{Values: []float32{float32(math.Inf(1)), 0, 0}}), ErrInvalidVector)
}

func TestEmbed_InvalidVectorNotCached(t *testing.T) {
	cache, err := OpenBadgerCache("", "test-model")
	require.NoError(t, err)
	defer cache.Close()

	backend := &fakeBackend{dim: 3, poison: "bad"}
	e := newTestEmbedder(backend, 16, WithCache(cache))

	vectors, err := e.Embed(context.Background(), []string{"good", "bad"})
	require.NoError(t, err)

	assert.NoError(t, e.Validate(vectors[0]))
	assert.ErrorIs(t, e.Validate(vectors[1]), ErrInvalidVector)

	_, ok := cache.Get(vectors[0].Key)
	assert.True(t, ok)
	_, ok = cache.Get(vectors[1].Key)
	assert.False(t, ok)
}

func TestEmbed_ServesFromCache(t *testing.T) {
	cache, err := OpenBadgerCache("", "test-model")
	require.NoError(t, err)
	defer cache.Close()

	backend := &fakeBackend{dim: 3}
	e := newTestEmbedder(backend, 16, WithCache(cache))

	first, err := e.Embed(context.Background(), []string{"cached text"})
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), []string{"cached text"})
	require.NoError(t, err)

	assert.Equal(t, 1, backend.callCount())
	assert.Equal(t, first, second)
}

func TestEmbedQuery_RejectsInvalidVector(t *testing.T) {
	e := newTestEmbedder(&fakeBackend{dim: 3, poison: "what is nan"}, 16)

	_, err := e.EmbedQuery(context.Background(), "what is nan")
	assert.ErrorIs(t, err, ErrInvalidVector)

	v, err := e.EmbedQuery(context.Background(), "what is a prime")
	require.NoError(t, err)
	assert.Len(t, v, 3)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 1}))
}

func TestBadgerCache_RoundTrip(t *testing.T) {
	cache, err := OpenBadgerCache("", "m")
	require.NoError(t, err)
	defer cache.Close()

	_, ok := cache.Get("missing")
	assert.False(t, ok)

	want := []float32{0.5, -1.25, float32(math.MaxFloat32)}
	require.NoError(t, cache.Put("k", want))
	got, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, want, got)
}
