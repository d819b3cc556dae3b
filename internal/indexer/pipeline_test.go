package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/edu-rag-server/internal/chunking"
	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/embedding"
	"github.com/bull/edu-rag-server/internal/github"
	"github.com/bull/edu-rag-server/internal/storage"
)

const testDim = 4

// fakeChunker emits one level-1 chunk followed by one level-2 child per
// remaining text.
type fakeChunker struct {
	texts  []string
	orphan bool // append a level-2 chunk whose parent does not exist
}

func (f fakeChunker) Chunk(documentID, _ string) []domain.Chunk {
	return makeChunks(documentID, f.orphan, f.texts...)
}

func makeChunks(documentID string, orphan bool, texts ...string) []domain.Chunk {
	var chunks []domain.Chunk
	root := domain.ChunkID(documentID, domain.LevelSection, 0)
	for i, text := range texts {
		c := domain.Chunk{
			DocumentID:  documentID,
			Index:       i,
			Text:        text,
			ContentType: domain.ContentText,
			Difficulty:  domain.DifficultyBasic,
			Importance:  0.5,
		}
		if i == 0 {
			c.Level = domain.LevelSection
		} else {
			c.Level = domain.LevelConcept
			c.ParentID = root
		}
		c.ID = domain.ChunkID(documentID, c.Level, i)
		chunks = append(chunks, c)
	}
	if orphan {
		i := len(texts)
		chunks = append(chunks, domain.Chunk{
			ID:         domain.ChunkID(documentID, domain.LevelDetail, i),
			DocumentID: documentID,
			Level:      domain.LevelDetail,
			ParentID:   "chunk_missing",
			Index:      i,
			Text:       "orphan",
		})
	}
	return chunks
}

// fakeEmbedder fails batches containing "FAIL" with an upstream error,
// "BAD" with a validation error, and returns a zero-length vector for "ZERO".
type fakeEmbedder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([]embedding.Vector, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	for _, t := range texts {
		f.calls[t]++
	}
	f.mu.Unlock()

	out := make([]embedding.Vector, len(texts))
	for i, t := range texts {
		switch {
		case strings.Contains(t, "FAIL"):
			return nil, fmt.Errorf("%w: backend down", domain.ErrUpstreamUnavailable)
		case strings.Contains(t, "BAD"):
			return nil, fmt.Errorf("%w: rejected input", domain.ErrValidation)
		case strings.Contains(t, "ZERO"):
			out[i] = embedding.Vector{Key: t}
		default:
			out[i] = embedding.Vector{Key: t, Values: []float32{1, float32(len(t)), 0, 0}}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) Validate(v embedding.Vector) error {
	if len(v.Values) != testDim {
		return embedding.ErrInvalidVector
	}
	return nil
}

func (f *fakeEmbedder) callsFor(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

type fakeVectors struct {
	mu          sync.Mutex
	collections map[string]map[string]storage.Point
	upsertErr   error
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{collections: make(map[string]map[string]storage.Point)}
}

func (f *fakeVectors) EnsureCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collections[name] == nil {
		f.collections[name] = make(map[string]storage.Point)
	}
	return nil
}

func (f *fakeVectors) Upsert(_ context.Context, collection string, points []storage.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	for _, p := range points {
		f.collections[collection][p.ID] = p
	}
	return nil
}

func (f *fakeVectors) DeleteDocument(_ context.Context, collection, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.collections[collection] {
		if p.Payload["document_id"] == documentID {
			delete(f.collections[collection], id)
		}
	}
	return nil
}

func (f *fakeVectors) ids(collection string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type fakeRepo struct {
	mu       sync.Mutex
	docs     map[string]storage.DocumentRecord
	chunks   map[string][]domain.Chunk
	attached map[string]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		docs:     make(map[string]storage.DocumentRecord),
		chunks:   make(map[string][]domain.Chunk),
		attached: make(map[string]string),
	}
}

func (f *fakeRepo) SaveDocument(_ context.Context, rec storage.DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[rec.ID] = rec
	return nil
}

func (f *fakeRepo) GetDocument(_ context.Context, id string) (*storage.DocumentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.docs[id]
	if !ok {
		return nil, storage.ErrDocumentNotFound
	}
	return &rec, nil
}

func (f *fakeRepo) InsertChunks(_ context.Context, chunks []domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range chunks {
		f.chunks[c.DocumentID] = append(f.chunks[c.DocumentID], c)
	}
	return nil
}

func (f *fakeRepo) AttachVector(_ context.Context, chunkID, vectorID string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached[chunkID] = vectorID
	return nil
}

func (f *fakeRepo) DeleteDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chunks[documentID] {
		delete(f.attached, c.ID)
	}
	delete(f.chunks, documentID)
	delete(f.docs, documentID)
	return nil
}

type testEnv struct {
	pipeline *Pipeline
	embedder *fakeEmbedder
	vectors  *fakeVectors
	repo     *fakeRepo
}

func newTestEnv(t *testing.T, chunker Chunker, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		embedder: &fakeEmbedder{},
		vectors:  newFakeVectors(),
		repo:     newFakeRepo(),
	}
	cfg := Config{BatchSize: 1, Concurrency: 2, Workers: 2, RetryDelay: time.Millisecond}
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	p, err := NewPipeline(chunker, env.embedder, env.vectors, env.repo, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	env.pipeline = p
	return env
}

var mathStd6 = domain.DocumentMetadata{Title: "Fractions", Subject: "mathematics", Standard: 6, Chapter: "7"}

func TestIngestDocument_IndexesEveryChunk(t *testing.T) {
	env := newTestEnv(t, chunking.NewChunker(chunking.DefaultConfig()))

	chunks, err := env.pipeline.IngestDocument(context.Background(), "doc1",
		"A fraction has a numerator and denominator", mathStd6)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	for _, c := range chunks {
		assert.Equal(t, "mathematics", c.Subject)
		assert.Equal(t, 6, c.Standard)
		assert.Equal(t, "7", c.Chapter)
		assert.Equal(t, domain.VectorID("doc1", c.Level, c.Index), c.VectorID)
		assert.Equal(t, testDim, c.EmbeddingDimension)
		assert.Equal(t, c.VectorID, env.repo.attached[c.ID])
	}

	assert.Equal(t, []string{"chunk_doc1_1_0", "chunk_doc1_2_1", "chunk_doc1_3_2"}, env.vectors.ids("math_std6_mathematics"))
	assert.Len(t, env.repo.chunks["doc1"], 3)

	rec, err := env.pipeline.Status(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, rec.Status)
	assert.Equal(t, 3, rec.ChunkCount)
	assert.Equal(t, 3, rec.VectorCount)
	assert.Empty(t, rec.Error)
}

func TestIngestDocument_Validation(t *testing.T) {
	env := newTestEnv(t, chunking.NewChunker(chunking.DefaultConfig()))

	tests := []struct {
		name string
		id   string
		text string
		meta domain.DocumentMetadata
	}{
		{"empty id", "", "text", mathStd6},
		{"id with slash", "a/b", "text", mathStd6},
		{"blank text", "doc", "  \n\t ", mathStd6},
		{"standard out of range", "doc", "text", domain.DocumentMetadata{Subject: "science", Standard: 13}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.pipeline.IngestDocument(context.Background(), tt.id, tt.text, tt.meta)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Empty(t, env.repo.docs)
}

func TestIngestDocument_ReplacesPreviousVersion(t *testing.T) {
	env := newTestEnv(t, chunking.NewChunker(chunking.DefaultConfig()))
	ctx := context.Background()

	long := strings.Repeat("Fractions describe parts of a whole. ", 120)
	first, err := env.pipeline.IngestDocument(ctx, "doc1", long, mathStd6)
	require.NoError(t, err)
	require.Greater(t, len(first), 3)

	second, err := env.pipeline.IngestDocument(ctx, "doc1", "A ratio compares two quantities", mathStd6)
	require.NoError(t, err)
	require.Len(t, second, 3)

	assert.Len(t, env.vectors.ids("math_std6_mathematics"), 3)
	assert.Len(t, env.repo.chunks["doc1"], 3)
	assert.Len(t, env.repo.attached, 3)
}

func TestIngestDocument_PartialBatchFailure(t *testing.T) {
	env := newTestEnv(t, fakeChunker{texts: []string{"alpha", "beta FAIL", "gamma"}})

	chunks, err := env.pipeline.IngestDocument(context.Background(), "doc", "ignored", mathStd6)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.NotEmpty(t, chunks[0].VectorID)
	assert.Empty(t, chunks[1].VectorID)
	assert.NotEmpty(t, chunks[2].VectorID)
	assert.Equal(t, 2, env.embedder.callsFor("beta FAIL"), "upstream failures are retried once")
	assert.Len(t, env.vectors.ids("math_std6_mathematics"), 2)

	rec := env.repo.docs["doc"]
	assert.Equal(t, storage.StatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.VectorCount)
	assert.Equal(t, "1 of 3 embedding batches failed", rec.Error)
}

func TestIngestDocument_AllBatchesFail(t *testing.T) {
	env := newTestEnv(t, fakeChunker{texts: []string{"one FAIL", "two FAIL"}})

	_, err := env.pipeline.IngestDocument(context.Background(), "doc", "ignored", mathStd6)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	rec := env.repo.docs["doc"]
	assert.Equal(t, storage.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)
	assert.Empty(t, env.vectors.ids("math_std6_mathematics"))
}

func TestIngestDocument_PermanentErrorsAreNotRetried(t *testing.T) {
	env := newTestEnv(t, fakeChunker{texts: []string{"alpha", "BAD input"}})

	_, err := env.pipeline.IngestDocument(context.Background(), "doc", "ignored", mathStd6)
	require.NoError(t, err)
	assert.Equal(t, 1, env.embedder.callsFor("BAD input"))
}

func TestIngestDocument_UpsertFailure(t *testing.T) {
	env := newTestEnv(t, fakeChunker{texts: []string{"alpha"}})
	env.vectors.upsertErr = storage.ErrDimensionMismatch

	_, err := env.pipeline.IngestDocument(context.Background(), "doc", "ignored", mathStd6)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
	assert.Equal(t, 1, env.embedder.callsFor("alpha"), "integrity errors are not retried")
	assert.Equal(t, storage.StatusFailed, env.repo.docs["doc"].Status)
}

func TestIngestDocument_SkipsInvalidVectors(t *testing.T) {
	env := newTestEnv(t, fakeChunker{texts: []string{"alpha", "ZERO"}})

	chunks, err := env.pipeline.IngestDocument(context.Background(), "doc", "ignored", mathStd6)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Empty(t, chunks[1].VectorID)
	assert.Equal(t, []string{chunks[0].ID}, env.vectors.ids("math_std6_mathematics"))
	assert.Equal(t, 1, env.repo.docs["doc"].VectorCount)
}

// lengthBackend embeds every text as a fixed-size vector.
type lengthBackend struct{}

func (lengthBackend) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t)), 0, 0}
	}
	return out, nil
}

func TestIngestDocument_ControlCharacterChunkSkippedAlone(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	embedder := embedding.NewEmbedder(lengthBackend{},
		embedding.Config{Dimension: testDim, BatchSize: 16}, embedding.WithLogger(quiet))
	vectors := newFakeVectors()
	repo := newFakeRepo()
	chunker := fakeChunker{texts: []string{"fractions are parts", "\x00\x01", "decimals"}}

	cfg := Config{BatchSize: 16, Concurrency: 1, Workers: 1, RetryDelay: time.Millisecond}
	p, err := NewPipeline(chunker, embedder, vectors, repo, cfg, WithLogger(quiet))
	require.NoError(t, err)
	t.Cleanup(p.Release)

	chunks, err := p.IngestDocument(context.Background(), "doc", "ignored", mathStd6)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.NotEmpty(t, chunks[0].VectorID)
	assert.Empty(t, chunks[1].VectorID)
	assert.NotEmpty(t, chunks[2].VectorID)
	assert.Equal(t, []string{chunks[0].ID, chunks[2].ID}, vectors.ids("math_std6_mathematics"))
	assert.Equal(t, storage.StatusCompleted, repo.docs["doc"].Status)
	assert.Equal(t, 2, repo.docs["doc"].VectorCount)
}

func TestIngestDocument_DropsHierarchyViolations(t *testing.T) {
	env := newTestEnv(t, fakeChunker{texts: []string{"alpha", "beta"}, orphan: true})

	chunks, err := env.pipeline.IngestDocument(context.Background(), "doc", "ignored", mathStd6)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
	assert.Len(t, env.repo.chunks["doc"], 2)
	assert.Equal(t, 2, env.repo.docs["doc"].ChunkCount)
}

func TestIngestDocument_CancelledContext(t *testing.T) {
	env := newTestEnv(t, fakeChunker{texts: []string{"alpha", "beta"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.pipeline.IngestDocument(ctx, "doc", "ignored", mathStd6)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, storage.StatusFailed, env.repo.docs["doc"].Status)
}

func TestRemoveDocument(t *testing.T) {
	env := newTestEnv(t, fakeChunker{texts: []string{"alpha", "beta"}})
	ctx := context.Background()

	_, err := env.pipeline.IngestDocument(ctx, "doc", "ignored", mathStd6)
	require.NoError(t, err)
	require.NoError(t, env.pipeline.RemoveDocument(ctx, "doc"))

	assert.Empty(t, env.vectors.ids("math_std6_mathematics"))
	assert.Empty(t, env.repo.chunks)
	assert.Empty(t, env.repo.attached)

	_, err = env.pipeline.Status(ctx, "doc")
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
	assert.ErrorIs(t, env.pipeline.RemoveDocument(ctx, "doc"), storage.ErrDocumentNotFound)
}

type fakeSource struct {
	docs     map[string]string
	fetchErr map[string]error
}

func (f fakeSource) Source() string { return "acme/textbooks/textbooks" }

func (f fakeSource) GetLatestCommitSHA(context.Context) (string, error) { return "abc123", nil }

func (f fakeSource) ListDocs(context.Context) ([]string, error) {
	paths := make([]string, 0, len(f.docs)+len(f.fetchErr))
	for p := range f.docs {
		paths = append(paths, p)
	}
	for p := range f.fetchErr {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (f fakeSource) FetchDoc(_ context.Context, p string) (*github.FetchedDoc, error) {
	if err := f.fetchErr[p]; err != nil {
		return nil, err
	}
	return &github.FetchedDoc{Path: p, Content: f.docs[p], URL: "https://example.test/" + p}, nil
}

func TestIndexAll(t *testing.T) {
	source := fakeSource{
		docs: map[string]string{
			"mathematics/std6/ch07-fractions.md": "A fraction has a numerator and denominator",
			"science/std7/ch01-cells.md":         "Cells are the basic unit of life",
		},
		fetchErr: map[string]error{"history/std8/ch02-empires.md": errors.New("404 Not Found")},
	}
	env := newTestEnv(t, chunking.NewChunker(chunking.DefaultConfig()), WithSource(source))

	result, err := env.pipeline.IndexAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "abc123", result.CommitSHA)
	assert.Equal(t, 3, result.TotalDocs)
	assert.Equal(t, 2, result.SuccessfulDocs)
	assert.Equal(t, 6, result.TotalChunks)
	require.Len(t, result.FailedDocs, 1)
	assert.Equal(t, "history/std8/ch02-empires.md", result.FailedDocs[0].Path)
	assert.Contains(t, result.FailedDocs[0].Reason, "404")

	assert.Len(t, env.vectors.ids("math_std6_mathematics"), 3)
	assert.Len(t, env.vectors.ids("sci_std7_science"), 3)

	rec := env.repo.docs["mathematics-std6-ch07-fractions"]
	assert.Equal(t, "Fractions", rec.Metadata.Title)
	assert.Equal(t, "7", rec.Metadata.Chapter)
	assert.Equal(t, "https://example.test/mathematics/std6/ch07-fractions.md", rec.Metadata.Source)
}

func TestIndexAll_NoSource(t *testing.T) {
	env := newTestEnv(t, fakeChunker{texts: []string{"alpha"}})
	_, err := env.pipeline.IndexAll(context.Background())
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMetadataFromPath(t *testing.T) {
	tests := []struct {
		path string
		want domain.DocumentMetadata
	}{
		{"mathematics/std6/ch07-fractions.md", domain.DocumentMetadata{Title: "Fractions", Subject: "mathematics", Standard: 6, Chapter: "7"}},
		{"Science/Class_10/chapter-3_light_reflection.txt", domain.DocumentMetadata{Title: "Light reflection", Subject: "science", Standard: 10, Chapter: "3"}},
		{"geography/grade-13/rivers.md", domain.DocumentMetadata{Title: "Rivers", Subject: "geography"}},
		{"intro.md", domain.DocumentMetadata{Title: "Intro"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, MetadataFromPath(tt.path))
		})
	}
}

func TestDocumentIDFromPath(t *testing.T) {
	assert.Equal(t, "mathematics-std6-ch07-fractions", DocumentIDFromPath("mathematics/std6/ch07-fractions.md"))
	assert.Equal(t, "science-class-10-light", DocumentIDFromPath("/Science/Class 10/Light.txt"))
	assert.True(t, documentIDPattern.MatchString(DocumentIDFromPath("history/std8/ch 2: empires.md")))
}
