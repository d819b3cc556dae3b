package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/edu-rag-server/internal/domain"
)

func newTestStore(t *testing.T) *ChunkStore {
	t.Helper()
	store, err := OpenChunkStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedDocument(t *testing.T, store *ChunkStore, id string, meta domain.DocumentMetadata, chunks ...domain.Chunk) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveDocument(ctx, DocumentRecord{ID: id, Metadata: meta, Status: StatusProcessing}))
	require.NoError(t, store.InsertChunks(ctx, chunks))
}

func testChunk(doc string, index int, text string, mods ...func(*domain.Chunk)) domain.Chunk {
	c := domain.Chunk{
		ID:          domain.ChunkID(doc, domain.LevelSection, index),
		DocumentID:  doc,
		Level:       domain.LevelSection,
		Index:       index,
		Text:        text,
		ContentType: domain.ContentText,
		PurposeType: domain.PurposeConcept,
		Difficulty:  domain.DifficultyIntermediate,
		Importance:  0.5,
		Keywords:    []string{"fraction"},
		Topics:      []string{"fractions_decimals"},
		Subject:     "mathematics",
		Standard:    6,
	}
	for _, mod := range mods {
		mod(&c)
	}
	return c
}

func TestChunkStore_InsertAndFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testChunk("doc1", 0, "A fraction has a numerator and denominator", func(c *domain.Chunk) {
		c.PageNumber = 3
		c.SectionTitle = "Chapter 7: Fractions"
	})
	second := testChunk("doc1", 1, "Equivalent fractions name the same amount")
	second.Level = domain.LevelConcept
	second.ParentID = first.ID
	second.ID = domain.ChunkID("doc1", domain.LevelConcept, 1)
	seedDocument(t, store, "doc1", domain.DocumentMetadata{Subject: "mathematics", Standard: 6}, second, first)

	chunks, err := store.FindByDocumentID(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, first, chunks[0], "chunks come back in chunking order with all fields")
	assert.Equal(t, first.ID, chunks[1].ParentID)

	none, err := store.FindByDocumentID(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChunkStore_SearchByKeywords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDocument(t, store, "math", domain.DocumentMetadata{Subject: "mathematics", Standard: 6},
		testChunk("math", 0, "A fraction has a numerator", func(c *domain.Chunk) { c.Importance = 0.9 }),
		testChunk("math", 1, "Decimals extend place value", func(c *domain.Chunk) { c.SectionTitle = "Fraction basics" }),
		testChunk("math", 2, "Angles are measured in degrees"),
		testChunk("math", 3, "Fraction walls show equivalence", func(c *domain.Chunk) {
			c.ContentType = domain.ContentDiagram
			c.Difficulty = domain.DifficultyBasic
		}),
	)
	seedDocument(t, store, "sci", domain.DocumentMetadata{Subject: "science", Standard: 7},
		testChunk("sci", 0, "A fraction of light is reflected", func(c *domain.Chunk) {
			c.Subject = "science"
			c.Standard = 7
		}),
	)

	t.Run("matches text and title ordered by importance", func(t *testing.T) {
		chunks, err := store.SearchByKeywords(ctx, domain.SearchFilters{Subject: "mathematics"}, []string{"fraction"}, 10)
		require.NoError(t, err)
		ids := chunkIDs(chunks)
		assert.Equal(t, []string{"chunk_math_1_0", "chunk_math_1_1", "chunk_math_1_3"}, ids)
	})

	t.Run("scoped by standard", func(t *testing.T) {
		chunks, err := store.SearchByKeywords(ctx, domain.SearchFilters{Standard: 7}, []string{"fraction"}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"chunk_sci_1_0"}, chunkIDs(chunks))
	})

	t.Run("content type and difficulty filters", func(t *testing.T) {
		chunks, err := store.SearchByKeywords(ctx, domain.SearchFilters{
			ContentTypes: []domain.ContentType{domain.ContentDiagram},
			Difficulties: []domain.Difficulty{domain.DifficultyBasic, domain.DifficultyAdvanced},
		}, []string{"fraction"}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"chunk_math_1_3"}, chunkIDs(chunks))
	})

	t.Run("limit", func(t *testing.T) {
		chunks, err := store.SearchByKeywords(ctx, domain.SearchFilters{}, []string{"fraction"}, 2)
		require.NoError(t, err)
		assert.Len(t, chunks, 2)
	})

	t.Run("like wildcards are literal", func(t *testing.T) {
		chunks, err := store.SearchByKeywords(ctx, domain.SearchFilters{}, []string{"%"}, 10)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("no keywords", func(t *testing.T) {
		chunks, err := store.SearchByKeywords(ctx, domain.SearchFilters{}, nil, 10)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})
}

func TestChunkStore_DocumentLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	meta := domain.DocumentMetadata{Title: "Knowing Our Numbers", Subject: "mathematics", Standard: 6, Chapter: "1"}
	chunk := testChunk("doc", 0, "Large numbers use commas")
	seedDocument(t, store, "doc", meta, chunk)

	require.NoError(t, store.AttachVector(ctx, chunk.ID, "vec_doc_1_0", 1024))
	require.NoError(t, store.SaveDocument(ctx, DocumentRecord{
		ID: "doc", Metadata: meta, Status: StatusCompleted, ChunkCount: 1, VectorCount: 1,
	}))

	rec, err := store.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, meta, rec.Metadata)
	assert.Equal(t, 1, rec.VectorCount)
	assert.False(t, rec.UpdatedAt.IsZero())

	chunks, err := store.FindByDocumentID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "vec_doc_1_0", chunks[0].VectorID)
	assert.Equal(t, 1024, chunks[0].EmbeddingDimension)

	require.NoError(t, store.DeleteDocument(ctx, "doc"))
	_, err = store.GetDocument(ctx, "doc")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	chunks, err = store.FindByDocumentID(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func chunkIDs(chunks []domain.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}
