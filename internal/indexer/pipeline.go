// Package indexer turns extracted document text into indexed chunks: it chunks,
// embeds in parallel batches, and writes to the vector and keyword indexes.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/embedding"
	"github.com/bull/edu-rag-server/internal/storage"
)

// Chunker splits document text into hierarchical chunks.
type Chunker interface {
	Chunk(documentID, fullText string) []domain.Chunk
}

// Embedder produces and validates chunk vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]embedding.Vector, error)
	Validate(v embedding.Vector) error
}

// VectorStore is the write side of the vector index.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, points []storage.Point) error
	DeleteDocument(ctx context.Context, collection, documentID string) error
}

// ChunkRepository persists documents and chunks.
type ChunkRepository interface {
	SaveDocument(ctx context.Context, rec storage.DocumentRecord) error
	GetDocument(ctx context.Context, id string) (*storage.DocumentRecord, error)
	InsertChunks(ctx context.Context, chunks []domain.Chunk) error
	AttachVector(ctx context.Context, chunkID, vectorID string, dimension int) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// Config tunes ingestion.
type Config struct {
	BatchSize   int           // chunks per embedding batch
	Concurrency int           // embedding batches in flight per document
	Workers     int           // documents processed at once during a sync
	RetryDelay  time.Duration // wait before the single retry of a failed batch
}

// DefaultConfig returns the stock ingestion settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:   embedding.DefaultBatchSize,
		Concurrency: 4,
		Workers:     max(1, runtime.NumCPU()/2),
		RetryDelay:  200 * time.Millisecond,
	}
}

var documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Pipeline orchestrates ingestion from text to both indexes.
type Pipeline struct {
	chunker  Chunker
	embedder Embedder
	vectors  VectorStore
	repo     ChunkRepository
	source   DocumentSource
	pool     *ants.Pool
	cfg      Config
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithSource sets where IndexAll reads documents from.
func WithSource(source DocumentSource) Option {
	return func(p *Pipeline) error {
		p.source = source
		return nil
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates an ingestion pipeline. Call Release when done.
func NewPipeline(chunker Chunker, embedder Embedder, vectors VectorStore, repo ChunkRepository, cfg Config, opts ...Option) (*Pipeline, error) {
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	cfg.BatchSize = min(cfg.BatchSize, embedding.MaxBatchSize)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	p := &Pipeline{
		chunker:  chunker,
		embedder: embedder,
		vectors:  vectors,
		repo:     repo,
		pool:     pool,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}
	return p, nil
}

// Release frees the worker pool.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// IngestDocument chunks text, stores the chunks, and indexes their vectors.
// A previous version of the document is replaced. A failed embedding batch
// only loses that batch's vectors; the document fails when every batch does.
// The returned chunks carry VectorID for those that were indexed.
func (p *Pipeline) IngestDocument(ctx context.Context, documentID, text string, meta domain.DocumentMetadata) ([]domain.Chunk, error) {
	if !documentIDPattern.MatchString(documentID) {
		return nil, fmt.Errorf("%w: invalid document id %q", domain.ErrValidation, documentID)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: document %s has no text", domain.ErrValidation, documentID)
	}
	if meta.Standard < 0 || meta.Standard > 12 {
		return nil, fmt.Errorf("%w: standard %d out of range 1-12", domain.ErrValidation, meta.Standard)
	}

	start := time.Now()
	chunks := p.prepareChunks(documentID, text, meta)

	if err := p.removePrevious(ctx, documentID); err != nil {
		return nil, err
	}

	rec := storage.DocumentRecord{
		ID:         documentID,
		Metadata:   meta,
		Status:     storage.StatusProcessing,
		ChunkCount: len(chunks),
	}
	if err := p.repo.SaveDocument(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if err := p.repo.InsertChunks(ctx, chunks); err != nil {
		return nil, p.fail(ctx, rec, fmt.Errorf("%w: storing chunks: %v", domain.ErrUpstreamUnavailable, err))
	}

	collection := storage.CollectionFor(meta.Subject, meta.Standard)
	if err := p.vectors.EnsureCollection(ctx, collection); err != nil {
		return nil, p.fail(ctx, rec, fmt.Errorf("ensuring collection %s: %w", collection, err))
	}

	indexed, batchErrs := p.indexVectors(ctx, collection, chunks)
	if err := ctx.Err(); err != nil {
		return nil, p.fail(ctx, rec, err)
	}

	batches := (len(chunks) + p.cfg.BatchSize - 1) / p.cfg.BatchSize
	if len(batchErrs) == batches {
		return nil, p.fail(ctx, rec, fmt.Errorf("%w: all %d embedding batches failed: %w",
			domain.ErrUpstreamUnavailable, batches, errors.Join(batchErrs...)))
	}

	rec.Status = storage.StatusCompleted
	rec.VectorCount = indexed
	if len(batchErrs) > 0 {
		rec.Error = fmt.Sprintf("%d of %d embedding batches failed", len(batchErrs), batches)
	}
	if err := p.repo.SaveDocument(ctx, rec); err != nil {
		p.logger.Warn("Failed to record document status", "document", documentID, "error", err)
	}

	p.logger.Info("Indexed document",
		"document", documentID,
		"collection", collection,
		"chunks", len(chunks),
		"vectors", indexed,
		"failed_batches", len(batchErrs),
		"duration", time.Since(start),
	)
	return chunks, nil
}

// prepareChunks chunks the text, stamps document metadata, and drops chunks
// that break the hierarchy.
func (p *Pipeline) prepareChunks(documentID, text string, meta domain.DocumentMetadata) []domain.Chunk {
	chunks := p.chunker.Chunk(documentID, text)
	for i := range chunks {
		chunks[i].Subject = meta.Subject
		chunks[i].Standard = meta.Standard
		chunks[i].Chapter = meta.Chapter
	}

	violations := domain.HierarchyViolations(chunks)
	if len(violations) == 0 {
		return chunks
	}
	kept := chunks[:0]
	for _, c := range chunks {
		if err := violations[c.ID]; err != nil {
			p.logger.Warn("Skipping chunk", "chunk", c.ID, "error", err)
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func (p *Pipeline) removePrevious(ctx context.Context, documentID string) error {
	prev, err := p.repo.GetDocument(ctx, documentID)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	return p.remove(ctx, prev)
}

// indexVectors embeds and upserts chunks batch by batch and returns how many
// vectors were stored along with one error per failed batch.
func (p *Pipeline) indexVectors(ctx context.Context, collection string, chunks []domain.Chunk) (int, []error) {
	var (
		mu      sync.Mutex
		indexed int
		errs    []error
	)

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		batch := chunks[start:min(start+p.cfg.BatchSize, len(chunks))]
		g.Go(func() error {
			n, err := p.indexBatch(ctx, collection, batch)
			mu.Lock()
			defer mu.Unlock()
			indexed += n
			if err != nil {
				p.logger.Warn("Embedding batch failed",
					"document", batch[0].DocumentID, "first_chunk", batch[0].ID, "size", len(batch), "error", err)
				errs = append(errs, err)
			}
			return nil
		})
	}
	g.Wait()
	return indexed, errs
}

// indexBatch handles one batch as a unit. batch aliases the caller's slice so
// vector ids land on the returned chunks.
func (p *Pipeline) indexBatch(ctx context.Context, collection string, batch []domain.Chunk) (int, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	var vectors []embedding.Vector
	err := p.retryOnce(ctx, func() error {
		var err error
		vectors, err = p.embedder.Embed(ctx, texts)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("embedding: %w", err)
	}

	points := make([]storage.Point, 0, len(batch))
	positions := make([]int, 0, len(batch))
	for i, v := range vectors {
		if err := p.embedder.Validate(v); err != nil {
			p.logger.Warn("Skipping chunk with invalid vector", "chunk", batch[i].ID, "error", err)
			continue
		}
		points = append(points, storage.Point{
			ID:      batch[i].ID,
			Vector:  v.Values,
			Payload: storage.ChunkPayload(batch[i]),
		})
		positions = append(positions, i)
	}
	if len(points) == 0 {
		return 0, nil
	}

	err = p.retryOnce(ctx, func() error {
		return p.vectors.Upsert(ctx, collection, points)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}

	for j, i := range positions {
		c := &batch[i]
		c.VectorID = domain.VectorID(c.DocumentID, c.Level, c.Index)
		c.EmbeddingDimension = len(points[j].Vector)
		if err := p.repo.AttachVector(ctx, c.ID, c.VectorID, c.EmbeddingDimension); err != nil {
			p.logger.Warn("Failed to record vector id", "chunk", c.ID, "error", err)
		}
	}
	return len(points), nil
}

// retryOnce runs op and retries a single time after RetryDelay when it fails
// with an upstream error.
func (p *Pipeline) retryOnce(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.RetryDelay), 1), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, domain.ErrUpstreamUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (p *Pipeline) fail(ctx context.Context, rec storage.DocumentRecord, cause error) error {
	rec.Status = storage.StatusFailed
	rec.Error = cause.Error()
	if err := p.repo.SaveDocument(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("Failed to record document failure", "document", rec.ID, "error", err)
	}
	p.logger.Error("Document ingestion failed", "document", rec.ID, "error", cause)
	return fmt.Errorf("ingesting %s: %w", rec.ID, cause)
}

// RemoveDocument deletes a document from both indexes.
func (p *Pipeline) RemoveDocument(ctx context.Context, documentID string) error {
	rec, err := p.repo.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	return p.remove(ctx, rec)
}

func (p *Pipeline) remove(ctx context.Context, rec *storage.DocumentRecord) error {
	collection := storage.CollectionFor(rec.Metadata.Subject, rec.Metadata.Standard)
	if err := p.vectors.DeleteDocument(ctx, collection, rec.ID); err != nil {
		return fmt.Errorf("removing vectors of %s: %w", rec.ID, err)
	}
	if err := p.repo.DeleteDocument(ctx, rec.ID); err != nil {
		return fmt.Errorf("%w: removing chunks of %s: %v", domain.ErrUpstreamUnavailable, rec.ID, err)
	}
	p.logger.Info("Removed document", "document", rec.ID, "collection", collection)
	return nil
}

// Status returns the stored record of a document.
func (p *Pipeline) Status(ctx context.Context, documentID string) (*storage.DocumentRecord, error) {
	return p.repo.GetDocument(ctx, documentID)
}
