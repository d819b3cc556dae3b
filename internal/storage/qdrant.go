package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/edu-rag-server/internal/domain"
)

// QdrantStorage is the vector index: one collection per (subject, standard) scope.
type QdrantStorage struct {
	client    *qdrant.Client
	dimension int

	mu    sync.Mutex
	known map[string]bool // collections confirmed to exist
}

// NewQdrantStorage connects to Qdrant over gRPC and waits for it to become healthy.
func NewQdrantStorage(host string, port, dimension int) (*QdrantStorage, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	storage := &QdrantStorage{
		client:    client,
		dimension: dimension,
		known:     make(map[string]bool),
	}

	if err := storage.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return storage, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error { return s.Health(ctx) }, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// Dimension is the vector size collections are created with.
func (s *QdrantStorage) Dimension() int { return s.dimension }

// EnsureCollection creates the collection with cosine vectors and payload indexes if missing.
// Idempotent.
func (s *QdrantStorage) EnsureCollection(ctx context.Context, name string) error {
	exists, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			VectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	if err := s.createPayloadIndexes(ctx, name); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}

	s.mu.Lock()
	s.known[name] = true
	s.mu.Unlock()
	return nil
}

func (s *QdrantStorage) exists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	known := s.known[name]
	s.mu.Unlock()
	if known {
		return true, nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: collection exists %s: %v", domain.ErrUpstreamUnavailable, name, err)
	}
	if exists {
		s.mu.Lock()
		s.known[name] = true
		s.mu.Unlock()
	}
	return exists, nil
}

// createPayloadIndexes indexes every field used in search filters.
func (s *QdrantStorage) createPayloadIndexes(ctx context.Context, collection string) error {
	fields := map[string]qdrant.FieldType{
		"document_id":      qdrant.FieldType_FieldTypeKeyword,
		"subject":          qdrant.FieldType_FieldTypeKeyword,
		"content_type":     qdrant.FieldType_FieldTypeKeyword,
		"difficulty_level": qdrant.FieldType_FieldTypeKeyword,
		"standard":         qdrant.FieldType_FieldTypeInteger,
		"level":            qdrant.FieldType_FieldTypeInteger,
	}

	for field, fieldType := range fields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      fieldType.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

// Upsert stores points. Point ids are derived deterministically from chunk ids,
// so re-ingesting a document overwrites its previous vectors.
func (s *QdrantStorage) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		if len(p.Vector) != s.dimension {
			return fmt.Errorf("%w: point %s has %d dimensions, expected %d",
				ErrDimensionMismatch, p.ID, len(p.Vector), s.dimension)
		}
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload["chunk_id"] = p.ID

		structs[i] = &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(PointUUID(p.ID)),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				VectorName: qdrant.NewVector(p.Vector...),
			}),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert into %s: %v", domain.ErrUpstreamUnavailable, collection, err)
	}
	return nil
}

// Search returns the nearest points above q.MinScore that satisfy q.Filters.
// A collection that does not exist yet yields no results.
func (s *QdrantStorage) Search(ctx context.Context, collection string, q VectorQuery) ([]ScoredPoint, error) {
	if len(q.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(q.Vector), s.dimension)
	}

	exists, err := s.exists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []ScoredPoint{}, nil
	}

	vectorName := VectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(q.Vector...),
		Using:          &vectorName,
		Filter:         buildFilter(q.Filters),
		Limit:          qdrant.PtrOf(uint64(q.Limit)),
		ScoreThreshold: qdrant.PtrOf(float32(q.MinScore)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", domain.ErrUpstreamUnavailable, collection, err)
	}

	points := make([]ScoredPoint, 0, len(results))
	for _, result := range results {
		payload := make(map[string]any, len(result.Payload))
		for k, v := range result.Payload {
			payload[k] = valueToAny(v)
		}
		points = append(points, ScoredPoint{
			ID:      str(payload["chunk_id"]),
			Score:   float64(result.Score),
			Payload: payload,
		})
	}
	return points, nil
}

// DeleteDocument removes every point of a document from a collection.
func (s *QdrantStorage) DeleteDocument(ctx context.Context, collection, documentID string) error {
	exists, err := s.exists(ctx, collection)
	if err != nil || !exists {
		return err
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: delete document %s: %v", domain.ErrUpstreamUnavailable, documentID, err)
	}
	return nil
}

// CollectionInfo contains collection statistics.
type CollectionInfo struct {
	Name        string
	PointsCount uint64
}

// GetCollectionInfo reports how many points a collection holds.
func (s *QdrantStorage) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	collection, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %s: %w", name, err)
	}
	return &CollectionInfo{Name: name, PointsCount: collection.GetPointsCount()}, nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// PointUUID maps a chunk id onto the UUID Qdrant stores it under.
func PointUUID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

func buildFilter(f domain.SearchFilters) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.Subject != "" {
		must = append(must, qdrant.NewMatch("subject", f.Subject))
	}
	if f.Standard > 0 {
		must = append(must, qdrant.NewMatchInt("standard", int64(f.Standard)))
	}
	if len(f.ContentTypes) > 0 {
		values := make([]string, len(f.ContentTypes))
		for i, ct := range f.ContentTypes {
			values[i] = string(ct)
		}
		must = append(must, qdrant.NewMatchKeywords("content_type", values...))
	}
	if len(f.Difficulties) > 0 {
		values := make([]string, len(f.Difficulties))
		for i, d := range f.Difficulties {
			values[i] = string(d)
		}
		must = append(must, qdrant.NewMatchKeywords("difficulty_level", values...))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func valueToAny(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_ListValue:
		items := k.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueToAny(item)
		}
		return out
	}
	return nil
}
