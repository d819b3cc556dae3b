package storage

import (
	"errors"
	"fmt"

	"github.com/bull/edu-rag-server/internal/domain"
)

var (
	ErrQdrantUnreachable  = fmt.Errorf("%w: qdrant server unreachable", domain.ErrUpstreamUnavailable)
	ErrDimensionMismatch  = fmt.Errorf("%w: embedding dimension mismatch", domain.ErrDataIntegrity)
	ErrDocumentNotFound   = errors.New("document not found")
	ErrCollectionNotFound = errors.New("collection not found")
)
