package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/bull/edu-rag-server/internal/domain"
)

// VectorName is the named vector every point stores its embedding under.
const VectorName = "content"

// DefaultCollection is searched when no subject/standard scope is given.
const DefaultCollection = "math_std6_mathematics"

var subjectPrefixes = map[string]string{
	"mathematics": "math",
	"science":     "sci",
	"english":     "eng",
	"history":     "hist",
	"geography":   "geo",
}

// CollectionFor maps a (subject, standard) scope to a collection name:
// "<prefix>_std<standard>_<subject>". Either value missing selects DefaultCollection.
func CollectionFor(subject string, standard int) string {
	subject = strings.ToLower(strings.TrimSpace(subject))
	if subject == "" || standard <= 0 {
		return DefaultCollection
	}
	prefix, ok := subjectPrefixes[subject]
	if !ok {
		prefix = subject
	}
	return fmt.Sprintf("%s_std%d_%s", prefix, standard, subject)
}

// Point is one vector with its payload.
type Point struct {
	ID      string // chunk id
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a nearest-neighbor hit.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// VectorQuery is a filtered nearest-neighbor request.
type VectorQuery struct {
	Vector   []float32
	Limit    int
	MinScore float64
	Filters  domain.SearchFilters
}

// Document status values.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// DocumentRecord tracks one ingested document.
type DocumentRecord struct {
	ID          string
	Metadata    domain.DocumentMetadata
	Status      string // processing, completed, failed
	Error       string // last failure reason
	ChunkCount  int
	VectorCount int
	UpdatedAt   time.Time
}

// ChunkPayload flattens a chunk into a vector payload.
func ChunkPayload(c domain.Chunk) map[string]any {
	return map[string]any{
		"chunk_id":         c.ID,
		"document_id":      c.DocumentID,
		"level":            int64(c.Level),
		"parent_chunk_id":  c.ParentID,
		"content":          c.Text,
		"subject":          c.Subject,
		"standard":         int64(c.Standard),
		"chapter":          c.Chapter,
		"content_type":     string(c.ContentType),
		"purpose_type":     string(c.PurposeType),
		"difficulty_level": string(c.Difficulty),
		"importance_score": c.Importance,
		"page_number":      int64(c.PageNumber),
		"section_title":    c.SectionTitle,
		"keywords":         toAnySlice(c.Keywords),
		"topics":           toAnySlice(c.Topics),
	}
}

// ChunkFromPayload rebuilds the chunk fields carried by a payload.
func ChunkFromPayload(p map[string]any) domain.Chunk {
	return domain.Chunk{
		ID:           str(p["chunk_id"]),
		DocumentID:   str(p["document_id"]),
		Level:        domain.Level(integer(p["level"])),
		ParentID:     str(p["parent_chunk_id"]),
		Text:         str(p["content"]),
		Subject:      str(p["subject"]),
		Standard:     integer(p["standard"]),
		Chapter:      str(p["chapter"]),
		ContentType:  domain.ContentType(str(p["content_type"])),
		PurposeType:  domain.PurposeType(str(p["purpose_type"])),
		Difficulty:   domain.Difficulty(str(p["difficulty_level"])),
		Importance:   float(p["importance_score"]),
		PageNumber:   integer(p["page_number"]),
		SectionTitle: str(p["section_title"]),
		Keywords:     strSlice(p["keywords"]),
		Topics:       strSlice(p["topics"]),
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func integer(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func float(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func strSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if sv, ok := item.(string); ok {
				out = append(out, sv)
			}
		}
		return out
	}
	return nil
}
