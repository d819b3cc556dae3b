// Package domain holds the types shared by chunking, indexing, retrieval and caching.
package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Level is a chunk's position in the three-level hierarchy.
type Level int

const (
	LevelSection Level = 1 // large, structural
	LevelConcept Level = 2 // medium, sentence groups
	LevelDetail  Level = 3 // small, word windows
)

// ContentType describes the format of a chunk's text.
type ContentType string

const (
	ContentText    ContentType = "text"
	ContentFormula ContentType = "formula"
	ContentDiagram ContentType = "diagram_description"
	ContentMixed   ContentType = "mixed"
)

// PurposeType describes the pedagogical role of a chunk.
type PurposeType string

const (
	PurposeConcept  PurposeType = "concept"
	PurposeExample  PurposeType = "example"
	PurposeExercise PurposeType = "exercise"
)

// Difficulty is a coarse difficulty band.
type Difficulty string

const (
	DifficultyBasic        Difficulty = "basic"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

var (
	contentTypes = []ContentType{ContentText, ContentFormula, ContentDiagram, ContentMixed}
	difficulties = []Difficulty{DifficultyBasic, DifficultyIntermediate, DifficultyAdvanced}
)

// Chunk is a contiguous span of document text at one hierarchy level.
type Chunk struct {
	ID                 string      `json:"chunk_id"`
	DocumentID         string      `json:"document_id"`
	Level              Level       `json:"level"`
	ParentID           string      `json:"parent_chunk_id,omitempty"` // empty for level 1
	Index              int         `json:"index"`                     // global sequence within the document
	Text               string      `json:"text"`
	TokenCount         int         `json:"token_count"`
	ContentType        ContentType `json:"content_type"`
	PurposeType        PurposeType `json:"purpose_type"`
	Difficulty         Difficulty  `json:"difficulty"`
	Importance         float64     `json:"importance_score"`
	Keywords           []string    `json:"keywords"`
	Topics             []string    `json:"topics"`
	PageNumber         int         `json:"page_number,omitempty"` // 0 when unknown
	SectionTitle       string      `json:"section_title,omitempty"`
	Subject            string      `json:"subject,omitempty"`
	Standard           int         `json:"standard,omitempty"`
	Chapter            string      `json:"chapter,omitempty"`
	VectorID           string      `json:"vector_id,omitempty"`
	EmbeddingDimension int         `json:"embedding_dimension,omitempty"`
}

// ChunkID builds the stable identifier of a chunk.
func ChunkID(documentID string, level Level, index int) string {
	return fmt.Sprintf("chunk_%s_%d_%d", documentID, level, index)
}

// VectorID builds the identifier a chunk's vector is stored under.
func VectorID(documentID string, level Level, index int) string {
	return fmt.Sprintf("vec_%s_%d_%d", documentID, level, index)
}

// DocumentMetadata is supplied alongside extracted document text at ingestion.
type DocumentMetadata struct {
	Title    string `json:"title,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Standard int    `json:"standard,omitempty"`
	Chapter  string `json:"chapter,omitempty"`
	Source   string `json:"source,omitempty"`
}

// SearchFilters scope a retrieval call. Zero values mean "no filter".
type SearchFilters struct {
	Subject      string        `json:"subject,omitempty"`
	Standard     int           `json:"standard,omitempty"`
	ContentTypes []ContentType `json:"content_types,omitempty"`
	Difficulties []Difficulty  `json:"difficulties,omitempty"`
}

// Validate rejects malformed filters.
func (f SearchFilters) Validate() error {
	if f.Standard < 0 || f.Standard > 12 {
		return fmt.Errorf("%w: standard %d out of range 1-12", ErrValidation, f.Standard)
	}
	for _, ct := range f.ContentTypes {
		if !slices.Contains(contentTypes, ct) {
			return fmt.Errorf("%w: unknown content type %q", ErrValidation, ct)
		}
	}
	for _, d := range f.Difficulties {
		if !slices.Contains(difficulties, d) {
			return fmt.Errorf("%w: unknown difficulty %q", ErrValidation, d)
		}
	}
	if strings.TrimSpace(f.Subject) != f.Subject {
		return fmt.Errorf("%w: subject has surrounding whitespace", ErrValidation)
	}
	return nil
}

// ResultMetadata is the chunk metadata carried by a search result.
type ResultMetadata struct {
	DocumentID  string      `json:"document_id,omitempty"`
	Level       Level       `json:"level,omitempty"`
	Subject     string      `json:"subject,omitempty"`
	Standard    int         `json:"standard,omitempty"`
	ContentType ContentType `json:"content_type,omitempty"`
	PurposeType PurposeType `json:"purpose_type,omitempty"`
	Difficulty  Difficulty  `json:"difficulty,omitempty"`
	Page        int         `json:"page,omitempty"`
	Title       string      `json:"title,omitempty"`
}

// MetadataOf projects a chunk onto result metadata.
func MetadataOf(c Chunk) ResultMetadata {
	return ResultMetadata{
		DocumentID:  c.DocumentID,
		Level:       c.Level,
		Subject:     c.Subject,
		Standard:    c.Standard,
		ContentType: c.ContentType,
		PurposeType: c.PurposeType,
		Difficulty:  c.Difficulty,
		Page:        c.PageNumber,
		Title:       c.SectionTitle,
	}
}

// SearchResult is one ranked chunk returned by a retrieval call.
type SearchResult struct {
	ChunkID        string         `json:"chunk_id"`
	Content        string         `json:"content"`
	Metadata       ResultMetadata `json:"metadata"`
	SemanticScore  float64        `json:"semantic_score"`
	KeywordScore   float64        `json:"keyword_score"`
	HybridScore    float64        `json:"hybrid_score"`
	RerankingScore float64        `json:"reranking_score"`
	FinalScore     float64        `json:"final_score"`
}

// RoutingDecision classifies a query. It is never mutated after creation.
type RoutingDecision struct {
	Query            string            `json:"query"`
	IsEducational    bool              `json:"is_educational"`
	PrimarySubject   string            `json:"primary_subject,omitempty"`
	QueryType        string            `json:"query_type,omitempty"`
	Confidence       float64           `json:"confidence"`
	SubjectScores    map[string]int    `json:"subject_scores,omitempty"`
	DetectedKeywords []string          `json:"detected_keywords,omitempty"`
	Difficulty       string            `json:"difficulty,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	Context          map[string]string `json:"context,omitempty"`
}
