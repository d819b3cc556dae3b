// Package chunking splits document text into a three-level chunk hierarchy.
//
// Level 1 groups whole paragraphs, level 2 groups sentences inside a level-1
// chunk, and level 3 cuts a level-2 chunk into fixed word windows. Output is
// depth-first: each level-1 chunk is followed by its level-2 children, each of
// which is followed by its level-3 children. Indexes are global across levels.
package chunking

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/markdown"
)

const (
	DefaultSectionTokens = 512
	DefaultConceptTokens = 256
	DefaultDetailWords   = 128
	CharsPerToken        = 4
)

// A paragraph break is two or more line endings (LF or CRLF) separated only by spaces or tabs.
var paragraphBreak = regexp.MustCompile(`\r?\n[ \t]*(?:\r?\n[ \t]*)+`)

// Config sets the per-level budgets.
type Config struct {
	SectionTokens int // level-1 budget in estimated tokens
	ConceptTokens int // level-2 budget in estimated tokens
	DetailWords   int // level-3 window in words
}

// DefaultConfig returns the standard budgets.
func DefaultConfig() Config {
	return Config{
		SectionTokens: DefaultSectionTokens,
		ConceptTokens: DefaultConceptTokens,
		DetailWords:   DefaultDetailWords,
	}
}

// Chunker is stateless and safe for concurrent use.
type Chunker struct {
	cfg     Config
	outline *markdown.Parser
}

// NewChunker creates a chunker. Zero budgets fall back to the defaults.
func NewChunker(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.SectionTokens <= 0 {
		cfg.SectionTokens = def.SectionTokens
	}
	if cfg.ConceptTokens <= 0 {
		cfg.ConceptTokens = def.ConceptTokens
	}
	if cfg.DetailWords <= 0 {
		cfg.DetailWords = def.DetailWords
	}
	return &Chunker{cfg: cfg, outline: markdown.NewParser()}
}

// span is a piece of text and its byte offset in the source.
type span struct {
	text   string
	offset int
}

// Chunk splits fullText into chunks. Identical input yields identical output.
// Blank input yields no chunks.
func (c *Chunker) Chunk(documentID, fullText string) []domain.Chunk {
	if strings.TrimSpace(fullText) == "" {
		return []domain.Chunk{}
	}

	outline, err := c.outline.Outline([]byte(fullText))
	if err != nil {
		outline = nil
	}
	paged := strings.ContainsRune(fullText, '\f')

	var chunks []domain.Chunk
	index := 0
	emit := func(level domain.Level, parentID, text string, tokens int, title string, page int) string {
		meta := classify(text)
		id := domain.ChunkID(documentID, level, index)
		chunks = append(chunks, domain.Chunk{
			ID:           id,
			DocumentID:   documentID,
			Level:        level,
			ParentID:     parentID,
			Index:        index,
			Text:         text,
			TokenCount:   tokens,
			ContentType:  meta.contentType,
			PurposeType:  meta.purpose,
			Difficulty:   meta.difficulty,
			Importance:   meta.importance,
			Keywords:     meta.keywords,
			Topics:       meta.topics,
			PageNumber:   page,
			SectionTitle: title,
		})
		index++
		return id
	}

	for _, section := range c.sections(fullText) {
		title := outline.TitleAt(section.offset)
		page := 0
		if paged {
			page = 1 + strings.Count(fullText[:section.offset], "\f")
		}

		sectionID := emit(domain.LevelSection, "", section.text, estimateTokens(section.text), title, page)
		for _, concept := range c.concepts(section.text) {
			conceptID := emit(domain.LevelConcept, sectionID, concept, estimateTokens(concept), title, page)
			for _, window := range c.details(concept) {
				emit(domain.LevelDetail, conceptID, window, len(strings.Fields(window)), title, page)
			}
		}
	}
	return chunks
}

// sections groups paragraphs into level-1 chunks without splitting a paragraph.
func (c *Chunker) sections(text string) []span {
	var out []span
	var cur strings.Builder
	curLen, curStart := 0, 0

	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			out = append(out, span{text: t, offset: curStart})
		}
		cur.Reset()
		curLen = 0
	}

	for _, p := range paragraphs(text) {
		pLen := utf8.RuneCountInString(p.text)
		if (curLen+pLen)/CharsPerToken > c.cfg.SectionTokens && curLen > 0 {
			flush()
		}
		if curLen == 0 {
			curStart = p.offset
		}
		cur.WriteString(p.text)
		cur.WriteString("\n\n")
		curLen += pLen + 2
	}
	flush()
	return out
}

// concepts groups sentences of a level-1 chunk into level-2 chunks.
func (c *Chunker) concepts(text string) []string {
	var out []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			out = append(out, t)
		}
		cur.Reset()
		curLen = 0
	}

	for _, s := range sentences(text) {
		sLen := utf8.RuneCountInString(s)
		if (curLen+sLen)/CharsPerToken > c.cfg.ConceptTokens && curLen > 0 {
			flush()
		}
		cur.WriteString(s)
		cur.WriteByte(' ')
		curLen += sLen + 1
	}
	flush()
	return out
}

// details cuts a level-2 chunk into windows of DetailWords words.
func (c *Chunker) details(text string) []string {
	words := strings.Fields(text)
	var out []string
	for i := 0; i < len(words); i += c.cfg.DetailWords {
		end := min(i+c.cfg.DetailWords, len(words))
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}

// paragraphs splits on blank-line runs and records each paragraph's offset.
func paragraphs(text string) []span {
	var out []span
	start := 0
	for _, sep := range paragraphBreak.FindAllStringIndex(text, -1) {
		if p := text[start:sep[0]]; strings.TrimSpace(p) != "" {
			out = append(out, span{text: p, offset: start})
		}
		start = sep[1]
	}
	if p := text[start:]; strings.TrimSpace(p) != "" {
		out = append(out, span{text: p, offset: start})
	}
	return out
}

// sentences splits after '.', '!' or '?' when followed by whitespace.
func sentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if r := runes[i]; r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		out = append(out, string(runes[start:i+1]))
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		start = j
		i = j - 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}
