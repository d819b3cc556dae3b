package indexer

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/github"
)

// DocumentSource lists and fetches extracted textbook text.
type DocumentSource interface {
	Source() string
	GetLatestCommitSHA(ctx context.Context) (string, error)
	ListDocs(ctx context.Context) ([]string, error)
	FetchDoc(ctx context.Context, relativePath string) (*github.FetchedDoc, error)
}

// IndexResult summarizes a sync run.
type IndexResult struct {
	Source         string
	CommitSHA      string
	TotalDocs      int
	SuccessfulDocs int
	TotalChunks    int
	FailedDocs     []FailedDoc
	Duration       time.Duration
}

// FailedDoc records a document that could not be ingested.
type FailedDoc struct {
	Path   string
	Reason string
}

// IndexAll ingests every document of the configured source. A failing
// document is recorded in the result and does not stop the run.
func (p *Pipeline) IndexAll(ctx context.Context) (*IndexResult, error) {
	if p.source == nil {
		return nil, fmt.Errorf("%w: no document source configured", domain.ErrValidation)
	}
	start := time.Now()

	commitSHA, err := p.source.GetLatestCommitSHA(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit SHA: %w", err)
	}
	paths, err := p.source.ListDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	p.logger.Info("Starting sync", "source", p.source.Source(), "commit", commitSHA, "documents", len(paths))

	result := &IndexResult{
		Source:    p.source.Source(),
		CommitSHA: commitSHA,
		TotalDocs: len(paths),
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(docPath string, chunks int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: docPath, Reason: err.Error()})
			return
		}
		result.SuccessfulDocs++
		result.TotalChunks += chunks
	}

	for _, docPath := range paths {
		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			n, err := p.indexFile(ctx, docPath)
			if err != nil {
				p.logger.Warn("Failed to index document", "path", docPath, "error", err)
			}
			record(docPath, n, err)
		})
		if submitErr != nil {
			wg.Done()
			record(docPath, 0, fmt.Errorf("scheduling: %w", submitErr))
		}
	}
	wg.Wait()

	result.Duration = time.Since(start)
	p.logger.Info("Sync complete",
		"documents", result.SuccessfulDocs,
		"failed", len(result.FailedDocs),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

func (p *Pipeline) indexFile(ctx context.Context, docPath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	doc, err := p.source.FetchDoc(ctx, docPath)
	if err != nil {
		return 0, err
	}
	meta := MetadataFromPath(docPath)
	meta.Source = doc.URL
	chunks, err := p.IngestDocument(ctx, DocumentIDFromPath(docPath), doc.Content, meta)
	return len(chunks), err
}

var (
	standardPattern = regexp.MustCompile(`^(?:std|standard|class|grade)[-_ ]?(\d{1,2})$`)
	chapterPattern  = regexp.MustCompile(`^(?:ch|chapter)[-_ ]?0*(\d+)[-_ ]*`)
	nonIDChars      = regexp.MustCompile(`[^a-z0-9]+`)
)

// MetadataFromPath derives document metadata from a repository layout such as
// mathematics/std6/ch07-fractions.md: the first directory is the subject, a
// std/class/grade directory gives the standard, and a ch prefix on the file
// name gives the chapter.
func MetadataFromPath(docPath string) domain.DocumentMetadata {
	var meta domain.DocumentMetadata

	dir, file := path.Split(strings.ToLower(strings.Trim(docPath, "/")))
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if seg == "" {
			continue
		}
		if m := standardPattern.FindStringSubmatch(seg); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 12 {
				meta.Standard = n
			}
			continue
		}
		if meta.Subject == "" {
			meta.Subject = seg
		}
	}

	name := strings.TrimSuffix(file, path.Ext(file))
	if m := chapterPattern.FindStringSubmatch(name); m != nil {
		meta.Chapter = m[1]
		name = name[len(m[0]):]
	}
	title := strings.Join(strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' }), " ")
	if title != "" {
		title = strings.ToUpper(title[:1]) + title[1:]
	}
	meta.Title = title
	return meta
}

// DocumentIDFromPath turns a repository path into a stable document id.
func DocumentIDFromPath(docPath string) string {
	p := strings.ToLower(strings.TrimSuffix(docPath, path.Ext(docPath)))
	return strings.Trim(nonIDChars.ReplaceAllString(p, "-"), "-")
}
