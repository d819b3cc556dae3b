package github

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-github/v81/github"
)

// DefaultBasePath is the directory textbooks are read from when none is configured.
const DefaultBasePath = "textbooks"

// textExtensions are the file types treated as extracted textbook text.
var textExtensions = []string{".md", ".markdown", ".txt"}

// FetchedDoc is one textbook file fetched from GitHub.
type FetchedDoc struct {
	Path    string // relative to the base path
	Content string
	SHA     string // blob SHA
	URL     string // raw URL
}

// Fetcher reads textbook text files from a directory of a GitHub repository.
type Fetcher struct {
	client   *Client
	owner    string
	repo     string
	ref      string
	basePath string
}

// NewFetcher creates a fetcher for owner/repo at ref (empty means the default branch).
func NewFetcher(client *Client, owner, repo, ref, basePath string) *Fetcher {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	return &Fetcher{
		client:   client,
		owner:    owner,
		repo:     repo,
		ref:      ref,
		basePath: strings.Trim(basePath, "/"),
	}
}

// Source names the repository directory being read, for logs and results.
func (f *Fetcher) Source() string {
	return fmt.Sprintf("%s/%s/%s", f.owner, f.repo, f.basePath)
}

func (f *Fetcher) options() *github.RepositoryContentGetOptions {
	if f.ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.ref}
}

// ListDocs recursively lists text files under the base path, relative to it.
func (f *Fetcher) ListDocs(ctx context.Context) ([]string, error) {
	return f.listDocsRecursive(ctx, f.basePath, "")
}

func (f *Fetcher) listDocsRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	var docs []string

	_, dirContents, _, err := f.client.Repositories.GetContents(ctx, f.owner, f.repo, fullPath, f.options())
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", fullPath, err)
	}

	for _, item := range dirContents {
		name := item.GetName()
		if name == "" {
			continue
		}
		itemRelPath := path.Join(relativePath, name)

		switch item.GetType() {
		case "file":
			if isTextFile(name) {
				docs = append(docs, itemRelPath)
			}
		case "dir":
			subDocs, err := f.listDocsRecursive(ctx, path.Join(fullPath, name), itemRelPath)
			if err != nil {
				return nil, err
			}
			docs = append(docs, subDocs...)
		}
	}

	return docs, nil
}

func isTextFile(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range textExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// FetchDoc fetches and decodes one file.
func (f *Fetcher) FetchDoc(ctx context.Context, relativePath string) (*FetchedDoc, error) {
	fullPath := path.Join(f.basePath, relativePath)

	fileContent, _, _, err := f.client.Repositories.GetContents(ctx, f.owner, f.repo, fullPath, f.options())
	if err != nil {
		return nil, fmt.Errorf("failed to get content of %s: %w", fullPath, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("no file content returned for %s", fullPath)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", fullPath, err)
	}

	ref := f.ref
	if ref == "" {
		ref = "HEAD"
	}
	return &FetchedDoc{
		Path:    relativePath,
		Content: content,
		SHA:     fileContent.GetSHA(),
		URL:     fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", f.owner, f.repo, ref, fullPath),
	}, nil
}

// GetLatestCommitSHA returns the most recent commit touching the base path.
func (f *Fetcher) GetLatestCommitSHA(ctx context.Context) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(ctx, f.owner, f.repo, &github.CommitsListOptions{
		SHA:         f.ref,
		Path:        f.basePath,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %s", f.basePath)
	}
	if commits[0].SHA == nil {
		return "", fmt.Errorf("commit SHA is nil")
	}
	return commits[0].GetSHA(), nil
}
