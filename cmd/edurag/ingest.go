package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/indexer"
)

var ingestFlags struct {
	id       string
	title    string
	subject  string
	standard int
	chapter  string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Chunk, embed and index one extracted text file",
	Long: `Indexes a plain-text or markdown file. Metadata defaults are derived from the
path (subject/stdN/chNN-title.md); flags override them. Re-ingesting an id
replaces the previous version.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Index every textbook file from the configured GitHub repository",
	Long: `Fetches all .md, .markdown and .txt files under GITHUB_PATH of
GITHUB_OWNER/GITHUB_REPO (at GITHUB_REF) and ingests each one.

Environment variables:
  GITHUB_OWNER   repository owner (required)
  GITHUB_REPO    repository name (required)
  GITHUB_PATH    directory holding the textbooks (default: textbooks)
  GITHUB_REF     branch, tag or commit (default: repository default branch)
  GITHUB_TOKEN   token for higher rate limits (optional)`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var removeCmd = &cobra.Command{
	Use:   "remove <document-id>",
	Short: "Remove a document from both indexes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()

		if err := b.engine.RemoveDocument(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show the ingestion record of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()

		rec, err := b.engine.DocumentStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, rec)
		}
		fmt.Fprintf(out, "%s: %s\n", rec.ID, rec.Status)
		fmt.Fprintf(out, "  Chunks: %d\n", rec.ChunkCount)
		fmt.Fprintf(out, "  Vectors: %d\n", rec.VectorCount)
		fmt.Fprintf(out, "  Updated: %s\n", rec.UpdatedAt.Format(time.RFC3339))
		if rec.Error != "" {
			fmt.Fprintf(out, "  Error: %s\n", rec.Error)
		}
		return nil
	},
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.id, "id", "", "document id (default: derived from the path)")
	f.StringVar(&ingestFlags.title, "title", "", "document title")
	f.StringVar(&ingestFlags.subject, "subject", "", "subject, e.g. mathematics")
	f.IntVar(&ingestFlags.standard, "standard", 0, "school standard 1-12")
	f.StringVar(&ingestFlags.chapter, "chapter", "", "chapter label")

	rootCmd.AddCommand(ingestCmd, syncCmd, removeCmd, statusCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	meta := indexer.MetadataFromPath(filepath.ToSlash(path))
	meta.Source = path
	override(&meta, cmd)
	id := ingestFlags.id
	if id == "" {
		id = indexer.DocumentIDFromPath(filepath.ToSlash(path))
	}

	b, err := openBackend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.close()

	start := time.Now()
	chunks, err := b.engine.IngestDocument(cmd.Context(), id, string(text), meta)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, chunks)
	}
	byLevel := map[domain.Level]int{}
	vectors := 0
	for _, c := range chunks {
		byLevel[c.Level]++
		if c.VectorID != "" {
			vectors++
		}
	}
	fmt.Fprintf(out, "Indexed %s\n", id)
	fmt.Fprintf(out, "  Subject: %s  Standard: %d  Chapter: %s\n", meta.Subject, meta.Standard, meta.Chapter)
	fmt.Fprintf(out, "  Chunks: %d (sections %d, concepts %d, details %d)\n",
		len(chunks), byLevel[domain.LevelSection], byLevel[domain.LevelConcept], byLevel[domain.LevelDetail])
	fmt.Fprintf(out, "  Vectors: %d\n", vectors)
	fmt.Fprintf(out, "  Duration: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func override(meta *domain.DocumentMetadata, cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("title") {
		meta.Title = ingestFlags.title
	}
	if f.Changed("subject") {
		meta.Subject = ingestFlags.subject
	}
	if f.Changed("standard") {
		meta.Standard = ingestFlags.standard
	}
	if f.Changed("chapter") {
		meta.Chapter = ingestFlags.chapter
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	if cfg.GitHub.Owner == "" || cfg.GitHub.Repo == "" {
		return fmt.Errorf("GITHUB_OWNER and GITHUB_REPO must be set")
	}
	start := time.Now()
	out := cmd.OutOrStdout()

	b, err := openBackend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.close()

	if !jsonOutput {
		fmt.Fprintln(out, "Starting sync...")
		fmt.Fprintln(out)
	}
	result, err := b.sync(cmd.Context())
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if jsonOutput {
		return printJSON(out, result)
	}
	fmt.Fprintln(out, "Sync complete!")
	fmt.Fprintf(out, "  Source: %s\n", result.Source)
	fmt.Fprintf(out, "  Documents: %d/%d\n", result.SuccessfulDocs, result.TotalDocs)
	fmt.Fprintf(out, "  Chunks: %d\n", result.TotalChunks)
	fmt.Fprintf(out, "  Duration: %s\n", result.Duration.Round(time.Second))
	fmt.Fprintf(out, "  Commit: %s\n", result.CommitSHA)

	if len(result.FailedDocs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Failed documents:")
		for _, failed := range result.FailedDocs {
			fmt.Fprintf(out, "  - %s: %s\n", failed.Path, failed.Reason)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Total time: %s\n", time.Since(start).Round(time.Second))
	return nil
}
