package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bull/edu-rag-server/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL DEFAULT '',
	standard     INTEGER NOT NULL DEFAULT 0,
	chapter      TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	chunk_count  INTEGER NOT NULL DEFAULT 0,
	vector_count INTEGER NOT NULL DEFAULT 0,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id            TEXT PRIMARY KEY,
	document_id         TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	level               INTEGER NOT NULL,
	parent_chunk_id     TEXT NOT NULL DEFAULT '',
	seq                 INTEGER NOT NULL,
	chunk_text          TEXT NOT NULL,
	token_count         INTEGER NOT NULL,
	content_type        TEXT NOT NULL,
	purpose_type        TEXT NOT NULL,
	difficulty_level    TEXT NOT NULL,
	importance_score    REAL NOT NULL,
	keywords            TEXT NOT NULL,
	topics              TEXT NOT NULL,
	page_number         INTEGER NOT NULL DEFAULT 0,
	section_title       TEXT NOT NULL DEFAULT '',
	subject             TEXT NOT NULL DEFAULT '',
	standard            INTEGER NOT NULL DEFAULT 0,
	chapter             TEXT NOT NULL DEFAULT '',
	vector_id           TEXT NOT NULL DEFAULT '',
	embedding_dimension INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, seq);
CREATE INDEX IF NOT EXISTS idx_chunks_scope ON chunks(subject, standard);
`

const chunkColumns = `chunk_id, document_id, level, parent_chunk_id, seq, chunk_text, token_count,
	content_type, purpose_type, difficulty_level, importance_score, keywords, topics,
	page_number, section_title, subject, standard, chapter, vector_id, embedding_dimension`

// ChunkStore is the chunk repository and keyword index, backed by SQLite.
type ChunkStore struct {
	db *sql.DB
}

// OpenChunkStore opens the database at path (":memory:" for a private in-memory database).
func OpenChunkStore(path string) (*ChunkStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &ChunkStore{db: db}, nil
}

// Close closes the database connection.
func (s *ChunkStore) Close() error {
	return s.db.Close()
}

// Health pings the database.
func (s *ChunkStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveDocument inserts or replaces a document record.
func (s *ChunkStore) SaveDocument(ctx context.Context, rec DocumentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, subject, standard, chapter, source, status, error, chunk_count, vector_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, subject = excluded.subject, standard = excluded.standard,
			chapter = excluded.chapter, source = excluded.source, status = excluded.status,
			error = excluded.error, chunk_count = excluded.chunk_count,
			vector_count = excluded.vector_count, updated_at = excluded.updated_at`,
		rec.ID, rec.Metadata.Title, rec.Metadata.Subject, rec.Metadata.Standard, rec.Metadata.Chapter,
		rec.Metadata.Source, rec.Status, rec.Error, rec.ChunkCount, rec.VectorCount,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", rec.ID, err)
	}
	return nil
}

// GetDocument returns a document record or ErrDocumentNotFound.
func (s *ChunkStore) GetDocument(ctx context.Context, id string) (*DocumentRecord, error) {
	var rec DocumentRecord
	var updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, subject, standard, chapter, source, status, error, chunk_count, vector_count, updated_at
		FROM documents WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Metadata.Title, &rec.Metadata.Subject, &rec.Metadata.Standard, &rec.Metadata.Chapter,
		&rec.Metadata.Source, &rec.Status, &rec.Error, &rec.ChunkCount, &rec.VectorCount, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &rec, nil
}

// InsertChunks writes chunks in one transaction, replacing chunks with the same id.
func (s *ChunkStore) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		keywords, err := json.Marshal(nonNil(c.Keywords))
		if err != nil {
			return fmt.Errorf("encoding keywords: %w", err)
		}
		topics, err := json.Marshal(nonNil(c.Topics))
		if err != nil {
			return fmt.Errorf("encoding topics: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			c.ID, c.DocumentID, int(c.Level), c.ParentID, c.Index, c.Text, c.TokenCount,
			string(c.ContentType), string(c.PurposeType), string(c.Difficulty), c.Importance,
			string(keywords), string(topics), c.PageNumber, c.SectionTitle, c.Subject, c.Standard,
			c.Chapter, c.VectorID, c.EmbeddingDimension,
		)
		if err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// FindByDocumentID returns a document's chunks in chunking order.
func (s *ChunkStore) FindByDocumentID(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	return scanChunks(rows)
}

// SearchByKeywords returns chunks whose text or section title contains any keyword,
// scoped by filters, highest importance first.
func (s *ChunkStore) SearchByKeywords(ctx context.Context, filters domain.SearchFilters, keywords []string, limit int) ([]domain.Chunk, error) {
	if len(keywords) == 0 || limit <= 0 {
		return []domain.Chunk{}, nil
	}

	var where []string
	var args []any

	var match []string
	for _, kw := range keywords {
		pattern := "%" + escapeLike(strings.ToLower(kw)) + "%"
		match = append(match, `lower(chunk_text) LIKE ? ESCAPE '\'`, `lower(section_title) LIKE ? ESCAPE '\'`)
		args = append(args, pattern, pattern)
	}
	where = append(where, "("+strings.Join(match, " OR ")+")")

	if filters.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, filters.Subject)
	}
	if filters.Standard > 0 {
		where = append(where, "standard = ?")
		args = append(args, filters.Standard)
	}
	if len(filters.ContentTypes) > 0 {
		where = append(where, "content_type IN ("+placeholders(len(filters.ContentTypes))+")")
		for _, ct := range filters.ContentTypes {
			args = append(args, string(ct))
		}
	}
	if len(filters.Difficulties) > 0 {
		where = append(where, "difficulty_level IN ("+placeholders(len(filters.Difficulties))+")")
		for _, d := range filters.Difficulties {
			args = append(args, string(d))
		}
	}
	args = append(args, limit)

	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY importance_score DESC, chunk_id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword search: %v", domain.ErrUpstreamUnavailable, err)
	}
	return scanChunks(rows)
}

// AttachVector records the vector a chunk was indexed under.
func (s *ChunkStore) AttachVector(ctx context.Context, chunkID, vectorID string, dimension int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET vector_id = ?, embedding_dimension = ? WHERE chunk_id = ?`,
		vectorID, dimension, chunkID)
	if err != nil {
		return fmt.Errorf("attaching vector to %s: %w", chunkID, err)
	}
	return nil
}

// DeleteDocument removes a document and all of its chunks.
func (s *ChunkStore) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return tx.Commit()
}

func scanChunks(rows *sql.Rows) ([]domain.Chunk, error) {
	defer rows.Close()

	chunks := []domain.Chunk{}
	for rows.Next() {
		var c domain.Chunk
		var level int
		var contentType, purpose, difficulty, keywords, topics string
		err := rows.Scan(&c.ID, &c.DocumentID, &level, &c.ParentID, &c.Index, &c.Text, &c.TokenCount,
			&contentType, &purpose, &difficulty, &c.Importance, &keywords, &topics,
			&c.PageNumber, &c.SectionTitle, &c.Subject, &c.Standard, &c.Chapter, &c.VectorID, &c.EmbeddingDimension)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.Level = domain.Level(level)
		c.ContentType = domain.ContentType(contentType)
		c.PurposeType = domain.PurposeType(purpose)
		c.Difficulty = domain.Difficulty(difficulty)
		if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
			return nil, fmt.Errorf("decoding keywords of %s: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(topics), &c.Topics); err != nil {
			return nil, fmt.Errorf("decoding topics of %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
