// Package store persists document metadata and chunk embeddings in
// PostgreSQL with pgvector, and serves similarity queries over them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Every operation carries a timeout so a stalled database connection
// cannot hang an ingestion worker or a query indefinitely. A tighter
// caller deadline still wins.
const (
	// WriteTimeout bounds one replace or delete transaction.
	WriteTimeout = 30 * time.Second
	// QueryTimeout bounds one read query.
	QueryTimeout = 10 * time.Second
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const upsertDocumentSQL = `INSERT INTO documents (identity, title, url, kind, schema_description, chunk_count, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	ON CONFLICT (identity) DO UPDATE SET
		title = EXCLUDED.title,
		url = EXCLUDED.url,
		kind = EXCLUDED.kind,
		schema_description = EXCLUDED.schema_description,
		chunk_count = EXCLUDED.chunk_count,
		updated_at = now()`

const insertChunkSQL = `INSERT INTO chunks (identity, content, metadata, embedding)
	VALUES ($1, $2, $3, $4)`

// searchSQL orders by cosine distance ascending; the surrogate id breaks
// distance ties in insertion order so results are deterministic. The
// empty-object filter '{}' is contained by every row.
const searchSQL = `SELECT id, content, metadata, embedding <=> $1 AS distance
	FROM chunks
	WHERE metadata @> $2
	ORDER BY embedding <=> $1, id
	LIMIT $3`

const listDocumentsSQL = `SELECT identity, title, url, kind, schema_description, chunk_count, updated_at
	FROM documents
	ORDER BY identity`

// Store manages the knowledge base tables.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store.
func New(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// lockIdentity serializes writers of one document identity within the
// current transaction. Other identities proceed in parallel.
func lockIdentity(ctx context.Context, q querier, identity string) error {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, identity); err != nil {
		return fmt.Errorf("acquiring identity lock: %w", err)
	}
	return nil
}

// Replace atomically swaps the stored content of one document: prior
// chunks are removed, the metadata row is upserted, and the new chunk
// set is inserted, all in one transaction. A failure at any point rolls
// the whole identity back to its previous state; readers never observe
// a partially populated document.
func (s *Store) Replace(ctx context.Context, doc Document, chunks []Chunk) error {
	if doc.Identity == "" {
		return fmt.Errorf("document identity is required")
	}

	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	if err := lockIdentity(ctx, tx, doc.Identity); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE identity = $1`, doc.Identity); err != nil {
		return fmt.Errorf("retiring chunks for %q: %w", doc.Identity, err)
	}

	doc.ChunkCount = len(chunks)
	if _, err := tx.Exec(ctx, upsertDocumentSQL,
		doc.Identity, doc.Title, doc.URL, doc.Kind, doc.Schema, doc.ChunkCount); err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.Identity, err)
	}

	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for chunk %d of %q: %w", i, doc.Identity, err)
		}
		if _, err := tx.Exec(ctx, insertChunkSQL,
			doc.Identity, c.Content, meta, pgvector.NewVector(c.Embedding)); err != nil {
			return fmt.Errorf("inserting chunk %d of %q: %w", i, doc.Identity, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing replace of %q: %w", doc.Identity, err)
	}

	s.logger.Debug("document replaced", "identity", doc.Identity, "chunks", len(chunks))
	return nil
}

// Delete removes a document and all its chunks. Deleting an unknown
// identity is a no-op.
func (s *Store) Delete(ctx context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("document identity is required")
	}

	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	if err := lockIdentity(ctx, tx, identity); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("deleting chunks for %q: %w", identity, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("deleting document %q: %w", identity, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing delete of %q: %w", identity, err)
	}

	s.logger.Debug("document deleted", "identity", identity)
	return nil
}

// Search returns the topK chunks nearest to the query embedding in
// ascending cosine distance. A non-nil filter restricts results to
// chunks whose metadata contains every set field of the filter.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, filter *Metadata) ([]Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	filterJSON := []byte(`{}`)
	if filter != nil {
		var err error
		if filterJSON, err = json.Marshal(filter); err != nil {
			return nil, fmt.Errorf("marshaling search filter: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, searchSQL, pgvector.NewVector(embedding), filterJSON, topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r    Result
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.Content, &meta, &r.Distance); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata for chunk %d: %w", r.ID, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}

// ListDocuments returns the metadata rows of every ingested document.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, listDocumentsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Identity, &d.Title, &d.URL, &d.Kind, &d.Schema, &d.ChunkCount, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating document rows: %w", err)
	}
	return docs, nil
}

// Identities returns the set of ingested document identities. The sync
// engine diffs this against the source folder to find deletions.
func (s *Store) Identities(ctx context.Context) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT identity FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identities: %w", err)
	}
	return ids, nil
}
