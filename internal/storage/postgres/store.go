// Package postgres provides the production memory store backend on
// PostgreSQL with the pgvector extension. Similarity ranking, threshold
// filtering and the created_at tie-break all run in SQL, so only the
// final result set crosses the wire.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/pkg/types"
)

// Store implements storage.MemoryStore backed by PostgreSQL + pgvector.
type Store struct {
	db   *sql.DB
	dims int
}

// New connects to PostgreSQL at dsn and ensures the schema exists for
// embedding vectors of the given dimension.
func New(dsn string, dims int) (*Store, error) {
	if dims < 1 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", storage.ErrInvalidInput)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: postgres ping: %v", storage.ErrUnavailable, err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: create vector extension: %w", err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS memories (
			id            TEXT PRIMARY KEY,
			owner         TEXT NOT NULL,
			content       TEXT NOT NULL,
			memory_type   TEXT NOT NULL,
			embedding     vector(%d) NOT NULL,
			content_hash  TEXT NOT NULL,
			supersedes_id TEXT,
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_memories_owner_hash ON memories(owner, content_hash);
	`, dims)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}

	return &Store{db: db, dims: dims}, nil
}

// Store persists entry in its owner's partition.
func (s *Store) Store(ctx context.Context, entry *types.MemoryEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: nil entry", storage.ErrInvalidInput)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if len(entry.Embedding) != s.dims {
		return fmt.Errorf("%w: embedding has %d dimensions, store expects %d",
			storage.ErrInvalidInput, len(entry.Embedding), s.dims)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, owner, content, memory_type, embedding, content_hash, supersedes_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		entry.ID, entry.Owner, entry.Content, string(entry.MemoryType),
		pgvector.NewVector(entry.Embedding), entry.ContentHash,
		entry.SupersedesID, entry.CreatedAt)
	if err != nil {
		return wrapDBErr("store", err)
	}
	return nil
}

// Query ranks owner's entries by pgvector cosine similarity. The `<=>`
// operator yields cosine distance, so score = GREATEST(1 - distance, 0).
// Clamping inside the SQL keeps negative-cosine entries visible at
// threshold 0 and lets clamped ties fall back to created_at, matching
// the in-process backends.
func (s *Store) Query(ctx context.Context, owner string, embedding []float32, threshold float64, limit int) (types.QueryResult, error) {
	if err := types.ValidateOwner(owner); err != nil {
		return types.QueryResult{}, err
	}
	if len(embedding) != s.dims {
		return types.QueryResult{}, fmt.Errorf("%w: query embedding has %d dimensions, store expects %d",
			storage.ErrInvalidInput, len(embedding), s.dims)
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, content, memory_type, embedding, content_hash,
		       COALESCE(supersedes_id, ''), created_at,
		       GREATEST(1 - (embedding <=> $1), 0) AS score
		FROM memories
		WHERE owner = $2 AND GREATEST(1 - (embedding <=> $1), 0) >= $3
		ORDER BY GREATEST(1 - (embedding <=> $1), 0) DESC, created_at DESC
		LIMIT $4`, vec, owner, threshold, limit)
	if err != nil {
		return types.QueryResult{}, wrapDBErr("query", err)
	}
	defer func() { _ = rows.Close() }()

	var result types.QueryResult
	for rows.Next() {
		var (
			entry   types.MemoryEntry
			memType string
			emb     pgvector.Vector
			score   float64
		)
		if err := rows.Scan(&entry.ID, &entry.Owner, &entry.Content, &memType,
			&emb, &entry.ContentHash, &entry.SupersedesID, &entry.CreatedAt, &score); err != nil {
			return types.QueryResult{}, wrapDBErr("query scan", err)
		}
		entry.MemoryType = types.MemoryType(memType)
		entry.Embedding = emb.Slice()
		result.Entries = append(result.Entries, types.ScoredEntry{Entry: entry, Score: score})
	}
	if err := rows.Err(); err != nil {
		return types.QueryResult{}, wrapDBErr("query rows", err)
	}
	return result, nil
}

// Delete removes owner's entries matching pred and returns the count.
func (s *Store) Delete(ctx context.Context, owner string, pred storage.DeletePredicate) (int, error) {
	if err := types.ValidateOwner(owner); err != nil {
		return 0, err
	}
	if pred.Empty() {
		return 0, fmt.Errorf("%w: empty delete predicate", storage.ErrInvalidInput)
	}

	where := "owner = $1"
	args := []any{owner}
	if pred.ContentContains != "" {
		args = append(args, "%"+pred.ContentContains+"%")
		where += fmt.Sprintf(" AND content ILIKE $%d", len(args))
	}
	if pred.MemoryType != "" {
		args = append(args, string(pred.MemoryType))
		where += fmt.Sprintf(" AND memory_type = $%d", len(args))
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE "+where, args...)
	if err != nil {
		return 0, wrapDBErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBErr("delete rows affected", err)
	}
	return int(n), nil
}

// GetByContentHash returns owner's most recent entry with the given hash.
func (s *Store) GetByContentHash(ctx context.Context, owner, hash string) (*types.MemoryEntry, error) {
	if err := types.ValidateOwner(owner); err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, fmt.Errorf("%w: empty content hash", storage.ErrInvalidInput)
	}

	var (
		entry   types.MemoryEntry
		memType string
		emb     pgvector.Vector
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, content, memory_type, embedding, content_hash,
		       COALESCE(supersedes_id, ''), created_at
		FROM memories
		WHERE owner = $1 AND content_hash = $2
		ORDER BY created_at DESC
		LIMIT 1`, owner, hash).
		Scan(&entry.ID, &entry.Owner, &entry.Content, &memType,
			&emb, &entry.ContentHash, &entry.SupersedesID, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, wrapDBErr("get by content hash", err)
	}
	entry.MemoryType = types.MemoryType(memType)
	entry.Embedding = emb.Slice()
	return &entry, nil
}

// Count returns owner's entry count, or the total when owner is empty.
func (s *Store) Count(ctx context.Context, owner string) (int, error) {
	var (
		n   int
		err error
	)
	if owner == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE owner = $1", owner).Scan(&n)
	}
	if err != nil {
		return 0, wrapDBErr("count", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func wrapDBErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: postgres %s: %v", storage.ErrUnavailable, op, err)
}
