// Package sqlite provides the durable single-node memory store backend.
//
// Embeddings are stored as little-endian float32 BLOBs and ranked in Go.
// Candidate pools are per owner and capped, which keeps ranking cheap at
// the entry counts a single node serves.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/pkg/types"
)

// queryMaxCandidates caps the per-owner candidate pool loaded into Go for
// ranking (most recent first), bounding memory use on large partitions.
const queryMaxCandidates = 10000

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT PRIMARY KEY,
	owner         TEXT NOT NULL,
	content       TEXT NOT NULL,
	memory_type   TEXT NOT NULL,
	embedding     BLOB NOT NULL,
	dimension     INTEGER NOT NULL,
	content_hash  TEXT NOT NULL,
	supersedes_id TEXT,
	created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_owner_hash ON memories(owner, content_hash);
`

// Store implements storage.MemoryStore backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite memory store at dsn.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Store persists entry in its owner's partition.
func (s *Store) Store(ctx context.Context, entry *types.MemoryEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: nil entry", storage.ErrInvalidInput)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	blob := serializeEmbedding(entry.Embedding)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, owner, content, memory_type, embedding, dimension, content_hash, supersedes_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Owner, entry.Content, string(entry.MemoryType),
		blob, len(entry.Embedding), entry.ContentHash,
		nullable(entry.SupersedesID), entry.CreatedAt.UnixNano())
	if err != nil {
		return wrapDBErr("store", err)
	}
	return nil
}

// Query loads owner's candidates (most recent first, capped) and ranks
// them in Go per the store contract.
func (s *Store) Query(ctx context.Context, owner string, embedding []float32, threshold float64, limit int) (types.QueryResult, error) {
	if err := types.ValidateOwner(owner); err != nil {
		return types.QueryResult{}, err
	}
	if len(embedding) == 0 {
		return types.QueryResult{}, fmt.Errorf("%w: empty query embedding", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, content, memory_type, embedding, dimension, content_hash, supersedes_id, created_at
		FROM memories
		WHERE owner = ?
		ORDER BY created_at DESC
		LIMIT ?`, owner, queryMaxCandidates)
	if err != nil {
		return types.QueryResult{}, wrapDBErr("query", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := scanEntries(rows)
	if err != nil {
		return types.QueryResult{}, wrapDBErr("query scan", err)
	}

	return storage.Rank(candidates, embedding, threshold, limit), nil
}

// Delete removes owner's entries matching pred and returns the count.
func (s *Store) Delete(ctx context.Context, owner string, pred storage.DeletePredicate) (int, error) {
	if err := types.ValidateOwner(owner); err != nil {
		return 0, err
	}
	if pred.Empty() {
		return 0, fmt.Errorf("%w: empty delete predicate", storage.ErrInvalidInput)
	}

	where := "owner = ?"
	args := []any{owner}
	if pred.ContentContains != "" {
		where += " AND instr(lower(content), lower(?)) > 0"
		args = append(args, pred.ContentContains)
	}
	if pred.MemoryType != "" {
		where += " AND memory_type = ?"
		args = append(args, string(pred.MemoryType))
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

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, content, memory_type, embedding, dimension, content_hash, supersedes_id, created_at
		FROM memories
		WHERE owner = ? AND content_hash = ?
		ORDER BY created_at DESC
		LIMIT 1`, owner, hash)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, wrapDBErr("get by content hash", err)
	}
	return entry, nil
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
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories WHERE owner = ?", owner).Scan(&n)
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

// wrapDBErr maps driver failures onto storage.ErrUnavailable so callers
// can distinguish "store unreachable" from an empty result. Context
// cancellation passes through untouched.
func wrapDBErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: sqlite %s: %v", storage.ErrUnavailable, op, err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*types.MemoryEntry, error) {
	var (
		entry       types.MemoryEntry
		memType     string
		blob        []byte
		dim         int
		supersedes  sql.NullString
		createdNano int64
	)
	if err := row.Scan(&entry.ID, &entry.Owner, &entry.Content, &memType,
		&blob, &dim, &entry.ContentHash, &supersedes, &createdNano); err != nil {
		return nil, err
	}

	embedding, err := deserializeEmbedding(blob, dim)
	if err != nil {
		return nil, err
	}
	entry.Embedding = embedding
	entry.MemoryType = types.MemoryType(memType)
	entry.SupersedesID = supersedes.String
	entry.CreatedAt = time.Unix(0, createdNano).UTC()
	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]types.MemoryEntry, error) {
	var entries []types.MemoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}
