// Package storage defines the semantic memory store contract and the
// pieces shared by its backends.
//
// A store is strictly user-partitioned: every operation is scoped to
// exactly one owner, and cross-owner leakage is a correctness violation,
// not a tuning problem. Backends: memstore (in-process), sqlite (durable
// single node), postgres (pgvector, production).
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/mnemo-ai/mnemo/pkg/types"
)

var (
	// ErrUnavailable indicates the underlying store could not be reached.
	// It is always surfaced to the caller: an empty result and an
	// unreachable store are semantically different outcomes.
	ErrUnavailable = errors.New("memory store unavailable")

	// ErrInvalidInput indicates malformed operation parameters.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates the requested entry does not exist.
	ErrNotFound = errors.New("memory entry not found")
)

// DeletePredicate selects entries for removal within one owner's
// partition. Fields combine with AND; at least one must be set.
type DeletePredicate struct {
	// ContentContains matches entries whose content includes the given
	// substring, case-insensitively.
	ContentContains string

	// MemoryType matches entries with this exact provenance tag.
	MemoryType types.MemoryType
}

// Empty reports whether the predicate selects nothing.
func (p DeletePredicate) Empty() bool {
	return p.ContentContains == "" && p.MemoryType == ""
}

// Matches reports whether entry satisfies the predicate.
func (p DeletePredicate) Matches(entry *types.MemoryEntry) bool {
	if p.Empty() {
		return false
	}
	if p.ContentContains != "" &&
		!strings.Contains(strings.ToLower(entry.Content), strings.ToLower(p.ContentContains)) {
		return false
	}
	if p.MemoryType != "" && entry.MemoryType != p.MemoryType {
		return false
	}
	return true
}

// MemoryStore is the semantic memory store: a persistent, user-partitioned
// collection of embedded entries supporting similarity search.
type MemoryStore interface {
	// Store persists an entry under its owner's partition. Entries are
	// append-only: the same ID is never overwritten. The entry must carry
	// a precomputed embedding and pass types.MemoryEntry Validate.
	Store(ctx context.Context, entry *types.MemoryEntry) error

	// Query returns entries belonging only to owner, ranked by descending
	// similarity to embedding, filtered to scores >= threshold and
	// truncated to limit. Entries with identical scores order by
	// CreatedAt descending. Scores are deterministic for fixed inputs.
	Query(ctx context.Context, owner string, embedding []float32, threshold float64, limit int) (types.QueryResult, error)

	// Delete removes all of owner's entries matching pred and returns the
	// count removed. Zero matches is not an error.
	Delete(ctx context.Context, owner string, pred DeletePredicate) (int, error)

	// GetByContentHash returns owner's most recent entry with the given
	// content hash, or ErrNotFound. Supports dedupe of explicit remembers.
	GetByContentHash(ctx context.Context, owner, hash string) (*types.MemoryEntry, error)

	// Count returns the number of entries for owner, or the total across
	// all owners when owner is empty.
	Count(ctx context.Context, owner string) (int, error)

	// Close releases resources. Operations on a closed store return
	// ErrUnavailable.
	Close() error
}
