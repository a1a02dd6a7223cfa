// Package memstore provides the in-process memory store backend.
//
// Entries live in per-owner partitions so that a store or delete for one
// owner never blocks queries for another. Within a partition, writes
// serialize against each other while queries share a read lock.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/pkg/types"
)

// Store is an in-memory storage.MemoryStore.
type Store struct {
	partitions sync.Map // owner string -> *partition
	closed     atomic.Bool
}

type partition struct {
	mu      sync.RWMutex
	entries []types.MemoryEntry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

func (s *Store) partitionFor(owner string) *partition {
	if p, ok := s.partitions.Load(owner); ok {
		return p.(*partition)
	}
	p, _ := s.partitions.LoadOrStore(owner, &partition{})
	return p.(*partition)
}

// Store appends entry to its owner's partition.
func (s *Store) Store(ctx context.Context, entry *types.MemoryEntry) error {
	if s.closed.Load() {
		return storage.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: nil entry", storage.ErrInvalidInput)
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	p := s.partitionFor(entry.Owner)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, *entry)
	return nil
}

// Query ranks owner's entries against embedding per the store contract.
func (s *Store) Query(ctx context.Context, owner string, embedding []float32, threshold float64, limit int) (types.QueryResult, error) {
	if s.closed.Load() {
		return types.QueryResult{}, storage.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return types.QueryResult{}, err
	}
	if err := types.ValidateOwner(owner); err != nil {
		return types.QueryResult{}, err
	}
	if len(embedding) == 0 {
		return types.QueryResult{}, fmt.Errorf("%w: empty query embedding", storage.ErrInvalidInput)
	}

	p, ok := s.partitions.Load(owner)
	if !ok {
		return types.QueryResult{}, nil
	}
	part := p.(*partition)

	part.mu.RLock()
	candidates := make([]types.MemoryEntry, len(part.entries))
	copy(candidates, part.entries)
	part.mu.RUnlock()

	return storage.Rank(candidates, embedding, threshold, limit), nil
}

// Delete removes owner's entries matching pred and returns the count.
func (s *Store) Delete(ctx context.Context, owner string, pred storage.DeletePredicate) (int, error) {
	if s.closed.Load() {
		return 0, storage.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := types.ValidateOwner(owner); err != nil {
		return 0, err
	}
	if pred.Empty() {
		return 0, fmt.Errorf("%w: empty delete predicate", storage.ErrInvalidInput)
	}

	p, ok := s.partitions.Load(owner)
	if !ok {
		return 0, nil
	}
	part := p.(*partition)

	part.mu.Lock()
	defer part.mu.Unlock()

	kept := part.entries[:0]
	removed := 0
	for i := range part.entries {
		if pred.Matches(&part.entries[i]) {
			removed++
			continue
		}
		kept = append(kept, part.entries[i])
	}
	part.entries = kept
	return removed, nil
}

// GetByContentHash returns owner's most recent entry with the given hash.
func (s *Store) GetByContentHash(ctx context.Context, owner, hash string) (*types.MemoryEntry, error) {
	if s.closed.Load() {
		return nil, storage.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateOwner(owner); err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, fmt.Errorf("%w: empty content hash", storage.ErrInvalidInput)
	}

	p, ok := s.partitions.Load(owner)
	if !ok {
		return nil, storage.ErrNotFound
	}
	part := p.(*partition)

	part.mu.RLock()
	defer part.mu.RUnlock()

	var found *types.MemoryEntry
	for i := range part.entries {
		e := &part.entries[i]
		if e.ContentHash != hash {
			continue
		}
		if found == nil || e.CreatedAt.After(found.CreatedAt) {
			found = e
		}
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	out := *found
	return &out, nil
}

// Count returns owner's entry count, or the total when owner is empty.
func (s *Store) Count(ctx context.Context, owner string) (int, error) {
	if s.closed.Load() {
		return 0, storage.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if owner != "" {
		p, ok := s.partitions.Load(owner)
		if !ok {
			return 0, nil
		}
		part := p.(*partition)
		part.mu.RLock()
		defer part.mu.RUnlock()
		return len(part.entries), nil
	}

	total := 0
	s.partitions.Range(func(_, v any) bool {
		part := v.(*partition)
		part.mu.RLock()
		total += len(part.entries)
		part.mu.RUnlock()
		return true
	})
	return total, nil
}

// Close marks the store unavailable. Subsequent operations return
// storage.ErrUnavailable, which also makes the store's failure mode easy
// to exercise in tests.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
