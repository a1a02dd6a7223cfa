package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/pkg/types"
)

func newEntry(owner, content string, vec []float32, createdAt time.Time) *types.MemoryEntry {
	return &types.MemoryEntry{
		ID:          uuid.NewString(),
		Owner:       owner,
		Content:     content,
		Embedding:   vec,
		MemoryType:  types.MemoryTypeExplicit,
		CreatedAt:   createdAt,
		ContentHash: types.HashContent(content),
	}
}

func TestStoreAndQuery(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Store(ctx, newEntry("alice", "loves pizza", []float32{1, 0}, now)))
	require.NoError(t, s.Store(ctx, newEntry("alice", "lives in Berlin", []float32{0, 1}, now)))

	res, err := s.Query(ctx, "alice", []float32{1, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.Len())
	assert.Equal(t, "loves pizza", res.Entries[0].Entry.Content)
	assert.GreaterOrEqual(t, res.Entries[0].Score, 0.5)
}

func TestQuery_OwnerIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	// Identical embeddings for two owners: maximum possible overlap.
	require.NoError(t, s.Store(ctx, newEntry("alice", "alice fact", []float32{1, 0}, now)))
	require.NoError(t, s.Store(ctx, newEntry("bob", "bob fact", []float32{1, 0}, now)))

	res, err := s.Query(ctx, "alice", []float32{1, 0}, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, res.Len())
	assert.Equal(t, "alice", res.Entries[0].Entry.Owner)
}

func TestQuery_UnknownOwnerIsEmpty(t *testing.T) {
	s := New()
	res, err := s.Query(context.Background(), "nobody", []float32{1, 0}, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Len())
}

func TestQuery_TieBreakOnCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Store(ctx, newEntry("alice", "older", []float32{1, 0}, now.Add(-time.Hour))))
	require.NoError(t, s.Store(ctx, newEntry("alice", "newer", []float32{1, 0}, now)))

	res, err := s.Query(ctx, "alice", []float32{1, 0}, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())
	assert.Equal(t, "newer", res.Entries[0].Entry.Content, "equal scores order most recent first")
	assert.Equal(t, "older", res.Entries[1].Entry.Content)
}

func TestStore_RejectsInvalidEntry(t *testing.T) {
	s := New()
	err := s.Store(context.Background(), &types.MemoryEntry{Owner: "alice"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestDelete_ByPredicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Store(ctx, newEntry("alice", "I love pizza", []float32{1, 0}, now)))
	require.NoError(t, s.Store(ctx, newEntry("alice", "I love pasta", []float32{1, 0}, now)))
	require.NoError(t, s.Store(ctx, newEntry("alice", "Berlin is home", []float32{0, 1}, now)))

	removed, err := s.Delete(ctx, "alice", storage.DeletePredicate{ContentContains: "love"})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, err := s.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDelete_NoMatchesIsZeroNotError(t *testing.T) {
	s := New()
	removed, err := s.Delete(context.Background(), "alice", storage.DeletePredicate{ContentContains: "nothing"})
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestDelete_EmptyPredicateRejected(t *testing.T) {
	s := New()
	_, err := s.Delete(context.Background(), "alice", storage.DeletePredicate{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestGetByContentHash(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEntry("alice", "I love pizza", []float32{1, 0}, now)
	require.NoError(t, s.Store(ctx, e))

	got, err := s.GetByContentHash(ctx, "alice", e.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)

	_, err = s.GetByContentHash(ctx, "alice", types.HashContent("unknown"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetByContentHash(ctx, "bob", e.ContentHash)
	assert.ErrorIs(t, err, storage.ErrNotFound, "hash lookups are owner-scoped")
}

func TestCount(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Store(ctx, newEntry("alice", "a", []float32{1}, now)))
	require.NoError(t, s.Store(ctx, newEntry("alice", "b", []float32{1}, now)))
	require.NoError(t, s.Store(ctx, newEntry("bob", "c", []float32{1}, now)))

	n, err := s.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	total, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Close())

	err := s.Store(ctx, newEntry("alice", "a", []float32{1}, time.Now()))
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = s.Query(ctx, "alice", []float32{1}, 0, 1)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = s.Delete(ctx, "alice", storage.DeletePredicate{ContentContains: "a"})
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = s.Count(ctx, "")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestConcurrentOwners(t *testing.T) {
	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			owner := fmt.Sprintf("user-%d", g)
			for i := 0; i < 50; i++ {
				e := newEntry(owner, fmt.Sprintf("fact %d", i), []float32{1, float32(i)}, time.Now().UTC())
				if err := s.Store(ctx, e); err != nil {
					t.Errorf("store: %v", err)
					return
				}
				if _, err := s.Query(ctx, owner, []float32{1, 0}, 0, 5); err != nil {
					t.Errorf("query: %v", err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	total, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 8*50, total)
}
