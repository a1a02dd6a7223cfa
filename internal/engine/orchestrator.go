package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/cachekey"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/pkg/types"
)

// Orchestrator is the public retrieval entry point and the only component
// that reads or populates the response cache with retrieval results.
type Orchestrator struct {
	store    storage.MemoryStore
	cache    *cache.ResponseCache
	embedder embedding.Generator
	timeout  time.Duration
}

// Retrieve answers a query for owner. The cache is consulted first; on a
// miss the store is queried and the result cached before returning.
// Failures are never cached, and a cancelled request never writes the
// cache.
func (o *Orchestrator) Retrieve(ctx context.Context, owner, query string, threshold float64, limit int) (types.QueryResult, error) {
	if err := types.ValidateOwner(owner); err != nil {
		return types.QueryResult{}, err
	}
	if threshold < 0 || threshold > 1 {
		return types.QueryResult{}, fmt.Errorf("%w: threshold %v outside [0,1]", storage.ErrInvalidInput, threshold)
	}
	if limit < 1 {
		return types.QueryResult{}, fmt.Errorf("%w: limit %d must be at least 1", storage.ErrInvalidInput, limit)
	}

	key := cachekey.Derive(owner, cachekey.Request{Query: query, Threshold: threshold, Limit: limit})

	if result, ok := o.cache.Get(key); ok {
		return result, nil
	}

	vec, err := o.embed(ctx, query)
	if err != nil {
		return types.QueryResult{}, err
	}

	result, err := o.store.Query(ctx, owner, vec, threshold, limit)
	if err != nil {
		return types.QueryResult{}, err
	}

	// A cancelled caller gets no answer and leaves no cache write behind.
	if err := ctx.Err(); err != nil {
		return types.QueryResult{}, err
	}

	o.cache.Put(key, result)
	return result, nil
}

func (o *Orchestrator) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	vec, err := o.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embedding.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", embedding.ErrUnavailable, err)
	}
	return vec, nil
}
