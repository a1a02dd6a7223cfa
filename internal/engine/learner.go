package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/pkg/types"
)

// Turn is one conversational exchange handed to the learner.
type Turn struct {
	UserMessage       string
	AssistantResponse string
}

// Learner ingests conversational turns and explicit commands, persists
// the resulting memory entries, and invalidates the owner's cached
// retrievals before returning. A learn is not complete until the cache
// has been invalidated.
type Learner struct {
	store    storage.MemoryStore
	cache    *cache.ResponseCache
	embedder embedding.Generator
	policy   LearnPolicy
	timeout  time.Duration
	emit     func(Event)
}

// Remember creates an explicit memory entry for owner and returns its ID.
// An exact duplicate (same owner and content hash) is not stored again;
// the existing entry's ID is returned instead.
func (l *Learner) Remember(ctx context.Context, owner, content string) (string, error) {
	if err := types.ValidateOwner(owner); err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content", storage.ErrInvalidInput)
	}

	hash := types.HashContent(content)
	if existing, err := l.store.GetByContentHash(ctx, owner, hash); err == nil {
		log.Printf("learner: duplicate remember for owner=%s, reusing entry %s", owner, existing.ID)
		return existing.ID, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	entries, err := l.persist(ctx, owner, []Candidate{{Content: content, Type: types.MemoryTypeExplicit}})
	if err != nil {
		return "", err
	}
	return entries[0].ID, nil
}

// ProcessInteraction applies the learning policy to one turn. Ordinary
// turns may yield zero entries; that is a successful no-op.
func (l *Learner) ProcessInteraction(ctx context.Context, owner string, turn Turn) ([]types.MemoryEntry, error) {
	if err := types.ValidateOwner(owner); err != nil {
		return nil, err
	}

	candidates := l.policy.Extract(turn)
	if len(candidates) == 0 {
		return nil, nil
	}
	return l.persist(ctx, owner, candidates)
}

// Forget removes owner's entries matching pred, then invalidates the
// owner's cached retrievals. Zero matches is a successful no-op.
func (l *Learner) Forget(ctx context.Context, owner string, pred storage.DeletePredicate) (int, error) {
	if err := types.ValidateOwner(owner); err != nil {
		return 0, err
	}

	removed, err := l.store.Delete(ctx, owner, pred)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		l.cache.InvalidateOwner(owner)
		l.emit(Event{Type: EventMemoryDeleted, Owner: owner, Time: time.Now().UTC()})
		log.Printf("learner: forgot %d entries for owner=%s", removed, owner)
	}
	return removed, nil
}

// persist embeds and stores candidates, invalidating the owner's cache
// before returning whenever at least one entry was written.
//
// All embeddings are computed before the first store write: an embedding
// failure therefore commits no partial state. A store failure mid-batch
// can leave earlier entries persisted; the deferred invalidation still
// runs so the cache never serves results that predate them.
func (l *Learner) persist(ctx context.Context, owner string, candidates []Candidate) (created []types.MemoryEntry, err error) {
	defer func() {
		if len(created) > 0 {
			l.cache.InvalidateOwner(owner)
			for i := range created {
				l.emit(Event{Type: EventMemoryCreated, Owner: owner, EntryID: created[i].ID, Time: time.Now().UTC()})
			}
		}
	}()

	entries := make([]types.MemoryEntry, 0, len(candidates))
	for _, c := range candidates {
		vec, err := l.embed(ctx, c.Content)
		if err != nil {
			return nil, err
		}
		entries = append(entries, types.MemoryEntry{
			ID:          uuid.NewString(),
			Owner:       owner,
			Content:     c.Content,
			Embedding:   vec,
			MemoryType:  c.Type,
			CreatedAt:   time.Now().UTC(),
			ContentHash: types.HashContent(c.Content),
		})
	}

	for i := range entries {
		if err := l.store.Store(ctx, &entries[i]); err != nil {
			return created, err
		}
		created = append(created, entries[i])
	}

	log.Printf("learner: stored %d entries for owner=%s", len(created), owner)
	return created, nil
}

func (l *Learner) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	vec, err := l.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, embedding.ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", embedding.ErrUnavailable, err)
	}
	return vec, nil
}
