// Package engine wires the memory core together: the interaction learner,
// the retrieval orchestrator, and the response cache in front of the
// semantic memory store.
//
// The engine is the only legitimate path between the cache and the store.
// Retrieval results enter the cache exclusively through the orchestrator,
// and every learner mutation invalidates the owner's cached retrievals
// before it returns, so a completed learn is always visible to the next
// retrieve.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/pkg/types"
)

// Config holds engine tuning. All values are fixed at construction and
// immutable for the process lifetime.
type Config struct {
	// DefaultThreshold is the similarity cutoff used when the caller does
	// not supply one. Default: 0.3.
	DefaultThreshold float64

	// DefaultLimit is the maximum result count used when the caller does
	// not supply one. Default: 5.
	DefaultLimit int

	// EmbedTimeout bounds each embedding provider call. Default: 10s.
	EmbedTimeout time.Duration

	// Policy decides what an ordinary conversational turn contributes to
	// memory. Nil selects DefaultPolicy.
	Policy LearnPolicy
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DefaultThreshold: 0.3,
		DefaultLimit:     5,
		EmbedTimeout:     10 * time.Second,
	}
}

// Validate checks config ranges.
func (c *Config) Validate() error {
	if c.DefaultThreshold < 0 || c.DefaultThreshold > 1 {
		return fmt.Errorf("default threshold %v outside [0,1]", c.DefaultThreshold)
	}
	if c.DefaultLimit < 1 {
		return fmt.Errorf("default limit %d must be at least 1", c.DefaultLimit)
	}
	if c.EmbedTimeout <= 0 {
		return fmt.Errorf("embed timeout %v must be positive", c.EmbedTimeout)
	}
	return nil
}

// Event describes a memory mutation, published to observers (websocket
// feed, cross-process notify writer).
type Event struct {
	Type    string    `json:"type"` // "memory.created" or "memory.deleted"
	Owner   string    `json:"owner"`
	EntryID string    `json:"entry_id,omitempty"`
	Time    time.Time `json:"time"`
}

// Event types.
const (
	EventMemoryCreated = "memory.created"
	EventMemoryDeleted = "memory.deleted"
)

// Stats is the read-only observability snapshot for /api/stats.
type Stats struct {
	Cache cache.Stats `json:"cache"`
	Store StoreStats  `json:"store"`
}

// StoreStats summarizes the memory store.
type StoreStats struct {
	TotalEntries int `json:"total_entries"`
}

// Engine owns the store, cache and embedder and exposes the five semantic
// operations of the memory core.
type Engine struct {
	store    storage.MemoryStore
	cache    *cache.ResponseCache
	config   Config
	learner  *Learner
	retrieve *Orchestrator

	mu       sync.Mutex
	started  bool
	onEvent  func(Event)
}

// New creates an engine over the given store, cache and embedder.
func New(store storage.MemoryStore, responseCache *cache.ResponseCache, embedder embedding.Generator, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy()
	}

	e := &Engine{
		store:  store,
		cache:  responseCache,
		config: cfg,
	}
	e.learner = &Learner{
		store:    store,
		cache:    responseCache,
		embedder: embedder,
		policy:   cfg.Policy,
		timeout:  cfg.EmbedTimeout,
		emit:     e.publish,
	}
	e.retrieve = &Orchestrator{
		store:    store,
		cache:    responseCache,
		embedder: embedder,
		timeout:  cfg.EmbedTimeout,
	}
	return e, nil
}

// OnEvent registers a mutation observer. Safe to call at any time; the
// latest registration wins.
func (e *Engine) OnEvent(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = fn
}

func (e *Engine) publish(evt Event) {
	e.mu.Lock()
	fn := e.onEvent
	e.mu.Unlock()
	if fn != nil {
		fn(evt)
	}
}

// Start verifies the store is reachable and marks the engine running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}
	if _, err := e.store.Count(ctx, ""); err != nil {
		return fmt.Errorf("store not reachable: %w", err)
	}
	e.started = true
	log.Println("engine: started")
	return nil
}

// Shutdown drops the cache and closes the store.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false
	e.cache.Purge()
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	log.Println("engine: shut down")
	return nil
}

// Remember creates an explicit memory entry and returns its ID.
func (e *Engine) Remember(ctx context.Context, owner, content string) (string, error) {
	return e.learner.Remember(ctx, owner, content)
}

// Forget removes owner's entries matching pred, returning the count.
func (e *Engine) Forget(ctx context.Context, owner string, pred storage.DeletePredicate) (int, error) {
	return e.learner.Forget(ctx, owner, pred)
}

// ProcessInteraction runs the implicit-learning path over one turn.
func (e *Engine) ProcessInteraction(ctx context.Context, owner string, turn Turn) ([]types.MemoryEntry, error) {
	return e.learner.ProcessInteraction(ctx, owner, turn)
}

// Retrieve answers a query from the cache or, on miss, from the store.
func (e *Engine) Retrieve(ctx context.Context, owner, query string, threshold float64, limit int) (types.QueryResult, error) {
	return e.retrieve.Retrieve(ctx, owner, query, threshold, limit)
}

// InvalidateOwner drops owner's cached retrievals. Exposed for the
// cross-process notify watcher.
func (e *Engine) InvalidateOwner(owner string) int {
	return e.cache.InvalidateOwner(owner)
}

// DefaultThreshold returns the configured similarity cutoff.
func (e *Engine) DefaultThreshold() float64 { return e.config.DefaultThreshold }

// DefaultLimit returns the configured result limit.
func (e *Engine) DefaultLimit() int { return e.config.DefaultLimit }

// Stats returns a read-only snapshot of cache and store metrics.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	total, err := e.store.Count(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Cache: e.cache.Stats(),
		Store: StoreStats{TotalEntries: total},
	}, nil
}
