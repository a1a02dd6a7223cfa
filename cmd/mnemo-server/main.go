package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnemo-ai/mnemo/internal/cache"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/engine"
	"github.com/mnemo-ai/mnemo/internal/notify"
	"github.com/mnemo-ai/mnemo/internal/server"
	"github.com/mnemo-ai/mnemo/internal/storage"
	"github.com/mnemo-ai/mnemo/internal/storage/memstore"
	"github.com/mnemo-ai/mnemo/internal/storage/postgres"
	"github.com/mnemo-ai/mnemo/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	embedder := buildEmbedder(cfg)

	engineCfg := engine.DefaultConfig()
	engineCfg.DefaultThreshold = cfg.Retrieval.Threshold
	engineCfg.DefaultLimit = cfg.Retrieval.Limit
	engineCfg.EmbedTimeout = cfg.Embedding.Timeout.Std()

	eng, err := engine.New(store, cache.New(cfg.Cache.Capacity), embedder, engineCfg)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	addr, hub, err := server.Start(ctx, cfg, eng)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Mutations fan out to the websocket feed and, for sibling processes
	// sharing the data directory, to filesystem event files. Writer and
	// watcher share an origin so we never re-consume our own events.
	origin := notify.DefaultOrigin()
	writer := notify.NewEventWriter(cfg.Storage.DataPath, origin)
	eng.OnEvent(func(evt engine.Event) {
		hub.Publish(evt)
		if err := writer.Notify(evt.Type, evt.Owner, evt.EntryID); err != nil {
			log.Printf("Failed to write notify event: %v", err)
		}
	})

	// Events written by other processes invalidate our cached retrievals.
	watcher := notify.NewEventWatcher(cfg.Storage.DataPath, origin, func(evt notify.Event) {
		dropped := eng.InvalidateOwner(evt.Owner)
		if dropped > 0 {
			log.Printf("Invalidated %d cached retrievals for owner=%s after external %s", dropped, evt.Owner, evt.Type)
		}
	})
	if err := watcher.Start(); err != nil {
		log.Printf("Warning: notify watcher unavailable: %v", err)
		watcher = nil
	}

	log.Printf("mnemo server running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")

	if watcher != nil {
		watcher.Stop()
	}
	if err := eng.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down engine: %v", err)
	}

	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// openStore builds the memory store named by the config.
func openStore(cfg *config.Config) (storage.MemoryStore, error) {
	switch cfg.Storage.Engine {
	case "memory":
		return memstore.New(), nil
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, err
		}
		return sqlite.New(cfg.Storage.DataPath + "/mnemo.db")
	case "postgres":
		return postgres.New(cfg.Storage.PostgresDSN, cfg.Embedding.Dimensions)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

// buildEmbedder builds the embedding provider named by the config.
func buildEmbedder(cfg *config.Config) embedding.Generator {
	switch cfg.Embedding.Provider {
	case "mock":
		return embedding.NewMock(cfg.Embedding.Dimensions)
	case "openai":
		return embedding.NewOpenAIClient(embedding.OpenAIConfig{
			APIKey:     cfg.Embedding.OpenAIAPIKey,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout.Std(),
		})
	default:
		return embedding.NewOllamaClient(embedding.OllamaConfig{
			BaseURL:    cfg.Embedding.OllamaURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout.Std(),
		})
	}
}
