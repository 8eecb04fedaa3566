// Package server wires the docschat backend together: storage, cache,
// ledger, retrieval, completion, and the HTTP router. It is the composition
// root used by cmd/server and by integration tests.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudsecdocs/docschat/internal/api"
	"github.com/cloudsecdocs/docschat/internal/api/handlers"
	"github.com/cloudsecdocs/docschat/internal/cache"
	"github.com/cloudsecdocs/docschat/internal/chat"
	"github.com/cloudsecdocs/docschat/internal/completion"
	"github.com/cloudsecdocs/docschat/internal/config"
	"github.com/cloudsecdocs/docschat/internal/embeddings"
	"github.com/cloudsecdocs/docschat/internal/ingest"
	"github.com/cloudsecdocs/docschat/internal/retrieval"
	"github.com/cloudsecdocs/docschat/internal/store"
	"github.com/cloudsecdocs/docschat/internal/telemetry"
	"github.com/cloudsecdocs/docschat/internal/usage"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized docschat backend.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the primary data store (cache rows + usage rows).
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry; call it on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the backend with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	cacheStore, err := newCacheStore(ctx, cfg, dataStore)
	if err != nil {
		dataStore.Close()
		return nil, err
	}

	retention := time.Duration(cfg.Cache.RetentionHours) * time.Hour
	respCache := cache.New(cacheStore, cache.WithRetention(retention))
	ledger := usage.NewLedger(dataStore, usage.WithDailyLimit(cfg.Quota.DailyTokenLimit))

	emb, err := newEmbeddings(cfg)
	if err != nil {
		dataStore.Close()
		return nil, err
	}

	retriever, index, err := newRetriever(ctx, cfg, emb)
	if err != nil {
		dataStore.Close()
		return nil, err
	}

	completer, err := newCompleter(cfg)
	if err != nil {
		dataStore.Close()
		return nil, err
	}

	pipeline := chat.NewPipeline(retriever, completer, respCache, ledger,
		chat.WithContextBudget(cfg.Context.MaxContextTokens, cfg.Context.MinSimilarityThreshold))
	ingester := ingest.NewIngester(emb, index, ingest.DefaultChunkerConfig())

	h := handlers.New(pipeline, ledger, ingester)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
	case "memory", "":
		log.Info().Msg("in-memory store initialized")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

func newCacheStore(ctx context.Context, cfg *config.Config, dataStore store.Store) (store.CacheStore, error) {
	switch cfg.Cache.Backend {
	case "redis":
		ttl := time.Duration(cfg.Cache.RetentionHours) * time.Hour
		return store.NewRedisCacheStore(ctx, cfg.Cache.RedisAddr, ttl)
	case "store", "":
		return dataStore, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}
}

func newEmbeddings(cfg *config.Config) (embeddings.Driver, error) {
	switch cfg.Embeddings.Provider {
	case "openai", "":
		return embeddings.NewOpenAIDriver(cfg.Embeddings.APIKey, cfg.Embeddings.Model, cfg.Embeddings.Endpoint), nil
	case "ollama":
		return embeddings.NewOllamaDriver(cfg.Embeddings.Endpoint, cfg.Embeddings.Model), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.Embeddings.Provider)
	}
}

func newRetriever(ctx context.Context, cfg *config.Config, emb embeddings.Driver) (retrieval.Retriever, retrieval.Index, error) {
	switch cfg.Retrieval.Backend {
	case "pgvector":
		r, err := retrieval.NewPgvectorRetriever(ctx, cfg.Retrieval.DatabaseURL, emb)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	case "embedded", "":
		r := retrieval.NewEmbeddedRetriever(emb)
		return r, r, nil
	default:
		return nil, nil, fmt.Errorf("unknown retrieval backend: %s", cfg.Retrieval.Backend)
	}
}

func newCompleter(cfg *config.Config) (completion.Streamer, error) {
	switch cfg.Completion.Provider {
	case "anthropic", "":
		return completion.NewAnthropicStreamer(cfg.Completion.APIKey, cfg.Completion.Model, cfg.Completion.Endpoint), nil
	case "openai":
		return completion.NewOpenAIStreamer(cfg.Completion.APIKey, cfg.Completion.Model, cfg.Completion.Endpoint), nil
	default:
		return nil, fmt.Errorf("unknown completion provider: %s", cfg.Completion.Provider)
	}
}
