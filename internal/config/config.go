package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the docschat backend.
type Config struct {
	Port       int
	Version    string
	Store      StoreConfig
	Cache      CacheConfig
	Quota      QuotaConfig
	Retrieval  RetrievalConfig
	Context    ContextConfig
	Completion CompletionConfig
	Embeddings EmbeddingsConfig
	Telemetry  TelemetryConfig
}

type StoreConfig struct {
	// Backend selects the persistence layer: "memory" or "postgres".
	Backend string
	// DatabaseURL is used when Backend is "postgres".
	DatabaseURL string
}

type CacheConfig struct {
	// Backend selects where cache rows live: "store" (same backend as the
	// usage ledger) or "redis".
	Backend        string
	RedisAddr      string
	RetentionHours int
}

type QuotaConfig struct {
	DailyTokenLimit int64
}

type RetrievalConfig struct {
	// Backend selects the retriever: "pgvector" or "embedded".
	Backend     string
	DatabaseURL string
	Dimensions  int
}

type ContextConfig struct {
	MaxContextTokens       int
	MinSimilarityThreshold float64
}

type CompletionConfig struct {
	// Provider selects the completion driver: "anthropic" or "openai".
	Provider string
	Model    string
	Endpoint string
	APIKey   string
}

type EmbeddingsConfig struct {
	// Provider selects the embedding driver: "openai" or "ollama".
	Provider string
	Model    string
	Endpoint string
	APIKey   string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	dbURL := envStr("DATABASE_URL", "")
	return &Config{
		Port:    envInt("DOCSCHAT_PORT", 8080),
		Version: envStr("DOCSCHAT_VERSION", "0.2.0"),
		Store: StoreConfig{
			Backend:     envStr("DOCSCHAT_STORE", defaultBackend(dbURL, "postgres", "memory")),
			DatabaseURL: dbURL,
		},
		Cache: CacheConfig{
			Backend:        envStr("DOCSCHAT_CACHE", "store"),
			RedisAddr:      envStr("DOCSCHAT_REDIS_ADDR", "localhost:6379"),
			RetentionHours: envInt("DOCSCHAT_CACHE_RETENTION_HOURS", 24),
		},
		Quota: QuotaConfig{
			DailyTokenLimit: int64(envInt("DAILY_TOKEN_LIMIT", 100_000)),
		},
		Retrieval: RetrievalConfig{
			Backend:     envStr("DOCSCHAT_RETRIEVAL", defaultBackend(dbURL, "pgvector", "embedded")),
			DatabaseURL: dbURL,
			Dimensions:  envInt("DOCSCHAT_VECTOR_DIMENSIONS", 1536),
		},
		Context: ContextConfig{
			MaxContextTokens:       envInt("DOCSCHAT_MAX_CONTEXT_TOKENS", 2000),
			MinSimilarityThreshold: envFloat("DOCSCHAT_MIN_SIMILARITY", 0.7),
		},
		Completion: CompletionConfig{
			Provider: envStr("DOCSCHAT_COMPLETION_PROVIDER", "anthropic"),
			Model:    envStr("DOCSCHAT_COMPLETION_MODEL", "claude-3-haiku-20240307"),
			Endpoint: envStr("DOCSCHAT_COMPLETION_ENDPOINT", ""),
			APIKey:   envStr("ANTHROPIC_API_KEY", ""),
		},
		Embeddings: EmbeddingsConfig{
			Provider: envStr("DOCSCHAT_EMBEDDINGS_PROVIDER", "openai"),
			Model:    envStr("DOCSCHAT_EMBEDDINGS_MODEL", "text-embedding-3-small"),
			Endpoint: envStr("DOCSCHAT_EMBEDDINGS_ENDPOINT", ""),
			APIKey:   envStr("OPENAI_API_KEY", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "docschat-backend"),
		},
	}
}

// defaultBackend picks the durable backend when a database URL is configured
// and the zero-config one otherwise.
func defaultBackend(dbURL, durable, fallback string) string {
	if dbURL != "" {
		return durable
	}
	return fallback
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
