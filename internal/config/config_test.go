package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q, want memory without DATABASE_URL", cfg.Store.Backend)
	}
	if cfg.Retrieval.Backend != "embedded" {
		t.Errorf("Retrieval.Backend = %q, want embedded without DATABASE_URL", cfg.Retrieval.Backend)
	}
	if cfg.Quota.DailyTokenLimit != 100_000 {
		t.Errorf("DailyTokenLimit = %d, want 100000", cfg.Quota.DailyTokenLimit)
	}
	if cfg.Cache.RetentionHours != 24 {
		t.Errorf("RetentionHours = %d, want 24", cfg.Cache.RetentionHours)
	}
	if cfg.Context.MaxContextTokens != 2000 {
		t.Errorf("MaxContextTokens = %d, want 2000", cfg.Context.MaxContextTokens)
	}
}

func TestLoad_DatabaseURLSelectsDurableBackends(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docschat")

	cfg := Load()
	if cfg.Store.Backend != "postgres" {
		t.Errorf("Store.Backend = %q, want postgres with DATABASE_URL set", cfg.Store.Backend)
	}
	if cfg.Retrieval.Backend != "pgvector" {
		t.Errorf("Retrieval.Backend = %q, want pgvector with DATABASE_URL set", cfg.Retrieval.Backend)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DOCSCHAT_PORT", "9090")
	t.Setenv("DAILY_TOKEN_LIMIT", "500")
	t.Setenv("DOCSCHAT_CACHE", "redis")
	t.Setenv("DOCSCHAT_MIN_SIMILARITY", "0.8")

	cfg := Load()
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Quota.DailyTokenLimit != 500 {
		t.Errorf("DailyTokenLimit = %d, want 500", cfg.Quota.DailyTokenLimit)
	}
	if cfg.Cache.Backend != "redis" {
		t.Errorf("Cache.Backend = %q, want redis", cfg.Cache.Backend)
	}
	if cfg.Context.MinSimilarityThreshold != 0.8 {
		t.Errorf("MinSimilarityThreshold = %v, want 0.8", cfg.Context.MinSimilarityThreshold)
	}
}

func TestEnvHelpers_MalformedValues(t *testing.T) {
	t.Setenv("DOCSCHAT_PORT", "not-a-number")
	t.Setenv("OTEL_ENABLED", "not-a-bool")

	cfg := Load()
	if cfg.Port != 8080 {
		t.Errorf("Port = %d for a malformed value, want the 8080 default", cfg.Port)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = true for a malformed value, want the false default")
	}
}
