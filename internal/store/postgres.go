package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudsecdocs/docschat/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store on a PostgreSQL pool. It creates its own
// tables on startup; schema migration tooling beyond that is out of scope.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS response_cache (
			cache_key      TEXT PRIMARY KEY,
			query          TEXT NOT NULL,
			context_digest TEXT NOT NULL,
			response       TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS api_usage (
			user_id           TEXT NOT NULL,
			date              TEXT NOT NULL,
			tokens_prompt     BIGINT NOT NULL DEFAULT 0,
			tokens_completion BIGINT NOT NULL DEFAULT 0,
			tokens_total      BIGINT NOT NULL DEFAULT 0,
			request_count     BIGINT NOT NULL DEFAULT 0,
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, date)
		);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	err := s.pool.QueryRow(ctx,
		`SELECT cache_key, query, context_digest, response, created_at
		 FROM response_cache WHERE cache_key = $1`, key,
	).Scan(&entry.CacheKey, &entry.Query, &entry.ContextDigest, &entry.Response, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "cache entry", Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO response_cache (cache_key, query, context_digest, response, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (cache_key) DO UPDATE SET
			query = EXCLUDED.query,
			context_digest = EXCLUDED.context_digest,
			response = EXCLUDED.response,
			created_at = EXCLUDED.created_at`,
		entry.CacheKey, entry.Query, entry.ContextDigest, entry.Response, createdAt)
	if err != nil {
		return fmt.Errorf("cache upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, userID, date string) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, date, tokens_prompt, tokens_completion, tokens_total, request_count, updated_at
		 FROM api_usage WHERE user_id = $1 AND date = $2`, userID, date,
	).Scan(&rec.UserID, &rec.Date, &rec.TokensPrompt, &rec.TokensCompletion,
		&rec.TokensTotal, &rec.RequestCount, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "usage record", Key: usageKey(userID, date)}
	}
	if err != nil {
		return nil, fmt.Errorf("usage lookup: %w", err)
	}
	return &rec, nil
}

// AddUsage is a single statement so concurrent requests from the same user
// cannot race a read-modify-write and under-count.
func (s *PostgresStore) AddUsage(ctx context.Context, userID, date string, promptTokens, completionTokens int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_usage (user_id, date, tokens_prompt, tokens_completion, tokens_total, request_count, updated_at)
		 VALUES ($1, $2, $3, $4, $3 + $4, 1, NOW())
		 ON CONFLICT (user_id, date) DO UPDATE SET
			tokens_prompt = api_usage.tokens_prompt + EXCLUDED.tokens_prompt,
			tokens_completion = api_usage.tokens_completion + EXCLUDED.tokens_completion,
			tokens_total = api_usage.tokens_total + EXCLUDED.tokens_total,
			request_count = api_usage.request_count + 1,
			updated_at = NOW()`,
		userID, date, promptTokens, completionTokens)
	if err != nil {
		return fmt.Errorf("usage update: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
