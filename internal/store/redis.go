package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudsecdocs/docschat/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisCacheStore implements CacheStore on Redis. Entries are stored as JSON
// with a TTL matching the cache retention window, so Redis handles expiry
// compaction that the relational backends leave to lookup-time checks.
type RedisCacheStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCacheStore connects to Redis and verifies reachability.
func NewRedisCacheStore(ctx context.Context, addr string, ttl time.Duration) (*RedisCacheStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info().Str("addr", addr).Dur("ttl", ttl).Msg("redis cache store initialized")
	return &RedisCacheStore{client: client, ttl: ttl}, nil
}

func (s *RedisCacheStore) GetCacheEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	raw, err := s.client.Get(ctx, cacheRedisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &ErrNotFound{Entity: "cache entry", Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("redis decode: %w", err)
	}
	return &entry, nil
}

func (s *RedisCacheStore) PutCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}
	if err := s.client.Set(ctx, cacheRedisKey(entry.CacheKey), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisCacheStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisCacheStore) Close() error {
	return s.client.Close()
}

func cacheRedisKey(key string) string {
	return "docschat:cache:" + key
}
