package store

import (
	"context"
	"sync"
	"time"

	"github.com/cloudsecdocs/docschat/pkg/models"
)

// MemoryStore is a mutex-guarded in-memory Store. It is the zero-config
// default and the backend used by tests. Cache rows are never evicted here;
// expiry is enforced by the cache layer at lookup time.
type MemoryStore struct {
	mu    sync.RWMutex
	cache map[string]models.CacheEntry
	usage map[string]models.UsageRecord // key: userID:date
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: make(map[string]models.CacheEntry),
		usage: make(map[string]models.UsageRecord),
	}
}

func (s *MemoryStore) GetCacheEntry(_ context.Context, key string) (*models.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[key]
	if !ok {
		return nil, &ErrNotFound{Entity: "cache entry", Key: key}
	}
	cp := entry
	return &cp, nil
}

func (s *MemoryStore) PutCacheEntry(_ context.Context, entry *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[entry.CacheKey] = *entry
	return nil
}

func (s *MemoryStore) GetUsage(_ context.Context, userID, date string) (*models.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.usage[usageKey(userID, date)]
	if !ok {
		return nil, &ErrNotFound{Entity: "usage record", Key: usageKey(userID, date)}
	}
	cp := rec
	return &cp, nil
}

func (s *MemoryStore) AddUsage(_ context.Context, userID, date string, promptTokens, completionTokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := usageKey(userID, date)
	rec, ok := s.usage[k]
	if !ok {
		rec = models.UsageRecord{UserID: userID, Date: date}
	}
	rec.TokensPrompt += promptTokens
	rec.TokensCompletion += completionTokens
	rec.TokensTotal += promptTokens + completionTokens
	rec.RequestCount++
	rec.UpdatedAt = time.Now().UTC()
	s.usage[k] = rec
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func usageKey(userID, date string) string {
	return userID + ":" + date
}
