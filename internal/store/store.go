// Package store provides the persistence ports and implementations for the
// docschat backend: cache rows and per-user daily usage rows.
package store

import (
	"context"

	"github.com/cloudsecdocs/docschat/pkg/models"
)

// CacheStore persists response-cache rows keyed by cache key.
type CacheStore interface {
	// GetCacheEntry returns the row for key, or *ErrNotFound.
	GetCacheEntry(ctx context.Context, key string) (*models.CacheEntry, error)

	// PutCacheEntry inserts or replaces the row. Last write wins.
	PutCacheEntry(ctx context.Context, entry *models.CacheEntry) error
}

// UsageStore persists per-user, per-day token counters.
type UsageStore interface {
	// GetUsage returns the row for (userID, date), or *ErrNotFound.
	GetUsage(ctx context.Context, userID, date string) (*models.UsageRecord, error)

	// AddUsage adds the given token counts to the row for (userID, date),
	// creating it if absent, and increments the request count. The update is
	// a single atomic operation so concurrent requests never under-count.
	AddUsage(ctx context.Context, userID, date string, promptTokens, completionTokens int64) error
}

// Store is the combined interface the durable backends implement. Handler
// and pipeline code depends only on the narrow ports above, so the cache can
// live in a different backend (e.g. Redis) than the usage ledger.
type Store interface {
	CacheStore
	UsageStore

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ErrNotFound is returned when a requested row does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is an *ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
