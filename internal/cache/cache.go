// Package cache implements the content-addressed response cache. Entries are
// keyed by a fingerprint of (query, context) so the same question asked
// against different retrieved context never serves the wrong answer.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cloudsecdocs/docschat/internal/store"
	"github.com/cloudsecdocs/docschat/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultRetention is how long a cached answer stays valid.
const DefaultRetention = 24 * time.Hour

// ResponseCache maps (query, context fingerprint) to previously generated
// answers. Every store failure degrades to a miss or a silent no-op; the
// cache must never fail a chat request.
type ResponseCache struct {
	store     store.CacheStore
	retention time.Duration
	now       func() time.Time
}

// Option configures the cache.
type Option func(*ResponseCache)

// WithRetention overrides the retention window.
func WithRetention(d time.Duration) Option {
	return func(c *ResponseCache) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithClock overrides the time source for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) { c.now = now }
}

// New creates a response cache backed by the given store.
func New(s store.CacheStore, opts ...Option) *ResponseCache {
	c := &ResponseCache{
		store:     s,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the cached answer for (query, contextText) if one exists
// and is younger than the retention window. Expired rows are treated as
// absent but not deleted; compaction belongs to the backend.
func (c *ResponseCache) Lookup(ctx context.Context, query, contextText string) (string, bool) {
	key := Key(query, Fingerprint(contextText))

	entry, err := c.store.GetCacheEntry(ctx, key)
	if err != nil {
		if !store.IsNotFound(err) {
			log.Warn().Err(err).Msg("cache lookup failed, treating as miss")
		}
		return "", false
	}

	if c.now().Sub(entry.CreatedAt) >= c.retention {
		log.Debug().Str("query", query).Msg("cache entry expired")
		return "", false
	}

	log.Info().Str("query", query).Msg("cache hit")
	return entry.Response, true
}

// Store upserts the answer for (query, contextText). Failures are logged and
// swallowed.
func (c *ResponseCache) Store(ctx context.Context, query, contextText, response string) {
	digest := Fingerprint(contextText)
	entry := &models.CacheEntry{
		CacheKey:      Key(query, digest),
		Query:         query,
		ContextDigest: digest,
		Response:      response,
		CreatedAt:     c.now().UTC(),
	}
	if err := c.store.PutCacheEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("cache store failed")
		return
	}
	log.Debug().Str("query", query).Msg("response cached")
}

// Fingerprint digests context text so cache keys stay bounded regardless of
// context size. SHA-256 makes an accidental collision between two different
// contexts practically impossible.
func Fingerprint(contextText string) string {
	sum := sha256.Sum256([]byte(contextText))
	return hex.EncodeToString(sum[:])
}

// Key derives the deterministic cache key for a query and context digest.
func Key(query, contextDigest string) string {
	sum := sha256.Sum256([]byte(query + ":" + contextDigest))
	return hex.EncodeToString(sum[:])
}
