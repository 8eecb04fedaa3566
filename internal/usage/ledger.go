// Package usage tracks per-user daily token consumption and enforces the
// daily quota.
package usage

import (
	"context"
	"time"

	"github.com/cloudsecdocs/docschat/internal/store"
	"github.com/cloudsecdocs/docschat/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultDailyTokenLimit is the per-user daily token budget.
const DefaultDailyTokenLimit = 100_000

// Ledger answers quota questions and records token usage. Store failures are
// never fatal: quota checks fail open and recording degrades to a warning,
// so a ledger outage cannot block chat.
type Ledger struct {
	store store.UsageStore
	limit int64
	now   func() time.Time
}

// Option configures the ledger.
type Option func(*Ledger)

// WithDailyLimit overrides the default daily token budget.
func WithDailyLimit(limit int64) Option {
	return func(l *Ledger) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

// WithClock overrides the time source. Tests use it to pin the date.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a usage ledger backed by the given store.
func NewLedger(s store.UsageStore, opts ...Option) *Ledger {
	l := &Ledger{
		store: s,
		limit: DefaultDailyTokenLimit,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckQuota reports whether userID may spend more tokens today. An absent
// record means zero usage.
func (l *Ledger) CheckQuota(ctx context.Context, userID string) models.QuotaStatus {
	status := models.QuotaStatus{Allowed: true, Limit: l.limit, Remaining: l.limit}

	rec, err := l.store.GetUsage(ctx, userID, l.today())
	if err != nil {
		if !store.IsNotFound(err) {
			log.Warn().Err(err).Str("user", userID).Msg("quota check failed, allowing request")
		}
		return status
	}

	status.Used = rec.TokensTotal
	status.Allowed = rec.TokensTotal < l.limit
	status.Remaining = l.limit - rec.TokensTotal
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	return status
}

// RecordUsage adds token counts to today's record for userID, creating it on
// first use. Safe to call with zero counts.
func (l *Ledger) RecordUsage(ctx context.Context, userID string, promptTokens, completionTokens int) {
	if userID == "" {
		userID = "anonymous"
	}
	err := l.store.AddUsage(ctx, userID, l.today(), int64(promptTokens), int64(completionTokens))
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("usage recording failed")
		return
	}
	log.Debug().
		Str("user", userID).
		Int("prompt_tokens", promptTokens).
		Int("completion_tokens", completionTokens).
		Msg("usage recorded")
}

// Today returns today's ledger record for userID, or a zero record if none
// exists yet.
func (l *Ledger) Today(ctx context.Context, userID string) (*models.UsageRecord, error) {
	rec, err := l.store.GetUsage(ctx, userID, l.today())
	if store.IsNotFound(err) {
		return &models.UsageRecord{UserID: userID, Date: l.today()}, nil
	}
	return rec, err
}

// Limit returns the configured daily token budget.
func (l *Ledger) Limit() int64 { return l.limit }

func (l *Ledger) today() string {
	return l.now().UTC().Format("2006-01-02")
}

// EstimateTokens approximates the token count of text as ceil(len/4).
// Providers tokenize differently; this is an accounting heuristic, not an
// exact count.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
