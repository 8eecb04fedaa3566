// Package chat implements the request pipeline that turns an incoming user
// message into a streamed, quota- and cache-aware answer:
//
//	quota check → cache lookup → follow-up classification → retrieval →
//	context optimization → prompt build → streamed generation →
//	cache store → usage recording
//
// Control flow is strictly linear with early exits on quota exhaustion and
// cache hits.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudsecdocs/docschat/internal/cache"
	"github.com/cloudsecdocs/docschat/internal/completion"
	"github.com/cloudsecdocs/docschat/internal/contextopt"
	"github.com/cloudsecdocs/docschat/internal/followup"
	"github.com/cloudsecdocs/docschat/internal/retrieval"
	"github.com/cloudsecdocs/docschat/internal/usage"
	"github.com/cloudsecdocs/docschat/pkg/models"
	"github.com/rs/zerolog/log"
)

// Retrieval and generation budgets. Follow-ups get stricter retrieval and a
// smaller completion budget because prior context is already in scope.
const (
	matchThreshold         = 0.5
	matchCount             = 4
	followUpMatchThreshold = 0.75
	followUpMatchCount     = 2

	maxCompletionTokens         = 1200
	followUpMaxCompletionTokens = 800
)

// ErrNoUserMessage is returned when the request carries no user turn.
var ErrNoUserMessage = errors.New("no user message provided")

// QuotaExceededError is returned when the user's daily token budget is
// spent. It carries the usage detail surfaced in the 429 body.
type QuotaExceededError struct {
	Status models.QuotaStatus
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily token limit exceeded: %d/%d", e.Status.Used, e.Status.Limit)
}

// Sink receives answer fragments in arrival order. A Send error means the
// client is gone; the pipeline stops pulling chunks.
type Sink interface {
	Send(event models.StreamEvent) error
}

// Pipeline orchestrates one chat request end to end. All collaborators are
// injected so tests can substitute in-memory fakes.
type Pipeline struct {
	retriever retrieval.Retriever
	completer completion.Streamer
	cache     *cache.ResponseCache
	ledger    *usage.Ledger

	maxContextTokens int
	minSimilarity    float64
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithContextBudget overrides the context token budget and similarity floor.
func WithContextBudget(maxTokens int, minSimilarity float64) Option {
	return func(p *Pipeline) {
		if maxTokens > 0 {
			p.maxContextTokens = maxTokens
		}
		if minSimilarity > 0 {
			p.minSimilarity = minSimilarity
		}
	}
}

// NewPipeline creates the chat pipeline.
func NewPipeline(r retrieval.Retriever, c completion.Streamer, rc *cache.ResponseCache, l *usage.Ledger, opts ...Option) *Pipeline {
	p := &Pipeline{
		retriever:        r,
		completer:        c,
		cache:            rc,
		ledger:           l,
		maxContextTokens: contextopt.DefaultMaxContextTokens,
		minSimilarity:    contextopt.DefaultMinSimilarity,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Respond runs the pipeline for one request, forwarding answer fragments to
// sink as they arrive. Errors returned before the first Send map to HTTP
// error responses; once streaming has begun the partial output already sent
// stands and the stream simply terminates.
func (p *Pipeline) Respond(ctx context.Context, userID string, req models.ChatRequest, sink Sink) error {
	last := req.LastUserMessage()
	if last == nil || strings.TrimSpace(last.Content) == "" {
		return ErrNoUserMessage
	}
	query := last.Content

	quota := p.ledger.CheckQuota(ctx, userID)
	if !quota.Allowed {
		log.Info().Str("user", userID).Int64("used", quota.Used).Int64("limit", quota.Limit).Msg("quota exceeded")
		return &QuotaExceededError{Status: quota}
	}

	// Pre-retrieval fast path: exact repeats of a query answered without
	// context are served before paying retrieval cost. Answers generated
	// with context live under their real context fingerprint and are not
	// reachable from here.
	if cached, ok := p.cache.Lookup(ctx, query, ""); ok {
		return sink.Send(models.StreamEvent{Content: cached, Role: models.RoleAssistant})
	}

	isFollowUp := followup.IsFollowUp(query, req.Messages)

	contextText, degraded := p.retrieveContext(ctx, query, isFollowUp)

	systemPrompt := BuildSystemPrompt(contextText, degraded)

	maxTokens := maxCompletionTokens
	if isFollowUp {
		maxTokens = followUpMaxCompletionTokens
	}

	stream, err := p.completer.Stream(ctx, completion.Request{
		SystemPrompt: systemPrompt,
		Messages:     req.Messages,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return fmt.Errorf("start completion: %w", err)
	}

	// Relay each chunk immediately and accumulate the full answer for cache
	// and usage bookkeeping.
	var full strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			// Partial output must never be cached or billed.
			return fmt.Errorf("completion stream: %w", chunk.Err)
		}
		if chunk.Done {
			break
		}
		if chunk.Text == "" {
			continue
		}
		if err := sink.Send(models.StreamEvent{Content: chunk.Text, Role: models.RoleAssistant}); err != nil {
			log.Warn().Err(err).Msg("client disconnected mid-stream")
			return fmt.Errorf("send chunk: %w", err)
		}
		full.WriteString(chunk.Text)
	}

	// A cancelled stream may close without a terminal chunk; the partial
	// answer must not reach the cache or the ledger.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("completion stream: %w", err)
	}

	answer := full.String()
	if answer == "" {
		return nil
	}

	p.cache.Store(ctx, query, contextText, answer)

	promptTokens := usage.EstimateTokens(systemPrompt)
	for _, m := range req.Messages {
		promptTokens += usage.EstimateTokens(m.Content)
	}
	completionTokens := usage.EstimateTokens(answer)
	p.ledger.RecordUsage(ctx, userID, promptTokens, completionTokens)

	log.Info().
		Str("user", userID).
		Bool("follow_up", isFollowUp).
		Int("prompt_tokens", promptTokens).
		Int("completion_tokens", completionTokens).
		Msg("chat request complete")

	return nil
}

// retrieveContext searches the documentation index and assembles the context
// block. Retrieval failures are recovered locally: the pipeline continues
// with no context and a degraded flag that adds a disclaimer to the prompt.
func (p *Pipeline) retrieveContext(ctx context.Context, query string, isFollowUp bool) (contextText string, degraded bool) {
	// Clear continuations like "tell me more" reuse prior context; skip the
	// retrieval spend entirely.
	if isFollowUp && strings.Contains(strings.ToLower(query), "tell me more") {
		log.Debug().Msg("skipping retrieval for continuation follow-up")
		return "", false
	}

	threshold, count := matchThreshold, matchCount
	if isFollowUp {
		threshold, count = followUpMatchThreshold, followUpMatchCount
	}

	docs, err := p.retriever.Search(ctx, query, threshold, count)
	if err != nil {
		log.Warn().Err(err).Msg("retrieval failed, continuing without context")
		return "", true
	}

	return contextopt.Optimize(query, docs, contextopt.Options{
		MaxContextTokens:       p.maxContextTokens,
		MinSimilarityThreshold: p.minSimilarity,
		IsFollowUp:             isFollowUp,
	}), false
}
