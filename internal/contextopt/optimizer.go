// Package contextopt assembles the retrieved-context block injected into the
// system prompt, trading relevance against a token budget.
package contextopt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cloudsecdocs/docschat/internal/usage"
	"github.com/cloudsecdocs/docschat/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxContextTokens bounds how much retrieved text goes into the
	// prompt.
	DefaultMaxContextTokens = 2000

	// DefaultMinSimilarity is the relevance floor for including a passage.
	DefaultMinSimilarity = 0.7

	// dominantSimilarity is the score above which a single passage is
	// considered sufficient on its own.
	dominantSimilarity = 0.85

	// maxDocuments caps how many passages go into one context block.
	maxDocuments = 3

	// followUpBudgetFactor shrinks the budget for follow-ups, which already
	// have prior context in scope.
	followUpBudgetFactor = 0.7
)

// Options configures a single optimization pass.
type Options struct {
	MaxContextTokens       int
	MinSimilarityThreshold float64
	IsFollowUp             bool
}

// Optimize builds the context text for a query from retrieved passages.
// Documents are re-sorted by similarity descending (the retriever is not
// trusted to pre-sort). Returns "" when nothing relevant is available, in
// which case no context block is injected at all.
func Optimize(query string, docs []models.RetrievedDoc, opts Options) string {
	if len(docs) == 0 {
		return ""
	}

	maxTokens := opts.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	minSimilarity := opts.MinSimilarityThreshold
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}

	sorted := make([]models.RetrievedDoc, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Similarity > sorted[j].Similarity
	})

	budget := maxTokens
	if opts.IsFollowUp {
		budget = int(float64(maxTokens) * followUpBudgetFactor)
	}

	// A very strong match stands alone: skip the budget and the rest.
	if sorted[0].Similarity > dominantSimilarity {
		return fmt.Sprintf("Here's relevant information from our documentation:\n\n%s\n\n", sorted[0].Content)
	}

	var sb strings.Builder
	sb.WriteString("Here are some relevant passages from our documentation that might help answer the question:\n\n")
	tokens := usage.EstimateTokens(sb.String())
	included := 0

	for _, doc := range sorted {
		if doc.Similarity < minSimilarity {
			continue
		}

		passage := fmt.Sprintf("Passage %d (from %s):\n%s\n\n", included+1, doc.SourceLabel(), doc.Content)
		passageTokens := usage.EstimateTokens(passage)

		if tokens+passageTokens > budget {
			// Some context beats none: the first passage goes in even when
			// it blows the budget.
			if included == 0 {
				sb.WriteString(passage)
				included++
			}
			break
		}

		sb.WriteString(passage)
		tokens += passageTokens
		included++

		if included >= maxDocuments {
			break
		}
	}

	if included == 0 {
		return ""
	}

	log.Debug().
		Int("documents", included).
		Int("tokens", tokens).
		Bool("follow_up", opts.IsFollowUp).
		Msg("context optimized")

	return sb.String()
}
