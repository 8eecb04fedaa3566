// Package followup classifies whether a query continues the previous
// exchange. It is a deterministic lexical heuristic, not a semantic model;
// false positives only shrink the retrieval budget, they never break answers.
package followup

import (
	"strings"

	"github.com/cloudsecdocs/docschat/pkg/models"
)

// shortQueryWords is the word count below which a query is assumed to lean
// on prior context.
const shortQueryWords = 5

// overlapThreshold is the shared-vocabulary ratio above which a query is
// treated as circling back to a recent question.
const overlapThreshold = 0.4

var markers = []string{
	"tell me more",
	"explain further",
	"can you elaborate",
	"why",
	"how",
	"what about",
	"and",
	"also",
	"elaborate",
	"examples",
	"more details",
	"but what if",
	"what else",
	"could you",
	"follow up",
	"continue",
	"go on",
	"tell me about",
	"specifically",
	"expand on",
	"furthermore",
}

// IsFollowUp reports whether query continues the conversation in history.
// History is the full message list including the current query; fewer than
// three turns means no completed exchange exists to follow up on.
func IsFollowUp(query string, history []models.ChatMessage) bool {
	if len(history) < 3 {
		return false
	}

	if len(strings.Fields(query)) < shortQueryWords {
		return true
	}

	lower := strings.ToLower(query)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}

	for _, prev := range lastUserTurns(history, 2) {
		if wordOverlap(lower, strings.ToLower(prev)) > overlapThreshold {
			return true
		}
	}
	return false
}

// lastUserTurns returns up to n user messages preceding the current one.
func lastUserTurns(history []models.ChatMessage, n int) []string {
	var users []string
	for _, m := range history {
		if m.Role == models.RoleUser {
			users = append(users, m.Content)
		}
	}
	if len(users) == 0 {
		return nil
	}
	// Drop the current query itself.
	users = users[:len(users)-1]
	if len(users) > n {
		users = users[len(users)-n:]
	}
	return users
}

// wordOverlap computes the share of significant words (longer than three
// characters) the two strings have in common, relative to the smaller set.
func wordOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			shared++
		}
	}

	smaller := len(setA)
	if len(setB) < smaller {
		smaller = len(setB)
	}
	return float64(shared) / float64(smaller)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		if len(w) > 3 {
			set[w] = struct{}{}
		}
	}
	return set
}
