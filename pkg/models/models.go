// Package models defines the shared data types for the docschat backend:
// conversation messages, retrieved documents, cache rows, and usage rows.
package models

import (
	"encoding/json"
	"time"
)

// ── Conversation ────────────────────────────────────────────

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of the in-flight conversation. The backend never
// persists conversation history; it belongs to the client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// LastUserMessage returns the most recent user turn, or nil if there is none.
func (r *ChatRequest) LastUserMessage() *ChatMessage {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return &r.Messages[i]
		}
	}
	return nil
}

// StreamEvent is one frame of the chat response stream.
type StreamEvent struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// ── Retrieval ───────────────────────────────────────────────

// RetrievedDoc is a passage returned by the retrieval layer. Similarity is
// in [0,1], higher is more relevant. Metadata is either an object or, for
// rows written by older indexers, a JSON-encoded string; SourceLabel handles
// both.
type RetrievedDoc struct {
	Content    string          `json:"content"`
	Similarity float64         `json:"similarity"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// SourceLabel extracts the "source" metadata field. Malformed or absent
// metadata falls back to "Documentation".
func (d *RetrievedDoc) SourceLabel() string {
	const fallback = "Documentation"
	if len(d.Metadata) == 0 {
		return fallback
	}
	raw := d.Metadata
	// Metadata serialized as a string holds a nested JSON document.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fallback
	}
	if src, ok := m["source"].(string); ok && src != "" {
		return src
	}
	return fallback
}

// VectorDoc is a document stored in the vector index by the ingest path.
type VectorDoc struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Vector    []float64         `json:"vector,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// IngestRequest is the body of POST /api/v1/documents.
type IngestRequest struct {
	Documents    []IngestDocument `json:"documents"`
	ChunkSize    int              `json:"chunk_size,omitempty"`
	ChunkOverlap int              `json:"chunk_overlap,omitempty"`
}

// IngestDocument is one raw document to chunk, embed, and index.
type IngestDocument struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IngestResult summarizes an ingest run.
type IngestResult struct {
	DocumentsProcessed int `json:"documents_processed"`
	ChunksCreated      int `json:"chunks_created"`
	VectorsStored      int `json:"vectors_stored"`
}

// ── Cache ───────────────────────────────────────────────────

// CacheEntry is one previously answered (query, context) pair. CacheKey is a
// deterministic function of the query and the context fingerprint; identical
// inputs always map to the same row.
type CacheEntry struct {
	CacheKey      string    `json:"cache_key"`
	Query         string    `json:"query"`
	ContextDigest string    `json:"context_digest"`
	Response      string    `json:"response"`
	CreatedAt     time.Time `json:"created_at"`
}

// ── Usage ───────────────────────────────────────────────────

// UsageRecord is one row per (userID, date). Counters only ever increase;
// TokensTotal is kept equal to TokensPrompt + TokensCompletion.
type UsageRecord struct {
	UserID           string    `json:"user_id"`
	Date             string    `json:"date"` // YYYY-MM-DD
	TokensPrompt     int64     `json:"tokens_prompt"`
	TokensCompletion int64     `json:"tokens_completion"`
	TokensTotal      int64     `json:"tokens_total"`
	RequestCount     int64     `json:"request_count"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// QuotaStatus is the answer to a quota check.
type QuotaStatus struct {
	Allowed   bool  `json:"allowed"`
	Used      int64 `json:"usage"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}
