package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cloudsecdocs/docschat/internal/embeddings"
	"github.com/cloudsecdocs/docschat/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// defaultMaxVectors caps the embedded index; beyond this, pgvector is the
// right backend.
const defaultMaxVectors = 50_000

// EmbeddedRetriever is an in-memory brute-force cosine index. Suitable for
// development and small documentation sets; zero external dependencies.
type EmbeddedRetriever struct {
	mu         sync.RWMutex
	docs       map[string]models.VectorDoc
	embeddings embeddings.Driver
	maxVectors int
}

// NewEmbeddedRetriever creates an in-memory retriever.
func NewEmbeddedRetriever(emb embeddings.Driver) *EmbeddedRetriever {
	log.Info().Int("max_vectors", defaultMaxVectors).Msg("embedded retriever initialized")
	return &EmbeddedRetriever{
		docs:       make(map[string]models.VectorDoc),
		embeddings: emb,
		maxVectors: defaultMaxVectors,
	}
}

// Search embeds the query and scans all indexed documents.
func (r *EmbeddedRetriever) Search(ctx context.Context, query string, threshold float64, count int) ([]models.RetrievedDoc, error) {
	vectors, err := r.embeddings.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("no embedding returned for query")
	}
	if count <= 0 {
		count = 4
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []models.RetrievedDoc
	for _, d := range r.docs {
		if len(d.Vector) != len(vectors[0]) {
			continue
		}
		score := cosineSimilarity(vectors[0], d.Vector)
		if score < threshold {
			continue
		}
		metadata, _ := json.Marshal(d.Metadata)
		results = append(results, models.RetrievedDoc{
			Content:    d.Content,
			Similarity: score,
			Metadata:   metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > count {
		results = results[:count]
	}
	return results, nil
}

// Upsert inserts or replaces documents by ID.
func (r *EmbeddedRetriever) Upsert(_ context.Context, docs []models.VectorDoc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	newCount := 0
	for _, d := range docs {
		if _, exists := r.docs[d.ID]; !exists {
			newCount++
		}
	}
	if len(r.docs)+newCount > r.maxVectors {
		return fmt.Errorf("embedded index capacity exceeded: %d > %d (use pgvector)", len(r.docs)+newCount, r.maxVectors)
	}

	now := time.Now().UTC()
	for _, d := range docs {
		cp := d
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		r.docs[cp.ID] = cp
	}
	return nil
}

func (r *EmbeddedRetriever) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.docs)), nil
}

func (r *EmbeddedRetriever) HealthCheck(_ context.Context) error {
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
