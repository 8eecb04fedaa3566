// Package retrieval supplies ranked documentation passages for a query.
// Drivers: pgvector (PostgreSQL + pgvector extension) and embedded
// (in-memory brute-force cosine search) for development and tests.
package retrieval

import (
	"context"

	"github.com/cloudsecdocs/docschat/pkg/models"
)

// Retriever performs similarity search over the documentation index.
// Implementations are not required to return results sorted; callers sort
// defensively.
type Retriever interface {
	// Search returns up to count passages with similarity >= threshold.
	Search(ctx context.Context, query string, threshold float64, count int) ([]models.RetrievedDoc, error)

	// HealthCheck verifies the index is reachable.
	HealthCheck(ctx context.Context) error
}

// Index is the write side of the documentation index, used by the ingest
// path.
type Index interface {
	// Upsert inserts or replaces documents by ID.
	Upsert(ctx context.Context, docs []models.VectorDoc) error

	// Count returns the number of indexed documents.
	Count(ctx context.Context) (int64, error)
}
