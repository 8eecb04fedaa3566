// Package embeddings provides vector embedding drivers for the retrieval
// layer. Drivers: openai (hosted), ollama (local).
package embeddings

import "context"

// Driver generates vector embeddings for batches of texts.
type Driver interface {
	// Kind returns the driver identifier.
	Kind() string

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// MaxBatchSize returns the max texts per Embed call.
	MaxBatchSize() int

	// Embed generates one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// HealthCheck verifies the backing service is reachable.
	HealthCheck(ctx context.Context) error
}
