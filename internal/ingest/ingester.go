package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudsecdocs/docschat/internal/embeddings"
	"github.com/cloudsecdocs/docschat/internal/retrieval"
	"github.com/cloudsecdocs/docschat/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Ingester processes raw documents into the retrieval index.
type Ingester struct {
	embeddings embeddings.Driver
	index      retrieval.Index
	chunker    ChunkerConfig
}

// NewIngester creates a document ingester.
func NewIngester(emb embeddings.Driver, index retrieval.Index, chunker ChunkerConfig) *Ingester {
	return &Ingester{embeddings: emb, index: index, chunker: chunker}
}

// Ingest splits documents into chunks, embeds them in batches, and upserts
// the resulting vectors.
func (ing *Ingester) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	start := time.Now()

	if len(req.Documents) == 0 {
		return &models.IngestResult{}, nil
	}

	config := ing.chunker
	if req.ChunkSize > 0 {
		config.ChunkSize = req.ChunkSize
	}
	if req.ChunkOverlap > 0 {
		config.ChunkOverlap = req.ChunkOverlap
	}

	type pending struct {
		text     string
		metadata map[string]string
	}
	var chunks []pending
	for docIdx, doc := range req.Documents {
		for _, text := range SplitText(doc.Content, config) {
			metadata := make(map[string]string, len(doc.Metadata)+2)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			if _, ok := metadata["source"]; !ok {
				metadata["source"] = doc.ID
			}
			metadata["doc_index"] = strconv.Itoa(docIdx)
			chunks = append(chunks, pending{text: text, metadata: metadata})
		}
	}

	log.Info().
		Int("documents", len(req.Documents)).
		Int("chunks", len(chunks)).
		Msg("chunking complete")

	batchSize := ing.embeddings.MaxBatchSize()
	var vectors [][]float64
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-i)
		for j, c := range chunks[i:end] {
			texts[j] = c.text
		}
		batch, err := ing.embeddings.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		vectors = append(vectors, batch...)
	}

	now := time.Now().UTC()
	docs := make([]models.VectorDoc, len(chunks))
	for i, c := range chunks {
		docs[i] = models.VectorDoc{
			ID:        uuid.NewString(),
			Content:   c.text,
			Metadata:  c.metadata,
			Vector:    vectors[i],
			CreatedAt: now,
		}
	}

	if err := ing.index.Upsert(ctx, docs); err != nil {
		return nil, fmt.Errorf("upsert vectors: %w", err)
	}

	log.Info().
		Int("documents", len(req.Documents)).
		Int("chunks_created", len(chunks)).
		Dur("elapsed", time.Since(start)).
		Msg("ingestion complete")

	return &models.IngestResult{
		DocumentsProcessed: len(req.Documents),
		ChunksCreated:      len(chunks),
		VectorsStored:      len(docs),
	}, nil
}
