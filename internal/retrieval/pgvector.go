package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudsecdocs/docschat/internal/embeddings"
	"github.com/cloudsecdocs/docschat/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PgvectorRetriever searches documentation chunks stored in PostgreSQL with
// the pgvector extension. The query is embedded on the fly and matched by
// cosine similarity.
type PgvectorRetriever struct {
	pool       *pgxpool.Pool
	embeddings embeddings.Driver
	dimensions int
}

// NewPgvectorRetriever connects to PostgreSQL and ensures the documents
// table and pgvector extension exist.
func NewPgvectorRetriever(ctx context.Context, connURL string, emb embeddings.Driver) (*PgvectorRetriever, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	r := &PgvectorRetriever{pool: pool, embeddings: emb, dimensions: emb.Dimensions()}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}

	log.Info().Int("dims", r.dimensions).Msg("pgvector retriever initialized")
	return r, nil
}

func (r *PgvectorRetriever) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			content    TEXT NOT NULL DEFAULT '',
			metadata   JSONB NOT NULL DEFAULT '{}',
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`, r.dimensions)
	_, err := r.pool.Exec(ctx, ddl)
	return err
}

// Search embeds the query and returns passages whose cosine similarity meets
// the threshold, best first.
func (r *PgvectorRetriever) Search(ctx context.Context, query string, threshold float64, count int) ([]models.RetrievedDoc, error) {
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

	rows, err := r.pool.Query(ctx,
		`SELECT content, metadata, 1 - (embedding <=> $1) AS similarity
		 FROM documents
		 WHERE 1 - (embedding <=> $1) >= $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vectorLiteral(vectors[0]), threshold, count)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var docs []models.RetrievedDoc
	for rows.Next() {
		var doc models.RetrievedDoc
		var metadata []byte
		if err := rows.Scan(&doc.Content, &metadata, &doc.Similarity); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		doc.Metadata = json.RawMessage(metadata)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Upsert embeds documents lacking vectors and writes them to the index.
func (r *PgvectorRetriever) Upsert(ctx context.Context, docs []models.VectorDoc) error {
	if len(docs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO documents (id, content, metadata, embedding, created_at) VALUES `)

	args := make([]interface{}, 0, len(docs)*5)
	for i, d := range docs {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*5 + 1
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", base, base+1, base+2, base+3, base+4))

		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := d.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		metadata := d.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		args = append(args, id, d.Content, metadata, vectorLiteral(d.Vector), createdAt)
	}

	sb.WriteString(` ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding`)

	_, err := r.pool.Exec(ctx, sb.String(), args...)
	return err
}

func (r *PgvectorRetriever) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents").Scan(&count)
	return count, err
}

func (r *PgvectorRetriever) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the connection pool.
func (r *PgvectorRetriever) Close() {
	r.pool.Close()
}

// vectorLiteral renders a vector in pgvector's text format: [1,2,3]
func vectorLiteral(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}
