package retrieval_test

import (
	"context"
	"testing"

	"github.com/cloudsecdocs/docschat/internal/retrieval"
	"github.com/cloudsecdocs/docschat/pkg/models"
)

// fixedEmbedder maps known texts to fixed 3-dimensional vectors so cosine
// scores are predictable.
type fixedEmbedder struct {
	vectors map[string][]float64
}

func (f *fixedEmbedder) Kind() string      { return "fixed" }
func (f *fixedEmbedder) Dimensions() int   { return 3 }
func (f *fixedEmbedder) MaxBatchSize() int { return 16 }

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float64{1, 0, 0}
		}
		out[i] = v
	}
	return out, nil
}

func (f *fixedEmbedder) HealthCheck(context.Context) error { return nil }

func seedIndex(t *testing.T, r *retrieval.EmbeddedRetriever) {
	t.Helper()
	docs := []models.VectorDoc{
		{ID: "iam", Content: "IAM overview", Vector: []float64{1, 0, 0}, Metadata: map[string]string{"source": "iam.md"}},
		{ID: "s3", Content: "S3 encryption", Vector: []float64{0.7, 0.7, 0}},
		{ID: "vpc", Content: "VPC peering", Vector: []float64{0, 0, 1}},
	}
	if err := r.Upsert(context.Background(), docs); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
}

func TestEmbeddedRetriever_SearchRanksAndFilters(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float64{
		"identity question": {1, 0, 0},
	}}
	r := retrieval.NewEmbeddedRetriever(emb)
	seedIndex(t, r)

	// Query aligned with the iam vector: iam scores 1.0, s3 ~0.707, vpc 0.
	docs, err := r.Search(context.Background(), "identity question", 0.5, 4)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Search() returned %d docs, want 2 above threshold 0.5", len(docs))
	}
	if docs[0].Content != "IAM overview" {
		t.Errorf("top doc = %q, want the aligned document", docs[0].Content)
	}
	if docs[0].Similarity <= docs[1].Similarity {
		t.Error("results not sorted by similarity descending")
	}
	if docs[0].SourceLabel() != "iam.md" {
		t.Errorf("SourceLabel() = %q, want metadata source", docs[0].SourceLabel())
	}
}

func TestEmbeddedRetriever_CountLimit(t *testing.T) {
	emb := &fixedEmbedder{vectors: map[string][]float64{
		"q": {1, 1, 1},
	}}
	r := retrieval.NewEmbeddedRetriever(emb)
	seedIndex(t, r)

	docs, err := r.Search(context.Background(), "q", 0.0, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("Search() returned %d docs, want count cap of 2", len(docs))
	}
}

func TestEmbeddedRetriever_UpsertReplaces(t *testing.T) {
	r := retrieval.NewEmbeddedRetriever(&fixedEmbedder{})
	ctx := context.Background()

	if err := r.Upsert(ctx, []models.VectorDoc{{ID: "d", Content: "v1", Vector: []float64{1, 0, 0}}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := r.Upsert(ctx, []models.VectorDoc{{ID: "d", Content: "v2", Vector: []float64{1, 0, 0}}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	n, err := r.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d after upserting the same ID twice, want 1", n)
	}

	docs, err := r.Search(ctx, "anything", 0.5, 4)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(docs) != 1 || docs[0].Content != "v2" {
		t.Errorf("Search() = %+v, want the replaced document", docs)
	}
}

func TestEmbeddedRetriever_SkipsMismatchedDimensions(t *testing.T) {
	r := retrieval.NewEmbeddedRetriever(&fixedEmbedder{})
	ctx := context.Background()

	if err := r.Upsert(ctx, []models.VectorDoc{
		{ID: "ok", Content: "fits", Vector: []float64{1, 0, 0}},
		{ID: "bad", Content: "wrong dims", Vector: []float64{1, 0}},
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	docs, err := r.Search(ctx, "anything", 0.0, 4)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(docs) != 1 || docs[0].Content != "fits" {
		t.Errorf("Search() = %+v, want only the dimension-matched document", docs)
	}
}
