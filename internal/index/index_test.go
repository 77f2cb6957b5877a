package index

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/agent-thor/meme-generator/internal/cache"
)

type fakeEmbedder struct {
	vector []float32
	calls  int
	err    error
}

func (f *fakeEmbedder) EmbedImage(ctx context.Context, imageData []byte) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func unitVector(hot int) []float32 {
	vec := make([]float32, 512)
	vec[hot] = 1
	return vec
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical unit vectors", unitVector(0), unitVector(0), 1.0},
		{"orthogonal vectors", unitVector(0), unitVector(1), 0.0},
		{"mismatched lengths", []float32{1, 0}, []float32{1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("CosineSimilarity() = %f, want %f", got, tt.expected)
			}
		})
	}
}

func TestScaleSimilarityClamped(t *testing.T) {
	if got := ScaleSimilarity(-0.3); got != 0 {
		t.Errorf("negative cosine scaled to %f, want 0", got)
	}
	if got := ScaleSimilarity(1.2); got != 100 {
		t.Errorf("cosine above 1 scaled to %f, want 100", got)
	}
	if got := ScaleSimilarity(0.85); math.Abs(got-85) > 1e-9 {
		t.Errorf("ScaleSimilarity(0.85) = %f, want 85", got)
	}
}

func TestMatchAboveThreshold(t *testing.T) {
	embedder := &fakeEmbedder{vector: unitVector(3)}
	idx := NewIndex(embedder, nil, 0, 80.0)
	idx.Swap([]TemplateRecord{
		{ID: "tpl-1", Name: "drake", Embedding: unitVector(3)},
		{ID: "tpl-2", Name: "distracted", Embedding: unitVector(7)},
	})

	result, err := idx.Match(context.Background(), []byte("query-image"))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !result.Matched {
		t.Error("identical embedding should match above threshold")
	}
	if result.TemplateID != "tpl-1" {
		t.Errorf("TemplateID = %s, want tpl-1", result.TemplateID)
	}
	if math.Abs(result.Similarity-100) > 1e-9 {
		t.Errorf("Similarity = %f, want 100", result.Similarity)
	}
}

func TestMatchBelowThreshold(t *testing.T) {
	// Query shares some direction with the template but not enough.
	query := make([]float32, 512)
	query[0] = 0.6
	query[1] = 0.8

	embedder := &fakeEmbedder{vector: query}
	idx := NewIndex(embedder, nil, 0, 80.0)
	idx.Swap([]TemplateRecord{{ID: "tpl-1", Embedding: unitVector(0)}})

	result, err := idx.Match(context.Background(), []byte("query"))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if result.Matched {
		t.Errorf("similarity %f should not clear the 80 threshold", result.Similarity)
	}
	// float32 dot products carry rounding noise into the scaled score.
	if math.Abs(result.Similarity-60) > 1e-4 {
		t.Errorf("Similarity = %f, want 60", result.Similarity)
	}
}

func TestMatchEmptySnapshot(t *testing.T) {
	embedder := &fakeEmbedder{vector: unitVector(0)}
	idx := NewIndex(embedder, nil, 0, 80.0)

	result, err := idx.Match(context.Background(), []byte("query"))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if result.Matched {
		t.Error("empty snapshot must never match")
	}
	if embedder.calls != 0 {
		t.Error("empty snapshot should not spend an embedding call")
	}
}

func TestMatchUsesEmbeddingCache(t *testing.T) {
	embedder := &fakeEmbedder{vector: unitVector(2)}
	c := cache.NewMemoryCache(16)
	idx := NewIndex(embedder, c, time.Hour, 80.0)
	idx.Swap([]TemplateRecord{{ID: "tpl-1", Embedding: unitVector(2)}})

	ctx := context.Background()
	if _, err := idx.Match(ctx, []byte("same-bytes")); err != nil {
		t.Fatalf("first Match failed: %v", err)
	}
	if _, err := idx.Match(ctx, []byte("same-bytes")); err != nil {
		t.Fatalf("second Match failed: %v", err)
	}

	if embedder.calls != 1 {
		t.Errorf("embedder called %d times for identical bytes, want 1", embedder.calls)
	}
}

func TestSwapGenerationIncreases(t *testing.T) {
	idx := NewIndex(&fakeEmbedder{}, nil, 0, 80.0)

	first := idx.Swap([]TemplateRecord{{ID: "a", Embedding: unitVector(0)}})
	second := idx.Swap([]TemplateRecord{{ID: "b", Embedding: unitVector(1)}})

	if second <= first {
		t.Errorf("generations must increase, got %d then %d", first, second)
	}
	if idx.Current().Generation != second {
		t.Error("Current() should expose the latest snapshot")
	}
}
