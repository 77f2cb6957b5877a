/**
 * Template index for visual similarity matching
 *
 * Holds an immutable snapshot of template embeddings and matches query
 * images against it with a cosine scan. Snapshots are swapped atomically
 * so a reload never disturbs in-flight matches.
 */

package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/agent-thor/meme-generator/internal/cache"
	"github.com/agent-thor/meme-generator/internal/clients"
	"github.com/agent-thor/meme-generator/internal/imaging"
	"github.com/agent-thor/meme-generator/internal/logging"
)

// DefaultMatchThreshold is the minimum similarity score (0-100) for a
// query to count as a template match.
const DefaultMatchThreshold = 80.0

// Embedder produces L2-normalized image embeddings.
type Embedder interface {
	EmbedImage(ctx context.Context, imageData []byte) ([]float32, error)
}

// TemplateRecord is one indexed template.
type TemplateRecord struct {
	ID        string
	Name      string
	ImagePath string
	Embedding []float32 // L2-normalized
}

// Snapshot is an immutable set of template records. Records must not be
// mutated after the snapshot is built.
type Snapshot struct {
	Records    []TemplateRecord
	Generation int64
	LoadedAt   time.Time
}

// MatchResult reports the best template for a query image.
type MatchResult struct {
	Matched    bool
	TemplateID string
	Name       string
	ImagePath  string
	Similarity float64 // 0-100
}

// Index matches query images against the current template snapshot.
type Index struct {
	embedder   Embedder
	cache      cache.Cache
	cacheTTL   time.Duration
	threshold  float64
	snapshot   atomic.Pointer[Snapshot]
	generation atomic.Int64
	logger     *logging.Logger
}

// NewIndex creates an index with an empty snapshot.
func NewIndex(embedder Embedder, c cache.Cache, cacheTTL time.Duration, threshold float64) *Index {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	idx := &Index{
		embedder:  embedder,
		cache:     c,
		cacheTTL:  cacheTTL,
		threshold: threshold,
		logger:    logging.NewLogger("TemplateIndex"),
	}
	idx.snapshot.Store(&Snapshot{LoadedAt: time.Now()})
	return idx
}

// Threshold returns the configured match threshold.
func (idx *Index) Threshold() float64 {
	return idx.threshold
}

// Swap atomically installs a new set of records and returns the new
// snapshot generation.
func (idx *Index) Swap(records []TemplateRecord) int64 {
	gen := idx.generation.Add(1)
	idx.snapshot.Store(&Snapshot{
		Records:    records,
		Generation: gen,
		LoadedAt:   time.Now(),
	})
	idx.logger.Info("Template snapshot installed", "generation", gen, "templates", len(records))
	return gen
}

// Current returns the active snapshot.
func (idx *Index) Current() *Snapshot {
	return idx.snapshot.Load()
}

// Match embeds the query image and scans the snapshot for the most
// similar template. An empty snapshot yields Matched=false with zero
// similarity rather than an error.
func (idx *Index) Match(ctx context.Context, imageData []byte) (*MatchResult, error) {
	snap := idx.snapshot.Load()
	if len(snap.Records) == 0 {
		return &MatchResult{Matched: false}, nil
	}

	queryVec, err := idx.embedFor(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query image: %w", err)
	}

	best := -1
	bestScore := -1.0
	for i := range snap.Records {
		score := CosineSimilarity(queryVec, snap.Records[i].Embedding)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}

	similarity := ScaleSimilarity(bestScore)
	result := &MatchResult{
		Matched:    similarity >= idx.threshold,
		TemplateID: snap.Records[best].ID,
		Name:       snap.Records[best].Name,
		ImagePath:  snap.Records[best].ImagePath,
		Similarity: similarity,
	}

	idx.logger.Info("Template match scan complete",
		"generation", snap.Generation,
		"bestTemplate", result.TemplateID,
		"similarity", fmt.Sprintf("%.2f", similarity),
		"matched", result.Matched)

	return result, nil
}

// embedFor returns the embedding for the image bytes, consulting the
// embedding cache keyed by content hash first.
func (idx *Index) embedFor(ctx context.Context, imageData []byte) ([]float32, error) {
	key := imaging.ContentHash(imageData)

	if idx.cache != nil {
		if cached, ok, err := idx.cache.Get(ctx, cache.NamespaceEmbedding, key); err == nil && ok {
			var vec []float32
			if err := json.Unmarshal(cached, &vec); err == nil && len(vec) == clients.EmbeddingDimensions {
				return vec, nil
			}
			// Corrupt entries are dropped and recomputed.
			idx.cache.Delete(ctx, cache.NamespaceEmbedding, key)
		}
	}

	vec, err := idx.embedder.EmbedImage(ctx, imageData)
	if err != nil {
		return nil, err
	}

	if idx.cache != nil {
		if encoded, err := json.Marshal(vec); err == nil {
			if err := idx.cache.Set(ctx, cache.NamespaceEmbedding, key, encoded, idx.cacheTTL); err != nil {
				idx.logger.Warn("Failed to cache embedding", "error", err)
			}
		}
	}

	return vec, nil
}

// CosineSimilarity computes the cosine of two L2-normalized vectors as a
// dot product. Mismatched lengths score zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// ScaleSimilarity maps a cosine value onto the 0-100 score range.
// Negative cosines clamp to zero; they can never clear the threshold.
func ScaleSimilarity(cosine float64) float64 {
	if cosine < 0 {
		return 0
	}
	if cosine > 1 {
		return 100
	}
	return cosine * 100
}
