/**
 * Text region detection
 *
 * Runs OCR over an image, merges fragments that belong to the same
 * caption line, drops low-confidence fragments within each line, and
 * returns the merged blocks ordered top to bottom. Results are cached
 * by image content hash so repeated requests skip the OCR pass
 * entirely.
 */

package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agent-thor/meme-generator/internal/cache"
	"github.com/agent-thor/meme-generator/internal/imaging"
	"github.com/agent-thor/meme-generator/internal/logging"
)

// DefaultConfidenceThreshold keeps only fragments the engine is more
// than 50% sure about. The comparison is strict.
const DefaultConfidenceThreshold = 0.5

// Merge thresholds, as fractions of image dimensions. Fragments whose
// vertical centers sit within mergeVerticalFrac of the image height and
// whose horizontal gap is under mergeHorizontalFrac of the image width
// are treated as one line of text.
const (
	mergeVerticalFrac   = 0.02
	mergeHorizontalFrac = 0.05
)

// Region is a raw OCR fragment.
type Region struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"` // 0-1
	Box        imaging.Box `json:"box"`
}

// Block is a merged group of fragments forming one caption line.
type Block struct {
	Text string      `json:"text"`
	Box  imaging.Box `json:"box"`
}

// Engine runs OCR over image bytes.
type Engine interface {
	Recognize(ctx context.Context, imageData []byte) ([]Region, error)
}

// Detector filters, merges, and orders OCR output.
type Detector struct {
	engine              Engine
	cache               cache.Cache
	cacheTTL            time.Duration
	confidenceThreshold float64
	logger              *logging.Logger
}

// NewDetector creates a detector. A nil cache disables result caching.
func NewDetector(engine Engine, c cache.Cache, cacheTTL time.Duration, confidenceThreshold float64) *Detector {
	if confidenceThreshold <= 0 {
		confidenceThreshold = DefaultConfidenceThreshold
	}
	return &Detector{
		engine:              engine,
		cache:               c,
		cacheTTL:            cacheTTL,
		confidenceThreshold: confidenceThreshold,
		logger:              logging.NewLogger("TextDetector"),
	}
}

// DetectBlocks returns merged text blocks for the image, top to bottom.
// An engine failure is not fatal here: the caller sees it as an error
// and decides whether to degrade to the no-text path.
func (d *Detector) DetectBlocks(ctx context.Context, imageData []byte, imageWidth, imageHeight int) ([]Block, error) {
	key := imaging.ContentHash(imageData)

	if d.cache != nil {
		if cached, ok, err := d.cache.Get(ctx, cache.NamespaceOCR, key); err == nil && ok {
			var blocks []Block
			if err := json.Unmarshal(cached, &blocks); err == nil {
				d.logger.Debug("OCR cache hit", "key", key[:12], "blocks", len(blocks))
				return blocks, nil
			}
			d.cache.Delete(ctx, cache.NamespaceOCR, key)
		}
	}

	regions, err := d.engine.Recognize(ctx, imageData)
	if err != nil {
		return nil, fmt.Errorf("ocr engine failed: %w", err)
	}

	blocks := d.assemble(regions, imageWidth, imageHeight)

	if d.cache != nil {
		if encoded, err := json.Marshal(blocks); err == nil {
			if err := d.cache.Set(ctx, cache.NamespaceOCR, key, encoded, d.cacheTTL); err != nil {
				d.logger.Warn("Failed to cache OCR result", "error", err)
			}
		}
	}

	d.logger.Info("Text detection complete",
		"fragments", len(regions),
		"blocks", len(blocks))

	return blocks, nil
}

// assemble applies the proximity merge, the confidence filter, and
// ordering. Grouping runs over every readable fragment regardless of
// confidence, so the group structure does not depend on the threshold:
// raising it can only thin or drop whole groups, never split one. The
// filter then applies inside each group; fragments at or below the
// threshold contribute neither text nor geometry.
func (d *Detector) assemble(regions []Region, imageWidth, imageHeight int) []Block {
	candidates := make([]Region, 0, len(regions))
	for _, r := range regions {
		if strings.TrimSpace(r.Text) != "" && !r.Box.Empty() {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	groups := d.mergeGroups(candidates, imageWidth, imageHeight)

	blocks := make([]Block, 0, len(groups))
	for _, group := range groups {
		// Left-to-right within the group gives natural reading order.
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Box.X < group[j].Box.X
		})

		var box imaging.Box
		words := make([]string, 0, len(group))
		for _, r := range group {
			if r.Confidence <= d.confidenceThreshold {
				continue
			}
			box = box.Union(r.Box)
			words = append(words, strings.TrimSpace(r.Text))
		}
		if len(words) == 0 {
			continue
		}
		blocks = append(blocks, Block{Text: strings.Join(words, " "), Box: box})
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].Box.Y != blocks[j].Box.Y {
			return blocks[i].Box.Y < blocks[j].Box.Y
		}
		return blocks[i].Box.X < blocks[j].Box.X
	})

	return blocks
}

// mergeGroups clusters fragments with transitive proximity: if A merges
// with B and B merges with C, all three land in one group even when A
// and C are far apart.
func (d *Detector) mergeGroups(regions []Region, imageWidth, imageHeight int) [][]Region {
	parent := make([]int, len(regions))
	for i := range parent {
		parent[i] = i
	}

	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	maxVertical := float64(imageHeight) * mergeVerticalFrac
	maxGap := float64(imageWidth) * mergeHorizontalFrac

	for i := 0; i < len(regions); i++ {
		for j := i + 1; j < len(regions); j++ {
			if shouldMerge(regions[i].Box, regions[j].Box, maxVertical, maxGap) {
				union(i, j)
			}
		}
	}

	byRoot := make(map[int][]Region)
	order := make([]int, 0)
	for i, r := range regions {
		root := find(i)
		if _, seen := byRoot[root]; !seen {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], r)
	}

	groups := make([][]Region, 0, len(order))
	for _, root := range order {
		groups = append(groups, byRoot[root])
	}
	return groups
}

// shouldMerge decides whether two fragments lie on the same caption line.
func shouldMerge(a, b imaging.Box, maxVertical, maxGap float64) bool {
	centerDelta := a.CenterY() - b.CenterY()
	if centerDelta < 0 {
		centerDelta = -centerDelta
	}
	if float64(centerDelta) > maxVertical {
		return false
	}

	// Horizontal gap between the closer pair of edges; overlapping
	// fragments have a zero gap.
	gap := 0
	switch {
	case a.Right() < b.X:
		gap = b.X - a.Right()
	case b.Right() < a.X:
		gap = a.X - b.Right()
	}
	return float64(gap) <= maxGap
}
