package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agent-thor/meme-generator/internal/cache"
	"github.com/agent-thor/meme-generator/internal/imaging"
)

type fakeEngine struct {
	regions []Region
	calls   int
	err     error
}

func (f *fakeEngine) Recognize(ctx context.Context, imageData []byte) ([]Region, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.regions, nil
}

func region(text string, conf float64, x, y, w, h int) Region {
	return Region{Text: text, Confidence: conf, Box: imaging.Box{X: x, Y: y, Width: w, Height: h}}
}

func TestDetectBlocksConfidenceFilter(t *testing.T) {
	engine := &fakeEngine{regions: []Region{
		region("KEEP", 0.9, 10, 10, 50, 20),
		region("drop", 0.5, 10, 200, 50, 20), // exactly at threshold, excluded
		region("noise", 0.2, 10, 400, 50, 20),
	}}
	d := NewDetector(engine, nil, 0, 0.5)

	blocks, err := d.DetectBlocks(context.Background(), []byte("img"), 1000, 1000)
	if err != nil {
		t.Fatalf("DetectBlocks failed: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Text != "KEEP" {
		t.Errorf("blocks = %+v, want single KEEP block", blocks)
	}
}

func TestDetectBlocksMergesSameLine(t *testing.T) {
	// Two words on the same line, 20 px apart in a 1000 px wide image.
	engine := &fakeEngine{regions: []Region{
		region("WHEN", 0.9, 100, 50, 80, 20),
		region("YOU", 0.9, 200, 52, 60, 20),
	}}
	d := NewDetector(engine, nil, 0, 0.5)

	blocks, err := d.DetectBlocks(context.Background(), []byte("img"), 1000, 1000)
	if err != nil {
		t.Fatalf("DetectBlocks failed: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1 merged block", len(blocks))
	}
	if blocks[0].Text != "WHEN YOU" {
		t.Errorf("merged text = %q, want %q", blocks[0].Text, "WHEN YOU")
	}

	expected := imaging.Box{X: 100, Y: 50, Width: 160, Height: 22}
	if blocks[0].Box != expected {
		t.Errorf("merged box = %+v, want %+v", blocks[0].Box, expected)
	}
}

func TestDetectBlocksTransitiveMerge(t *testing.T) {
	// A merges with B, B merges with C; A and C are too far apart to
	// merge directly but must still land in one block.
	engine := &fakeEngine{regions: []Region{
		region("A", 0.9, 0, 100, 40, 20),
		region("B", 0.9, 80, 100, 40, 20),
		region("C", 0.9, 160, 100, 40, 20),
	}}
	d := NewDetector(engine, nil, 0, 0.5)

	blocks, err := d.DetectBlocks(context.Background(), []byte("img"), 1000, 1000)
	if err != nil {
		t.Fatalf("DetectBlocks failed: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if blocks[0].Text != "A B C" {
		t.Errorf("merged text = %q, want %q", blocks[0].Text, "A B C")
	}
}

func TestDetectBlocksSeparateLines(t *testing.T) {
	engine := &fakeEngine{regions: []Region{
		region("BOTTOM", 0.9, 100, 900, 200, 30),
		region("TOP", 0.9, 100, 20, 120, 30),
	}}
	d := NewDetector(engine, nil, 0, 0.5)

	blocks, err := d.DetectBlocks(context.Background(), []byte("img"), 1000, 1000)
	if err != nil {
		t.Fatalf("DetectBlocks failed: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Text != "TOP" || blocks[1].Text != "BOTTOM" {
		t.Errorf("order = [%q, %q], want top before bottom", blocks[0].Text, blocks[1].Text)
	}
}

func TestDetectBlocksMoreFragmentsNeverFewerMerged(t *testing.T) {
	base := []Region{
		region("ONE", 0.9, 100, 100, 60, 20),
		region("TWO", 0.9, 100, 500, 60, 20),
	}
	engine := &fakeEngine{regions: base}
	d := NewDetector(engine, nil, 0, 0.5)

	blocks, _ := d.DetectBlocks(context.Background(), []byte("a"), 1000, 1000)

	// Adding a fragment on a new line cannot reduce the block count.
	engine.regions = append(base, region("THREE", 0.9, 100, 800, 60, 20))
	more, _ := d.DetectBlocks(context.Background(), []byte("b"), 1000, 1000)

	if len(more) < len(blocks) {
		t.Errorf("block count dropped from %d to %d after adding a fragment", len(blocks), len(more))
	}
}

func TestDetectBlocksRaisingThresholdNeverIncreasesCount(t *testing.T) {
	// B bridges A and C on one line; its confidence sits between the
	// two thresholds. Separately, a weak line at the bottom.
	regions := []Region{
		region("A", 0.9, 0, 100, 40, 20),
		region("B", 0.6, 80, 100, 40, 20),
		region("C", 0.9, 160, 100, 40, 20),
		region("FAINT", 0.6, 0, 800, 80, 20),
	}

	counts := make([]int, 0, 3)
	for i, threshold := range []float64{0.5, 0.7, 0.95} {
		engine := &fakeEngine{regions: regions}
		d := NewDetector(engine, nil, 0, threshold)
		blocks, err := d.DetectBlocks(context.Background(), []byte{byte(i)}, 1000, 1000)
		if err != nil {
			t.Fatalf("DetectBlocks failed at threshold %v: %v", threshold, err)
		}
		counts = append(counts, len(blocks))
	}

	if counts[0] != 2 || counts[1] != 1 || counts[2] != 0 {
		t.Errorf("block counts across rising thresholds = %v, want [2 1 0]", counts)
	}
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[i-1] {
			t.Errorf("raising the threshold increased the block count: %v", counts)
		}
	}
}

func TestDetectBlocksFilteredBridgeKeepsLineTogether(t *testing.T) {
	// The low-confidence middle word still ties its neighbors into one
	// line, but contributes neither text nor geometry.
	engine := &fakeEngine{regions: []Region{
		region("A", 0.9, 0, 100, 40, 20),
		region("b", 0.6, 80, 100, 40, 20),
		region("C", 0.9, 160, 100, 40, 20),
	}}
	d := NewDetector(engine, nil, 0, 0.7)

	blocks, err := d.DetectBlocks(context.Background(), []byte("img"), 1000, 1000)
	if err != nil {
		t.Fatalf("DetectBlocks failed: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(blocks))
	}
	if blocks[0].Text != "A C" {
		t.Errorf("block text = %q, want %q", blocks[0].Text, "A C")
	}

	expected := imaging.Box{X: 0, Y: 100, Width: 200, Height: 20}
	if blocks[0].Box != expected {
		t.Errorf("block box = %+v, want union of confident words %+v", blocks[0].Box, expected)
	}
}

func TestDetectBlocksCacheHitSkipsEngine(t *testing.T) {
	engine := &fakeEngine{regions: []Region{region("HELLO", 0.9, 10, 10, 50, 20)}}
	c := cache.NewMemoryCache(16)
	d := NewDetector(engine, c, time.Hour, 0.5)

	ctx := context.Background()
	if _, err := d.DetectBlocks(ctx, []byte("same"), 1000, 1000); err != nil {
		t.Fatalf("first DetectBlocks failed: %v", err)
	}
	if _, err := d.DetectBlocks(ctx, []byte("same"), 1000, 1000); err != nil {
		t.Fatalf("second DetectBlocks failed: %v", err)
	}

	if engine.calls != 1 {
		t.Errorf("engine called %d times for identical bytes, want 1", engine.calls)
	}
}

func TestDetectBlocksEngineFailure(t *testing.T) {
	engine := &fakeEngine{err: errors.New("tesseract crashed")}
	d := NewDetector(engine, nil, 0, 0.5)

	_, err := d.DetectBlocks(context.Background(), []byte("img"), 1000, 1000)
	if err == nil {
		t.Fatal("engine failure must surface as an error")
	}
}

func TestDetectBlocksNoTextIsNotAnError(t *testing.T) {
	engine := &fakeEngine{}
	d := NewDetector(engine, nil, 0, 0.5)

	blocks, err := d.DetectBlocks(context.Background(), []byte("blank"), 1000, 1000)
	if err != nil {
		t.Fatalf("DetectBlocks failed: %v", err)
	}
	if len(blocks) != 0 {
		t.Errorf("blank image produced %d blocks, want 0", len(blocks))
	}
}
