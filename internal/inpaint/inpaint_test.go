package inpaint

import (
	"errors"
	"image"
	"testing"

	"github.com/agent-thor/meme-generator/internal/detect"
	"github.com/agent-thor/meme-generator/internal/imaging"
)

type fakeFiller struct {
	calls    int
	lastMask *image.Gray
	err      error
}

func (f *fakeFiller) Fill(img image.Image, mask *image.Gray) (image.Image, error) {
	f.calls++
	f.lastMask = mask
	if f.err != nil {
		return nil, f.err
	}
	return img, nil
}

func TestRemoveSkipsWhenNoBlocks(t *testing.T) {
	filler := &fakeFiller{}
	r := NewRemover(filler)
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	result, err := r.Remove(img, nil)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if result != image.Image(img) {
		t.Error("image without blocks must pass through unchanged")
	}
	if filler.calls != 0 {
		t.Error("fill backend must not run when there is nothing to remove")
	}
}

func TestRemoveBuildsPaddedMask(t *testing.T) {
	filler := &fakeFiller{}
	r := NewRemover(filler)
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))

	blocks := []detect.Block{
		{Text: "HELLO", Box: imaging.Box{X: 50, Y: 50, Width: 40, Height: 20}},
	}

	if _, err := r.Remove(img, blocks); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if filler.calls != 1 {
		t.Fatalf("fill backend called %d times, want 1", filler.calls)
	}

	mask := filler.lastMask
	// Padded region covers [45,45] through [94,74].
	if mask.GrayAt(45, 45).Y != 255 {
		t.Error("padding above/left of the block should be masked")
	}
	if mask.GrayAt(94, 74).Y != 255 {
		t.Error("padding below/right of the block should be masked")
	}
	if mask.GrayAt(44, 50).Y != 0 {
		t.Error("pixels beyond the padding must stay unmasked")
	}
	if mask.GrayAt(150, 150).Y != 0 {
		t.Error("pixels far from any block must stay unmasked")
	}
}

func TestRemoveMaskUnionOfBlocks(t *testing.T) {
	filler := &fakeFiller{}
	r := NewRemover(filler)
	img := image.NewRGBA(image.Rect(0, 0, 300, 300))

	blocks := []detect.Block{
		{Text: "TOP", Box: imaging.Box{X: 10, Y: 10, Width: 30, Height: 15}},
		{Text: "BOTTOM", Box: imaging.Box{X: 100, Y: 250, Width: 60, Height: 20}},
	}

	if _, err := r.Remove(img, blocks); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	mask := filler.lastMask
	if mask.GrayAt(20, 15).Y != 255 {
		t.Error("first block should be masked")
	}
	if mask.GrayAt(120, 260).Y != 255 {
		t.Error("second block should be masked")
	}
	if mask.GrayAt(200, 100).Y != 0 {
		t.Error("area between blocks must stay unmasked")
	}
}

func TestRemoveClampsMaskToImage(t *testing.T) {
	filler := &fakeFiller{}
	r := NewRemover(filler)
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	// Block hugging the top-left corner; padding would go negative.
	blocks := []detect.Block{
		{Text: "EDGE", Box: imaging.Box{X: 0, Y: 0, Width: 20, Height: 10}},
	}

	if _, err := r.Remove(img, blocks); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if filler.lastMask.GrayAt(0, 0).Y != 255 {
		t.Error("corner pixel should be masked")
	}
}

func TestRemoveFillFailure(t *testing.T) {
	filler := &fakeFiller{err: errors.New("fill exploded")}
	r := NewRemover(filler)
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	blocks := []detect.Block{
		{Text: "X", Box: imaging.Box{X: 10, Y: 10, Width: 10, Height: 10}},
	}

	if _, err := r.Remove(img, blocks); err == nil {
		t.Fatal("fill backend failure must surface as an error")
	}
}
