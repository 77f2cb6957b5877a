/**
 * Text removal via region inpainting
 *
 * Builds a union mask from detected text blocks, padded so antialiased
 * glyph edges are covered, and hands it to a fill backend. Images with
 * no detected blocks pass through untouched: inpainting an image that
 * needs none would only smear it.
 */

package inpaint

import (
	"fmt"
	"image"
	"image/color"

	"github.com/agent-thor/meme-generator/internal/detect"
	"github.com/agent-thor/meme-generator/internal/imaging"
	"github.com/agent-thor/meme-generator/internal/logging"
)

// MaskPadding extends each block by this many pixels on every side.
const MaskPadding = 5

// RegionFiller reconstructs masked pixels from their surroundings.
type RegionFiller interface {
	Fill(img image.Image, mask *image.Gray) (image.Image, error)
}

// Remover erases detected text from images.
type Remover struct {
	filler RegionFiller
	logger *logging.Logger
}

// NewRemover creates a remover using the given fill backend.
func NewRemover(filler RegionFiller) *Remover {
	return &Remover{
		filler: filler,
		logger: logging.NewLogger("Inpainter"),
	}
}

// Remove erases the given blocks from the image. With no blocks the
// original image is returned as-is and no fill pass runs.
func (r *Remover) Remove(img image.Image, blocks []detect.Block) (image.Image, error) {
	if len(blocks) == 0 {
		r.logger.Debug("No text blocks, skipping inpainting")
		return img, nil
	}

	mask := BuildMask(img.Bounds(), blocks)

	result, err := r.filler.Fill(img, mask)
	if err != nil {
		return nil, fmt.Errorf("region fill failed: %w", err)
	}

	r.logger.Info("Inpainting complete", "blocks", len(blocks))
	return result, nil
}

// BuildMask paints each padded block white on a black mask matching the
// image bounds. Blocks are clamped so padding never escapes the image.
func BuildMask(bounds image.Rectangle, blocks []detect.Block) *image.Gray {
	mask := image.NewGray(bounds)
	w, h := bounds.Dx(), bounds.Dy()

	for _, block := range blocks {
		box := block.Box.Inflate(MaskPadding).Clamp(w, h)
		if box.Empty() {
			continue
		}
		white := color.Gray{Y: 255}
		for y := box.Y; y < box.Bottom(); y++ {
			for x := box.X; x < box.Right(); x++ {
				mask.SetGray(bounds.Min.X+x, bounds.Min.Y+y, white)
			}
		}
	}

	return mask
}
