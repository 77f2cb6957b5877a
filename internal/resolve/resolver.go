/**
 * Bounding box resolution
 *
 * Decides where caption parts go. Three strategies, tried in order of
 * information quality:
 *
 *   text-regions  detected OCR blocks on a matched template
 *   vision-hint   model-suggested boxes on a clean template
 *   white-box     synthesized top/bottom bars when nothing else is known
 *
 * Overflow parts are stacked below the last occupied box, and every
 * emitted box lies inside the image. Boxes do not overlap unless the
 * image is too short to hold them all separated.
 */

package resolve

import (
	"context"
	"fmt"

	"github.com/agent-thor/meme-generator/internal/detect"
	"github.com/agent-thor/meme-generator/internal/imaging"
	"github.com/agent-thor/meme-generator/internal/logging"
)

// Strategy identifies how a resolution was produced.
type Strategy string

const (
	StrategyTextRegions Strategy = "text-regions"
	StrategyVisionHint  Strategy = "vision-hint"
	StrategyWhiteBox    Strategy = "white-box"
)

// Box role within the layout.
const (
	RoleTop    = "top"
	RoleBottom = "bottom"
	RoleRegion = "region"
)

// Hint box height bounds, as fractions of image height. Vision models
// tend to return boxes either razor thin or covering half the image.
const (
	minHintHeightFrac = 0.06
	maxHintHeightFrac = 0.10
)

// Caption width cap, matching the renderer's hard cap.
const widthCapFrac = 0.85

// WhiteBoxPadding is the vertical padding inside a synthesized bar.
const WhiteBoxPadding = 10

// PlacedBox is one caption slot in the final layout.
type PlacedBox struct {
	Box       imaging.Box
	Role      string
	WhiteFill bool
}

// Resolution is the ordered layout for all caption parts, tagged with
// the strategy that produced it.
type Resolution struct {
	Strategy Strategy
	Boxes    []PlacedBox
}

// LayoutHinter asks a vision model for caption box suggestions.
type LayoutHinter interface {
	SuggestLayout(ctx context.Context, imageData []byte, width, height int, captionParts []string) ([]imaging.Box, error)
}

// TextMeasurer reports the pixel height of a caption wrapped to a width,
// including the renderer's own sizing rules.
type TextMeasurer interface {
	MeasureWrapped(text string, boxWidth, imageWidth, imageHeight int) (height int)
}

// Resolver builds box layouts for caption parts.
type Resolver struct {
	hinter   LayoutHinter
	measurer TextMeasurer
	logger   *logging.Logger
}

// NewResolver creates a resolver. The hinter may be nil when no vision
// service is configured; vision-hint resolution then degrades directly
// to white-box synthesis.
func NewResolver(hinter LayoutHinter, measurer TextMeasurer) *Resolver {
	return &Resolver{
		hinter:   hinter,
		measurer: measurer,
		logger:   logging.NewLogger("BoxResolver"),
	}
}

// FromTextRegions maps caption parts onto detected text blocks, one part
// per block in order. Parts beyond the available blocks are stacked
// below the last block.
func (r *Resolver) FromTextRegions(blocks []detect.Block, parts []string, imageWidth, imageHeight int) *Resolution {
	if len(blocks) == 0 {
		return r.FromWhiteBoxes(parts, imageWidth, imageHeight)
	}

	boxes := make([]PlacedBox, 0, len(parts))

	for i, part := range parts {
		if i < len(blocks) {
			boxes = append(boxes, PlacedBox{Box: blocks[i].Box, Role: RoleRegion})
			continue
		}

		// Overflow: stack below the previous box.
		prev := boxes[len(boxes)-1].Box
		height := r.measuredHeight(part, prev.Width, imageWidth, imageHeight)
		boxes = append(boxes, PlacedBox{
			Box:  imaging.Box{X: prev.X, Y: prev.Bottom(), Width: prev.Width, Height: height},
			Role: RoleRegion,
		})
	}

	r.separateOverlaps(boxes)
	r.pullIntoImage(boxes, imageWidth, imageHeight)
	r.logger.Info("Resolved boxes from text regions", "parts", len(parts), "blocks", len(blocks))
	return &Resolution{Strategy: StrategyTextRegions, Boxes: boxes}
}

// FromVisionHints asks the hinter for boxes and sanitizes them. Any
// hinter failure falls back to white-box synthesis; the caller learns
// about the downgrade from the returned error alongside the usable
// resolution.
func (r *Resolver) FromVisionHints(ctx context.Context, imageData []byte, parts []string, imageWidth, imageHeight int) (*Resolution, error) {
	if r.hinter == nil {
		return r.FromWhiteBoxes(parts, imageWidth, imageHeight), fmt.Errorf("no layout hinter configured")
	}

	hints, err := r.hinter.SuggestLayout(ctx, imageData, imageWidth, imageHeight, parts)
	if err != nil {
		r.logger.Warn("Layout hinter failed, synthesizing white boxes", "error", err)
		return r.FromWhiteBoxes(parts, imageWidth, imageHeight), err
	}
	if len(hints) != len(parts) {
		r.logger.Warn("Layout hinter returned wrong box count, synthesizing white boxes",
			"got", len(hints), "want", len(parts))
		return r.FromWhiteBoxes(parts, imageWidth, imageHeight), fmt.Errorf("hinter returned %d boxes for %d parts", len(hints), len(parts))
	}

	boxes := make([]PlacedBox, 0, len(hints))
	for _, hint := range hints {
		boxes = append(boxes, PlacedBox{Box: r.sanitizeHint(hint, imageWidth, imageHeight), Role: RoleRegion})
	}

	r.separateOverlaps(boxes)
	r.pullIntoImage(boxes, imageWidth, imageHeight)
	r.logger.Info("Resolved boxes from vision hints", "boxes", len(boxes))
	return &Resolution{Strategy: StrategyVisionHint, Boxes: boxes}, nil
}

// FromWhiteBoxes synthesizes full-width white bars: the first part on
// top, the second at the bottom, further parts stacked under the top
// bar.
func (r *Resolver) FromWhiteBoxes(parts []string, imageWidth, imageHeight int) *Resolution {
	boxes := make([]PlacedBox, 0, len(parts))

	nextTopY := 0
	for i, part := range parts {
		height := r.measuredHeight(part, imageWidth, imageWidth, imageHeight) + 2*WhiteBoxPadding

		if i == 1 {
			boxes = append(boxes, PlacedBox{
				Box:       imaging.Box{X: 0, Y: imageHeight - height, Width: imageWidth, Height: height},
				Role:      RoleBottom,
				WhiteFill: true,
			})
			continue
		}

		boxes = append(boxes, PlacedBox{
			Box:       imaging.Box{X: 0, Y: nextTopY, Width: imageWidth, Height: height},
			Role:      roleForWhiteBox(i),
			WhiteFill: true,
		})
		nextTopY += height
	}

	r.separateOverlaps(boxes)
	r.pullIntoImage(boxes, imageWidth, imageHeight)
	r.logger.Info("Synthesized white boxes", "parts", len(parts))
	return &Resolution{Strategy: StrategyWhiteBox, Boxes: boxes}
}

func roleForWhiteBox(i int) string {
	if i == 0 {
		return RoleTop
	}
	return RoleRegion
}

// sanitizeHint clamps a hint box to the image, bounds its height to the
// 6-10% band, and caps its width at 85% of the image.
func (r *Resolver) sanitizeHint(hint imaging.Box, imageWidth, imageHeight int) imaging.Box {
	box := hint.Clamp(imageWidth, imageHeight)
	if box.Empty() {
		box = imaging.Box{X: 0, Y: 0, Width: imageWidth, Height: imageHeight / 10}
	}

	minHeight := int(float64(imageHeight) * minHintHeightFrac)
	maxHeight := int(float64(imageHeight) * maxHintHeightFrac)
	if box.Height < minHeight {
		box.Height = minHeight
	}
	if box.Height > maxHeight {
		box.Height = maxHeight
	}

	maxWidth := int(float64(imageWidth) * widthCapFrac)
	if box.Width > maxWidth {
		box.Width = maxWidth
	}

	return box.Clamp(imageWidth, imageHeight)
}

// separateOverlaps pushes each box below any earlier box it intersects.
// Earlier boxes keep their position; layout order is placement priority.
func (r *Resolver) separateOverlaps(boxes []PlacedBox) {
	for i := 1; i < len(boxes); i++ {
		for moved := true; moved; {
			moved = false
			for j := 0; j < i; j++ {
				if boxes[i].Box.Intersects(boxes[j].Box) {
					boxes[i].Box.Y = boxes[j].Box.Bottom()
					moved = true
				}
			}
		}
	}
}

// pullIntoImage drags any box pushed past the bottom edge back inside,
// so every caption stays visible. On images too short for all bars,
// boxes may then share rows; visibility wins over separation there.
func (r *Resolver) pullIntoImage(boxes []PlacedBox, imageWidth, imageHeight int) {
	for i := range boxes {
		b := &boxes[i].Box
		if b.Height > imageHeight {
			b.Height = imageHeight
		}
		if b.Bottom() > imageHeight {
			b.Y = imageHeight - b.Height
		}
		if b.Y < 0 {
			b.Y = 0
		}
	}
}

func (r *Resolver) measuredHeight(text string, boxWidth, imageWidth, imageHeight int) int {
	if r.measurer != nil {
		if h := r.measurer.MeasureWrapped(text, boxWidth, imageWidth, imageHeight); h > 0 {
			return h
		}
	}
	// Without a measurer, fall back to a single line at the band floor.
	return imageHeight / 20
}
