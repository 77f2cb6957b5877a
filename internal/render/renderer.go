/**
 * Caption text rendering
 *
 * Draws caption parts into resolved boxes. Font size comes from a band
 * keyed to the base image width; within the band the largest size whose
 * wrapped block fits the box, the 8% height cap, and the 85% width cap
 * wins. Outline styling is done with offset passes of the outline color
 * under a final fill pass, matching classic meme lettering.
 */

package render

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/agent-thor/meme-generator/internal/imaging"
	"github.com/agent-thor/meme-generator/internal/logging"
	"github.com/agent-thor/meme-generator/internal/resolve"
)

// Hard caps relative to the base image.
const (
	maxBlockHeightFrac = 0.08
	maxBlockWidthFrac  = 0.85
)

// EdgePadding keeps anchored text off the image border.
const EdgePadding = 10

// DefaultOutlineWidth is the offset-pass radius in pixels.
const DefaultOutlineWidth = 3

// sizeBand is an inclusive font size range in pixels.
type sizeBand struct {
	min, max int
}

// bandFor selects the font size band for a base image width.
func bandFor(imageWidth int) sizeBand {
	switch {
	case imageWidth < 500:
		return sizeBand{15, 25}
	case imageWidth < 800:
		return sizeBand{20, 35}
	case imageWidth < 1200:
		return sizeBand{25, 45}
	default:
		return sizeBand{30, 55}
	}
}

// Style controls caption appearance.
type Style struct {
	FillColor    color.Color
	OutlineColor color.Color
	OutlineWidth int
}

// DefaultStyle is black lettering with a white outline.
func DefaultStyle() Style {
	return Style{
		FillColor:    color.Black,
		OutlineColor: color.White,
		OutlineWidth: DefaultOutlineWidth,
	}
}

// Renderer draws captions with a cached set of font faces.
type Renderer struct {
	font     *truetype.Font
	fontID   string
	mu       sync.Mutex
	faces    map[int]font.Face
	measurer *gg.Context
	logger   *logging.Logger
}

// NewRenderer loads the TTF at fontPath, or the bundled Go Regular face
// when the path is empty.
func NewRenderer(fontPath string) (*Renderer, error) {
	ttf := goregular.TTF
	fontID := "goregular"

	if fontPath != "" {
		data, err := os.ReadFile(fontPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read font file: %w", err)
		}
		ttf = data
		fontID = fontPath
	}

	parsed, err := truetype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	return &Renderer{
		font:     parsed,
		fontID:   fontID,
		faces:    make(map[int]font.Face),
		measurer: gg.NewContext(1, 1),
		logger:   logging.NewLogger("TextRenderer"),
	}, nil
}

// faceFor returns a cached face for the given pixel size. Faces are
// keyed by (font identity, size); the identity is fixed per renderer.
func (r *Renderer) faceFor(size int) font.Face {
	r.mu.Lock()
	defer r.mu.Unlock()

	if face, ok := r.faces[size]; ok {
		return face
	}
	face := truetype.NewFace(r.font, &truetype.Options{Size: float64(size)})
	r.faces[size] = face
	return face
}

// fit is a sized, wrapped caption ready to draw.
type fit struct {
	size       int
	lines      []string
	lineHeight float64
	width      float64
}

// fitText finds the largest band size whose wrapped block satisfies the
// box and the image caps. If nothing fits, the band minimum is used
// with whatever wrapping it produces.
func (r *Renderer) fitText(text string, box resolve.PlacedBox, imageWidth, imageHeight int) fit {
	band := bandFor(imageWidth)
	widthLimit := float64(minInt(box.Box.Width, int(float64(imageWidth)*maxBlockWidthFrac)))
	heightLimit := float64(minInt(box.Box.Height, int(float64(imageHeight)*maxBlockHeightFrac)))

	r.mu.Lock()
	defer r.mu.Unlock()

	var fallback fit
	for size := band.max; size >= band.min; size-- {
		candidate := r.layoutLocked(text, size, widthLimit)
		if size == band.min {
			fallback = candidate
		}
		blockHeight := candidate.lineHeight * float64(len(candidate.lines))
		if candidate.width <= widthLimit && blockHeight <= heightLimit {
			return candidate
		}
	}
	return fallback
}

// layoutLocked wraps text at the given size against a width limit.
// Caller holds r.mu.
func (r *Renderer) layoutLocked(text string, size int, widthLimit float64) fit {
	face, ok := r.faces[size]
	if !ok {
		face = truetype.NewFace(r.font, &truetype.Options{Size: float64(size)})
		r.faces[size] = face
	}
	r.measurer.SetFontFace(face)

	words := strings.Fields(text)
	lines := make([]string, 0, 1)
	current := ""
	maxWidth := 0.0

	flush := func() {
		if current == "" {
			return
		}
		w, _ := r.measurer.MeasureString(current)
		if w > maxWidth {
			maxWidth = w
		}
		lines = append(lines, current)
		current = ""
	}

	for _, word := range words {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if w, _ := r.measurer.MeasureString(candidate); w > widthLimit && current != "" {
			flush()
			current = word
			continue
		}
		current = candidate
	}
	flush()

	if len(lines) == 0 {
		lines = []string{""}
	}

	// gg line height: 1.2x the font size reads well for stacked caps.
	return fit{
		size:       size,
		lines:      lines,
		lineHeight: float64(size) * 1.2,
		width:      maxWidth,
	}
}

// MeasureWrapped reports the wrapped block height for a caption in a box
// of the given width, using the same band and cap rules as rendering.
func (r *Renderer) MeasureWrapped(text string, boxWidth, imageWidth, imageHeight int) int {
	probe := resolve.PlacedBox{
		Box: imaging.Box{Width: boxWidth, Height: imageHeight},
	}
	f := r.fitText(text, probe, imageWidth, imageHeight)
	return int(f.lineHeight * float64(len(f.lines)))
}

// Render draws each caption part into its resolved box on a copy of the
// base image. The base is never mutated.
func (r *Renderer) Render(base image.Image, resolution *resolve.Resolution, parts []string, style Style) (image.Image, error) {
	if resolution == nil || len(resolution.Boxes) == 0 {
		return nil, fmt.Errorf("resolution has no boxes to render into")
	}
	if len(parts) > len(resolution.Boxes) {
		return nil, fmt.Errorf("resolution has %d boxes for %d caption parts", len(resolution.Boxes), len(parts))
	}
	if style.OutlineWidth <= 0 {
		style.OutlineWidth = DefaultOutlineWidth
	}
	if style.FillColor == nil || style.OutlineColor == nil {
		def := DefaultStyle()
		if style.FillColor == nil {
			style.FillColor = def.FillColor
		}
		if style.OutlineColor == nil {
			style.OutlineColor = def.OutlineColor
		}
	}

	bounds := base.Bounds()
	dc := gg.NewContextForImage(base)

	for i, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		placed := resolution.Boxes[i]
		f := r.fitText(part, placed, bounds.Dx(), bounds.Dy())

		if placed.WhiteFill {
			dc.SetColor(color.White)
			dc.DrawRectangle(float64(placed.Box.X), float64(placed.Box.Y),
				float64(placed.Box.Width), float64(placed.Box.Height))
			dc.Fill()
		}

		r.drawBlock(dc, part, f, placed, style)
	}

	r.logger.Info("Rendered caption parts", "parts", len(parts), "strategy", resolution.Strategy)
	return dc.Image(), nil
}

// drawBlock draws one wrapped caption block with anchoring and styling.
func (r *Renderer) drawBlock(dc *gg.Context, part string, f fit, placed resolve.PlacedBox, style Style) {
	dc.SetFontFace(r.faceFor(f.size))

	blockHeight := f.lineHeight * float64(len(f.lines))
	var startY float64
	switch placed.Role {
	case resolve.RoleTop:
		startY = float64(placed.Box.Y) + EdgePadding
	case resolve.RoleBottom:
		startY = float64(placed.Box.Bottom()) - EdgePadding - blockHeight
	default:
		startY = float64(placed.Box.Y) + (float64(placed.Box.Height)-blockHeight)/2
	}

	centerX := float64(placed.Box.X) + float64(placed.Box.Width)/2

	for li, line := range f.lines {
		// Baseline sits one line height below the line's top edge.
		y := startY + float64(li)*f.lineHeight + f.lineHeight*0.8

		if !placed.WhiteFill {
			dc.SetColor(style.OutlineColor)
			t := style.OutlineWidth
			for dx := -t; dx <= t; dx++ {
				for dy := -t; dy <= t; dy++ {
					if dx == 0 && dy == 0 {
						continue
					}
					dc.DrawStringAnchored(line, centerX+float64(dx), y+float64(dy), 0.5, 0)
				}
			}
		}

		dc.SetColor(style.FillColor)
		dc.DrawStringAnchored(line, centerX, y, 0.5, 0)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
