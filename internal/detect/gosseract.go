/**
 * Tesseract OCR engine
 *
 * Word-level recognition via gosseract. Tesseract reports confidences on
 * a 0-100 scale; they are normalized to 0-1 before filtering.
 */

package detect

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/agent-thor/meme-generator/internal/imaging"
)

// TesseractEngine runs local Tesseract OCR
type TesseractEngine struct {
	language string
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Language string
}

// NewTesseractEngine creates a new Tesseract engine instance
func NewTesseractEngine(cfg *TesseractConfig) (*TesseractEngine, error) {
	language := "eng"
	if cfg != nil && cfg.Language != "" {
		language = cfg.Language
	}

	return &TesseractEngine{language: language}, nil
}

// Recognize extracts word-level regions from the image
func (t *TesseractEngine) Recognize(ctx context.Context, imageData []byte) ([]Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Clients are not goroutine-safe, so each call gets its own.
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}

	if err := client.SetImageFromBytes(imageData); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	regions := make([]Region, 0, len(boxes))
	for _, b := range boxes {
		rect := b.Box
		regions = append(regions, Region{
			Text:       b.Word,
			Confidence: b.Confidence / 100.0,
			Box: imaging.Box{
				X:      rect.Min.X,
				Y:      rect.Min.Y,
				Width:  rect.Dx(),
				Height: rect.Dy(),
			},
		})
	}

	return regions, nil
}
