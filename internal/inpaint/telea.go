/**
 * Telea inpainting backend via OpenCV
 */

package inpaint

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// InpaintRadius is the neighborhood radius used by the Telea algorithm.
const InpaintRadius = 3

// TeleaFiller fills masked regions with OpenCV's Telea algorithm.
type TeleaFiller struct{}

// NewTeleaFiller creates a Telea fill backend.
func NewTeleaFiller() *TeleaFiller {
	return &TeleaFiller{}
}

// Fill reconstructs the masked pixels from their surroundings.
func (f *TeleaFiller) Fill(img image.Image, mask *image.Gray) (image.Image, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image to mat: %w", err)
	}
	defer src.Close()

	maskMat, err := gocv.ImageGrayToMatGray(mask)
	if err != nil {
		return nil, fmt.Errorf("failed to convert mask to mat: %w", err)
	}
	defer maskMat.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	gocv.Inpaint(src, maskMat, &dst, InpaintRadius, gocv.Telea)

	result, err := dst.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert result mat: %w", err)
	}
	return result, nil
}
