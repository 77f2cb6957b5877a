/**
 * Image decode/encode helpers and content hashing
 *
 * All cache keys in the pipeline derive from ContentHash so that repeated
 * requests for identical bytes resolve to the same OCR and embedding entries.
 */

package imaging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// ContentHash returns the hex SHA-256 of the raw image bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DetectFormat sniffs the image format from magic bytes.
func DetectFormat(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "png"
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "jpeg"
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp"
	default:
		return ""
	}
}

// Decode parses image bytes into an image.Image.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// Encode serializes an image in the given format. Unknown formats fall
// back to PNG so the pipeline always produces a decodable result.
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Downsample scales the image so its longest side is at most maxDim and
// returns the scaled image plus the applied scale factor (<= 1.0). Images
// already within bounds come back untouched with factor 1.0.
func Downsample(img image.Image, maxDim int) (image.Image, float64) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	longest := maxInt(w, h)
	if maxDim <= 0 || longest <= maxDim {
		return img, 1.0
	}

	factor := float64(maxDim) / float64(longest)
	dstW := maxInt(int(float64(w)*factor+0.5), 1)
	dstH := maxInt(int(float64(h)*factor+0.5), 1)

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst, factor
}
