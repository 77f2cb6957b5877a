/**
 * Meme generation pipeline
 *
 * Orchestrates template matching, text detection, inpainting, box
 * resolution, and rendering into the end-to-end decision flow:
 *
 *   match found + text found    caption the detected regions
 *   match found + no text       vision layout hints on the template
 *   no match                    white top/bottom bars on the input,
 *                               old text inpainted away first
 *
 * Capability failures degrade to the next weaker strategy; only the
 * final rendering step can fail a request outright.
 */

package pipeline

import (
	"context"
	"fmt"
	"image"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/agent-thor/meme-generator/internal/detect"
	pipeerrors "github.com/agent-thor/meme-generator/internal/errors"
	"github.com/agent-thor/meme-generator/internal/imaging"
	"github.com/agent-thor/meme-generator/internal/index"
	"github.com/agent-thor/meme-generator/internal/render"
	"github.com/agent-thor/meme-generator/internal/resolve"
)

// Matcher finds the best template for an image.
type Matcher interface {
	Match(ctx context.Context, imageData []byte) (*index.MatchResult, error)
}

// BlockDetector finds merged text blocks in an image.
type BlockDetector interface {
	DetectBlocks(ctx context.Context, imageData []byte, imageWidth, imageHeight int) ([]detect.Block, error)
}

// TextRemover erases text blocks from an image.
type TextRemover interface {
	Remove(img image.Image, blocks []detect.Block) (image.Image, error)
}

// BoxResolver produces caption layouts per strategy.
type BoxResolver interface {
	FromTextRegions(blocks []detect.Block, parts []string, imageWidth, imageHeight int) *resolve.Resolution
	FromVisionHints(ctx context.Context, imageData []byte, parts []string, imageWidth, imageHeight int) (*resolve.Resolution, error)
	FromWhiteBoxes(parts []string, imageWidth, imageHeight int) *resolve.Resolution
}

// CaptionRenderer draws caption parts into resolved boxes.
type CaptionRenderer interface {
	Render(base image.Image, resolution *resolve.Resolution, parts []string, style render.Style) (image.Image, error)
}

// Config holds pipeline tuning knobs.
type Config struct {
	// MinTextBlocks is how many merged blocks count as "text detected".
	MinTextBlocks int

	// MaxProcessingDimension bounds the longest side of the bytes fed
	// to embedding and OCR. Zero disables downsampling.
	MaxProcessingDimension int

	Style render.Style
}

// GenerateRequest is one meme generation job.
type GenerateRequest struct {
	RequestID    string
	ImageBuffer  []byte
	ImageURL     string
	Caption      string   // "|"-separated parts
	CaptionParts []string // takes precedence over Caption when set

	// Per-request overrides; zero values fall back to configuration.
	MatchThreshold         float64
	MaxProcessingDimension int
}

// GenerateResult reports the rendered meme and how it was produced.
type GenerateResult struct {
	OutputImage       []byte
	OutputFormat      string
	FromTemplate      bool
	TemplateID        string
	Similarity        float64
	Strategy          string
	Degradations      []string
	InpaintingApplied bool
	BlocksDetected    int
	ProcessingTimeMs  int64
}

// Pipeline wires the five capabilities together.
type Pipeline struct {
	matcher        Matcher
	detector       BlockDetector
	remover        TextRemover
	resolver       BoxResolver
	renderer       CaptionRenderer
	config         Config
	templateReader func(path string) ([]byte, error)
}

// NewPipeline creates a pipeline. All five capabilities are required.
func NewPipeline(matcher Matcher, detector BlockDetector, remover TextRemover, resolver BoxResolver, renderer CaptionRenderer, cfg Config) (*Pipeline, error) {
	if matcher == nil || detector == nil || remover == nil || resolver == nil || renderer == nil {
		return nil, fmt.Errorf("all pipeline capabilities are required")
	}
	if cfg.MinTextBlocks < 1 {
		cfg.MinTextBlocks = 1
	}
	return &Pipeline{
		matcher:        matcher,
		detector:       detector,
		remover:        remover,
		resolver:       resolver,
		renderer:       renderer,
		config:         cfg,
		templateReader: os.ReadFile,
	}, nil
}

// SetTemplateReader overrides how template images are loaded from their
// stored paths.
func (p *Pipeline) SetTemplateReader(reader func(path string) ([]byte, error)) {
	p.templateReader = reader
}

// GenerateMeme runs the full pipeline for one request.
func (p *Pipeline) GenerateMeme(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	startTime := time.Now()
	log.Printf("[Request %s] Starting meme generation pipeline", req.RequestID)

	result := &GenerateResult{}

	parts := captionParts(req)
	if len(parts) == 0 {
		return nil, fmt.Errorf("no caption parts provided")
	}

	// Step 1: Load input image
	log.Printf("[Request %s] Step 1: Loading input image", req.RequestID)
	imageBytes, err := p.loadImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to load input image: %w", err)
	}

	original, format, err := imaging.Decode(imageBytes)
	if err != nil {
		return nil, pipeerrors.NewInvalidImageError(req.RequestID, err)
	}
	origBounds := original.Bounds()
	log.Printf("[Request %s] Input decoded: %dx%d %s, %d caption parts",
		req.RequestID, origBounds.Dx(), origBounds.Dy(), format, len(parts))

	// Step 2: Downsample a copy for analysis; the original stays the
	// rendering base.
	maxDim := p.config.MaxProcessingDimension
	if req.MaxProcessingDimension > 0 {
		maxDim = req.MaxProcessingDimension
	}
	analysisBytes, analysisScale := imageBytes, 1.0
	analysisW, analysisH := origBounds.Dx(), origBounds.Dy()
	if maxDim > 0 {
		scaled, factor := imaging.Downsample(original, maxDim)
		if factor < 1.0 {
			encoded, err := imaging.Encode(scaled, "png")
			if err == nil {
				analysisBytes = encoded
				analysisScale = factor
				analysisW, analysisH = scaled.Bounds().Dx(), scaled.Bounds().Dy()
				log.Printf("[Request %s] Step 2: Downsampled for analysis to %dx%d (factor %.3f)",
					req.RequestID, analysisW, analysisH, factor)
			}
		}
	}

	// Step 3: Template matching
	log.Printf("[Request %s] Step 3: Matching against template index", req.RequestID)
	match := p.matchTemplate(ctx, req, analysisBytes, result)

	// Step 4: Text detection on the input image (analysis copy, boxes
	// projected back to input coordinates)
	log.Printf("[Request %s] Step 4: Detecting text regions", req.RequestID)
	blocks := p.detectBlocks(ctx, req, analysisBytes, analysisW, analysisH, analysisScale, result)
	result.BlocksDetected = len(blocks)
	textDetected := len(blocks) >= p.config.MinTextBlocks

	// Step 5: Resolve caption boxes and pick the base image
	log.Printf("[Request %s] Step 5: Resolving caption boxes (template=%v, textDetected=%v)",
		req.RequestID, match != nil, textDetected)

	base := original
	var resolution *resolve.Resolution

	if match != nil {
		templateBase, templateBytes, loadErr := p.loadTemplateBase(match)
		if loadErr != nil {
			log.Printf("[Request %s] WARNING: Failed to load template image: %v. Proceeding without a template.",
				req.RequestID, loadErr)
			result.Degradations = append(result.Degradations, string(pipeerrors.ErrorMatchingUnavailable))
			match = nil
		} else {
			base = templateBase
			baseBounds := base.Bounds()
			if textDetected {
				resolution = p.resolver.FromTextRegions(blocks, parts, baseBounds.Dx(), baseBounds.Dy())
			} else {
				var hintErr error
				resolution, hintErr = p.resolver.FromVisionHints(ctx, templateBytes, parts, baseBounds.Dx(), baseBounds.Dy())
				if hintErr != nil {
					log.Printf("[Request %s] Layout hints unavailable: %v. Using synthesized boxes on the template base.",
						req.RequestID, hintErr)
					result.Degradations = append(result.Degradations, string(pipeerrors.ErrorLayoutHintUnavailable))
				}
			}
		}
	}

	if match == nil {
		// Step 6: Inpaint existing text on the no-template branch only
		if textDetected {
			log.Printf("[Request %s] Step 6: Inpainting %d existing text blocks", req.RequestID, len(blocks))
			cleaned, inpaintErr := p.remover.Remove(original, blocks)
			if inpaintErr != nil {
				log.Printf("[Request %s] WARNING: Inpainting failed: %v. Rendering over the original pixels.",
					req.RequestID, inpaintErr)
			} else {
				base = cleaned
				result.InpaintingApplied = true
			}
		} else {
			log.Printf("[Request %s] Step 6: No confident text blocks, skipping inpainting", req.RequestID)
		}

		baseBounds := base.Bounds()
		resolution = p.resolver.FromWhiteBoxes(parts, baseBounds.Dx(), baseBounds.Dy())
	}

	result.FromTemplate = match != nil
	if match != nil {
		result.TemplateID = match.TemplateID
	}
	result.Strategy = string(resolution.Strategy)

	// Step 7: Render captions
	log.Printf("[Request %s] Step 7: Rendering %d caption parts (strategy: %s)",
		req.RequestID, len(parts), result.Strategy)
	rendered, err := p.renderer.Render(base, resolution, parts, p.config.Style)
	if err != nil {
		return nil, pipeerrors.NewRenderingFailedError(req.RequestID, err)
	}

	// Step 8: Encode output
	outputFormat := format
	if result.FromTemplate {
		outputFormat = "png"
	}
	output, err := imaging.Encode(rendered, outputFormat)
	if err != nil {
		return nil, pipeerrors.NewRenderingFailedError(req.RequestID, err)
	}

	result.OutputImage = output
	result.OutputFormat = outputFormat
	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	log.Printf("[Request %s] Pipeline complete: strategy=%s fromTemplate=%v similarity=%.1f inpainted=%v duration=%dms",
		req.RequestID, result.Strategy, result.FromTemplate, result.Similarity,
		result.InpaintingApplied, result.ProcessingTimeMs)

	return result, nil
}

// matchTemplate runs the index scan, applying any per-request threshold
// override. A matcher failure degrades to the no-template path.
func (p *Pipeline) matchTemplate(ctx context.Context, req *GenerateRequest, analysisBytes []byte, result *GenerateResult) *index.MatchResult {
	match, err := p.matcher.Match(ctx, analysisBytes)
	if err != nil {
		log.Printf("[Request %s] Template matching unavailable: %v. Proceeding without a template.",
			req.RequestID, err)
		result.Degradations = append(result.Degradations, string(pipeerrors.ErrorMatchingUnavailable))
		return nil
	}

	result.Similarity = match.Similarity

	matched := match.Matched
	if req.MatchThreshold > 0 {
		matched = match.Similarity >= req.MatchThreshold
	}
	if !matched {
		log.Printf("[Request %s] Best template %s scored %.1f, below threshold",
			req.RequestID, match.TemplateID, match.Similarity)
		return nil
	}

	log.Printf("[Request %s] Matched template %s (similarity %.1f)",
		req.RequestID, match.TemplateID, match.Similarity)
	return match
}

// detectBlocks runs OCR on the analysis bytes and projects boxes back
// into input coordinates. Detection failure degrades to "no text".
func (p *Pipeline) detectBlocks(ctx context.Context, req *GenerateRequest, analysisBytes []byte, analysisW, analysisH int, analysisScale float64, result *GenerateResult) []detect.Block {
	blocks, err := p.detector.DetectBlocks(ctx, analysisBytes, analysisW, analysisH)
	if err != nil {
		log.Printf("[Request %s] Text detection unavailable: %v. Treating image as text-free.",
			req.RequestID, err)
		result.Degradations = append(result.Degradations, string(pipeerrors.ErrorDetectionUnavailable))
		return nil
	}

	if analysisScale < 1.0 && analysisScale > 0 {
		inverse := 1.0 / analysisScale
		projected := make([]detect.Block, len(blocks))
		for i, b := range blocks {
			projected[i] = detect.Block{Text: b.Text, Box: b.Box.Scale(inverse)}
		}
		return projected
	}
	return blocks
}

// loadTemplateBase reads and decodes the matched template image.
func (p *Pipeline) loadTemplateBase(match *index.MatchResult) (image.Image, []byte, error) {
	data, err := p.templateReader(match.ImagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read template image: %w", err)
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode template image: %w", err)
	}
	return img, data, nil
}

// loadImage loads the input from buffer or URL.
func (p *Pipeline) loadImage(ctx context.Context, req *GenerateRequest) ([]byte, error) {
	if len(req.ImageBuffer) > 0 {
		log.Printf("[Request %s] Using image buffer (%d bytes)", req.RequestID, len(req.ImageBuffer))
		return req.ImageBuffer, nil
	}

	if req.ImageURL != "" {
		log.Printf("[Request %s] Downloading image from URL: %s", req.RequestID, req.ImageURL)
		data, err := p.downloadImageFromURL(ctx, req.RequestID, req.ImageURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download image: %w", err)
		}
		log.Printf("[Request %s] Image downloaded successfully (%d bytes)", req.RequestID, len(data))
		return data, nil
	}

	return nil, fmt.Errorf("no image source provided (buffer or URL)")
}

// downloadImageFromURL downloads an image with retry and exponential
// backoff.
func (p *Pipeline) downloadImageFromURL(ctx context.Context, requestID, imageURL string) ([]byte, error) {
	const (
		maxRetries       = 3
		initialBackoffMs = 500
		maxBackoffMs     = 8000
		maxImageBytes    = 32 * 1024 * 1024
	)

	client := &http.Client{Timeout: 30 * time.Second}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Printf("[Request %s] Download attempt %d/%d", requestID, attempt, maxRetries)

		data, err := p.fetchOnce(ctx, client, imageURL, maxImageBytes)
		if err == nil {
			log.Printf("[Request %s] Download successful on attempt %d: %d bytes", requestID, attempt, len(data))
			return data, nil
		}

		lastErr = err
		log.Printf("[Request %s] Download attempt %d failed: %v", requestID, attempt, err)

		if attempt < maxRetries {
			backoffMs := initialBackoffMs * int(math.Pow(2, float64(attempt-1)))
			if backoffMs > maxBackoffMs {
				backoffMs = maxBackoffMs
			}
			log.Printf("[Request %s] Retrying in %dms...", requestID, backoffMs)
			select {
			case <-time.After(time.Duration(backoffMs) * time.Millisecond):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff")
			}
		}
	}

	return nil, fmt.Errorf("failed to download image after %d attempts: %w", maxRetries, lastErr)
}

func (p *Pipeline) fetchOnce(ctx context.Context, client *http.Client, imageURL string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

// captionParts returns the explicit parts, or the caption split on "|".
func captionParts(req *GenerateRequest) []string {
	raw := req.CaptionParts
	if len(raw) == 0 && req.Caption != "" {
		raw = strings.Split(req.Caption, "|")
	}

	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
