/**
 * Vision Layout Client
 *
 * Asks a vision model service where caption boxes belong on a template
 * image. The service returns pixel rectangles in the template's own
 * coordinate space, one per caption part, in reading order.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agent-thor/meme-generator/internal/imaging"
	"github.com/agent-thor/meme-generator/internal/logging"
)

// VisionLayoutClient handles communication with the vision layout service
type VisionLayoutClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// LayoutHintRequest represents a request for caption box placement
type LayoutHintRequest struct {
	Image        string   `json:"image"`  // Base64 encoded image
	Format       string   `json:"format"` // "base64"
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	CaptionParts []string `json:"captionParts"`
}

// LayoutHintResponse represents the response from the layout endpoint
type LayoutHintResponse struct {
	Success bool           `json:"success"`
	Data    LayoutHintData `json:"data"`
	Message string         `json:"message"`
}

// LayoutHintData contains the suggested boxes
type LayoutHintData struct {
	Boxes          []LayoutHintBox `json:"boxes"`
	ModelUsed      string          `json:"modelUsed"`
	ProcessingTime int64           `json:"processingTime"` // milliseconds
}

// LayoutHintBox is a suggested caption rectangle
type LayoutHintBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewVisionLayoutClient creates a new vision layout client
func NewVisionLayoutClient(baseURL string) *VisionLayoutClient {
	return &VisionLayoutClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // Vision tasks can take time
		},
		logger: logging.NewLogger("VisionLayoutClient").With("service", baseURL),
	}
}

// SuggestLayout requests one box per caption part for the given image
func (c *VisionLayoutClient) SuggestLayout(ctx context.Context, imageData []byte, width, height int, captionParts []string) ([]imaging.Box, error) {
	if len(captionParts) == 0 {
		return nil, fmt.Errorf("at least one caption part is required")
	}

	c.logger.Info("Requesting layout hints from vision service",
		"parts", len(captionParts),
		"imageSize", len(imageData))

	req := &LayoutHintRequest{
		Image:        base64.StdEncoding.EncodeToString(imageData),
		Format:       "base64",
		Width:        width,
		Height:       height,
		CaptionParts: captionParts,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/vision/suggest-layout", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "meme-worker")
	httpReq.Header.Set("X-Request-ID", fmt.Sprintf("layout-%d", time.Now().UnixNano()))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to vision service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vision service returned error status %d: %s", resp.StatusCode, string(body))
	}

	var hintResp LayoutHintResponse
	if err := json.Unmarshal(body, &hintResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !hintResp.Success {
		return nil, fmt.Errorf("vision service operation failed: %s", hintResp.Message)
	}

	if len(hintResp.Data.Boxes) != len(captionParts) {
		return nil, fmt.Errorf("unexpected number of boxes: got %d, expected %d", len(hintResp.Data.Boxes), len(captionParts))
	}

	boxes := make([]imaging.Box, len(hintResp.Data.Boxes))
	for i, b := range hintResp.Data.Boxes {
		boxes[i] = imaging.Box{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
	}

	c.logger.Info("Layout hints received",
		"modelUsed", hintResp.Data.ModelUsed,
		"boxes", len(boxes),
		"processingTime", hintResp.Data.ProcessingTime)

	return boxes, nil
}

// HealthCheck verifies the vision service is available
func (c *VisionLayoutClient) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
