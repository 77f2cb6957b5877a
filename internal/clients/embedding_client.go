/**
 * Embedding Client for the meme worker
 *
 * Generates CLIP vit-base-patch16 image embeddings (512 dimensions) via the
 * embedding sidecar service. Vectors come back L2-normalized so template
 * similarity reduces to a dot product.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/agent-thor/meme-generator/internal/logging"
)

// EmbeddingDimensions is the CLIP vit-base-patch16 output size.
const EmbeddingDimensions = 512

// EmbeddingClient handles CLIP embedding generation
type EmbeddingClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// EmbedImageRequest represents the request to the embedding service
type EmbedImageRequest struct {
	Image  string `json:"image"`  // Base64 encoded image
	Format string `json:"format"` // "base64"
	Model  string `json:"model"`
}

// EmbedImageResponse represents the response from the embedding service
type EmbedImageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Embedding      []float32 `json:"embedding"`
		Model          string    `json:"model"`
		ProcessingTime int64     `json:"processingTime"` // milliseconds
	} `json:"data"`
}

// NewEmbeddingClient creates a new embedding client
func NewEmbeddingClient(baseURL string) (*EmbeddingClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding service URL is required")
	}

	return &EmbeddingClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.NewLogger("EmbeddingClient").With("service", baseURL),
	}, nil
}

// EmbedImage generates a 512-dimensional embedding for the given image bytes
func (e *EmbeddingClient) EmbedImage(ctx context.Context, imageData []byte) ([]float32, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("image data is required")
	}

	e.logger.Debug("Requesting image embedding",
		"model", "clip-vit-base-patch16",
		"imageSize", len(imageData))

	reqBody := EmbedImageRequest{
		Image:  base64.StdEncoding.EncodeToString(imageData),
		Format: "base64",
		Model:  "clip-vit-base-patch16",
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/embed/image", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source", "meme-worker")

	startTime := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(startTime)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(body))
	}

	var embedResp EmbedImageResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !embedResp.Success {
		return nil, fmt.Errorf("embedding service operation failed: %s", embedResp.Message)
	}

	embedding := embedResp.Data.Embedding
	if len(embedding) != EmbeddingDimensions {
		return nil, fmt.Errorf("unexpected embedding dimensions: got %d, expected %d", len(embedding), EmbeddingDimensions)
	}

	e.logger.Debug("Image embedding generated",
		"dimensions", len(embedding),
		"duration", duration)

	return Normalize(embedding), nil
}

// Normalize returns the L2-normalized copy of a vector. Zero vectors pass
// through unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
