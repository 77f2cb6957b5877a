/**
 * Queue Consumer for the meme generation worker
 *
 * Consumes meme jobs from the Redis queue and runs them through the
 * generation pipeline. Uses Asynq for queue management.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	pipeerrors "github.com/agent-thor/meme-generator/internal/errors"
	"github.com/agent-thor/meme-generator/internal/pipeline"
	"github.com/agent-thor/meme-generator/internal/storage"
)

// TaskGenerateMeme is the task type handled by this worker.
const TaskGenerateMeme = "meme:generate"

// JobOptions carries per-job overrides.
type JobOptions struct {
	MatchThreshold         float64 `json:"matchThreshold,omitempty"`
	MaxProcessingDimension int     `json:"maxProcessingDimension,omitempty"`
}

// JobData represents the structure of a meme generation job payload.
type JobData struct {
	JobID        string     `json:"jobId"`
	UserID       string     `json:"userId,omitempty"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	ImageBuffer  ImageBytes `json:"imageBuffer,omitempty"`
	Caption      string     `json:"caption,omitempty"`
	CaptionParts []string   `json:"captionParts,omitempty"`
	Options      JobOptions `json:"options,omitempty"`
}

// ImageBytes unmarshals either a JSON base64 string or a raw byte
// array, so payloads from different producers both decode.
type ImageBytes []byte

func (b *ImageBytes) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*b = nil
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("invalid base64 image buffer: %w", err)
		}
		*b = decoded
		return nil
	}

	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid image buffer array: %w", err)
	}
	out := make([]byte, len(raw))
	for i, v := range raw {
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// JobStore records job progress. Satisfied by storage.TemplateLibrary.
type JobStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// MemeGenerator runs a single generation request. Satisfied by
// pipeline.Pipeline.
type MemeGenerator interface {
	GenerateMeme(ctx context.Context, req *pipeline.GenerateRequest) (*pipeline.GenerateResult, error)
}

// Consumer handles job consumption from the Redis queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	generator MemeGenerator
	store     JobStore
	config    *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Generator         MemeGenerator
	Store             JobStore
	OutputDir         string
	ProcessingTimeout int64 // milliseconds, default 120000
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Generator == nil {
		return nil, fmt.Errorf("Generator is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff: 5s, 10s, 20s, capped at 60s
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, error=%v", task.Type(), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:    client,
		server:    server,
		mux:       mux,
		generator: cfg.Generator,
		store:     cfg.Store,
		config:    cfg,
	}

	mux.HandleFunc(TaskGenerateMeme, consumer.handleGenerateMeme)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			log.Printf("Queue consumer error: %v", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	log.Printf("Queue consumer stopped")
	return nil
}

// handleGenerateMeme processes one meme generation job
func (c *Consumer) handleGenerateMeme(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var jobData JobData
	if err := json.Unmarshal(task.Payload(), &jobData); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}

	if jobData.JobID == "" {
		return fmt.Errorf("job payload is missing jobId")
	}

	log.Printf("[Job %s] Generating meme: url=%s, buffer=%d bytes, user=%s",
		jobData.JobID, jobData.ImageURL, len(jobData.ImageBuffer), jobData.UserID)

	c.updateStatus(ctx, &storage.JobUpdate{
		JobID:  jobData.JobID,
		Status: "processing",
	})

	timeout := time.Duration(120000) * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.generator.GenerateMeme(processCtx, &pipeline.GenerateRequest{
		RequestID:              jobData.JobID,
		ImageBuffer:            jobData.ImageBuffer,
		ImageURL:               jobData.ImageURL,
		Caption:                jobData.Caption,
		CaptionParts:           jobData.CaptionParts,
		MatchThreshold:         jobData.Options.MatchThreshold,
		MaxProcessingDimension: jobData.Options.MaxProcessingDimension,
	})

	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Job %s] Generation timed out after %v (timeout: %v)",
				jobData.JobID, duration, timeout)

			timeoutErr := pipeerrors.NewProcessingTimeoutError(jobData.JobID, timeout, err)
			c.updateStatus(ctx, &storage.JobUpdate{
				JobID:            jobData.JobID,
				Status:           "failed",
				ProcessingTimeMs: duration.Milliseconds(),
				ErrorCode:        string(timeoutErr.Code),
				ErrorMessage:     timeoutErr.Message,
				Metadata:         timeoutErr.ToMap(),
			})

			return fmt.Errorf("meme generation timeout: %w", timeoutErr)
		}

		log.Printf("[Job %s] Generation failed after %v: %v", jobData.JobID, duration, err)

		update := &storage.JobUpdate{
			JobID:            jobData.JobID,
			Status:           "failed",
			ProcessingTimeMs: duration.Milliseconds(),
			ErrorMessage:     err.Error(),
		}
		var perr *pipeerrors.PipelineError
		if stderrors.As(err, &perr) {
			update.ErrorCode = string(perr.Code)
			update.Metadata = perr.ToMap()
		}
		c.updateStatus(ctx, update)

		return fmt.Errorf("meme generation failed: %w", err)
	}

	outputPath, writeErr := c.writeOutput(jobData.JobID, result)
	if writeErr != nil {
		log.Printf("[Job %s] Warning: Failed to write output image: %v", jobData.JobID, writeErr)
	}

	log.Printf("[Job %s] Generation completed in %v: strategy=%s, similarity=%.1f, blocks=%d",
		jobData.JobID, duration, result.Strategy, result.Similarity, result.BlocksDetected)

	c.updateStatus(ctx, &storage.JobUpdate{
		JobID:             jobData.JobID,
		Status:            "completed",
		Strategy:          result.Strategy,
		Similarity:        result.Similarity,
		ProcessingTimeMs:  result.ProcessingTimeMs,
		InpaintingApplied: result.InpaintingApplied,
		Metadata: map[string]interface{}{
			"outputPath":     outputPath,
			"outputFormat":   result.OutputFormat,
			"fromTemplate":   result.FromTemplate,
			"templateId":     result.TemplateID,
			"blocksDetected": result.BlocksDetected,
			"degradations":   result.Degradations,
		},
	})

	return nil
}

// writeOutput persists the rendered image under the output directory.
func (c *Consumer) writeOutput(jobID string, result *pipeline.GenerateResult) (string, error) {
	dir := c.config.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	ext := result.OutputFormat
	if ext == "" {
		ext = "png"
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.%s", jobID, ext))
	if err := os.WriteFile(path, result.OutputImage, 0o644); err != nil {
		return "", fmt.Errorf("failed to write output image: %w", err)
	}
	return path, nil
}

// updateStatus records job progress, logging failures without aborting
// the job.
func (c *Consumer) updateStatus(ctx context.Context, update *storage.JobUpdate) {
	if c.store == nil {
		return
	}
	if err := c.store.UpdateJobStatus(ctx, update); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to %s: %v",
			update.JobID, update.Status, err)
	}
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"redisURL":    c.config.RedisURL,
	}
}
