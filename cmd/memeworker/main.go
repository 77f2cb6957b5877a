/**
 * Meme Generation Worker - Main Entry Point
 *
 * Go worker for CLIP-indexed meme generation.
 *
 * Architecture:
 * - Asynq consumer for Redis-backed job queue
 * - CLIP embedding service + Qdrant for template matching
 * - Tesseract OCR for text block detection
 * - OpenCV Telea inpainting for text removal
 * - Impact-style caption rendering with white-box fallback
 * - PostgreSQL persistence for job bookkeeping
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agent-thor/meme-generator/internal/cache"
	"github.com/agent-thor/meme-generator/internal/clients"
	"github.com/agent-thor/meme-generator/internal/config"
	"github.com/agent-thor/meme-generator/internal/detect"
	"github.com/agent-thor/meme-generator/internal/index"
	"github.com/agent-thor/meme-generator/internal/inpaint"
	"github.com/agent-thor/meme-generator/internal/pipeline"
	"github.com/agent-thor/meme-generator/internal/queue"
	"github.com/agent-thor/meme-generator/internal/render"
	"github.com/agent-thor/meme-generator/internal/resolve"
	"github.com/agent-thor/meme-generator/internal/storage"
)

const snapshotReloadInterval = 5 * time.Minute

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Meme generation worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Qdrant=%s, Embed=%s, Workers=%d",
		cfg.RedisURL, cfg.QdrantURL, cfg.EmbedServiceURL, cfg.WorkerConcurrency)

	// Storage (Qdrant + PostgreSQL)
	log.Printf("Connecting to storage (Qdrant + PostgreSQL)...")
	qdrantClient, err := storage.NewQdrantClient(cfg.QdrantURL, cfg.QdrantCollection)
	if err != nil {
		log.Fatalf("Failed to initialize Qdrant client: %v", err)
	}
	postgresClient, err := storage.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL client: %v", err)
	}
	library, err := storage.NewTemplateLibrary(qdrantClient, postgresClient)
	if err != nil {
		log.Fatalf("Failed to initialize template library: %v", err)
	}
	defer library.Close()
	log.Printf("Template library initialized")

	// Cache: Redis preferred, in-memory fallback
	var sharedCache cache.Cache
	redisCache, err := cache.NewRedisCache(cfg.RedisURL)
	if err != nil {
		log.Printf("Warning: Redis cache unavailable (%v), using in-memory cache", err)
		sharedCache = cache.NewMemoryCache(cfg.CacheCapacity)
	} else {
		sharedCache = redisCache
	}
	defer sharedCache.Close()

	// Embedding client + template index
	embedClient, err := clients.NewEmbeddingClient(cfg.EmbedServiceURL)
	if err != nil {
		log.Fatalf("Failed to initialize embedding client: %v", err)
	}

	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	templateIndex := index.NewIndex(embedClient, sharedCache, cacheTTL, cfg.MatchThreshold)

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 60*time.Second)
	records, err := library.LoadSnapshot(loadCtx)
	cancelLoad()
	if err != nil {
		log.Printf("Warning: Failed to load template snapshot, matching degraded: %v", err)
	} else {
		gen := templateIndex.Swap(records)
		log.Printf("Template index loaded: %d templates (generation %d)", len(records), gen)
	}

	// Periodic snapshot reload
	reloadDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(snapshotReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-reloadDone:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
				records, err := library.LoadSnapshot(ctx)
				cancel()
				if err != nil {
					log.Printf("Warning: Template snapshot reload failed: %v", err)
					continue
				}
				gen := templateIndex.Swap(records)
				log.Printf("Template index reloaded: %d templates (generation %d)", len(records), gen)
			}
		}
	}()
	defer close(reloadDone)

	// Text detection (Tesseract)
	ocrEngine, err := detect.NewTesseractEngine(&detect.TesseractConfig{
		Language: cfg.TesseractLanguage,
	})
	if err != nil {
		log.Fatalf("Failed to initialize Tesseract engine: %v", err)
	}
	detector := detect.NewDetector(ocrEngine, sharedCache, cacheTTL, cfg.ConfidenceThreshold)

	// Inpainting (OpenCV Telea)
	remover := inpaint.NewRemover(inpaint.NewTeleaFiller())

	// Rendering
	renderer, err := render.NewRenderer(cfg.FontPath)
	if err != nil {
		log.Fatalf("Failed to initialize renderer: %v", err)
	}

	// Layout resolution, with vision hints when a service is configured
	var hinter resolve.LayoutHinter
	if cfg.VisionServiceURL != "" {
		visionClient := clients.NewVisionLayoutClient(cfg.VisionServiceURL)
		healthCtx, cancelHealth := context.WithTimeout(context.Background(), 10*time.Second)
		if err := visionClient.HealthCheck(healthCtx); err != nil {
			log.Printf("Warning: Vision service health check failed, hints will degrade at runtime: %v", err)
		}
		cancelHealth()
		hinter = visionClient
		log.Printf("Vision layout hints enabled: %s", cfg.VisionServiceURL)
	}
	resolver := resolve.NewResolver(hinter, renderer)

	// Pipeline
	memePipeline, err := pipeline.NewPipeline(templateIndex, detector, remover, resolver, renderer, pipeline.Config{
		MinTextBlocks:          cfg.MinTextBlocks,
		MaxProcessingDimension: cfg.MaxProcessingDimension,
		Style:                  render.DefaultStyle(),
	})
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	log.Printf("Generation pipeline initialized")

	// Queue consumer
	log.Printf("Connecting to Redis queue...")
	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         "meme-generation",
		Concurrency:       cfg.WorkerConcurrency,
		Generator:         memePipeline,
		Store:             library,
		OutputDir:         cfg.OutputDir,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	if err := consumer.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("Meme generation worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: meme-generation")
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Match threshold: %.1f", cfg.MatchThreshold)
	log.Printf("OCR confidence threshold: %.2f", cfg.ConfidenceThreshold)
	log.Printf("Output directory: %s", cfg.OutputDir)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	log.Printf("Shutdown complete")
}
