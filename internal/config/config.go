/**
 * Configuration for the meme generation worker
 *
 * Loads configuration from environment variables matching .env
 */

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (queue + cache)
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant vector database configuration
	QdrantURL        string
	QdrantCollection string

	// Service URLs
	EmbedServiceURL  string
	VisionServiceURL string

	// Template matching
	MatchThreshold float64

	// Text detection
	ConfidenceThreshold float64
	MinTextBlocks       int

	// Image processing
	MaxProcessingDimension int

	// Rendering
	FontPath string

	// Template index
	TemplateDir string

	// Output directory for rendered memes
	OutputDir string

	// Cache configuration
	CacheTTLSeconds int
	CacheCapacity   int

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout int

	// Tesseract configuration
	TesseractPath     string
	TesseractLanguage string

	// Node environment
	NodeEnv string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:               getEnvOrDefault("REDIS_URL", "redis://meme-redis:6379"),
		DatabaseURL:            getEnvOrThrow("DATABASE_URL"),
		QdrantURL:              getEnvOrDefault("QDRANT_URL", "meme-qdrant:6334"),
		QdrantCollection:       getEnvOrDefault("QDRANT_COLLECTION", "meme_templates"),
		EmbedServiceURL:        getEnvOrDefault("EMBED_SERVICE_URL", "http://meme-embed:8087"),
		VisionServiceURL:       getEnvOrDefault("VISION_SERVICE_URL", ""),
		MatchThreshold:         getEnvAsFloatOrDefault("MATCH_THRESHOLD", 80.0),
		ConfidenceThreshold:    getEnvAsFloatOrDefault("CONFIDENCE_THRESHOLD", 0.5),
		MinTextBlocks:          getEnvAsIntOrDefault("MIN_TEXT_BLOCKS", 1),
		MaxProcessingDimension: getEnvAsIntOrDefault("MAX_PROCESSING_DIMENSION", 1600),
		FontPath:               getEnvOrDefault("FONT_PATH", ""),
		TemplateDir:            getEnvOrDefault("TEMPLATE_DIR", "/data/templates"),
		OutputDir:              getEnvOrDefault("OUTPUT_DIR", "/data/output"),
		CacheTTLSeconds:        getEnvAsIntOrDefault("CACHE_TTL_SECONDS", 86400),
		CacheCapacity:          getEnvAsIntOrDefault("CACHE_CAPACITY", 1024),
		WorkerConcurrency:      getEnvAsIntOrDefault("WORKER_CONCURRENCY", 10),
		ProcessingTimeout:      getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 120000), // 2 minutes
		TesseractPath:          getEnvOrDefault("TESSERACT_PATH", "/usr/bin/tesseract"),
		TesseractLanguage:      getEnvOrDefault("TESSERACT_LANGUAGE", "eng"),
		NodeEnv:                getEnvOrDefault("NODE_ENV", "development"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.MatchThreshold < 0 || c.MatchThreshold > 100 {
		return fmt.Errorf("MATCH_THRESHOLD must be between 0 and 100, got %f", c.MatchThreshold)
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be between 0 and 1, got %f", c.ConfidenceThreshold)
	}

	if c.MinTextBlocks < 1 {
		return fmt.Errorf("MIN_TEXT_BLOCKS must be at least 1, got %d", c.MinTextBlocks)
	}

	if c.MaxProcessingDimension < 64 || c.MaxProcessingDimension > 8192 {
		return fmt.Errorf("MAX_PROCESSING_DIMENSION must be between 64 and 8192, got %d", c.MaxProcessingDimension)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.CacheCapacity < 1 {
		return fmt.Errorf("CACHE_CAPACITY must be at least 1, got %d", c.CacheCapacity)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrThrow gets environment variable or returns error
func getEnvOrThrow(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("Required environment variable %s is not set", key))
	}
	return value
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
