/**
 * Configuration for the OCR page worker
 *
 * Loads configuration from environment variables. Settings are grouped into
 * two immutable structs: OCRConfig (engine settings) and
 * ImageProcessingConfig (preprocessing and region detection parameters).
 */

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// OCRConfig holds OCR engine settings
type OCRConfig struct {
	// EnginePath is the location of the tesseract binary. gosseract links
	// libtesseract directly, so the path is validated and logged but not
	// executed; it exists so deployments can pin a known install.
	EnginePath string

	// Languages lists trained-data languages passed to the engine, e.g.
	// ["eng"] or ["eng", "deu"].
	Languages []string

	// PageSegMode is the tesseract page segmentation mode. 6 (single
	// uniform block) suits pre-cropped text regions.
	PageSegMode int

	// DebugMode enables diagnostic logging only. It never changes
	// recognition output.
	DebugMode bool
}

// ImageProcessingConfig holds preprocessing and region detection parameters
type ImageProcessingConfig struct {
	// ThresholdMode selects binarization: "otsu" (histogram-derived level)
	// or "fixed" (use ThresholdLevel).
	ThresholdMode string

	// ThresholdLevel is the gray cutoff used when ThresholdMode is "fixed".
	ThresholdLevel uint8

	// MinRegionWidth/MinRegionHeight discard components smaller than this
	// in either dimension (specks, noise).
	MinRegionWidth  int
	MinRegionHeight int

	// RegionMergeGap merges component boxes whose edges are within this
	// many pixels of each other into a single text block.
	RegionMergeGap int

	// MaxRegions caps the number of regions returned per page. 0 means
	// unlimited.
	MaxRegions int

	// RegionWorkers bounds the recognition worker pool. 0 means NumCPU.
	RegionWorkers int
}

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Qdrant vector database configuration (transcript search index)
	QdrantURL        string
	QdrantCollection string

	// Embedding service configuration. Empty API key disables the
	// semantic index entirely.
	EmbeddingAPIKey string
	EmbeddingURL    string
	EmbeddingModel  string
	EmbeddingDims   int

	// Queue configuration
	QueueDriver string // "list" or "asynq"
	QueueName   string

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds
	TempDir           string

	// Pipeline configuration groups
	OCR   OCRConfig
	Image ImageProcessingConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:         getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:  getEnvOrDefault("QDRANT_COLLECTION", "ocr_transcripts"),
		EmbeddingAPIKey:   getEnvOrDefault("EMBEDDING_API_KEY", ""),
		EmbeddingURL:      getEnvOrDefault("EMBEDDING_URL", "https://api.voyageai.com/v1/embeddings"),
		EmbeddingModel:    getEnvOrDefault("EMBEDDING_MODEL", "voyage-3"),
		EmbeddingDims:     getEnvAsIntOrDefault("EMBEDDING_DIMS", 1024),
		QueueDriver:       getEnvOrDefault("QUEUE_DRIVER", "list"),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "ocr:jobs"),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		TempDir:           getEnvOrDefault("TEMP_DIR", "/tmp/ocr-worker"),
		OCR: OCRConfig{
			EnginePath:  getEnvOrDefault("TESSERACT_PATH", "/usr/bin/tesseract"),
			Languages:   splitList(getEnvOrDefault("OCR_LANGUAGES", "eng")),
			PageSegMode: getEnvAsIntOrDefault("OCR_PAGE_SEG_MODE", 6),
			DebugMode:   getEnvAsBoolOrDefault("OCR_DEBUG", false),
		},
		Image: ImageProcessingConfig{
			ThresholdMode:   getEnvOrDefault("IMG_THRESHOLD_MODE", "otsu"),
			ThresholdLevel:  uint8(getEnvAsIntOrDefault("IMG_THRESHOLD_LEVEL", 128)),
			MinRegionWidth:  getEnvAsIntOrDefault("IMG_MIN_REGION_WIDTH", 4),
			MinRegionHeight: getEnvAsIntOrDefault("IMG_MIN_REGION_HEIGHT", 4),
			RegionMergeGap:  getEnvAsIntOrDefault("IMG_REGION_MERGE_GAP", 8),
			MaxRegions:      getEnvAsIntOrDefault("IMG_MAX_REGIONS", 0),
			RegionWorkers:   getEnvAsIntOrDefault("IMG_REGION_WORKERS", runtime.NumCPU()),
		},
	}

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

	if c.QueueDriver != "list" && c.QueueDriver != "asynq" {
		return fmt.Errorf("QUEUE_DRIVER must be \"list\" or \"asynq\", got %q", c.QueueDriver)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if len(c.OCR.Languages) == 0 {
		return fmt.Errorf("OCR_LANGUAGES must name at least one language")
	}

	if c.Image.ThresholdMode != "otsu" && c.Image.ThresholdMode != "fixed" {
		return fmt.Errorf("IMG_THRESHOLD_MODE must be \"otsu\" or \"fixed\", got %q", c.Image.ThresholdMode)
	}

	if c.Image.MinRegionWidth < 1 || c.Image.MinRegionHeight < 1 {
		return fmt.Errorf("minimum region dimensions must be positive, got %dx%d",
			c.Image.MinRegionWidth, c.Image.MinRegionHeight)
	}

	if c.Image.RegionMergeGap < 0 {
		return fmt.Errorf("IMG_REGION_MERGE_GAP must not be negative, got %d", c.Image.RegionMergeGap)
	}

	if c.Image.RegionWorkers < 1 {
		return fmt.Errorf("IMG_REGION_WORKERS must be positive, got %d", c.Image.RegionWorkers)
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

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// splitList splits a comma- or plus-separated list, trimming whitespace
func splitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '+'
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
