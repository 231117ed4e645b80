// Package config provides unified configuration loading for the pipeline.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the document pipeline.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	ObjectStore   ObjectStoreConfig   `yaml:"object_store"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Vision        VisionConfig        `yaml:"vision"`
	Scrape        ScrapeConfig        `yaml:"scrape"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Features      FeatureConfig       `yaml:"features"`
	Limits        LimitConfig         `yaml:"limits"`
	Driver        DriverConfig        `yaml:"driver"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ObjectStoreConfig holds S3-compatible object store settings.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CacheConfig holds Redis settings for the dedup hot path and stage locks.
type CacheConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	TTL      time.Duration `yaml:"ttl"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// VisionConfig holds vision model settings.
type VisionConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	EnableOCR bool          `yaml:"enable_ocr"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ScrapeConfig holds link-enrichment backend settings.
type ScrapeConfig struct {
	PrimaryURL  string        `yaml:"primary_url"`
	PrimaryKey  string        `yaml:"primary_key"`
	FallbackURL string        `yaml:"fallback_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ChunkingConfig holds chunker settings.
type ChunkingConfig struct {
	Strategy   string `yaml:"strategy"` // contextual, structure_aware, error_code_aware
	TargetSize int    `yaml:"target_size"`
	Overlap    int    `yaml:"overlap"`
	MinSize    int    `yaml:"min_size"`
	MaxSize    int    `yaml:"max_size"`
}

// PipelineConfig holds scheduler and retry settings.
type PipelineConfig struct {
	QueueCapacity            int            `yaml:"queue_capacity"`
	StageWorkers             map[string]int `yaml:"stage_workers"`
	LockTTL                  time.Duration  `yaml:"lock_ttl"`
	EmbeddingMinSuccessRatio float64        `yaml:"embedding_min_success_ratio"`
	VectorRenderDPI          int            `yaml:"vector_render_dpi"`
}

// FeatureConfig holds feature toggles.
type FeatureConfig struct {
	ImageContext        bool `yaml:"image_context"`
	ContextExtraction   bool `yaml:"context_extraction"`
	ErrorCodeExtraction bool `yaml:"error_code_extraction"`
	ProductExtraction   bool `yaml:"product_extraction"`
	ContextEmbeddings   bool `yaml:"context_embeddings"`
}

// LimitConfig holds processing limits.
type LimitConfig struct {
	LLMMaxPages              int           `yaml:"llm_max_pages"`
	MaxMediaItemsPerBatch    int           `yaml:"max_media_items_per_batch"`
	ContextExtractionTimeout time.Duration `yaml:"context_extraction_timeout"`
	EmbeddingTimeout         time.Duration `yaml:"embedding_timeout"`
}

// DriverConfig holds input directory settings.
type DriverConfig struct {
	InputDir     string        `yaml:"input_dir"`
	ProcessedDir string        `yaml:"processed_dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Region: "auto",
			Bucket: "service-docs",
			UseSSL: true,
		},
		Cache: CacheConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			TTL:      24 * time.Hour,
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "http://localhost:11434/v1",
			Model:     "embeddinggemma",
			Dimension: 768,
			BatchSize: 32,
			Timeout:   300 * time.Second,
		},
		Vision: VisionConfig{
			BaseURL:   "http://localhost:11434/v1",
			Model:     "llava:13b",
			EnableOCR: true,
			Timeout:   120 * time.Second,
		},
		Scrape: ScrapeConfig{
			Timeout: 30 * time.Second,
		},
		Chunking: ChunkingConfig{
			Strategy:   "error_code_aware",
			TargetSize: 1000,
			Overlap:    200,
			MinSize:    100,
			MaxSize:    2000,
		},
		Pipeline: PipelineConfig{
			QueueCapacity: 16,
			StageWorkers: map[string]int{
				"upload":               2,
				"text_extraction":      3,
				"table_extraction":     2,
				"image_processing":     2,
				"classification":       2,
				"parts_extraction":     2,
				"series_detection":     2,
				"embedding_and_search": 2,
			},
			LockTTL:                  10 * time.Minute,
			EmbeddingMinSuccessRatio: 0.9,
			VectorRenderDPI:          150,
		},
		Features: FeatureConfig{
			ImageContext:        true,
			ContextExtraction:   true,
			ErrorCodeExtraction: true,
			ProductExtraction:   true,
			ContextEmbeddings:   true,
		},
		Limits: LimitConfig{
			LLMMaxPages:              50,
			MaxMediaItemsPerBatch:    10,
			ContextExtractionTimeout: 120 * time.Second,
			EmbeddingTimeout:         300 * time.Second,
		},
		Driver: DriverConfig{
			InputDir:     "input",
			ProcessedDir: "processed",
			PollInterval: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required (DATABASE_CONNECTION_URL)")
	}

	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}

	if c.Chunking.TargetSize <= 0 || c.Chunking.MaxSize < c.Chunking.TargetSize {
		return fmt.Errorf("invalid chunking sizes: target=%d max=%d", c.Chunking.TargetSize, c.Chunking.MaxSize)
	}

	if c.Chunking.Overlap >= c.Chunking.TargetSize {
		return fmt.Errorf("chunk overlap %d must be smaller than target size %d", c.Chunking.Overlap, c.Chunking.TargetSize)
	}

	for stage, workers := range c.Pipeline.StageWorkers {
		if workers < 1 {
			return fmt.Errorf("stage %s must have at least one worker", stage)
		}
	}

	if c.Pipeline.EmbeddingMinSuccessRatio < 0 || c.Pipeline.EmbeddingMinSuccessRatio > 1 {
		return fmt.Errorf("embedding_min_success_ratio must be in [0,1]")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_CONNECTION_URL"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("OBJECT_STORAGE_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("OBJECT_STORAGE_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("OBJECT_STORAGE_SECRET_KEY"); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("OBJECT_STORAGE_REGION"); v != "" {
		cfg.ObjectStore.Region = v
	}
	if v := os.Getenv("OBJECT_STORAGE_USE_SSL"); v != "" {
		cfg.ObjectStore.UseSSL = v == "true" || v == "1"
	}
	if v := os.Getenv("OBJECT_STORAGE_BUCKET"); v != "" {
		cfg.ObjectStore.Bucket = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Addr = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := envInt("EMBEDDING_DIMENSION"); v > 0 {
		cfg.Embedding.Dimension = v
	}
	if v := os.Getenv("VISION_MODEL"); v != "" {
		cfg.Vision.Model = v
	}

	if v := envInt("LLM_MAX_PAGES"); v > 0 {
		cfg.Limits.LLMMaxPages = v
	}
	if v := envInt("MAX_MEDIA_ITEMS_PER_BATCH"); v > 0 {
		cfg.Limits.MaxMediaItemsPerBatch = v
	}
	if v := envInt("CONTEXT_EXTRACTION_TIMEOUT_SECONDS"); v > 0 {
		cfg.Limits.ContextExtractionTimeout = time.Duration(v) * time.Second
	}
	if v := envInt("EMBEDDING_GENERATION_TIMEOUT_SECONDS"); v > 0 {
		cfg.Limits.EmbeddingTimeout = time.Duration(v) * time.Second
		cfg.Embedding.Timeout = cfg.Limits.EmbeddingTimeout
	}

	applyToggle("ENABLE_IMAGE_CONTEXT", &cfg.Features.ImageContext)
	applyToggle("ENABLE_CONTEXT_EXTRACTION", &cfg.Features.ContextExtraction)
	applyToggle("ENABLE_ERROR_CODE_EXTRACTION", &cfg.Features.ErrorCodeExtraction)
	applyToggle("ENABLE_PRODUCT_EXTRACTION", &cfg.Features.ProductExtraction)
	applyToggle("ENABLE_CONTEXT_EMBEDDINGS", &cfg.Features.ContextEmbeddings)

	if v := os.Getenv("INPUT_DIR"); v != "" {
		cfg.Driver.InputDir = v
	}
	if v := os.Getenv("PROCESSED_DIR"); v != "" {
		cfg.Driver.ProcessedDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func applyToggle(name string, target *bool) {
	switch os.Getenv(name) {
	case "true", "1", "yes":
		*target = true
	case "false", "0", "no":
		*target = false
	}
}

// WorkersFor returns the configured worker count for a stage, defaulting to 2.
func (c *PipelineConfig) WorkersFor(stage string) int {
	if n, ok := c.StageWorkers[stage]; ok && n > 0 {
		return n
	}
	return 2
}
