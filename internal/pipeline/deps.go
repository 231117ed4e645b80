package pipeline

import (
	"context"

	"github.com/serviceintel-ai/docpipe/internal/config"
	"github.com/serviceintel-ai/docpipe/internal/dedup"
	"github.com/serviceintel-ai/docpipe/internal/embedding"
	"github.com/serviceintel-ai/docpipe/internal/observability"
	"github.com/serviceintel-ai/docpipe/internal/scrape"
	"github.com/serviceintel-ai/docpipe/internal/storage"
	"github.com/serviceintel-ai/docpipe/internal/vision"
)

// BlobStore is the object store surface the stages need.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Deps carries everything the stage bodies depend on. The assembly in cmd
// wires it once at startup.
type Deps struct {
	Repos    *storage.Repositories
	Store    BlobStore
	Dedup    *dedup.Index
	Embedder embedding.Embedder
	Vision   vision.Describer
	Scraper  scrape.Scraper
	Config   *config.Config
	Logger   *observability.Logger
}

// NewStages builds the full stage set over shared dependencies.
func NewStages(d *Deps) []Stage {
	return []Stage{
		&uploadStage{d},
		&textExtractionStage{d},
		&tableExtractionStage{d},
		&imageProcessingStage{d},
		&classificationStage{d},
		&partsExtractionStage{d},
		&seriesDetectionStage{d},
		&embeddingSearchStage{d},
	}
}
