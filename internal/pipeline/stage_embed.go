package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// embeddingSearchStage computes vectors for every chunk and every captioned
// image. Batch failures are recorded and the stage keeps going; it fails as
// a whole only when the success ratio drops below the configured floor or
// the embedder reports a permanent problem.
type embeddingSearchStage struct {
	deps *Deps
}

func (s *embeddingSearchStage) Name() string { return StageEmbeddingSearch }

func (s *embeddingSearchStage) Fingerprint(ctx context.Context, t *Task) (string, error) {
	return chunkFingerprint(ctx, s.deps, t.DocumentID)
}

func (s *embeddingSearchStage) Run(ctx context.Context, t *Task) (*Outcome, error) {
	chunks, err := s.deps.Repos.Chunks.ListByDocument(ctx, t.DocumentID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, domain.Invariant("embedding before text extraction", nil)
	}

	batchSize := s.deps.Config.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	succeeded := 0
	var lastErr error
	hashes := make([]string, 0, len(chunks))
	for _, c := range chunks {
		hashes = append(hashes, c.ContentHash)
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vectors, err := s.deps.Embedder.Embed(ctx, texts)
		if err != nil {
			// Permanent embedder problems (wrong dimension, bad model)
			// cannot be outwaited.
			if domain.CategoryOf(err) != domain.CategoryTransient {
				return nil, err
			}
			lastErr = err
			s.deps.Logger.Warn().Err(err).Int("batch_start", start).Msg("embedding batch failed")
			continue
		}

		for i, c := range batch {
			e := &storage.Embedding{
				ChunkID:   c.ID,
				Vector:    vectors[i],
				ModelName: s.deps.Embedder.Model(),
			}
			if err := s.deps.Repos.Embeddings.Upsert(ctx, e); err != nil {
				return nil, err
			}
			succeeded++
		}

		progress := float64(end) / float64(len(chunks)) * 90
		_ = s.deps.Repos.Documents.UpdateStageProgress(ctx, t.DocumentID, s.Name(), progress,
			map[string]interface{}{"chunks_embedded": succeeded})
	}

	ratio := float64(succeeded) / float64(len(chunks))
	if ratio < s.deps.Config.Pipeline.EmbeddingMinSuccessRatio {
		if lastErr == nil {
			lastErr = fmt.Errorf("embedding success ratio %.2f below threshold", ratio)
		}
		return nil, domain.Transient(
			fmt.Sprintf("embedded %d of %d chunks", succeeded, len(chunks)), lastErr)
	}

	imagesEmbedded, err := s.embedImages(ctx, t)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		DataHash: xorHashes(hashes),
		Metadata: map[string]interface{}{
			"chunks_embedded": succeeded,
			"chunks_total":    len(chunks),
			"images_embedded": imagesEmbedded,
			"success_ratio":   ratio,
		},
	}, nil
}

// embedImages vectors the caption text of every described image. The text
// form is the description plus any OCR transcript.
func (s *embeddingSearchStage) embedImages(ctx context.Context, t *Task) (int, error) {
	images, err := s.deps.Repos.Images.ListDescribed(ctx, t.DocumentID)
	if err != nil {
		return 0, err
	}
	if len(images) == 0 {
		return 0, nil
	}

	texts := make([]string, len(images))
	for i, img := range images {
		text := *img.AIDescription
		if img.OCRText != nil && *img.OCRText != "" {
			text = text + " " + *img.OCRText
		}
		texts[i] = strings.TrimSpace(text)
	}

	vectors, err := s.deps.Embedder.Embed(ctx, texts)
	if err != nil {
		if domain.CategoryOf(err) != domain.CategoryTransient {
			return 0, err
		}
		// Image embeddings are best-effort; text vectors already exist.
		s.deps.Logger.Warn().Err(err).Msg("image embedding batch failed")
		return 0, nil
	}

	for i, img := range images {
		if err := s.deps.Repos.Images.SetEmbedding(ctx, img.ID, vectors[i]); err != nil {
			return i, err
		}
	}
	return len(images), nil
}
