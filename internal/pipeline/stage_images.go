package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/serviceintel-ai/docpipe/internal/dedup"
	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/extract"
	"github.com/serviceintel-ai/docpipe/internal/objectstore"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// imageProcessingStage renders diagram-bearing pages to PNG, dedups them
// globally by content, stores each blob once, captions them through the
// vision client, and links each image to its nearest text chunk.
type imageProcessingStage struct {
	deps *Deps
}

func (s *imageProcessingStage) Name() string { return StageImageProcessing }

func (s *imageProcessingStage) Fingerprint(ctx context.Context, t *Task) (string, error) {
	doc, err := s.deps.Repos.Documents.GetByID(ctx, t.DocumentID)
	if err != nil {
		return "", err
	}
	return doc.FileHash, nil
}

func (s *imageProcessingStage) Run(ctx context.Context, t *Task) (*Outcome, error) {
	doc, err := s.deps.Repos.Documents.GetByID(ctx, t.DocumentID)
	if err != nil {
		return nil, err
	}

	data, err := s.deps.Store.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, err
	}
	reader, err := extract.NewReader(data)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	dpi := s.deps.Config.Pipeline.VectorRenderDPI
	described := 0
	maxDescribe := s.deps.Config.Limits.MaxMediaItemsPerBatch

	var images []*storage.Image
	pageFailures := 0
	imageIndex := 0

	for page := 1; page <= reader.PageCount(); page++ {
		if !reader.HasDrawings(page) {
			continue
		}

		png, width, height, err := reader.RenderPagePNG(page, dpi)
		if err != nil {
			// One bad page does not fail the stage; it is recorded and
			// the remaining pages continue.
			pageFailures++
			s.deps.Logger.Warn().Err(err).Int("page", page).Msg("page render failed")
			continue
		}

		fileHash := dedup.HashBytes(png)
		storagePath := objectstore.ImagePath(fileHash)

		existing, err := s.deps.Dedup.ImageByHash(ctx, fileHash)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			if _, err := s.deps.Store.PutIfAbsent(ctx, storagePath, png, "image/png"); err != nil {
				return nil, err
			}
		} else {
			storagePath = existing.StoragePath
		}

		img := &storage.Image{
			DocumentID:  doc.ID,
			PageNumber:  page,
			ImageIndex:  imageIndex,
			FileHash:    fileHash,
			StoragePath: storagePath,
			WidthPx:     width,
			HeightPx:    height,
			ImageFormat: "png",
			ImageType:   storage.ImageTypePNGConversion,
		}
		if err := s.deps.Repos.Images.Upsert(ctx, img); err != nil {
			return nil, err
		}
		imageIndex++

		// Reuse an existing caption for identical content.
		if existing != nil && existing.AIDescription != nil {
			conf := 0.0
			if existing.AIConfidence != nil {
				conf = *existing.AIConfidence
			}
			if err := s.deps.Repos.Images.SetDescription(ctx, img.ID, *existing.AIDescription, conf, existing.OCRText); err != nil {
				return nil, err
			}
		} else if s.deps.Config.Features.ImageContext && described < maxDescribe {
			pageText, _ := reader.PageText(page)
			desc, err := s.deps.Vision.Describe(ctx, png, pageText)
			if err != nil {
				if domain.CategoryOf(err) != domain.CategoryTransient {
					return nil, err
				}
				pageFailures++
				s.deps.Logger.Warn().Err(err).Int("page", page).Msg("vision caption failed")
			} else {
				ocr := &desc.OCRText
				if desc.OCRText == "" {
					ocr = nil
				}
				if err := s.deps.Repos.Images.SetDescription(ctx, img.ID, desc.Text, desc.Confidence, ocr); err != nil {
					return nil, err
				}
				described++
			}
		}

		if chunk, err := s.deps.Repos.Chunks.NearestToPage(ctx, doc.ID, page); err == nil {
			if err := s.deps.Repos.Images.SetChunkLink(ctx, img.ID, chunk.ID); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		images = append(images, img)
	}

	// The stage fails as a whole only when everything failed and there was
	// work to do.
	if len(images) == 0 && pageFailures > 0 {
		return nil, domain.Transient(
			fmt.Sprintf("all %d diagram pages failed to process", pageFailures), nil)
	}

	return &Outcome{
		DataHash: doc.FileHash,
		Metadata: map[string]interface{}{
			"images_total":  len(images),
			"described":     described,
			"page_failures": pageFailures,
		},
	}, nil
}
