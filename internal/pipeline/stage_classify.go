package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/serviceintel-ai/docpipe/internal/classify"
	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/extract"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// classificationStage detects what the document is about, canonicalizes the
// entities, and runs the per-chunk extraction passes for error codes,
// links, and videos. Error code extraction lives here and only here.
type classificationStage struct {
	deps *Deps
}

func (s *classificationStage) Name() string { return StageClassification }

func (s *classificationStage) Fingerprint(ctx context.Context, t *Task) (string, error) {
	return chunkFingerprint(ctx, s.deps, t.DocumentID)
}

func (s *classificationStage) Run(ctx context.Context, t *Task) (*Outcome, error) {
	doc, err := s.deps.Repos.Documents.GetByID(ctx, t.DocumentID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.deps.Repos.Chunks.ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, domain.Invariant("classification before text extraction", nil)
	}

	// Rebuild page-shaped text from the persisted chunks; the classifier
	// only needs the early pages.
	pages := make([]extract.Page, 0, len(chunks))
	hashes := make([]string, 0, len(chunks))
	for _, c := range chunks {
		pages = append(pages, extract.Page{Number: c.PageStart, Text: c.Content})
		hashes = append(hashes, c.ContentHash)
	}

	result := classify.ClassifyDocument(pages, s.deps.Config.Limits.LLMMaxPages)

	var mfrPtr, seriesPtr *string
	if result.Manufacturer != "" {
		mfrPtr = &result.Manufacturer
	}
	if result.Series != "" {
		seriesPtr = &result.Series
	}
	if err := s.deps.Repos.Documents.SetClassification(ctx, doc.ID,
		result.DocumentType, mfrPtr, seriesPtr, result.Models, result.Language); err != nil {
		return nil, err
	}

	var resolved map[string]*storage.Product
	if s.deps.Config.Features.ProductExtraction && result.Manufacturer != "" {
		resolver := classify.NewResolver(s.deps.Repos, s.deps.Logger)
		resolved, err = resolver.ResolveProducts(ctx, result.Manufacturer, result.Models)
		if err != nil {
			return nil, err
		}
	}

	errorCodes := 0
	if s.deps.Config.Features.ErrorCodeExtraction {
		errorCodes, err = s.extractErrorCodes(ctx, doc, chunks, result)
		if err != nil {
			return nil, err
		}
	}

	links, videos, err := s.extractMedia(ctx, doc, chunks)
	if err != nil {
		return nil, err
	}

	versions := map[string]bool{}
	for _, c := range chunks {
		for _, v := range extract.Versions(c.Content) {
			versions[v] = true
		}
	}

	scraped := 0
	if s.deps.Scraper != nil {
		scraped, err = s.enrichLinks(ctx, doc)
		if err != nil {
			return nil, err
		}
	}

	return &Outcome{
		DataHash: xorHashes(hashes),
		Metadata: map[string]interface{}{
			"document_type": string(result.DocumentType),
			"manufacturer":  result.Manufacturer,
			"models":        len(result.Models),
			"products":      len(resolved),
			"error_codes":   errorCodes,
			"links":         links,
			"videos":        videos,
			"links_scraped": scraped,
			"versions":      len(versions),
		},
	}, nil
}

func (s *classificationStage) extractErrorCodes(ctx context.Context, doc *storage.Document, chunks []*storage.Chunk, result classify.Classification) (int, error) {
	// The error code conventions follow the engine builder, which for
	// rebadged machines differs from the brand on the cover.
	effective := result.Manufacturer
	for _, model := range result.Models {
		if oem := classify.EffectiveManufacturer(result.Manufacturer, model, "error_codes"); oem != result.Manufacturer {
			effective = oem
			break
		}
	}

	var mfrID *storage.Manufacturer
	if effective != "" {
		m, err := s.deps.Repos.Manufacturers.GetOrCreate(ctx, classify.NormalizeManufacturer(effective), classify.AliasesFor(effective))
		if err != nil {
			return 0, err
		}
		mfrID = m
	}

	total := 0
	for _, c := range chunks {
		for _, found := range extract.ErrorCodes(c.Content, c.PageStart, effective) {
			row := &storage.ErrorCode{
				DocumentID:       doc.ID,
				Code:             found.Code,
				Description:      found.Context,
				PageNumber:       found.Page,
				Confidence:       found.Confidence,
				ExtractionMethod: storage.ExtractionMethodRegex,
				ChunkID:          &c.ID,
			}
			if mfrID != nil {
				row.ManufacturerID = &mfrID.ID
			}
			if sol := extract.SolutionText(c.Content); sol != "" {
				row.SolutionText = &sol
			}
			if err := s.deps.Repos.ErrorCodes.Upsert(ctx, row); err != nil {
				return 0, err
			}
			total++
		}
	}
	return total, nil
}

func (s *classificationStage) extractMedia(ctx context.Context, doc *storage.Document, chunks []*storage.Chunk) (int, int, error) {
	links, videos := 0, 0
	for _, c := range chunks {
		for _, l := range extract.Links(c.Content, c.PageStart) {
			anchor := l.AnchorText
			row := &storage.Link{
				DocumentID: doc.ID,
				URL:        l.URL,
				PageNumber: l.Page,
				AnchorText: &anchor,
			}
			if err := s.deps.Repos.Links.Upsert(ctx, row); err != nil {
				return 0, 0, err
			}
			links++
		}
		for _, v := range extract.Videos(c.Content, c.PageStart) {
			context := v.Context
			row := &storage.Video{
				DocumentID:  doc.ID,
				URL:         v.URL,
				URLHash:     v.URLHash,
				PageNumber:  v.Page,
				ContextText: &context,
			}
			if err := s.deps.Repos.Videos.Upsert(ctx, row); err != nil {
				return 0, 0, err
			}
			videos++
		}
	}
	return links, videos, nil
}

func (s *classificationStage) enrichLinks(ctx context.Context, doc *storage.Document) (int, error) {
	pending, err := s.deps.Repos.Links.ListPending(ctx, doc.ID)
	if err != nil {
		return 0, err
	}

	limit := s.deps.Config.Limits.MaxMediaItemsPerBatch
	scraped := 0
	for _, link := range pending {
		if scraped >= limit {
			break
		}
		res, err := s.deps.Scraper.Scrape(ctx, link.URL)
		if err != nil {
			// A dead link is data, not a stage failure.
			status := storage.ScrapeStatusFailed
			if serr := s.deps.Repos.Links.SetScrapeResult(ctx, doc.ID, link.URL, status, nil, nil,
				map[string]interface{}{"error": err.Error()}); serr != nil {
				return scraped, serr
			}
			continue
		}
		if err := s.deps.Repos.Links.SetScrapeResult(ctx, doc.ID, link.URL,
			storage.ScrapeStatusSuccess, &res.Content, &res.ContentHash, res.Metadata); err != nil {
			return scraped, err
		}
		scraped++
	}
	return scraped, nil
}

// partsExtractionStage runs the part number patterns over persisted chunks.
type partsExtractionStage struct {
	deps *Deps
}

func (s *partsExtractionStage) Name() string { return StagePartsExtraction }

func (s *partsExtractionStage) Fingerprint(ctx context.Context, t *Task) (string, error) {
	return chunkFingerprint(ctx, s.deps, t.DocumentID)
}

func (s *partsExtractionStage) Run(ctx context.Context, t *Task) (*Outcome, error) {
	chunks, err := s.deps.Repos.Chunks.ListByDocument(ctx, t.DocumentID)
	if err != nil {
		return nil, err
	}

	total := 0
	hashes := make([]string, 0, len(chunks))
	for _, c := range chunks {
		hashes = append(hashes, c.ContentHash)
		for _, p := range extract.Parts(c.Content, c.PageStart) {
			row := &storage.Part{
				DocumentID: t.DocumentID,
				PartNumber: p.PartNumber,
				PageNumber: p.Page,
				Confidence: p.Confidence,
			}
			if err := s.deps.Repos.Parts.Upsert(ctx, row); err != nil {
				return nil, err
			}
			total++
		}
	}

	return &Outcome{
		DataHash: xorHashes(hashes),
		Metadata: map[string]interface{}{"parts_total": total},
	}, nil
}

// seriesDetectionStage reconciles detected series across the document's
// products and attaches series references.
type seriesDetectionStage struct {
	deps *Deps
}

func (s *seriesDetectionStage) Name() string { return StageSeriesDetection }

func (s *seriesDetectionStage) Fingerprint(ctx context.Context, t *Task) (string, error) {
	doc, err := s.deps.Repos.Documents.GetByID(ctx, t.DocumentID)
	if err != nil {
		return "", err
	}
	mfr := ""
	if doc.Manufacturer != nil {
		mfr = *doc.Manufacturer
	}
	sum := sha256.Sum256([]byte(mfr + "|" + strings.Join(doc.Models, ",")))
	return hex.EncodeToString(sum[:]), nil
}

func (s *seriesDetectionStage) Run(ctx context.Context, t *Task) (*Outcome, error) {
	doc, err := s.deps.Repos.Documents.GetByID(ctx, t.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Manufacturer == nil || len(doc.Models) == 0 {
		fp, _ := s.Fingerprint(ctx, t)
		return &Outcome{DataHash: fp, Metadata: map[string]interface{}{"series_linked": 0}}, nil
	}

	mfr, err := s.deps.Repos.Manufacturers.GetByCanonicalName(ctx, classify.NormalizeManufacturer(*doc.Manufacturer))
	if errors.Is(err, storage.ErrNotFound) {
		// Classification found a manufacturer but product extraction was
		// disabled; nothing to attach series to.
		fp, _ := s.Fingerprint(ctx, t)
		return &Outcome{DataHash: fp, Metadata: map[string]interface{}{"series_linked": 0}}, nil
	}
	if err != nil {
		return nil, err
	}

	products := map[string]*storage.Product{}
	for _, model := range doc.Models {
		p, err := s.deps.Repos.Products.GetByModel(ctx, mfr.ID, classify.NormalizeModel(model))
		if err != nil {
			continue
		}
		products[p.ModelNumber] = p
	}

	resolver := classify.NewResolver(s.deps.Repos, s.deps.Logger)
	if err := resolver.ResolveSeries(ctx, *doc.Manufacturer, products); err != nil {
		return nil, err
	}

	fp, _ := s.Fingerprint(ctx, t)
	return &Outcome{
		DataHash: fp,
		Metadata: map[string]interface{}{"series_linked": len(products)},
	}, nil
}
