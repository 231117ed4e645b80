package pipeline

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/serviceintel-ai/docpipe/internal/chunker"
	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/extract"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// textExtractionStage extracts page text, chunks it, and persists the
// chunks. All downstream text consumers read the persisted chunks.
type textExtractionStage struct {
	deps *Deps
}

func (s *textExtractionStage) Name() string { return StageTextExtraction }

// Fingerprint is the document's file hash: same bytes, same chunks.
func (s *textExtractionStage) Fingerprint(ctx context.Context, t *Task) (string, error) {
	doc, err := s.deps.Repos.Documents.GetByID(ctx, t.DocumentID)
	if err != nil {
		return "", err
	}
	return doc.FileHash, nil
}

func (s *textExtractionStage) Run(ctx context.Context, t *Task) (*Outcome, error) {
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

	pages, err := reader.AllPages()
	if err != nil {
		return nil, err
	}
	if doc.PageCount != len(pages) {
		if err := s.deps.Repos.Documents.SetPageCount(ctx, doc.ID, len(pages)); err != nil {
			return nil, err
		}
	}

	opts := chunker.Options{
		TargetSize: s.deps.Config.Chunking.TargetSize,
		Overlap:    s.deps.Config.Chunking.Overlap,
		MinSize:    s.deps.Config.Chunking.MinSize,
		MaxSize:    s.deps.Config.Chunking.MaxSize,
	}
	chunks := chunker.Split(pages, opts)
	if len(chunks) == 0 {
		return nil, domain.Permanent("document produced zero chunks", nil)
	}

	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, err
		}
		row := &storage.Chunk{
			DocumentID:       doc.ID,
			ChunkIndex:       c.Index,
			PageStart:        c.PageStart,
			PageEnd:          c.PageEnd,
			Content:          c.Content,
			ContentHash:      c.ContentHash,
			ChunkType:        c.Type,
			SectionHierarchy: pq.StringArray(c.SectionHierarchy),
			Metadata:         meta,
		}
		if err := s.deps.Repos.Chunks.Create(ctx, row); err != nil {
			return nil, err
		}
		s.deps.Dedup.RememberChunk(ctx, doc.ID, c.ContentHash)

		if i%20 == 19 {
			progress := float64(i+1) / float64(len(chunks)) * 100
			_ = s.deps.Repos.Documents.UpdateStageProgress(ctx, doc.ID, s.Name(), progress,
				map[string]interface{}{"chunks_written": i + 1})
		}
	}

	return &Outcome{
		DataHash: doc.FileHash,
		Metadata: map[string]interface{}{
			"chunks_total": len(chunks),
			"pages_total":  len(pages),
		},
	}, nil
}

// tableExtractionStage inspects persisted chunks for tabular structure and
// retags them as tables. Structured table rows beyond the chunk itself are
// not extracted; the chunk's tab or pipe layout already survives into
// search.
type tableExtractionStage struct {
	deps *Deps
}

func (s *tableExtractionStage) Name() string { return StageTableExtraction }

func (s *tableExtractionStage) Fingerprint(ctx context.Context, t *Task) (string, error) {
	return chunkFingerprint(ctx, s.deps, t.DocumentID)
}

func (s *tableExtractionStage) Run(ctx context.Context, t *Task) (*Outcome, error) {
	chunks, err := s.deps.Repos.Chunks.ListByDocument(ctx, t.DocumentID)
	if err != nil {
		return nil, err
	}

	tables := 0
	hashes := make([]string, 0, len(chunks))
	for _, c := range chunks {
		hashes = append(hashes, c.ContentHash)
		if c.ChunkType == storage.ChunkTypeTable {
			tables++
			continue
		}
		// Error-code chunks keep their type; the code is the stronger
		// retrieval signal.
		if c.ChunkType != storage.ChunkTypeErrorCode && extract.LooksTabular(c.Content) {
			if err := s.deps.Repos.Chunks.SetType(ctx, c.ID, storage.ChunkTypeTable); err != nil {
				return nil, err
			}
			tables++
		}
	}

	return &Outcome{
		DataHash: xorHashes(hashes),
		Metadata: map[string]interface{}{"tables_found": tables},
	}, nil
}

// chunkFingerprint folds all chunk content hashes of a document into one
// order-independent value.
func chunkFingerprint(ctx context.Context, deps *Deps, docID uuid.UUID) (string, error) {
	chunks, err := deps.Repos.Chunks.ListByDocument(ctx, docID)
	if err != nil {
		return "", err
	}
	hashes := make([]string, 0, len(chunks))
	for _, c := range chunks {
		hashes = append(hashes, c.ContentHash)
	}
	return xorHashes(hashes), nil
}
