package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/serviceintel-ai/docpipe/internal/dedup"
	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/extract"
	"github.com/serviceintel-ai/docpipe/internal/objectstore"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// uploadStage hashes the input, deduplicates by content, stores the blob,
// and creates the document row. It is the only entry point into the
// pipeline: every document obtains its id here.
type uploadStage struct {
	deps *Deps
}

func (s *uploadStage) Name() string { return StageUpload }

// Fingerprint is empty: before upload there is no document id to check a
// marker against. Dedup inside Run covers the idempotency instead.
func (s *uploadStage) Fingerprint(_ context.Context, _ *Task) (string, error) {
	return "", nil
}

func (s *uploadStage) Run(ctx context.Context, t *Task) (*Outcome, error) {
	raw, err := os.ReadFile(t.FilePath)
	if err != nil {
		return nil, domain.Input("read input file", err)
	}
	if len(raw) == 0 {
		return nil, domain.Input("input file is empty", nil)
	}

	data, err := extract.Decompress(raw)
	if err != nil {
		return nil, err
	}

	fileHash := dedup.HashBytes(data)

	// Same bytes seen before: return the existing id, touch nothing.
	existing, err := s.deps.Dedup.DocumentByHash(ctx, fileHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Outcome{
			DocumentID: existing.ID,
			DataHash:   fileHash,
			Metadata:   map[string]interface{}{"deduplicated": true},
		}, nil
	}

	reader, err := extract.NewReader(data)
	if err != nil {
		return nil, err
	}
	pageCount := reader.PageCount()
	reader.Close()

	storagePath := objectstore.DocumentPath(fileHash)
	if _, err := s.deps.Store.PutIfAbsent(ctx, storagePath, data, "application/pdf"); err != nil {
		return nil, err
	}

	filename := t.Filename
	if filename == "" {
		filename = filepath.Base(t.FilePath)
	}
	filename = strings.TrimSuffix(filename, "z") // name.pdfz -> name.pdf

	doc := &storage.Document{
		FileHash:     fileHash,
		Filename:     filename,
		FileSize:     int64(len(data)),
		PageCount:    pageCount,
		StoragePath:  storagePath,
		DocumentType: storage.DocumentTypeOther,
		Language:     "en",
	}
	doc, created, err := s.deps.Repos.Documents.CreateIfAbsent(ctx, doc)
	if err != nil {
		return nil, err
	}

	s.deps.Dedup.RememberDocument(ctx, fileHash, doc.ID)

	return &Outcome{
		DocumentID: doc.ID,
		DataHash:   fileHash,
		Metadata: map[string]interface{}{
			"deduplicated": !created,
			"file_size":    len(data),
			"page_count":   pageCount,
		},
	}, nil
}
