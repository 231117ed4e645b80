// Package pipeline runs the eight-stage document processing pipeline:
// orchestration, scheduling, retries, and the stage bodies themselves.
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Stage names in execution order.
const (
	StageUpload           = "upload"
	StageTextExtraction   = "text_extraction"
	StageTableExtraction  = "table_extraction"
	StageImageProcessing  = "image_processing"
	StageClassification   = "classification"
	StagePartsExtraction  = "parts_extraction"
	StageSeriesDetection  = "series_detection"
	StageEmbeddingSearch  = "embedding_and_search"
)

// StageOrder is the per-document execution order.
var StageOrder = []string{
	StageUpload,
	StageTextExtraction,
	StageTableExtraction,
	StageImageProcessing,
	StageClassification,
	StagePartsExtraction,
	StageSeriesDetection,
	StageEmbeddingSearch,
}

// NextStage returns the stage after s, or "" when s is terminal.
func NextStage(s string) string {
	for i, name := range StageOrder {
		if name == s && i+1 < len(StageOrder) {
			return StageOrder[i+1]
		}
	}
	return ""
}

// Task is one unit of scheduler work: run one stage for one document.
// FilePath and Filename are set only for upload tasks, before a document id
// exists.
type Task struct {
	DocumentID uuid.UUID
	Stage      string
	FilePath   string
	Filename   string
}

// Outcome is what a successful stage body returns.
type Outcome struct {
	// DocumentID is filled by the upload stage once the row exists.
	DocumentID uuid.UUID
	// DataHash fingerprints the inputs this run consumed, for the
	// completion marker.
	DataHash string
	// Metadata is merged into the stage_status slot.
	Metadata map[string]interface{}
}

// Stage is one pipeline phase. Fingerprint computes the current input hash
// so an unchanged re-run can be skipped; an empty fingerprint disables the
// skip check.
type Stage interface {
	Name() string
	Fingerprint(ctx context.Context, t *Task) (string, error)
	Run(ctx context.Context, t *Task) (*Outcome, error)
}

// Registry indexes stages by name.
type Registry struct {
	stages map[string]Stage
}

// NewRegistry builds a registry and verifies every stage in StageOrder is
// present.
func NewRegistry(stages ...Stage) (*Registry, error) {
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		byName[s.Name()] = s
	}
	for _, name := range StageOrder {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("stage %s not registered", name)
		}
	}
	return &Registry{stages: byName}, nil
}

// Get returns the stage by name.
func (r *Registry) Get(name string) (Stage, bool) {
	s, ok := r.stages[name]
	return s, ok
}

// xorHashes folds hex hashes into one order-independent fingerprint.
func xorHashes(hashes []string) string {
	if len(hashes) == 0 {
		return ""
	}
	acc := make([]byte, 32)
	for _, h := range hashes {
		raw, err := hex.DecodeString(h)
		if err != nil || len(raw) != 32 {
			continue
		}
		for i := range acc {
			acc[i] ^= raw[i]
		}
	}
	return hex.EncodeToString(acc)
}
