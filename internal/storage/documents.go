package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const documentColumns = `id, file_hash, filename, file_size, page_count, storage_path,
	document_type, manufacturer, series, models, language,
	processing_status, stage_status, error_message, created_at, updated_at`

// DocumentRepository handles document rows and the stage_status state machine.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// CreateIfAbsent inserts a document keyed by file_hash. If a document with
// the same hash already exists, the existing row is returned and created is
// false. This is the idempotent-upload primitive.
func (r *DocumentRepository) CreateIfAbsent(ctx context.Context, doc *Document) (*Document, bool, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = ProcessingStatusPending
	}
	if doc.StageStatus == nil {
		doc.StageStatus = StageStatusMap{}
	}

	query := `
		INSERT INTO documents (id, file_hash, filename, file_size, page_count, storage_path,
			document_type, manufacturer, series, models, language,
			processing_status, stage_status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (file_hash) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.FileHash, doc.Filename, doc.FileSize, doc.PageCount, doc.StoragePath,
		doc.DocumentType, doc.Manufacturer, doc.Series, doc.Models, doc.Language,
		doc.ProcessingStatus, doc.StageStatus, doc.ErrorMessage, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 1 {
		return doc, true, nil
	}

	existing, err := r.GetByFileHash(ctx, doc.FileHash)
	if err != nil {
		return nil, false, fmt.Errorf("lookup existing document: %w", err)
	}
	return existing, false, nil
}

// GetByID retrieves a document by id.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByFileHash retrieves a document by content hash.
func (r *DocumentRepository) GetByFileHash(ctx context.Context, hash string) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE file_hash = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, hash))
}

func (r *DocumentRepository) scanOne(row *sql.Row) (*Document, error) {
	doc := &Document{}
	err := row.Scan(
		&doc.ID, &doc.FileHash, &doc.Filename, &doc.FileSize, &doc.PageCount, &doc.StoragePath,
		&doc.DocumentType, &doc.Manufacturer, &doc.Series, &doc.Models, &doc.Language,
		&doc.ProcessingStatus, &doc.StageStatus, &doc.ErrorMessage, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// StartStage moves stage S to processing with progress 0. It refuses to
// overwrite a completed or already-processing stage: the guard makes the
// call idempotent and safe under concurrent workers.
func (r *DocumentRepository) StartStage(ctx context.Context, docID uuid.UUID, stage string) error {
	query := `
		UPDATE documents
		SET stage_status = jsonb_set(
				COALESCE(stage_status, '{}'::jsonb),
				ARRAY[$2],
				jsonb_build_object(
					'status', 'processing',
					'progress', 0,
					'started_at', to_char(now() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')
				),
				true),
			processing_status = 'processing',
			updated_at = now()
		WHERE id = $1
		  AND COALESCE(stage_status->$2->>'status', 'pending') IN ('pending', 'failed')
	`
	_, err := r.db.ExecContext(ctx, query, docID, stage)
	if err != nil {
		return fmt.Errorf("start stage %s: %w", stage, err)
	}
	return nil
}

// UpdateStageProgress merges progress (clamped to [0,100]) and metadata into
// the stage slot. Metadata keys merge; unknown keys elsewhere in the slot are
// untouched.
func (r *DocumentRepository) UpdateStageProgress(ctx context.Context, docID uuid.UUID, stage string, progress float64, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal stage metadata: %w", err)
	}

	query := `
		UPDATE documents
		SET stage_status = jsonb_set(
				COALESCE(stage_status, '{}'::jsonb),
				ARRAY[$2],
				COALESCE(stage_status->$2, '{}'::jsonb)
					|| jsonb_build_object('progress', LEAST(100.0, GREATEST(0.0, $3::float8)))
					|| jsonb_build_object('metadata',
						COALESCE(stage_status->$2->'metadata', '{}'::jsonb) || $4::jsonb),
				true),
			updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, docID, stage, progress, string(metaJSON)); err != nil {
		return fmt.Errorf("update stage progress %s: %w", stage, err)
	}
	return nil
}

// CompleteStage marks a stage completed with progress 100. Completing an
// already-completed stage is a no-op.
func (r *DocumentRepository) CompleteStage(ctx context.Context, docID uuid.UUID, stage string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal stage metadata: %w", err)
	}

	query := `
		UPDATE documents
		SET stage_status = jsonb_set(
				COALESCE(stage_status, '{}'::jsonb),
				ARRAY[$2],
				COALESCE(stage_status->$2, '{}'::jsonb)
					|| jsonb_build_object(
						'status', 'completed',
						'progress', 100,
						'completed_at', to_char(now() AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"'))
					|| jsonb_build_object('metadata',
						COALESCE(stage_status->$2->'metadata', '{}'::jsonb) || $3::jsonb),
				true),
			updated_at = now()
		WHERE id = $1
		  AND COALESCE(stage_status->$2->>'status', '') <> 'completed'
	`
	if _, err := r.db.ExecContext(ctx, query, docID, stage, string(metaJSON)); err != nil {
		return fmt.Errorf("complete stage %s: %w", stage, err)
	}
	return nil
}

// FailStage marks a stage failed and records the error message on the
// document row.
func (r *DocumentRepository) FailStage(ctx context.Context, docID uuid.UUID, stage string, errText string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal stage metadata: %w", err)
	}

	query := `
		UPDATE documents
		SET stage_status = jsonb_set(
				COALESCE(stage_status, '{}'::jsonb),
				ARRAY[$2],
				COALESCE(stage_status->$2, '{}'::jsonb)
					|| jsonb_build_object('status', 'failed', 'error', $3::text)
					|| jsonb_build_object('metadata',
						COALESCE(stage_status->$2->'metadata', '{}'::jsonb) || $4::jsonb),
				true),
			error_message = $3,
			updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, docID, stage, errText, string(metaJSON)); err != nil {
		return fmt.Errorf("fail stage %s: %w", stage, err)
	}
	return nil
}

// SetProcessingStatus updates the overall document status.
func (r *DocumentRepository) SetProcessingStatus(ctx context.Context, docID uuid.UUID, status ProcessingStatus) error {
	query := `UPDATE documents SET processing_status = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, docID, status); err != nil {
		return fmt.Errorf("set processing status: %w", err)
	}
	return nil
}

// SetPageCount records the extracted page count.
func (r *DocumentRepository) SetPageCount(ctx context.Context, docID uuid.UUID, pages int) error {
	query := `UPDATE documents SET page_count = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, docID, pages); err != nil {
		return fmt.Errorf("set page count: %w", err)
	}
	return nil
}

// SetClassification records the classification outcome on the document.
func (r *DocumentRepository) SetClassification(ctx context.Context, docID uuid.UUID, docType DocumentType, manufacturer, series *string, models []string, language string) error {
	query := `
		UPDATE documents
		SET document_type = $2, manufacturer = $3, series = $4, models = $5,
			language = $6, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, docID, docType, manufacturer, series, toStringArray(models), language); err != nil {
		return fmt.Errorf("set classification: %w", err)
	}
	return nil
}
