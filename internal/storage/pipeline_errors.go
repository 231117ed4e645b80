package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const pipelineErrorColumns = `error_id, document_id, stage_name, error_type, error_category,
	error_message, stack_trace, context, retry_count, max_retries, status, is_transient,
	correlation_id, next_retry_at, resolved_at, resolution_notes, created_at, updated_at`

// PipelineErrorRepository handles the durable error audit trail.
type PipelineErrorRepository struct {
	db DB
}

// NewPipelineErrorRepository creates a new pipeline error repository.
func NewPipelineErrorRepository(db DB) *PipelineErrorRepository {
	return &PipelineErrorRepository{db: db}
}

// Record upserts an error keyed by (correlation_id, stage_name). Repeated
// failures of the same attempt increment retry_count instead of creating new
// rows, so one stage execution leaves one audit row.
func (r *PipelineErrorRepository) Record(ctx context.Context, rec *PipelineErrorRecord) error {
	if rec.ErrorID == uuid.Nil {
		rec.ErrorID = uuid.New()
	}
	if rec.Context == nil {
		rec.Context = []byte("{}")
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = ErrorStatusOpen
	}

	query := `
		INSERT INTO pipeline_errors (error_id, document_id, stage_name, error_type, error_category,
			error_message, stack_trace, context, retry_count, max_retries, status, is_transient,
			correlation_id, next_retry_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (correlation_id, stage_name) DO UPDATE
		SET retry_count = pipeline_errors.retry_count + 1,
			error_type = EXCLUDED.error_type,
			error_category = EXCLUDED.error_category,
			error_message = EXCLUDED.error_message,
			status = EXCLUDED.status,
			is_transient = EXCLUDED.is_transient,
			next_retry_at = EXCLUDED.next_retry_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ErrorID, rec.DocumentID, rec.StageName, rec.ErrorType, rec.ErrorCategory,
		rec.ErrorMessage, rec.StackTrace, rec.Context, rec.RetryCount, rec.MaxRetries,
		rec.Status, rec.IsTransient, rec.CorrelationID, rec.NextRetryAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record pipeline error: %w", err)
	}
	return nil
}

// SetStatus transitions an error row, stamping resolved_at for terminal
// states.
func (r *PipelineErrorRepository) SetStatus(ctx context.Context, correlationID, stage string, status ErrorStatus, notes *string) error {
	query := `
		UPDATE pipeline_errors
		SET status = $3,
			resolution_notes = COALESCE($4, resolution_notes),
			resolved_at = CASE WHEN $3 IN ('resolved', 'gave_up') THEN now() ELSE resolved_at END,
			updated_at = now()
		WHERE correlation_id = $1 AND stage_name = $2
	`
	if _, err := r.db.ExecContext(ctx, query, correlationID, stage, status, notes); err != nil {
		return fmt.Errorf("set pipeline error status: %w", err)
	}
	return nil
}

// Get retrieves the error row for (correlation_id, stage_name).
func (r *PipelineErrorRepository) Get(ctx context.Context, correlationID, stage string) (*PipelineErrorRecord, error) {
	query := `SELECT ` + pipelineErrorColumns + ` FROM pipeline_errors
		WHERE correlation_id = $1 AND stage_name = $2`
	return scanPipelineError(r.db.QueryRowContext(ctx, query, correlationID, stage))
}

// ListOpenForDocument lists unresolved errors of a document.
func (r *PipelineErrorRepository) ListOpenForDocument(ctx context.Context, docID uuid.UUID) ([]*PipelineErrorRecord, error) {
	query := `SELECT ` + pipelineErrorColumns + ` FROM pipeline_errors
		WHERE document_id = $1 AND status IN ('open', 'retrying') ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("list open pipeline errors: %w", err)
	}
	defer rows.Close()

	var recs []*PipelineErrorRecord
	for rows.Next() {
		rec := &PipelineErrorRecord{}
		if err := rows.Scan(
			&rec.ErrorID, &rec.DocumentID, &rec.StageName, &rec.ErrorType, &rec.ErrorCategory,
			&rec.ErrorMessage, &rec.StackTrace, &rec.Context, &rec.RetryCount, &rec.MaxRetries,
			&rec.Status, &rec.IsTransient, &rec.CorrelationID, &rec.NextRetryAt, &rec.ResolvedAt,
			&rec.Notes, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanPipelineError(row *sql.Row) (*PipelineErrorRecord, error) {
	rec := &PipelineErrorRecord{}
	err := row.Scan(
		&rec.ErrorID, &rec.DocumentID, &rec.StageName, &rec.ErrorType, &rec.ErrorCategory,
		&rec.ErrorMessage, &rec.StackTrace, &rec.Context, &rec.RetryCount, &rec.MaxRetries,
		&rec.Status, &rec.IsTransient, &rec.CorrelationID, &rec.NextRetryAt, &rec.ResolvedAt,
		&rec.Notes, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}
