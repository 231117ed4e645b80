package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MarkerRepository handles stage completion markers. A marker proves that a
// stage finished for a specific input fingerprint, so an unchanged re-run can
// be skipped.
type MarkerRepository struct {
	db DB
}

// NewMarkerRepository creates a new marker repository.
func NewMarkerRepository(db DB) *MarkerRepository {
	return &MarkerRepository{db: db}
}

// Get retrieves the marker for (document, stage), or ErrNotFound.
func (r *MarkerRepository) Get(ctx context.Context, docID uuid.UUID, stage string) (*StageCompletionMarker, error) {
	m := &StageCompletionMarker{}
	err := r.db.QueryRowContext(ctx, `
		SELECT document_id, stage_name, data_hash, metadata, completed_at
		FROM stage_completion_markers
		WHERE document_id = $1 AND stage_name = $2
	`, docID, stage).Scan(&m.DocumentID, &m.StageName, &m.DataHash, &m.Metadata, &m.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// Upsert writes the marker, replacing any previous fingerprint for the stage.
func (r *MarkerRepository) Upsert(ctx context.Context, m *StageCompletionMarker) error {
	if m.Metadata == nil {
		m.Metadata = []byte("{}")
	}
	m.CompletedAt = time.Now().UTC()

	query := `
		INSERT INTO stage_completion_markers (document_id, stage_name, data_hash, metadata, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id, stage_name) DO UPDATE
		SET data_hash = EXCLUDED.data_hash, metadata = EXCLUDED.metadata, completed_at = EXCLUDED.completed_at
	`
	if _, err := r.db.ExecContext(ctx, query, m.DocumentID, m.StageName, m.DataHash, m.Metadata, m.CompletedAt); err != nil {
		return fmt.Errorf("upsert stage marker %s: %w", m.StageName, err)
	}
	return nil
}
