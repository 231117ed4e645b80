package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func toStringArray(in []string) pq.StringArray {
	if in == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(in)
}

const chunkColumns = `id, document_id, chunk_index, page_start, page_end, content,
	content_hash, chunk_type, section_hierarchy, metadata, created_at`

// ChunkRepository handles chunk rows.
type ChunkRepository struct {
	db DB
}

// NewChunkRepository creates a new chunk repository.
func NewChunkRepository(db DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// Create inserts a chunk. Re-inserting an existing chunk (same index or
// same content hash within the document) is a no-op, which keeps stage
// re-runs idempotent.
func (r *ChunkRepository) Create(ctx context.Context, c *Chunk) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now().UTC()
	if c.Metadata == nil {
		c.Metadata = []byte("{}")
	}

	query := `
		INSERT INTO chunks (id, document_id, chunk_index, page_start, page_end, content,
			content_hash, chunk_type, section_hierarchy, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.DocumentID, c.ChunkIndex, c.PageStart, c.PageEnd, c.Content,
		c.ContentHash, c.ChunkType, c.SectionHierarchy, c.Metadata, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
	}
	return nil
}

// GetByIndex retrieves one chunk by its position.
func (r *ChunkRepository) GetByIndex(ctx context.Context, docID uuid.UUID, index int) (*Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE document_id = $1 AND chunk_index = $2`
	return scanChunk(r.db.QueryRowContext(ctx, query, docID, index))
}

// ListByDocument lists all chunks of a document ordered by chunk_index.
func (r *ChunkRepository) ListByDocument(ctx context.Context, docID uuid.UUID) ([]*Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE document_id = $1 ORDER BY chunk_index`
	rows, err := r.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c := &Chunk{}
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.ChunkIndex, &c.PageStart, &c.PageEnd, &c.Content,
			&c.ContentHash, &c.ChunkType, &c.SectionHierarchy, &c.Metadata, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountByDocument counts chunks of a document.
func (r *ChunkRepository) CountByDocument(ctx context.Context, docID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = $1`, docID).Scan(&n)
	return n, err
}

// SetType retags a chunk.
func (r *ChunkRepository) SetType(ctx context.Context, chunkID uuid.UUID, chunkType ChunkType) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE chunks SET chunk_type = $2 WHERE id = $1`, chunkID, chunkType); err != nil {
		return fmt.Errorf("set chunk type: %w", err)
	}
	return nil
}

// ExistsContentHash reports whether a chunk with the hash exists in the
// document. Consulted by the dedup index.
func (r *ChunkRepository) ExistsContentHash(ctx context.Context, docID uuid.UUID, contentHash string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM chunks WHERE document_id = $1 AND content_hash = $2`,
		docID, contentHash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// NearestToPage returns the chunk covering the page, or the closest one by
// page distance with chunk_index as tie-break. Used to link images to text.
func (r *ChunkRepository) NearestToPage(ctx context.Context, docID uuid.UUID, page int) (*Chunk, error) {
	query := `
		SELECT ` + chunkColumns + `
		FROM chunks
		WHERE document_id = $1
		ORDER BY
			CASE WHEN page_start <= $2 AND page_end >= $2 THEN 0
			     ELSE LEAST(ABS(page_start - $2), ABS(page_end - $2)) END,
			chunk_index
		LIMIT 1
	`
	return scanChunk(r.db.QueryRowContext(ctx, query, docID, page))
}

func scanChunk(row *sql.Row) (*Chunk, error) {
	c := &Chunk{}
	err := row.Scan(
		&c.ID, &c.DocumentID, &c.ChunkIndex, &c.PageStart, &c.PageEnd, &c.Content,
		&c.ContentHash, &c.ChunkType, &c.SectionHierarchy, &c.Metadata, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// EmbeddingRepository handles chunk embeddings, one per chunk.
type EmbeddingRepository struct {
	db DB
}

// NewEmbeddingRepository creates a new embedding repository.
func NewEmbeddingRepository(db DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// Upsert writes the embedding for a chunk, replacing any previous vector.
func (r *EmbeddingRepository) Upsert(ctx context.Context, e *Embedding) error {
	e.CreatedAt = time.Now().UTC()
	query := `
		INSERT INTO embeddings (chunk_id, vector, model_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chunk_id) DO UPDATE
		SET vector = EXCLUDED.vector, model_name = EXCLUDED.model_name, created_at = EXCLUDED.created_at
	`
	if _, err := r.db.ExecContext(ctx, query, e.ChunkID, e.Vector, e.ModelName, e.CreatedAt); err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// CountForDocument counts chunks of the document that already have vectors.
func (r *EmbeddingRepository) CountForDocument(ctx context.Context, docID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE c.document_id = $1
	`, docID).Scan(&n)
	return n, err
}
