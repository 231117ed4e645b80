package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const imageColumns = `id, document_id, page_number, image_index, file_hash, storage_path,
	width_px, height_px, image_format, image_type,
	ai_description, ai_confidence, ocr_text, chunk_id, created_at`

// ImageRepository handles image rows.
type ImageRepository struct {
	db DB
}

// NewImageRepository creates a new image repository.
func NewImageRepository(db DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// Upsert inserts an image row keyed by (document_id, image_index). On
// conflict the existing row keeps its id, which is scanned back into img so
// a re-run after a crash updates the surviving row instead of a phantom.
func (r *ImageRepository) Upsert(ctx context.Context, img *Image) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	img.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO images (id, document_id, page_number, image_index, file_hash, storage_path,
			width_px, height_px, image_format, image_type,
			ai_description, ai_confidence, ocr_text, chunk_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (document_id, image_index) DO UPDATE
		SET file_hash = EXCLUDED.file_hash, storage_path = EXCLUDED.storage_path
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		img.ID, img.DocumentID, img.PageNumber, img.ImageIndex, img.FileHash, img.StoragePath,
		img.WidthPx, img.HeightPx, img.ImageFormat, img.ImageType,
		img.AIDescription, img.AIConfidence, img.OCRText, img.ChunkID, img.CreatedAt,
	).Scan(&img.ID)
	if err != nil {
		return fmt.Errorf("upsert image %d: %w", img.ImageIndex, err)
	}
	return nil
}

// GetByFileHash returns any image row with the given content hash, across
// documents. Used by the dedup index to reuse storage paths.
func (r *ImageRepository) GetByFileHash(ctx context.Context, hash string) (*Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE file_hash = $1 LIMIT 1`
	return scanImage(r.db.QueryRowContext(ctx, query, hash))
}

// ListByDocument lists a document's images ordered by image_index.
func (r *ImageRepository) ListByDocument(ctx context.Context, docID uuid.UUID) ([]*Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE document_id = $1 ORDER BY image_index`
	rows, err := r.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	var images []*Image
	for rows.Next() {
		img := &Image{}
		if err := rows.Scan(
			&img.ID, &img.DocumentID, &img.PageNumber, &img.ImageIndex, &img.FileHash, &img.StoragePath,
			&img.WidthPx, &img.HeightPx, &img.ImageFormat, &img.ImageType,
			&img.AIDescription, &img.AIConfidence, &img.OCRText, &img.ChunkID, &img.CreatedAt,
		); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// ListDescribed lists images of a document that have an AI description,
// which is the set eligible for embedding.
func (r *ImageRepository) ListDescribed(ctx context.Context, docID uuid.UUID) ([]*Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images
		WHERE document_id = $1 AND ai_description IS NOT NULL ORDER BY image_index`
	rows, err := r.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("list described images: %w", err)
	}
	defer rows.Close()

	var images []*Image
	for rows.Next() {
		img := &Image{}
		if err := rows.Scan(
			&img.ID, &img.DocumentID, &img.PageNumber, &img.ImageIndex, &img.FileHash, &img.StoragePath,
			&img.WidthPx, &img.HeightPx, &img.ImageFormat, &img.ImageType,
			&img.AIDescription, &img.AIConfidence, &img.OCRText, &img.ChunkID, &img.CreatedAt,
		); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// SetDescription records the vision output on an image.
func (r *ImageRepository) SetDescription(ctx context.Context, imageID uuid.UUID, description string, confidence float64, ocrText *string) error {
	query := `UPDATE images SET ai_description = $2, ai_confidence = $3, ocr_text = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, imageID, description, confidence, ocrText); err != nil {
		return fmt.Errorf("set image description: %w", err)
	}
	return nil
}

// SetChunkLink records the nearest text chunk for an image.
func (r *ImageRepository) SetChunkLink(ctx context.Context, imageID, chunkID uuid.UUID) error {
	query := `UPDATE images SET chunk_id = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, imageID, chunkID); err != nil {
		return fmt.Errorf("set image chunk link: %w", err)
	}
	return nil
}

// SetEmbedding stores the caption embedding on the image row.
func (r *ImageRepository) SetEmbedding(ctx context.Context, imageID uuid.UUID, vector Vector) error {
	query := `UPDATE images SET embedding = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, imageID, vector); err != nil {
		return fmt.Errorf("set image embedding: %w", err)
	}
	return nil
}

// CountByDocument counts a document's images.
func (r *ImageRepository) CountByDocument(ctx context.Context, docID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM images WHERE document_id = $1`, docID).Scan(&n)
	return n, err
}

func scanImage(row *sql.Row) (*Image, error) {
	img := &Image{}
	err := row.Scan(
		&img.ID, &img.DocumentID, &img.PageNumber, &img.ImageIndex, &img.FileHash, &img.StoragePath,
		&img.WidthPx, &img.HeightPx, &img.ImageFormat, &img.ImageType,
		&img.AIDescription, &img.AIConfidence, &img.OCRText, &img.ChunkID, &img.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return img, err
}
