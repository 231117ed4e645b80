package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrorCodeRepository handles extracted error codes.
type ErrorCodeRepository struct {
	db DB
}

// NewErrorCodeRepository creates a new error code repository.
func NewErrorCodeRepository(db DB) *ErrorCodeRepository {
	return &ErrorCodeRepository{db: db}
}

// Upsert records an error code keyed by (document_id, error_code, page_number).
func (r *ErrorCodeRepository) Upsert(ctx context.Context, ec *ErrorCode) error {
	if ec.ID == uuid.Nil {
		ec.ID = uuid.New()
	}
	ec.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO error_codes (id, document_id, manufacturer_id, error_code, error_description,
			solution_text, page_number, confidence, severity, extraction_method, chunk_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (document_id, error_code, page_number) DO UPDATE
		SET error_description = EXCLUDED.error_description,
			solution_text = COALESCE(EXCLUDED.solution_text, error_codes.solution_text),
			confidence = GREATEST(EXCLUDED.confidence, error_codes.confidence)
	`
	_, err := r.db.ExecContext(ctx, query,
		ec.ID, ec.DocumentID, ec.ManufacturerID, ec.Code, ec.Description,
		ec.SolutionText, ec.PageNumber, ec.Confidence, ec.Severity, ec.ExtractionMethod, ec.ChunkID, ec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert error code %s: %w", ec.Code, err)
	}
	return nil
}

// CountByDocument counts extracted error codes for a document.
func (r *ErrorCodeRepository) CountByDocument(ctx context.Context, docID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM error_codes WHERE document_id = $1`, docID).Scan(&n)
	return n, err
}

// LinkRepository handles document hyperlinks and their enrichment.
type LinkRepository struct {
	db DB
}

// NewLinkRepository creates a new link repository.
func NewLinkRepository(db DB) *LinkRepository {
	return &LinkRepository{db: db}
}

// Upsert records a link keyed by (document_id, url).
func (r *LinkRepository) Upsert(ctx context.Context, l *Link) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = time.Now().UTC()
	if l.ScrapeStatus == "" {
		l.ScrapeStatus = ScrapeStatusPending
	}
	if l.ScrapedMetadata == nil {
		l.ScrapedMetadata = []byte("{}")
	}

	query := `
		INSERT INTO links (id, document_id, url, page_number, anchor_text, scrape_status, scraped_metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (document_id, url) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.DocumentID, l.URL, l.PageNumber, l.AnchorText, l.ScrapeStatus, l.ScrapedMetadata, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}
	return nil
}

// SetScrapeResult records the enrichment outcome for a link.
func (r *LinkRepository) SetScrapeResult(ctx context.Context, docID uuid.UUID, url string, status ScrapeStatus, content *string, contentHash *string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal scrape metadata: %w", err)
	}
	query := `
		UPDATE links
		SET scrape_status = $3, scraped_content = $4, content_hash = $5,
			scraped_metadata = $6, scraped_at = now()
		WHERE document_id = $1 AND url = $2
	`
	if _, err := r.db.ExecContext(ctx, query, docID, url, status, content, contentHash, metaJSON); err != nil {
		return fmt.Errorf("set scrape result: %w", err)
	}
	return nil
}

// ListPending lists links awaiting enrichment for a document.
func (r *LinkRepository) ListPending(ctx context.Context, docID uuid.UUID) ([]*Link, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_id, url, page_number, anchor_text, scrape_status, scraped_metadata, created_at
		FROM links WHERE document_id = $1 AND scrape_status = 'pending' ORDER BY page_number
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list pending links: %w", err)
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		l := &Link{}
		if err := rows.Scan(&l.ID, &l.DocumentID, &l.URL, &l.PageNumber, &l.AnchorText, &l.ScrapeStatus, &l.ScrapedMetadata, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// VideoRepository handles referenced videos.
type VideoRepository struct {
	db DB
}

// NewVideoRepository creates a new video repository.
func NewVideoRepository(db DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// Upsert records a video keyed by (document_id, url_hash).
func (r *VideoRepository) Upsert(ctx context.Context, v *Video) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO videos (id, document_id, url, url_hash, page_number, title, context_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (document_id, url_hash) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		v.ID, v.DocumentID, v.URL, v.URLHash, v.PageNumber, v.Title, v.ContextText, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert video: %w", err)
	}
	return nil
}

// PartRepository handles extracted spare parts.
type PartRepository struct {
	db DB
}

// NewPartRepository creates a new part repository.
func NewPartRepository(db DB) *PartRepository {
	return &PartRepository{db: db}
}

// Upsert records a part keyed by (document_id, part_number).
func (r *PartRepository) Upsert(ctx context.Context, p *Part) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO parts (id, document_id, part_number, description, page_number, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (document_id, part_number) DO UPDATE
		SET description = COALESCE(EXCLUDED.description, parts.description),
			confidence = GREATEST(EXCLUDED.confidence, parts.confidence)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.DocumentID, p.PartNumber, p.Description, p.PageNumber, p.Confidence, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert part %s: %w", p.PartNumber, err)
	}
	return nil
}

// CountByDocument counts extracted parts for a document.
func (r *PartRepository) CountByDocument(ctx context.Context, docID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM parts WHERE document_id = $1`, docID).Scan(&n)
	return n, err
}
