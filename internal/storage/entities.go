package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ManufacturerRepository handles canonical manufacturers.
type ManufacturerRepository struct {
	db DB
}

// NewManufacturerRepository creates a new manufacturer repository.
func NewManufacturerRepository(db DB) *ManufacturerRepository {
	return &ManufacturerRepository{db: db}
}

// GetOrCreate resolves a manufacturer by canonical name, creating it on
// miss. Concurrent callers race safely: the insert is keyed on
// canonical_name and losers re-read the winner's row.
func (r *ManufacturerRepository) GetOrCreate(ctx context.Context, canonicalName string, aliases []string) (*Manufacturer, error) {
	m, err := r.GetByCanonicalName(ctx, canonicalName)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	m = &Manufacturer{
		ID:            uuid.New(),
		CanonicalName: canonicalName,
		Aliases:       toStringArray(aliases),
		CreatedAt:     time.Now().UTC(),
	}
	query := `
		INSERT INTO manufacturers (id, canonical_name, aliases, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (canonical_name) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, m.ID, m.CanonicalName, m.Aliases, m.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert manufacturer: %w", err)
	}
	return r.GetByCanonicalName(ctx, canonicalName)
}

// GetByCanonicalName retrieves a manufacturer by canonical name.
func (r *ManufacturerRepository) GetByCanonicalName(ctx context.Context, name string) (*Manufacturer, error) {
	m := &Manufacturer{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, canonical_name, aliases, created_at
		FROM manufacturers WHERE canonical_name = $1
	`, name).Scan(&m.ID, &m.CanonicalName, &m.Aliases, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// SeriesRepository handles product series.
type SeriesRepository struct {
	db DB
}

// NewSeriesRepository creates a new series repository.
func NewSeriesRepository(db DB) *SeriesRepository {
	return &SeriesRepository{db: db}
}

// GetOrCreate resolves a series by (manufacturer_id, series_name).
func (r *SeriesRepository) GetOrCreate(ctx context.Context, manufacturerID uuid.UUID, seriesName string) (*ProductSeries, error) {
	s, err := r.get(ctx, manufacturerID, seriesName)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	query := `
		INSERT INTO product_series (id, manufacturer_id, series_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (manufacturer_id, series_name) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, uuid.New(), manufacturerID, seriesName, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("insert series: %w", err)
	}
	return r.get(ctx, manufacturerID, seriesName)
}

func (r *SeriesRepository) get(ctx context.Context, manufacturerID uuid.UUID, seriesName string) (*ProductSeries, error) {
	s := &ProductSeries{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, manufacturer_id, series_name, created_at
		FROM product_series WHERE manufacturer_id = $1 AND series_name = $2
	`, manufacturerID, seriesName).Scan(&s.ID, &s.ManufacturerID, &s.SeriesName, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ProductRepository handles canonical products and accessories.
type ProductRepository struct {
	db DB
}

// NewProductRepository creates a new product repository.
func NewProductRepository(db DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetOrCreate resolves a product by (manufacturer_id, model_number).
func (r *ProductRepository) GetOrCreate(ctx context.Context, manufacturerID uuid.UUID, modelNumber string, productType ProductType) (*Product, error) {
	p, err := r.GetByModel(ctx, manufacturerID, modelNumber)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO products (id, manufacturer_id, model_number, product_type, specifications, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '{}', $5, $5)
		ON CONFLICT (manufacturer_id, model_number) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, uuid.New(), manufacturerID, modelNumber, productType, now); err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return r.GetByModel(ctx, manufacturerID, modelNumber)
}

// GetByModel retrieves a product by its natural key.
func (r *ProductRepository) GetByModel(ctx context.Context, manufacturerID uuid.UUID, modelNumber string) (*Product, error) {
	p := &Product{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, manufacturer_id, product_series_id, model_number, product_type, specifications, created_at, updated_at
		FROM products WHERE manufacturer_id = $1 AND model_number = $2
	`, manufacturerID, modelNumber).Scan(
		&p.ID, &p.ManufacturerID, &p.ProductSeriesID, &p.ModelNumber,
		&p.ProductType, &p.Specifications, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetByID retrieves a product by id.
func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	p := &Product{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, manufacturer_id, product_series_id, model_number, product_type, specifications, created_at, updated_at
		FROM products WHERE id = $1
	`, id).Scan(
		&p.ID, &p.ManufacturerID, &p.ProductSeriesID, &p.ModelNumber,
		&p.ProductType, &p.Specifications, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListByManufacturer lists all products of a manufacturer.
func (r *ProductRepository) ListByManufacturer(ctx context.Context, manufacturerID uuid.UUID) ([]*Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, manufacturer_id, product_series_id, model_number, product_type, specifications, created_at, updated_at
		FROM products WHERE manufacturer_id = $1 ORDER BY model_number
	`, manufacturerID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p := &Product{}
		if err := rows.Scan(
			&p.ID, &p.ManufacturerID, &p.ProductSeriesID, &p.ModelNumber,
			&p.ProductType, &p.Specifications, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// SetSeries attaches a product to a series.
func (r *ProductRepository) SetSeries(ctx context.Context, productID, seriesID uuid.UUID) error {
	query := `UPDATE products SET product_series_id = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, productID, seriesID); err != nil {
		return fmt.Errorf("set product series: %w", err)
	}
	return nil
}

// AccessoryLinkRepository handles product-accessory relations.
type AccessoryLinkRepository struct {
	db DB
}

// NewAccessoryLinkRepository creates a new accessory link repository.
func NewAccessoryLinkRepository(db DB) *AccessoryLinkRepository {
	return &AccessoryLinkRepository{db: db}
}

// Upsert records a relation; the same ordered pair is never recorded twice.
func (r *AccessoryLinkRepository) Upsert(ctx context.Context, link *ProductAccessory) error {
	link.CreatedAt = time.Now().UTC()
	query := `
		INSERT INTO product_accessories (product_id, accessory_id, compatibility_type, is_standard, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (product_id, accessory_id) DO UPDATE
		SET compatibility_type = EXCLUDED.compatibility_type, is_standard = EXCLUDED.is_standard
	`
	_, err := r.db.ExecContext(ctx, query,
		link.ProductID, link.AccessoryID, link.CompatibilityType, link.IsStandard, link.Notes, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert accessory link: %w", err)
	}
	return nil
}

// ListForProduct lists all relations where the product is the base.
func (r *AccessoryLinkRepository) ListForProduct(ctx context.Context, productID uuid.UUID) ([]*ProductAccessory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, accessory_id, compatibility_type, is_standard, notes, created_at
		FROM product_accessories WHERE product_id = $1
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("list accessory links: %w", err)
	}
	defer rows.Close()

	var links []*ProductAccessory
	for rows.Next() {
		l := &ProductAccessory{}
		if err := rows.Scan(&l.ProductID, &l.AccessoryID, &l.CompatibilityType, &l.IsStandard, &l.Notes, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
