package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// OpenOptions holds connection pool settings.
type OpenOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, opts OpenOptions) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

//go:embed schema.sql
var schemaFS embed.FS

// Migrate applies the schema. All statements are idempotent.
func Migrate(ctx context.Context, db DB) error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Repositories aggregates all repositories over one connection pool.
type Repositories struct {
	Documents      *DocumentRepository
	Chunks         *ChunkRepository
	Images         *ImageRepository
	Embeddings     *EmbeddingRepository
	ErrorCodes     *ErrorCodeRepository
	Manufacturers  *ManufacturerRepository
	Series         *SeriesRepository
	Products       *ProductRepository
	Accessories    *AccessoryLinkRepository
	Links          *LinkRepository
	Videos         *VideoRepository
	Parts          *PartRepository
	Markers        *MarkerRepository
	PipelineErrors *PipelineErrorRepository
	RetryPolicies  *RetryPolicyRepository
}

// NewRepositories creates all repositories over the given connection.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Documents:      NewDocumentRepository(db),
		Chunks:         NewChunkRepository(db),
		Images:         NewImageRepository(db),
		Embeddings:     NewEmbeddingRepository(db),
		ErrorCodes:     NewErrorCodeRepository(db),
		Manufacturers:  NewManufacturerRepository(db),
		Series:         NewSeriesRepository(db),
		Products:       NewProductRepository(db),
		Accessories:    NewAccessoryLinkRepository(db),
		Links:          NewLinkRepository(db),
		Videos:         NewVideoRepository(db),
		Parts:          NewPartRepository(db),
		Markers:        NewMarkerRepository(db),
		PipelineErrors: NewPipelineErrorRepository(db),
		RetryPolicies:  NewRetryPolicyRepository(db),
	}
}
