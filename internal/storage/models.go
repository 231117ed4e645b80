// Package storage provides database models and repositories for the pipeline.
package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DocumentType classifies an ingested document.
type DocumentType string

const (
	DocumentTypeServiceManual        DocumentType = "service_manual"
	DocumentTypePartsCatalog         DocumentType = "parts_catalog"
	DocumentTypeTroubleshootingGuide DocumentType = "troubleshooting_guide"
	DocumentTypeUserManual           DocumentType = "user_manual"
	DocumentTypeOther                DocumentType = "other"
)

// ProcessingStatus represents overall document processing state.
type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "pending"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusCompleted  ProcessingStatus = "completed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// StageState represents the state of a single pipeline stage.
type StageState string

const (
	StageStatePending    StageState = "pending"
	StageStateProcessing StageState = "processing"
	StageStateCompleted  StageState = "completed"
	StageStateFailed     StageState = "failed"
)

// ChunkType classifies a text chunk.
type ChunkType string

const (
	ChunkTypeText      ChunkType = "text"
	ChunkTypeProcedure ChunkType = "procedure"
	ChunkTypeErrorCode ChunkType = "error_code"
	ChunkTypeList      ChunkType = "list"
	ChunkTypeTable     ChunkType = "table"
)

// ImageType classifies an extracted image.
type ImageType string

const (
	ImageTypeDiagram       ImageType = "diagram"
	ImageTypePhoto         ImageType = "photo"
	ImageTypeVectorGraphic ImageType = "vector_graphic"
	ImageTypePNGConversion ImageType = "png_conversion"
)

// ProductType is the closed vocabulary for products and accessories.
type ProductType string

const (
	ProductTypeLaserPrinter           ProductType = "laser_printer"
	ProductTypeLaserMultifunction     ProductType = "laser_multifunction"
	ProductTypeLaserProductionPrinter ProductType = "laser_production_printer"
	ProductTypeInkjetPrinter          ProductType = "inkjet_printer"
	ProductTypeInkjetMultifunction    ProductType = "inkjet_multifunction"
	ProductTypeFinisher               ProductType = "finisher"
	ProductTypeSaddleFinisher         ProductType = "saddle_finisher"
	ProductTypePaperFeeder            ProductType = "paper_feeder"
	ProductTypeCabinet                ProductType = "cabinet"
	ProductTypeFaxKit                 ProductType = "fax_kit"
	ProductTypeHardDrive              ProductType = "hard_drive"
	ProductTypeImageController        ProductType = "image_controller"
	ProductTypeControllerAccessory    ProductType = "controller_accessory"
	ProductTypeRelayUnit              ProductType = "relay_unit"
	ProductTypeAuthenticationUnit     ProductType = "authentication_unit"
	ProductTypeTonerCartridge         ProductType = "toner_cartridge"
	ProductTypeDrumUnit               ProductType = "drum_unit"
	ProductTypeWorkTable              ProductType = "work_table"
	ProductTypeKeyboardTray           ProductType = "keyboard_tray"
	ProductTypePunchKit               ProductType = "punch_kit"
)

var validProductTypes = map[ProductType]bool{
	ProductTypeLaserPrinter:           true,
	ProductTypeLaserMultifunction:     true,
	ProductTypeLaserProductionPrinter: true,
	ProductTypeInkjetPrinter:          true,
	ProductTypeInkjetMultifunction:    true,
	ProductTypeFinisher:               true,
	ProductTypeSaddleFinisher:         true,
	ProductTypePaperFeeder:            true,
	ProductTypeCabinet:                true,
	ProductTypeFaxKit:                 true,
	ProductTypeHardDrive:              true,
	ProductTypeImageController:        true,
	ProductTypeControllerAccessory:    true,
	ProductTypeRelayUnit:              true,
	ProductTypeAuthenticationUnit:     true,
	ProductTypeTonerCartridge:         true,
	ProductTypeDrumUnit:               true,
	ProductTypeWorkTable:              true,
	ProductTypeKeyboardTray:           true,
	ProductTypePunchKit:               true,
}

// IsValidProductType reports whether t is in the closed vocabulary.
func IsValidProductType(t ProductType) bool {
	return validProductTypes[t]
}

// CompatibilityType describes a product-accessory relation.
type CompatibilityType string

const (
	CompatibilityCompatible   CompatibilityType = "compatible"
	CompatibilityRequires     CompatibilityType = "requires"
	CompatibilityConflicts    CompatibilityType = "conflicts"
	CompatibilityRecommended  CompatibilityType = "recommended"
	CompatibilityAlternative  CompatibilityType = "alternative"
	CompatibilityPrerequisite CompatibilityType = "prerequisite"
)

// ScrapeStatus represents link enrichment state.
type ScrapeStatus string

const (
	ScrapeStatusPending ScrapeStatus = "pending"
	ScrapeStatusSuccess ScrapeStatus = "success"
	ScrapeStatusFailed  ScrapeStatus = "failed"
)

// ExtractionMethod records how an error code was found.
type ExtractionMethod string

const (
	ExtractionMethodRegex        ExtractionMethod = "regex"
	ExtractionMethodLLM          ExtractionMethod = "llm"
	ExtractionMethodPatternTable ExtractionMethod = "pattern_table"
)

// ErrorStatus represents the lifecycle of a pipeline error record.
type ErrorStatus string

const (
	ErrorStatusOpen     ErrorStatus = "open"
	ErrorStatusRetrying ErrorStatus = "retrying"
	ErrorStatusResolved ErrorStatus = "resolved"
	ErrorStatusGaveUp   ErrorStatus = "gave_up"
)

// Vector is a float32 vector stored in pgvector text format.
type Vector []float32

// Value implements driver.Valuer, encoding as "[x,y,z]".
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

// Scan implements sql.Scanner for pgvector text output.
func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	var s string
	switch t := src.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("parse vector element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

// Document represents an ingested service document.
type Document struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	FileHash         string           `json:"file_hash" db:"file_hash"`
	Filename         string           `json:"filename" db:"filename"`
	FileSize         int64            `json:"file_size" db:"file_size"`
	PageCount        int              `json:"page_count" db:"page_count"`
	StoragePath      string           `json:"storage_path" db:"storage_path"`
	DocumentType     DocumentType     `json:"document_type" db:"document_type"`
	Manufacturer     *string          `json:"manufacturer,omitempty" db:"manufacturer"`
	Series           *string          `json:"series,omitempty" db:"series"`
	Models           pq.StringArray   `json:"models" db:"models"`
	Language         string           `json:"language" db:"language"`
	ProcessingStatus ProcessingStatus `json:"processing_status" db:"processing_status"`
	StageStatus      StageStatusMap   `json:"stage_status" db:"stage_status"`
	ErrorMessage     *string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// Chunk represents one text chunk of a document.
type Chunk struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	DocumentID       uuid.UUID       `json:"document_id" db:"document_id"`
	ChunkIndex       int             `json:"chunk_index" db:"chunk_index"`
	PageStart        int             `json:"page_start" db:"page_start"`
	PageEnd          int             `json:"page_end" db:"page_end"`
	Content          string          `json:"content" db:"content"`
	ContentHash      string          `json:"content_hash" db:"content_hash"`
	ChunkType        ChunkType       `json:"chunk_type" db:"chunk_type"`
	SectionHierarchy pq.StringArray  `json:"section_hierarchy" db:"section_hierarchy"`
	Metadata         json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// ChunkMetadata is the typed form of Chunk.Metadata.
type ChunkMetadata struct {
	Confidence         float64 `json:"confidence"`
	ContainsErrorCode  bool    `json:"contains_error_code"`
	ContainsProcedure  bool    `json:"contains_procedure"`
	ContainsPartNumber bool    `json:"contains_part_number"`
	ErrorCode          string  `json:"error_code,omitempty"`
}

// Image represents an extracted image, deduplicated globally by content.
type Image struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	DocumentID    uuid.UUID  `json:"document_id" db:"document_id"`
	PageNumber    int        `json:"page_number" db:"page_number"`
	ImageIndex    int        `json:"image_index" db:"image_index"`
	FileHash      string     `json:"file_hash" db:"file_hash"`
	StoragePath   string     `json:"storage_path" db:"storage_path"`
	WidthPx       int        `json:"width_px" db:"width_px"`
	HeightPx      int        `json:"height_px" db:"height_px"`
	ImageFormat   string     `json:"image_format" db:"image_format"`
	ImageType     ImageType  `json:"image_type" db:"image_type"`
	AIDescription *string    `json:"ai_description,omitempty" db:"ai_description"`
	AIConfidence  *float64   `json:"ai_confidence,omitempty" db:"ai_confidence"`
	OCRText       *string    `json:"ocr_text,omitempty" db:"ocr_text"`
	ChunkID       *uuid.UUID `json:"chunk_id,omitempty" db:"chunk_id"`
	Embedding     Vector     `json:"-" db:"embedding"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Embedding represents a chunk embedding, one per chunk.
type Embedding struct {
	ChunkID   uuid.UUID `json:"chunk_id" db:"chunk_id"`
	Vector    Vector    `json:"vector" db:"vector"`
	ModelName string    `json:"model_name" db:"model_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ErrorCode represents an extracted error code with its solution.
type ErrorCode struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	DocumentID       uuid.UUID        `json:"document_id" db:"document_id"`
	ManufacturerID   *uuid.UUID       `json:"manufacturer_id,omitempty" db:"manufacturer_id"`
	Code             string           `json:"error_code" db:"error_code"`
	Description      string           `json:"error_description" db:"error_description"`
	SolutionText     *string          `json:"solution_text,omitempty" db:"solution_text"`
	PageNumber       int              `json:"page_number" db:"page_number"`
	Confidence       float64          `json:"confidence" db:"confidence"`
	Severity         *string          `json:"severity,omitempty" db:"severity"`
	ExtractionMethod ExtractionMethod `json:"extraction_method" db:"extraction_method"`
	ChunkID          *uuid.UUID       `json:"chunk_id,omitempty" db:"chunk_id"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// Manufacturer represents a canonical manufacturer.
type Manufacturer struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	CanonicalName string         `json:"canonical_name" db:"canonical_name"`
	Aliases       pq.StringArray `json:"aliases" db:"aliases"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// ProductSeries represents a manufacturer product series.
type ProductSeries struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ManufacturerID uuid.UUID `json:"manufacturer_id" db:"manufacturer_id"`
	SeriesName     string    `json:"series_name" db:"series_name"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Product represents a canonical product or accessory.
type Product struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	ManufacturerID  uuid.UUID       `json:"manufacturer_id" db:"manufacturer_id"`
	ProductSeriesID *uuid.UUID      `json:"product_series_id,omitempty" db:"product_series_id"`
	ModelNumber     string          `json:"model_number" db:"model_number"`
	ProductType     ProductType     `json:"product_type" db:"product_type"`
	Specifications  json.RawMessage `json:"specifications" db:"specifications"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// ProductAccessory links an accessory product to a main product.
type ProductAccessory struct {
	ProductID         uuid.UUID         `json:"product_id" db:"product_id"`
	AccessoryID       uuid.UUID         `json:"accessory_id" db:"accessory_id"`
	CompatibilityType CompatibilityType `json:"compatibility_type" db:"compatibility_type"`
	IsStandard        bool              `json:"is_standard" db:"is_standard"`
	Notes             *string           `json:"notes,omitempty" db:"notes"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
}

// Link represents a hyperlink found in a document, with scrape enrichment.
type Link struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	DocumentID      uuid.UUID       `json:"document_id" db:"document_id"`
	URL             string          `json:"url" db:"url"`
	PageNumber      int             `json:"page_number" db:"page_number"`
	AnchorText      *string         `json:"anchor_text,omitempty" db:"anchor_text"`
	ScrapeStatus    ScrapeStatus    `json:"scrape_status" db:"scrape_status"`
	ScrapedContent  *string         `json:"scraped_content,omitempty" db:"scraped_content"`
	ContentHash     *string         `json:"content_hash,omitempty" db:"content_hash"`
	ScrapedMetadata json.RawMessage `json:"scraped_metadata" db:"scraped_metadata"`
	ScrapedAt       *time.Time      `json:"scraped_at,omitempty" db:"scraped_at"`
	Embedding       Vector          `json:"-" db:"embedding"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Video represents an embedded or referenced video.
type Video struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DocumentID  uuid.UUID `json:"document_id" db:"document_id"`
	URL         string    `json:"url" db:"url"`
	URLHash     string    `json:"url_hash" db:"url_hash"`
	PageNumber  int       `json:"page_number" db:"page_number"`
	Title       *string   `json:"title,omitempty" db:"title"`
	ContextText *string   `json:"context_text,omitempty" db:"context_text"`
	Embedding   Vector    `json:"-" db:"embedding"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Part represents an extracted spare part number.
type Part struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DocumentID  uuid.UUID `json:"document_id" db:"document_id"`
	PartNumber  string    `json:"part_number" db:"part_number"`
	Description *string   `json:"description,omitempty" db:"description"`
	PageNumber  int       `json:"page_number" db:"page_number"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// StageCompletionMarker proves a stage finished for a given input fingerprint.
type StageCompletionMarker struct {
	DocumentID  uuid.UUID       `json:"document_id" db:"document_id"`
	StageName   string          `json:"stage_name" db:"stage_name"`
	DataHash    string          `json:"data_hash" db:"data_hash"`
	Metadata    json.RawMessage `json:"metadata" db:"metadata"`
	CompletedAt time.Time       `json:"completed_at" db:"completed_at"`
}

// PipelineErrorRecord is the durable audit row for a failed stage execution.
type PipelineErrorRecord struct {
	ErrorID       uuid.UUID       `json:"error_id" db:"error_id"`
	DocumentID    *uuid.UUID      `json:"document_id,omitempty" db:"document_id"`
	StageName     string          `json:"stage_name" db:"stage_name"`
	ErrorType     string          `json:"error_type" db:"error_type"`
	ErrorCategory string          `json:"error_category" db:"error_category"`
	ErrorMessage  string          `json:"error_message" db:"error_message"`
	StackTrace    *string         `json:"stack_trace,omitempty" db:"stack_trace"`
	Context       json.RawMessage `json:"context" db:"context"`
	RetryCount    int             `json:"retry_count" db:"retry_count"`
	MaxRetries    int             `json:"max_retries" db:"max_retries"`
	Status        ErrorStatus     `json:"status" db:"status"`
	IsTransient   bool            `json:"is_transient" db:"is_transient"`
	CorrelationID string          `json:"correlation_id" db:"correlation_id"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	Notes         *string         `json:"resolution_notes,omitempty" db:"resolution_notes"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// RetryPolicy holds the retry parameters for one external service.
type RetryPolicy struct {
	ServiceName      string  `json:"service_name" db:"service_name"`
	MaxRetries       int     `json:"max_retries" db:"max_retries"`
	BaseDelaySeconds float64 `json:"base_delay_seconds" db:"base_delay_seconds"`
	MaxDelaySeconds  float64 `json:"max_delay_seconds" db:"max_delay_seconds"`
	ExponentialBase  float64 `json:"exponential_base" db:"exponential_base"`
	JitterEnabled    bool    `json:"jitter_enabled" db:"jitter_enabled"`
}
