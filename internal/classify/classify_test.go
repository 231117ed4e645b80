package classify

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviceintel-ai/docpipe/internal/extract"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

func TestNormalizeManufacturer(t *testing.T) {
	assert.Equal(t, "HP", NormalizeManufacturer("hp"))
	assert.Equal(t, "HP", NormalizeManufacturer("Hewlett-Packard"))
	assert.Equal(t, "Konica Minolta", NormalizeManufacturer("KONICA MINOLTA"))
	assert.Equal(t, "Brother", NormalizeManufacturer("Brother Industries"))

	// Idempotent: canonical input maps to itself.
	assert.Equal(t, "HP", NormalizeManufacturer(NormalizeManufacturer("hewlett packard")))

	// Unknown manufacturers pass through title-cased.
	assert.Equal(t, "Fantasy Printers", NormalizeManufacturer("fantasy printers"))
}

func TestNormalizeManufacturer_CorporateSuffixes(t *testing.T) {
	assert.Equal(t, "Canon", NormalizeManufacturer("Canon Inc."))
	assert.Equal(t, "Canon", NormalizeManufacturer("Canon Corp."))
	assert.Equal(t, "Brother", NormalizeManufacturer("Brother GmbH"))
	assert.Equal(t, "Kyocera", NormalizeManufacturer("Kyocera Ltd"))
	assert.Equal(t, "Konica Minolta", NormalizeManufacturer("Konica Minolta Co., Ltd."))
	assert.Equal(t, "Epson", NormalizeManufacturer("Seiko Epson Corporation"))
}

func TestEffectiveManufacturer_OEM(t *testing.T) {
	// Rebadged A4 line: error code conventions come from the OEM.
	assert.Equal(t, "Brother", EffectiveManufacturer("Konica Minolta", "5000i", "error_codes"))

	// Same machine outside the error code context keeps its brand.
	assert.Equal(t, "Konica Minolta", EffectiveManufacturer("Konica Minolta", "5000i", "parts"))

	// Non-rebadged machines keep their brand everywhere.
	assert.Equal(t, "HP", EffectiveManufacturer("HP", "M455", "error_codes"))
}

func TestClassifyModel_Accessories(t *testing.T) {
	assert.Equal(t, storage.ProductTypeFinisher, ClassifyModel("FS-534"))
	assert.Equal(t, storage.ProductTypeTonerCartridge, ClassifyModel("TN-328"))
	assert.Equal(t, storage.ProductTypeSaddleFinisher, ClassifyModel("SD-513"))
	assert.Equal(t, storage.ProductTypePaperFeeder, ClassifyModel("PF-707"))
	assert.Equal(t, storage.ProductTypeLaserProductionPrinter, ClassifyModel("C12010"))
	assert.Equal(t, storage.ProductTypeLaserMultifunction, ClassifyModel("bizhub C558"))
}

func TestIsAccessory(t *testing.T) {
	assert.True(t, IsAccessory("FS-534"))
	assert.True(t, IsAccessory("TN-328"))
	assert.False(t, IsAccessory("bizhub C558"))
	assert.False(t, IsAccessory("C12010"))
}

func TestSeriesName(t *testing.T) {
	assert.Equal(t, "Bizhub", SeriesName("bizhub C558"))
	assert.Equal(t, "Laserjet", SeriesName("LaserJet Pro M455"))
	assert.Empty(t, SeriesName("FS-534"))
}

func TestClassifyDocument(t *testing.T) {
	pages := []extract.Page{
		{Number: 1, Text: "Konica Minolta bizhub C558\nService Manual\nField Service Edition"},
		{Number: 2, Text: "This service manual covers the bizhub C558 and the optional FS-534 finisher. Theory of operation and disassembly follow."},
	}

	c := ClassifyDocument(pages, 10)
	assert.Equal(t, storage.DocumentTypeServiceManual, c.DocumentType)
	assert.Equal(t, "Konica Minolta", c.Manufacturer)
	assert.Equal(t, "en", c.Language)
	assert.Contains(t, c.Models, "BIZHUB C558")
	assert.Greater(t, c.Confidence, 0.0)
}

func TestClassifyDocument_PartsCatalog(t *testing.T) {
	pages := []extract.Page{
		{Number: 1, Text: "HP LaserJet Pro M455\nIllustrated Parts Catalog"},
	}
	c := ClassifyDocument(pages, 5)
	assert.Equal(t, storage.DocumentTypePartsCatalog, c.DocumentType)
	assert.Equal(t, "HP", c.Manufacturer)
}

func TestCompatibilityGraph_RequireConflictContradiction(t *testing.T) {
	base, acc := uuid.New(), uuid.New()
	g := NewCompatibilityGraph([]*storage.ProductAccessory{
		{ProductID: base, AccessoryID: acc, CompatibilityType: storage.CompatibilityRequires},
		{ProductID: base, AccessoryID: acc, CompatibilityType: storage.CompatibilityConflicts},
	})
	err := g.Validate()
	require.Error(t, err)
}

func TestCompatibilityGraph_RequiresCycle(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	g := NewCompatibilityGraph([]*storage.ProductAccessory{
		{ProductID: a, AccessoryID: b, CompatibilityType: storage.CompatibilityRequires},
		{ProductID: b, AccessoryID: c, CompatibilityType: storage.CompatibilityPrerequisite},
		{ProductID: c, AccessoryID: a, CompatibilityType: storage.CompatibilityRequires},
	})
	require.Error(t, g.Validate())
}

func TestCompatibilityGraph_ValidChain(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	g := NewCompatibilityGraph([]*storage.ProductAccessory{
		{ProductID: a, AccessoryID: b, CompatibilityType: storage.CompatibilityRequires},
		{ProductID: b, AccessoryID: c, CompatibilityType: storage.CompatibilityRequires},
		{ProductID: a, AccessoryID: c, CompatibilityType: storage.CompatibilityCompatible},
	})
	assert.NoError(t, g.Validate())
}

func TestValidateConfiguration_MissingRequirement(t *testing.T) {
	base, finisher, tray := uuid.New(), uuid.New(), uuid.New()
	g := NewCompatibilityGraph([]*storage.ProductAccessory{
		{ProductID: base, AccessoryID: finisher, CompatibilityType: storage.CompatibilityCompatible},
		{ProductID: finisher, AccessoryID: tray, CompatibilityType: storage.CompatibilityRequires},
	})

	// The finisher drags in a transitive requirement on the tray.
	report := g.ValidateConfiguration(base, []uuid.UUID{finisher})
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "requires")

	report = g.ValidateConfiguration(base, []uuid.UUID{finisher, tray})
	assert.True(t, report.Valid)
	assert.Empty(t, report.Errors)
}

func TestValidateConfiguration_Conflict(t *testing.T) {
	base, inner, booklet := uuid.New(), uuid.New(), uuid.New()
	g := NewCompatibilityGraph([]*storage.ProductAccessory{
		{ProductID: base, AccessoryID: inner, CompatibilityType: storage.CompatibilityCompatible},
		{ProductID: inner, AccessoryID: booklet, CompatibilityType: storage.CompatibilityConflicts},
	})

	report := g.ValidateConfiguration(base, []uuid.UUID{inner, booklet})
	assert.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "conflicts")
}

func TestValidateConfiguration_AlternativeWarns(t *testing.T) {
	base, a, b := uuid.New(), uuid.New(), uuid.New()
	g := NewCompatibilityGraph([]*storage.ProductAccessory{
		{ProductID: a, AccessoryID: b, CompatibilityType: storage.CompatibilityAlternative},
	})

	report := g.ValidateConfiguration(base, []uuid.UUID{a, b})
	assert.True(t, report.Valid)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "alternatives")
}
