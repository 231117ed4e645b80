package classify

import (
	"regexp"
	"strings"

	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// Accessory model prefixes map to product types. The prefix is the letter
// code before the dash; longest prefix wins.
var accessoryPrefixes = []struct {
	prefix string
	ptype  storage.ProductType
}{
	{"FS", storage.ProductTypeFinisher},
	{"SD", storage.ProductTypeSaddleFinisher},
	{"PF", storage.ProductTypePaperFeeder},
	{"PC", storage.ProductTypePaperFeeder},
	{"DK", storage.ProductTypeCabinet},
	{"FK", storage.ProductTypeFaxKit},
	{"HD", storage.ProductTypeHardDrive},
	{"IC", storage.ProductTypeImageController},
	{"VI", storage.ProductTypeControllerAccessory},
	{"RU", storage.ProductTypeRelayUnit},
	{"AU", storage.ProductTypeAuthenticationUnit},
	{"TN", storage.ProductTypeTonerCartridge},
	{"DR", storage.ProductTypeDrumUnit},
	{"WT", storage.ProductTypeWorkTable},
	{"KP", storage.ProductTypeKeyboardTray},
	{"PK", storage.ProductTypePunchKit},
}

var accessoryModelRe = regexp.MustCompile(`^([A-Z]{2,3})-?[0-9]{3,4}[A-Za-z]*$`)

// production printer model numbers: C + 5 digits, e.g. C12010.
var productionModelRe = regexp.MustCompile(`^C[0-9]{5}$`)

// ClassifyModel assigns a product type to a model number. Office machines
// default to laser_multifunction when nothing more specific matches.
func ClassifyModel(model string) storage.ProductType {
	m := NormalizeModel(model)

	if productionModelRe.MatchString(m) {
		return storage.ProductTypeLaserProductionPrinter
	}

	if sub := accessoryModelRe.FindStringSubmatch(m); sub != nil {
		code := sub[1]
		for _, p := range accessoryPrefixes {
			if code == p.prefix {
				return p.ptype
			}
		}
	}

	if seriesType, ok := seriesTypeFor(m); ok {
		return seriesType
	}
	return storage.ProductTypeLaserMultifunction
}

// IsAccessory reports whether the model is an attachable accessory rather
// than a standalone machine.
func IsAccessory(model string) bool {
	switch ClassifyModel(model) {
	case storage.ProductTypeFinisher, storage.ProductTypeSaddleFinisher,
		storage.ProductTypePaperFeeder, storage.ProductTypeCabinet,
		storage.ProductTypeFaxKit, storage.ProductTypeHardDrive,
		storage.ProductTypeImageController, storage.ProductTypeControllerAccessory,
		storage.ProductTypeRelayUnit, storage.ProductTypeAuthenticationUnit,
		storage.ProductTypeTonerCartridge, storage.ProductTypeDrumUnit,
		storage.ProductTypeWorkTable, storage.ProductTypeKeyboardTray,
		storage.ProductTypePunchKit:
		return true
	}
	return false
}

// Series name fragments map to product types when present in the model.
var seriesTypes = []struct {
	fragment string
	ptype    storage.ProductType
}{
	{"BIZHUB PRESS", storage.ProductTypeLaserProductionPrinter},
	{"ACCURIOPRESS", storage.ProductTypeLaserProductionPrinter},
	{"ACCURIOPRINT", storage.ProductTypeLaserProductionPrinter},
	{"BIZHUB", storage.ProductTypeLaserMultifunction},
	{"LASERJET PRO MFP", storage.ProductTypeLaserMultifunction},
	{"LASERJET MFP", storage.ProductTypeLaserMultifunction},
	{"LASERJET", storage.ProductTypeLaserPrinter},
	{"OFFICEJET PRO", storage.ProductTypeInkjetMultifunction},
	{"OFFICEJET", storage.ProductTypeInkjetMultifunction},
	{"DESKJET", storage.ProductTypeInkjetPrinter},
	{"IMAGERUNNER", storage.ProductTypeLaserMultifunction},
	{"IMAGEPRESS", storage.ProductTypeLaserProductionPrinter},
	{"ECOSYS", storage.ProductTypeLaserPrinter},
	{"TASKALFA", storage.ProductTypeLaserMultifunction},
}

func seriesTypeFor(model string) (storage.ProductType, bool) {
	for _, s := range seriesTypes {
		if strings.Contains(model, s.fragment) {
			return s.ptype, true
		}
	}
	return "", false
}

// SeriesName extracts the series fragment from a model, if recognized.
func SeriesName(model string) string {
	m := NormalizeModel(model)
	for _, s := range seriesTypes {
		if strings.Contains(m, s.fragment) {
			return titleCase(s.fragment)
		}
	}
	return ""
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
