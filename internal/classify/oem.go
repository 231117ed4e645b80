package classify

import "strings"

// oemKey identifies a rebadged model line in a specific documentation
// context. Some manufacturers sell machines built by an OEM partner; the
// error code tables in those manuals belong to the OEM, not the brand on
// the cover.
type oemKey struct {
	brand       string
	modelPrefix string
	context     string
}

var oemOverrides = []struct {
	key oemKey
	oem string
}{
	// Konica Minolta A4 i-series devices are Brother engines; their error
	// codes follow Brother conventions.
	{oemKey{"Konica Minolta", "5000i", "error_codes"}, "Brother"},
	{oemKey{"Konica Minolta", "4000i", "error_codes"}, "Brother"},
	{oemKey{"Konica Minolta", "3300i", "error_codes"}, "Brother"},
	// Lexmark engines behind some Toshiba A4 lines.
	{oemKey{"Toshiba", "409", "error_codes"}, "Lexmark"},
}

// EffectiveManufacturer returns the manufacturer whose conventions apply for
// the given model and context. For most machines this is the brand itself.
func EffectiveManufacturer(brand, model, context string) string {
	canonical := NormalizeManufacturer(brand)
	normalizedModel := NormalizeModel(model)
	for _, o := range oemOverrides {
		if o.key.brand == canonical && o.key.context == context &&
			strings.HasPrefix(normalizedModel, strings.ToUpper(o.key.modelPrefix)) {
			return o.oem
		}
	}
	return canonical
}
