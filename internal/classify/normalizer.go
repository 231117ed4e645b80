// Package classify resolves documents to manufacturers, products, series,
// and accessories, and validates accessory compatibility graphs.
package classify

import (
	"regexp"
	"strings"
)

// canonical manufacturer names keyed by lowercase alias. Normalization is
// idempotent: canonical names map to themselves.
var manufacturerAliases = map[string]string{
	"hp":               "HP",
	"hp inc":           "HP",
	"hp inc.":          "HP",
	"hewlett-packard":  "HP",
	"hewlett packard":  "HP",
	"konica":           "Konica Minolta",
	"konica minolta":   "Konica Minolta",
	"konicaminolta":    "Konica Minolta",
	"km":               "Konica Minolta",
	"brother":          "Brother",
	"brother industries": "Brother",
	"canon":            "Canon",
	"canon inc":        "Canon",
	"ricoh":            "Ricoh",
	"xerox":            "Xerox",
	"kyocera":          "Kyocera",
	"kyocera mita":     "Kyocera",
	"lexmark":          "Lexmark",
	"epson":            "Epson",
	"seiko epson":      "Epson",
	"sharp":            "Sharp",
	"toshiba":          "Toshiba",
	"toshiba tec":      "Toshiba",
	"oki":              "OKI",
	"oki data":         "OKI",
}

// Corporate suffixes stripped before the alias lookup, longest forms first
// so ", inc." wins over " inc".
var corporateSuffixes = []string{
	", inc.", ", inc", " inc.", " inc",
	" corporation", " corp.", " corp",
	" co., ltd.", " co., ltd", " co. ltd.", " co. ltd",
	" ltd.", " ltd", " gmbh", " k.k.",
}

// NormalizeManufacturer maps raw manufacturer text to its canonical name.
// Unknown names are title-cased and returned as-is so new manufacturers do
// not block ingestion.
func NormalizeManufacturer(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	for _, suffix := range corporateSuffixes {
		if strings.HasSuffix(cleaned, suffix) {
			cleaned = strings.TrimSuffix(cleaned, suffix)
			break
		}
	}
	cleaned = strings.TrimSpace(cleaned)

	if canonical, ok := manufacturerAliases[cleaned]; ok {
		return canonical
	}
	if raw == "" {
		return ""
	}
	// Unknown manufacturer: title case each word.
	words := strings.Fields(cleaned)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// AliasesFor returns the known raw spellings for a canonical name, for
// persisting alongside the manufacturer row.
func AliasesFor(canonical string) []string {
	var out []string
	for alias, c := range manufacturerAliases {
		if c == canonical && alias != strings.ToLower(canonical) {
			out = append(out, alias)
		}
	}
	return out
}

var modelCleanRe = regexp.MustCompile(`\s+`)

// NormalizeModel trims and uppercases a model number, collapsing internal
// whitespace. "bizhub c558" and "BIZHUB C558" resolve to the same key.
func NormalizeModel(raw string) string {
	m := strings.TrimSpace(raw)
	m = modelCleanRe.ReplaceAllString(m, " ")
	return strings.ToUpper(m)
}
