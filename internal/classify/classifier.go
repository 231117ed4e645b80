package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/serviceintel-ai/docpipe/internal/extract"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// Classification is the outcome of document-level analysis.
type Classification struct {
	DocumentType storage.DocumentType
	Manufacturer string
	Series       string
	Models       []string
	Language     string
	Confidence   float64
}

var docTypeSignals = []struct {
	dtype   storage.DocumentType
	signals []string
	weight  float64
}{
	{storage.DocumentTypeServiceManual, []string{"service manual", "field service", "theory of operation", "disassembly"}, 1.0},
	{storage.DocumentTypePartsCatalog, []string{"parts catalog", "parts list", "parts guide", "illustrated parts"}, 1.0},
	{storage.DocumentTypeTroubleshootingGuide, []string{"troubleshooting guide", "error code list", "fault isolation"}, 0.9},
	{storage.DocumentTypeUserManual, []string{"user guide", "user manual", "operation guide", "getting started"}, 0.8},
}

var manufacturerMentionRe = regexp.MustCompile(`(?i)\b(konica\s*minolta|hewlett[- ]packard|hp|brother|canon|ricoh|xerox|kyocera|lexmark|epson|sharp|toshiba|oki)\b`)

var modelMentionRe = regexp.MustCompile(`\b(?:bizhub(?:\s+PRESS)?\s+C?[0-9]{3,4}[ie]?|AccurioPress\s+C?[0-9]{4,5}|LaserJet(?:\s+Pro)?(?:\s+MFP)?\s+[A-Z]?[0-9]{3,4}[a-z]*|imageRUNNER\s+[A-Z]*[0-9]{4}[i]?|C[0-9]{5}|[0-9]{4}i)\b`)

// ClassifyDocument inspects the first pages of a document and derives its
// type, manufacturer, and mentioned models. Early pages carry the cover and
// preface, which is where this metadata lives.
func ClassifyDocument(pages []extract.Page, maxPages int) Classification {
	if maxPages <= 0 || maxPages > len(pages) {
		maxPages = len(pages)
	}

	var sb strings.Builder
	for _, p := range pages[:maxPages] {
		sb.WriteString(p.Text)
		sb.WriteString("\n")
	}
	text := sb.String()
	lower := strings.ToLower(text)

	out := Classification{
		DocumentType: storage.DocumentTypeOther,
		Language:     detectLanguage(lower),
	}

	best := 0.0
	for _, cand := range docTypeSignals {
		score := 0.0
		for _, sig := range cand.signals {
			if strings.Contains(lower, sig) {
				score += cand.weight
			}
		}
		if score > best {
			best = score
			out.DocumentType = cand.dtype
		}
	}
	out.Confidence = clamp01(best / 2)

	// Manufacturer: most frequent mention wins.
	counts := map[string]int{}
	for _, m := range manufacturerMentionRe.FindAllString(text, -1) {
		counts[NormalizeManufacturer(m)]++
	}
	bestCount := 0
	for name, n := range counts {
		if n > bestCount || (n == bestCount && name < out.Manufacturer) {
			bestCount = n
			out.Manufacturer = name
		}
	}

	seen := map[string]bool{}
	for _, m := range modelMentionRe.FindAllString(text, -1) {
		norm := NormalizeModel(m)
		if !seen[norm] {
			seen[norm] = true
			out.Models = append(out.Models, norm)
		}
	}
	sort.Strings(out.Models)

	for _, m := range out.Models {
		if s := SeriesName(m); s != "" {
			out.Series = s
			break
		}
	}

	return out
}

// detectLanguage is a cheap heuristic over function words. The corpus is
// overwhelmingly English; everything else falls back to the dominant match.
func detectLanguage(lower string) string {
	scores := map[string]int{
		"en": countAny(lower, " the ", " and ", " with ", " replace "),
		"de": countAny(lower, " und ", " der ", " die ", " ersetzen "),
		"fr": countAny(lower, " le ", " la ", " avec ", " remplacer "),
		"es": countAny(lower, " el ", " los ", " con ", " reemplazar "),
	}
	best, bestN := "en", scores["en"]
	for lang, n := range scores {
		if n > bestN {
			best, bestN = lang, n
		}
	}
	return best
}

func countAny(text string, needles ...string) int {
	n := 0
	for _, needle := range needles {
		n += strings.Count(text, needle)
	}
	return n
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
