package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// FoundErrorCode is one error code match in page text.
type FoundErrorCode struct {
	Code       string
	Page       int
	Context    string
	Confidence float64
}

// FoundPart is one part number match.
type FoundPart struct {
	PartNumber  string
	Description string
	Page        int
	Confidence  float64
}

// FoundLink is one hyperlink match.
type FoundLink struct {
	URL        string
	Page       int
	AnchorText string
}

// FoundVideo is one video URL match.
type FoundVideo struct {
	URL     string
	URLHash string
	Page    int
	Context string
}

// Manufacturer-specific error code shapes. Generic shapes catch the rest at
// lower confidence.
var errorCodePatterns = []struct {
	manufacturer string
	re           *regexp.Regexp
	confidence   float64
}{
	{"Konica Minolta", regexp.MustCompile(`\bC[0-9]{4}\b`), 0.95},
	{"Konica Minolta", regexp.MustCompile(`\bJ[-]?[0-9]{2}[-]?[0-9]{0,2}\b`), 0.85},
	{"HP", regexp.MustCompile(`\b[0-9]{2}\.[0-9]{2}(\.[0-9]{2})?\b`), 0.9},
	{"Brother", regexp.MustCompile(`\b(?:Error\s+)?E[0-9]{2,3}\b`), 0.85},
	{"Canon", regexp.MustCompile(`\bE[0-9]{3}-[0-9]{4}\b`), 0.95},
	{"", regexp.MustCompile(`\b(?:SC|F|U)[0-9]{2,4}(?:-[0-9]{1,2})?\b`), 0.7},
}

// ErrorCodes finds error codes in page text. When manufacturer is known,
// only its patterns plus the generic ones apply.
func ErrorCodes(text string, page int, manufacturer string) []FoundErrorCode {
	seen := map[string]bool{}
	var out []FoundErrorCode
	for _, p := range errorCodePatterns {
		if p.manufacturer != "" && manufacturer != "" && p.manufacturer != manufacturer {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			code := text[loc[0]:loc[1]]
			if seen[code] {
				continue
			}
			seen[code] = true
			out = append(out, FoundErrorCode{
				Code:       code,
				Page:       page,
				Context:    surrounding(text, loc[0], loc[1], 160),
				Confidence: p.confidence,
			})
		}
	}
	return out
}

// SolutionText pulls the remedy block that follows an error code mention.
// Service manuals put the fix under headings like "Solution", "Remedy", or
// "Corrective Action"; the block ends at the next blank line pair or heading.
func SolutionText(context string) string {
	re := regexp.MustCompile(`(?is)(?:solution|remedy|corrective action|action)\s*[:\n]\s*(.+)`)
	m := re.FindStringSubmatch(context)
	if m == nil {
		return ""
	}
	sol := strings.TrimSpace(m[1])
	if idx := strings.Index(sol, "\n\n"); idx > 0 {
		sol = sol[:idx]
	}
	if len(sol) > 1000 {
		sol = sol[:1000]
	}
	return strings.TrimSpace(sol)
}

var partPatterns = []*regexp.Regexp{
	// Konica Minolta style: A5AW R7 00 and similar spaced or joined codes.
	regexp.MustCompile(`\bA[0-9A-Z]{3}\s?[0-9A-Z]{2}\s?[0-9A-Z]{2}\b`),
	// HP/Canon style: RM2-5425-000 or RB2-3522.
	regexp.MustCompile(`\bR[A-Z][0-9]-[0-9]{4}(?:-[0-9]{3})?\b`),
	// Generic alphanumeric part with explicit label nearby.
	regexp.MustCompile(`(?i)part\s*(?:no\.?|number)[:\s]+([A-Z0-9][A-Z0-9-]{4,14})`),
}

// Parts finds part numbers in page text.
func Parts(text string, page int) []FoundPart {
	seen := map[string]bool{}
	var out []FoundPart
	for i, re := range partPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			pn := m[0]
			if len(m) > 1 && m[1] != "" {
				pn = m[1]
			}
			pn = strings.ReplaceAll(pn, " ", "")
			if seen[pn] {
				continue
			}
			seen[pn] = true
			conf := 0.8
			if i == len(partPatterns)-1 {
				conf = 0.95 // explicit label
			}
			out = append(out, FoundPart{PartNumber: pn, Page: page, Confidence: conf})
		}
	}
	return out
}

var versionRe = regexp.MustCompile(`(?i)\b(?:firmware|version|ver\.?|v)\s*:?\s*([0-9]+(?:\.[0-9]+){1,3})\b`)

// Versions finds firmware and software version strings.
func Versions(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range versionRe.FindAllStringSubmatch(text, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}

var urlRe = regexp.MustCompile(`https?://[^\s<>"\)\]]+`)

var videoHosts = []string{"youtube.com", "youtu.be", "vimeo.com"}

// Links finds HTTP links in page text, excluding video URLs.
func Links(text string, page int) []FoundLink {
	seen := map[string]bool{}
	var out []FoundLink
	for _, loc := range urlRe.FindAllStringIndex(text, -1) {
		url := strings.TrimRight(text[loc[0]:loc[1]], ".,;")
		if seen[url] || isVideoURL(url) {
			continue
		}
		seen[url] = true
		out = append(out, FoundLink{
			URL:        url,
			Page:       page,
			AnchorText: surrounding(text, loc[0], loc[1], 80),
		})
	}
	return out
}

// Videos finds video URLs in page text. The URL hash keys the videos table.
func Videos(text string, page int) []FoundVideo {
	seen := map[string]bool{}
	var out []FoundVideo
	for _, loc := range urlRe.FindAllStringIndex(text, -1) {
		url := strings.TrimRight(text[loc[0]:loc[1]], ".,;")
		if seen[url] || !isVideoURL(url) {
			continue
		}
		seen[url] = true
		sum := sha256.Sum256([]byte(url))
		out = append(out, FoundVideo{
			URL:     url,
			URLHash: hex.EncodeToString(sum[:]),
			Page:    page,
			Context: surrounding(text, loc[0], loc[1], 120),
		})
	}
	return out
}

func isVideoURL(url string) bool {
	lower := strings.ToLower(url)
	for _, h := range videoHosts {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

var columnGapRe = regexp.MustCompile(`\s{3,}`)

// LooksTabular reports whether a text block reads like a table: several
// consecutive lines sharing column-ish separators.
func LooksTabular(text string) bool {
	lines := strings.Split(text, "\n")
	runs := 0
	for _, line := range lines {
		cols := 0
		if strings.Count(line, "|") >= 2 {
			cols = strings.Count(line, "|")
		} else if strings.Count(line, "\t") >= 2 {
			cols = strings.Count(line, "\t")
		} else if m := columnGapRe.FindAllString(line, -1); len(m) >= 2 {
			cols = len(m)
		}
		if cols >= 2 {
			runs++
			if runs >= 3 {
				return true
			}
		} else if strings.TrimSpace(line) != "" {
			runs = 0
		}
	}
	return false
}

func surrounding(text string, start, end, radius int) string {
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(text) {
		hi = len(text)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(text[lo:hi]), " "))
}
