// Package chunker splits extracted page text into retrieval-sized chunks.
// Splitting is structure aware: section headings reset context, and blocks
// carrying an error code or a numbered procedure are never cut in half.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/serviceintel-ai/docpipe/internal/extract"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// Options controls chunk sizing. Sizes are in characters.
type Options struct {
	TargetSize int
	Overlap    int
	MinSize    int
	MaxSize    int
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{TargetSize: 1000, Overlap: 200, MinSize: 100, MaxSize: 2000}
}

// Chunk is one output unit, ready for storage.
type Chunk struct {
	Index            int
	PageStart        int
	PageEnd          int
	Content          string
	ContentHash      string
	Type             storage.ChunkType
	SectionHierarchy []string
	Metadata         storage.ChunkMetadata
}

var (
	numberedHeadingRe = regexp.MustCompile(`^(\d+(?:\.\d+)*)\s+[A-Z]`)
	namedHeadingRe    = regexp.MustCompile(`(?i)^(chapter|section|appendix|troubleshooting|maintenance|installation)\b`)
	procedureStepRe   = regexp.MustCompile(`(?m)^\s*\d{1,2}[\.\)]\s+\S`)
	partNumberHintRe  = regexp.MustCompile(`(?i)part\s*(no\.?|number)`)
	listItemRe        = regexp.MustCompile(`(?m)^\s*[-•*]\s+\S`)
)

// ContentHash returns the SHA-256 of the NFC-normalized content. Normalizing
// first keeps hashes stable across PDFs that encode the same glyphs with
// different Unicode compositions.
func ContentHash(content string) string {
	normalized := norm.NFC.String(content)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

type block struct {
	text    string
	page    int
	heading []string
	atomic  bool
}

// Split chunks the document pages. Duplicate content within the document is
// dropped, keeping the earliest occurrence. Indices are dense and start at 1.
func Split(pages []extract.Page, opts Options) []Chunk {
	if opts.TargetSize <= 0 {
		opts = DefaultOptions()
	}

	blocks := collectBlocks(pages)
	chunks := assemble(blocks, opts)

	seen := map[string]bool{}
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if seen[c.ContentHash] {
			continue
		}
		seen[c.ContentHash] = true
		c.Index = len(out) + 1
		out = append(out, c)
	}
	return out
}

// collectBlocks walks pages paragraph by paragraph, tracking the heading
// stack so every block knows its section hierarchy.
func collectBlocks(pages []extract.Page) []block {
	var blocks []block
	var stack []headingLevel

	for _, page := range pages {
		for _, para := range strings.Split(page.Text, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}

			firstLine := strings.SplitN(para, "\n", 2)[0]
			if depth, ok := headingDepth(firstLine); ok {
				stack = pushHeading(stack, headingLevel{depth: depth, title: strings.TrimSpace(firstLine)})
			}

			blocks = append(blocks, block{
				text:    para,
				page:    page.Number,
				heading: titles(stack),
				atomic:  isAtomic(para),
			})
		}
	}
	return blocks
}

type headingLevel struct {
	depth int
	title string
}

func headingDepth(line string) (int, bool) {
	if m := numberedHeadingRe.FindStringSubmatch(line); m != nil {
		return strings.Count(m[1], ".") + 1, true
	}
	if namedHeadingRe.MatchString(line) {
		return 1, true
	}
	return 0, false
}

func pushHeading(stack []headingLevel, h headingLevel) []headingLevel {
	for len(stack) > 0 && stack[len(stack)-1].depth >= h.depth {
		stack = stack[:len(stack)-1]
	}
	return append(stack, h)
}

func titles(stack []headingLevel) []string {
	out := make([]string, len(stack))
	for i, h := range stack {
		out[i] = h.title
	}
	return out
}

// isAtomic marks blocks that must not be split: error code entries and
// numbered procedures lose their meaning when cut.
func isAtomic(text string) bool {
	if len(extract.ErrorCodes(text, 0, "")) > 0 {
		return true
	}
	return len(procedureStepRe.FindAllString(text, -1)) >= 2
}

func assemble(blocks []block, opts Options) []Chunk {
	var chunks []Chunk
	var buf strings.Builder
	var pageStart, pageEnd int
	var hierarchy []string

	flush := func() {
		content := strings.TrimSpace(buf.String())
		buf.Reset()
		if len(content) < opts.MinSize {
			if len(content) > 0 && len(chunks) > 0 {
				// Fold a trailing runt into the previous chunk.
				prev := &chunks[len(chunks)-1]
				prev.Content = prev.Content + "\n\n" + content
				prev.PageEnd = pageEnd
				prev.ContentHash = ContentHash(prev.Content)
				*prev = finalize(*prev)
			}
			return
		}
		chunks = append(chunks, finalize(Chunk{
			PageStart:        pageStart,
			PageEnd:          pageEnd,
			Content:          content,
			ContentHash:      ContentHash(content),
			SectionHierarchy: hierarchy,
		}))
	}

	for _, b := range blocks {
		sameSection := equalStrings(hierarchy, b.heading)
		wouldOverflow := buf.Len() > 0 && buf.Len()+len(b.text) > opts.TargetSize

		if buf.Len() > 0 && (!sameSection || wouldOverflow || b.atomic) {
			tail := overlapTail(buf.String(), opts.Overlap)
			flush()
			if sameSection && tail != "" && !b.atomic {
				buf.WriteString(tail)
				buf.WriteString("\n\n")
			}
			pageStart = b.page
		}
		if buf.Len() == 0 {
			pageStart = b.page
			hierarchy = b.heading
		}

		buf.WriteString(b.text)
		buf.WriteString("\n\n")
		pageEnd = b.page

		// Atomic blocks ship alone even past the target size, capped only
		// by their own length.
		if b.atomic || buf.Len() >= opts.MaxSize {
			flush()
		}
	}
	flush()
	return chunks
}

func overlapTail(text string, overlap int) string {
	text = strings.TrimSpace(text)
	if overlap <= 0 || len(text) <= overlap {
		return ""
	}
	tail := text[len(text)-overlap:]
	// Start the overlap at a word boundary.
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return tail
}

func finalize(c Chunk) Chunk {
	codes := extract.ErrorCodes(c.Content, c.PageStart, "")
	hasProcedure := len(procedureStepRe.FindAllString(c.Content, -1)) >= 2

	c.Metadata = storage.ChunkMetadata{
		Confidence:         1.0,
		ContainsErrorCode:  len(codes) > 0,
		ContainsProcedure:  hasProcedure,
		ContainsPartNumber: partNumberHintRe.MatchString(c.Content),
	}
	if len(codes) > 0 {
		c.Metadata.ErrorCode = codes[0].Code
	}

	switch {
	case len(codes) > 0:
		c.Type = storage.ChunkTypeErrorCode
	case hasProcedure:
		c.Type = storage.ChunkTypeProcedure
	case extract.LooksTabular(c.Content):
		c.Type = storage.ChunkTypeTable
	case len(listItemRe.FindAllString(c.Content, -1)) >= 3:
		c.Type = storage.ChunkTypeList
	default:
		c.Type = storage.ChunkTypeText
	}
	return c
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
