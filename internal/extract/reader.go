// Package extract handles PDF ingestion: page text, page rendering, and
// pattern-based extraction of error codes, parts, links, and videos.
package extract

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/serviceintel-ai/docpipe/internal/domain"
)

// Page holds the extracted text of one PDF page. Numbering is 1-based.
type Page struct {
	Number int
	Text   string
}

// Reader wraps an open PDF document.
type Reader struct {
	doc *fitz.Document
}

// NewReader opens a PDF from memory. Corrupt or non-PDF input is an input
// error, not a transient one.
func NewReader(data []byte) (*Reader, error) {
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, domain.Input("data is not a PDF", nil)
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.Input("open pdf", err)
	}
	return &Reader{doc: doc}, nil
}

// Close releases the document.
func (r *Reader) Close() error {
	return r.doc.Close()
}

// PageCount returns the number of pages.
func (r *Reader) PageCount() int {
	return r.doc.NumPage()
}

// PageText extracts the text of a 1-based page.
func (r *Reader) PageText(page int) (string, error) {
	if page < 1 || page > r.doc.NumPage() {
		return "", domain.Input(fmt.Sprintf("page %d out of range", page), nil)
	}
	text, err := r.doc.Text(page - 1)
	if err != nil {
		return "", domain.Input(fmt.Sprintf("extract text of page %d", page), err)
	}
	return text, nil
}

// AllPages extracts text for every page in order.
func (r *Reader) AllPages() ([]Page, error) {
	pages := make([]Page, 0, r.doc.NumPage())
	for n := 1; n <= r.doc.NumPage(); n++ {
		text, err := r.PageText(n)
		if err != nil {
			return nil, err
		}
		pages = append(pages, Page{Number: n, Text: text})
	}
	return pages, nil
}

// RenderPagePNG rasterizes a 1-based page to PNG at the given DPI. Used for
// pages whose graphics are vector drawings that cannot be pulled out as
// embedded rasters.
func (r *Reader) RenderPagePNG(page int, dpi int) ([]byte, int, int, error) {
	if page < 1 || page > r.doc.NumPage() {
		return nil, 0, 0, domain.Input(fmt.Sprintf("page %d out of range", page), nil)
	}
	if dpi <= 0 {
		dpi = 150
	}
	img, err := r.doc.ImageDPI(page-1, float64(dpi))
	if err != nil {
		return nil, 0, 0, domain.Input(fmt.Sprintf("render page %d", page), err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, fmt.Errorf("encode page %d png: %w", page, err)
	}
	bounds := img.Bounds()
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// HasDrawings reports whether a page likely carries diagrams worth rendering.
// Pages that are almost pure text produce dense extracted text; sparse text
// on a non-empty page suggests vector artwork.
func (r *Reader) HasDrawings(page int) bool {
	text, err := r.PageText(page)
	if err != nil {
		return false
	}
	trimmed := strings.TrimSpace(text)
	return len(trimmed) < 200
}
