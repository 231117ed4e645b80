package extract

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"

	"github.com/serviceintel-ai/docpipe/internal/domain"
)

// IsCompressed reports whether the filename indicates a gzip-compressed PDF.
func IsCompressed(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".pdfz")
}

// Decompress gunzips a .pdfz payload and verifies the result is a PDF.
// Plain PDF input passes through unchanged.
func Decompress(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return data, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.Input("payload is neither a PDF nor gzip", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, domain.Input("decompress payload", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		return nil, domain.Input("decompressed payload is not a PDF", nil)
	}
	return out, nil
}
