package extract

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes_KonicaMinolta(t *testing.T) {
	text := "When the fusing unit overheats the machine shows C2557 on the panel.\nSolution: replace the fusing thermistor."

	codes := ErrorCodes(text, 12, "Konica Minolta")
	require.Len(t, codes, 1)
	assert.Equal(t, "C2557", codes[0].Code)
	assert.Equal(t, 12, codes[0].Page)
	assert.GreaterOrEqual(t, codes[0].Confidence, 0.9)
	assert.Contains(t, codes[0].Context, "fusing")
}

func TestErrorCodes_ManufacturerFilter(t *testing.T) {
	text := "Error 13.20.00 paper jam in the duplexer."

	hp := ErrorCodes(text, 3, "HP")
	require.Len(t, hp, 1)
	assert.Equal(t, "13.20.00", hp[0].Code)

	// Konica patterns do not match HP-shaped codes.
	km := ErrorCodes(text, 3, "Konica Minolta")
	assert.Empty(t, km)
}

func TestErrorCodes_DedupWithinPage(t *testing.T) {
	text := "C2557 appears twice: C2557."
	codes := ErrorCodes(text, 1, "Konica Minolta")
	assert.Len(t, codes, 1)
}

func TestSolutionText(t *testing.T) {
	ctx := "C2557 fusing error. Solution: Replace the fusing thermistor and check the connector on PWB-A."
	sol := SolutionText(ctx)
	assert.Contains(t, sol, "Replace the fusing thermistor")

	assert.Empty(t, SolutionText("C2557 with no remedy text at all"))
}

func TestParts(t *testing.T) {
	text := "Order the transfer roller, Part No: A5AWR70100 or the HP equivalent RM2-5425-000."
	parts := Parts(text, 44)
	require.NotEmpty(t, parts)

	byNumber := map[string]FoundPart{}
	for _, p := range parts {
		byNumber[p.PartNumber] = p
	}
	assert.Contains(t, byNumber, "RM2-5425-000")
}

func TestLinksAndVideos(t *testing.T) {
	text := "See https://support.example.com/guide for details and watch https://youtube.com/watch?v=abc123 first."

	links := Links(text, 2)
	require.Len(t, links, 1)
	assert.Equal(t, "https://support.example.com/guide", links[0].URL)

	videos := Videos(text, 2)
	require.Len(t, videos, 1)
	assert.Contains(t, videos[0].URL, "youtube.com")
	assert.Len(t, videos[0].URLHash, 64)
}

func TestLinks_TrailingPunctuation(t *testing.T) {
	links := Links("Visit https://example.com/page.", 1)
	require.Len(t, links, 1)
	assert.Equal(t, "https://example.com/page", links[0].URL)
}

func TestLooksTabular(t *testing.T) {
	table := "Code | Meaning | Action\nC2557 | Fusing error | Replace thermistor\nC2558 | Fan failure | Replace fan\nC2559 | Sensor fault | Clean sensor"
	assert.True(t, LooksTabular(table))

	// Whitespace-aligned columns, no explicit separators.
	spaced := "Code     Meaning        Action\nC2557    Fusing error   Replace thermistor\nC2558    Fan failure    Replace fan\nC2559    Sensor fault   Clean sensor"
	assert.True(t, LooksTabular(spaced))

	prose := "This is a paragraph of plain text.\nIt continues on the next line without any columns.\nStill no separators here."
	assert.False(t, LooksTabular(prose))
}

func TestDecompress_PlainPDFPassthrough(t *testing.T) {
	data := []byte("%PDF-1.7 minimal")
	out, err := Decompress(data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompress_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("%PDF-1.7 compressed"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	out, err := Decompress(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7 compressed"), out)
}

func TestDecompress_GzipNonPDF(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Decompress(buf.Bytes())
	assert.Error(t, err)
}

func TestDecompress_RejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("not a pdf and not gzip"))
	assert.Error(t, err)
}

func TestIsCompressed(t *testing.T) {
	assert.True(t, IsCompressed("manual.PDFZ"))
	assert.False(t, IsCompressed("manual.pdf"))
}

func TestVersions(t *testing.T) {
	text := "Firmware: 4.2.1 applies to all models. Update to version 4.2.1 or ver 5.0.3."
	got := Versions(text)
	assert.Equal(t, []string{"4.2.1", "5.0.3"}, got)

	assert.Empty(t, Versions("page 12 of 300"))
}
