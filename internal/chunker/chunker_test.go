package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviceintel-ai/docpipe/internal/extract"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

func TestContentHash_NFCStable(t *testing.T) {
	// "é" precomposed vs combining.
	composed := "café procedure"
	decomposed := "café procedure"
	assert.Equal(t, ContentHash(composed), ContentHash(decomposed))
}

func TestSplit_SectionHierarchy(t *testing.T) {
	pages := []extract.Page{
		{Number: 1, Text: "1 Troubleshooting\n\n" + strings.Repeat("General guidance text. ", 20) + "\n\n1.1 Paper Feed\n\n" + strings.Repeat("Feed roller cleaning steps described here. ", 20)},
	}

	chunks := Split(pages, DefaultOptions())
	require.NotEmpty(t, chunks)

	var feedChunk *Chunk
	for i := range chunks {
		if len(chunks[i].SectionHierarchy) == 2 {
			feedChunk = &chunks[i]
		}
	}
	require.NotNil(t, feedChunk, "expected a chunk under the nested section")
	assert.Equal(t, "1 Troubleshooting", feedChunk.SectionHierarchy[0])
	assert.Contains(t, feedChunk.SectionHierarchy[1], "1.1 Paper Feed")
}

func TestSplit_ErrorCodeBlockAtomic(t *testing.T) {
	errorBlock := "C2557 Fusing temperature fault.\nSolution: Replace the fusing thermistor and inspect PWB-A connector CN12."
	pages := []extract.Page{
		{Number: 5, Text: strings.Repeat("Filler paragraph before the fault table. ", 30) + "\n\n" + errorBlock + "\n\n" + strings.Repeat("Filler paragraph after. ", 30)},
	}

	opts := Options{TargetSize: 200, Overlap: 40, MinSize: 50, MaxSize: 400}
	chunks := Split(pages, opts)

	var found bool
	for _, c := range chunks {
		if strings.Contains(c.Content, "C2557") {
			found = true
			assert.Equal(t, storage.ChunkTypeErrorCode, c.Type)
			assert.True(t, c.Metadata.ContainsErrorCode)
			assert.Equal(t, "C2557", c.Metadata.ErrorCode)
			// The whole block stays together.
			assert.Contains(t, c.Content, "Replace the fusing thermistor")
		}
	}
	assert.True(t, found)
}

func TestSplit_ProcedureDetection(t *testing.T) {
	procedure := "Replacing the transfer roller\n1. Power off the machine.\n2. Open the right door.\n3. Release the two green levers.\n4. Slide the roller out."
	pages := []extract.Page{{Number: 2, Text: procedure}}

	chunks := Split(pages, Options{TargetSize: 500, Overlap: 0, MinSize: 10, MaxSize: 1000})
	require.Len(t, chunks, 1)
	assert.Equal(t, storage.ChunkTypeProcedure, chunks[0].Type)
	assert.True(t, chunks[0].Metadata.ContainsProcedure)
}

func TestSplit_InDocumentDedup(t *testing.T) {
	para := strings.Repeat("This legal disclaimer repeats on every page. ", 10)
	pages := []extract.Page{
		{Number: 1, Text: para},
		{Number: 2, Text: para},
		{Number: 3, Text: para},
	}

	chunks := Split(pages, Options{TargetSize: 300, Overlap: 0, MinSize: 50, MaxSize: 600})
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].PageStart, "earliest occurrence wins")
}

func TestSplit_IndicesSequential(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		sb.WriteString(strings.Repeat("Unique paragraph number ", 10))
		sb.WriteString(string(rune('A' + i)))
		sb.WriteString(".\n\n")
	}
	pages := []extract.Page{{Number: 1, Text: sb.String()}}

	chunks := Split(pages, Options{TargetSize: 300, Overlap: 50, MinSize: 50, MaxSize: 600})
	require.NotEmpty(t, chunks)
	assert.Equal(t, 1, chunks[0].Index)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Index)
		assert.NotEmpty(t, c.ContentHash)
		assert.LessOrEqual(t, c.PageStart, c.PageEnd)
	}
}

func TestSplit_IndicesStartAtOneAfterDedup(t *testing.T) {
	// The dropped duplicate must not leave a gap in the numbering.
	para := strings.Repeat("Safety notice repeated verbatim on both pages. ", 8)
	unique := strings.Repeat("Distinct troubleshooting content for the feed unit. ", 8)
	pages := []extract.Page{
		{Number: 1, Text: para},
		{Number: 2, Text: para + "\n\n" + unique},
	}

	chunks := Split(pages, Options{TargetSize: 300, Overlap: 0, MinSize: 50, MaxSize: 600})
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Index)
	}
}

func TestSplit_RuntFoldedIntoPrevious(t *testing.T) {
	pages := []extract.Page{
		{Number: 1, Text: strings.Repeat("Body text paragraph content here. ", 20) + "\n\nOK."},
	}
	chunks := Split(pages, Options{TargetSize: 400, Overlap: 0, MinSize: 100, MaxSize: 800})
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.Contains(t, last.Content, "OK.")
}
