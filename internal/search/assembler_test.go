package search

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviceintel-ai/docpipe/internal/storage"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine(storage.Vector{1, 0}, storage.Vector{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine(storage.Vector{1, 0}, storage.Vector{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine(storage.Vector{1, 0}, storage.Vector{-1, 0}), 1e-9)

	// Degenerate inputs score zero instead of NaN.
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine(storage.Vector{1, 2}, storage.Vector{1, 2, 3}))
	assert.Equal(t, 0.0, Cosine(storage.Vector{0, 0}, storage.Vector{1, 1}))
}

func TestNormalize(t *testing.T) {
	v := Normalize(storage.Vector{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := storage.Vector{0, 0}
	assert.Equal(t, zero, Normalize(zero))
}

func candidate(m Modality, vec storage.Vector) Candidate {
	return Candidate{ID: uuid.New(), DocumentID: uuid.New(), Modality: m, Vector: vec}
}

func TestAssembleWeightsAcrossModalities(t *testing.T) {
	query := storage.Vector{1, 0}

	// Identical similarity in every modality; the weights decide the order.
	text := candidate(ModalityText, storage.Vector{1, 0})
	table := candidate(ModalityTable, storage.Vector{1, 0})
	image := candidate(ModalityImage, storage.Vector{1, 0})
	video := candidate(ModalityVideo, storage.Vector{1, 0})

	hits := NewAssembler().Assemble(query, []Candidate{video, image, table, text}, Options{})
	require.Len(t, hits, 4)
	assert.Equal(t, ModalityText, hits[0].Modality)
	assert.Equal(t, ModalityTable, hits[1].Modality)
	assert.Equal(t, ModalityImage, hits[2].Modality)
	assert.Equal(t, ModalityVideo, hits[3].Modality)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.6, hits[3].Score, 1e-9)
}

func TestAssembleMonotonicInSimilarity(t *testing.T) {
	query := storage.Vector{1, 0}
	near := candidate(ModalityText, storage.Vector{0.9, 0.1})
	far := candidate(ModalityText, storage.Vector{0.2, 0.9})

	hits := NewAssembler().Assemble(query, []Candidate{far, near}, Options{})
	require.Len(t, hits, 2)
	assert.Equal(t, near.ID, hits[0].ID)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestAssembleModalityFilter(t *testing.T) {
	query := storage.Vector{1, 0}
	text := candidate(ModalityText, storage.Vector{1, 0})
	image := candidate(ModalityImage, storage.Vector{1, 0})

	hits := NewAssembler().Assemble(query, []Candidate{text, image},
		Options{Modalities: []Modality{ModalityImage}})
	require.Len(t, hits, 1)
	assert.Equal(t, image.ID, hits[0].ID)
}

func TestAssembleTopKPerModality(t *testing.T) {
	query := storage.Vector{1, 0}
	var candidates []Candidate
	for i := 0; i < 5; i++ {
		candidates = append(candidates, candidate(ModalityText, storage.Vector{1, float32(i) * 0.1}))
	}

	hits := NewAssembler().Assemble(query, candidates, Options{TopK: 2})
	assert.Len(t, hits, 2)
}

func TestAssembleWeightOverride(t *testing.T) {
	query := storage.Vector{1, 0}
	text := candidate(ModalityText, storage.Vector{1, 0})
	image := candidate(ModalityImage, storage.Vector{1, 0})

	hits := NewAssembler().Assemble(query, []Candidate{text, image},
		Options{Weights: map[Modality]float64{ModalityImage: 2.0}})
	require.Len(t, hits, 2)
	assert.Equal(t, image.ID, hits[0].ID)
}
