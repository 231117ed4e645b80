// Package search assembles multimodal search results: per-modality ranking
// by cosine similarity and a weighted merge into one list.
package search

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// Modality identifies which kind of content a candidate came from.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityTable Modality = "table"
	ModalityImage Modality = "image"
	ModalityLink  Modality = "link"
	ModalityVideo Modality = "video"
)

// DefaultWeights order text above tables above image captions, with link and
// video context trailing. Any monotonic weighting is acceptable; these are
// the shipped defaults.
var DefaultWeights = map[Modality]float64{
	ModalityText:  1.0,
	ModalityTable: 0.9,
	ModalityImage: 0.8,
	ModalityLink:  0.6,
	ModalityVideo: 0.6,
}

// Candidate is one embeddable item offered to the assembler.
type Candidate struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Modality   Modality
	Content    string
	Vector     storage.Vector
}

// Hit is one ranked result. Similarity is the raw cosine; Score is the
// weighted value used for the merged ordering.
type Hit struct {
	Candidate
	Similarity float64
	Score      float64
}

// Options controls one assembly pass.
type Options struct {
	// TopK limits results per modality before the merge. Zero means 10.
	TopK int
	// Modalities filters the candidate set; empty means all.
	Modalities []Modality
	// Weights overrides DefaultWeights for the modalities it names.
	Weights map[Modality]float64
}

// Assembler ranks candidates against a query vector.
type Assembler struct {
	weights map[Modality]float64
}

// NewAssembler creates an assembler with the default weights.
func NewAssembler() *Assembler {
	return &Assembler{weights: DefaultWeights}
}

// Assemble takes the top-K by cosine similarity within each modality, applies
// the modality weight, and merges into one descending list.
func (a *Assembler) Assemble(query storage.Vector, candidates []Candidate, opts Options) []Hit {
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	allowed := map[Modality]bool{}
	for _, m := range opts.Modalities {
		allowed[m] = true
	}

	q := Normalize(query)

	byModality := map[Modality][]Hit{}
	for _, c := range candidates {
		if len(allowed) > 0 && !allowed[c.Modality] {
			continue
		}
		sim := Cosine(q, Normalize(c.Vector))
		byModality[c.Modality] = append(byModality[c.Modality], Hit{
			Candidate:  c,
			Similarity: sim,
			Score:      sim * a.weightFor(c.Modality, opts.Weights),
		})
	}

	var merged []Hit
	for _, hits := range byModality {
		sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
		if len(hits) > topK {
			hits = hits[:topK]
		}
		merged = append(merged, hits...)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		// Stable order for equal scores.
		return merged[i].ID.String() < merged[j].ID.String()
	})
	return merged
}

func (a *Assembler) weightFor(m Modality, overrides map[Modality]float64) float64 {
	if w, ok := overrides[m]; ok {
		return w
	}
	if w, ok := a.weights[m]; ok {
		return w
	}
	return 1.0
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty, zero, or the dimensions differ.
func Cosine(a, b storage.Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize returns the L2-normalized copy of v. Zero and empty vectors come
// back unchanged.
func Normalize(v storage.Vector) storage.Vector {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make(storage.Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
