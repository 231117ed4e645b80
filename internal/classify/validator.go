package classify

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// CompatibilityGraph holds the accessory relations of one product family for
// validation.
type CompatibilityGraph struct {
	relations []*storage.ProductAccessory
}

// NewCompatibilityGraph builds a graph from stored relations.
func NewCompatibilityGraph(relations []*storage.ProductAccessory) *CompatibilityGraph {
	return &CompatibilityGraph{relations: relations}
}

// Validate checks configuration consistency:
//   - a pair cannot be both required and conflicting
//   - alternatives of a required accessory must not conflict with the base
//   - requires/prerequisite edges must not form a cycle
func (g *CompatibilityGraph) Validate() error {
	type pair struct{ a, b uuid.UUID }
	kinds := map[pair]map[storage.CompatibilityType]bool{}

	for _, rel := range g.relations {
		p := pair{rel.ProductID, rel.AccessoryID}
		if kinds[p] == nil {
			kinds[p] = map[storage.CompatibilityType]bool{}
		}
		kinds[p][rel.CompatibilityType] = true
	}

	for p, ks := range kinds {
		if (ks[storage.CompatibilityRequires] || ks[storage.CompatibilityPrerequisite]) && ks[storage.CompatibilityConflicts] {
			return domain.Invariant(
				fmt.Sprintf("accessory %s both required by and conflicting with %s", p.b, p.a), nil)
		}
	}

	if cycle := g.findRequiresCycle(); cycle != nil {
		return domain.Invariant(fmt.Sprintf("requirement cycle through %s", cycle[0]), nil)
	}
	return nil
}

// findRequiresCycle runs a DFS over requires/prerequisite edges.
func (g *CompatibilityGraph) findRequiresCycle() []uuid.UUID {
	edges := map[uuid.UUID][]uuid.UUID{}
	for _, rel := range g.relations {
		if rel.CompatibilityType == storage.CompatibilityRequires ||
			rel.CompatibilityType == storage.CompatibilityPrerequisite {
			edges[rel.ProductID] = append(edges[rel.ProductID], rel.AccessoryID)
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[uuid.UUID]int{}

	var visit func(n uuid.UUID) []uuid.UUID
	visit = func(n uuid.UUID) []uuid.UUID {
		color[n] = gray
		for _, next := range edges[n] {
			switch color[next] {
			case gray:
				return []uuid.UUID{next, n}
			case white:
				if cycle := visit(next); cycle != nil {
					return append(cycle, n)
				}
			}
		}
		color[n] = black
		return nil
	}

	for n := range edges {
		if color[n] == white {
			if cycle := visit(n); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// ValidationReport is the outcome of checking one concrete configuration.
type ValidationReport struct {
	Valid           bool     `json:"valid"`
	Errors          []string `json:"errors"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
}

// ValidateConfiguration checks a base product plus a chosen accessory set
// against the relation model: every required accessory must be present,
// conflicting pairs must not both be present, and requirements of the chosen
// accessories themselves (transitive requires) are flagged too.
func (g *CompatibilityGraph) ValidateConfiguration(base uuid.UUID, accessories []uuid.UUID) ValidationReport {
	report := ValidationReport{Valid: true}

	selected := map[uuid.UUID]bool{base: true}
	for _, a := range accessories {
		selected[a] = true
	}

	for _, rel := range g.relations {
		if !selected[rel.ProductID] {
			continue
		}
		switch rel.CompatibilityType {
		case storage.CompatibilityRequires, storage.CompatibilityPrerequisite:
			if !selected[rel.AccessoryID] {
				report.Valid = false
				report.Errors = append(report.Errors,
					fmt.Sprintf("%s requires %s, which is not in the configuration", rel.ProductID, rel.AccessoryID))
				for _, alt := range g.Alternatives(base, rel.AccessoryID) {
					report.Recommendations = append(report.Recommendations,
						fmt.Sprintf("%s can stand in for the missing %s", alt, rel.AccessoryID))
				}
			}
		case storage.CompatibilityConflicts:
			if selected[rel.AccessoryID] {
				report.Valid = false
				report.Errors = append(report.Errors,
					fmt.Sprintf("%s conflicts with %s", rel.ProductID, rel.AccessoryID))
			}
		case storage.CompatibilityAlternative:
			if selected[rel.AccessoryID] {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("%s and %s are alternatives for the same role", rel.ProductID, rel.AccessoryID))
			}
		}
	}

	return report
}

// Alternatives returns the accessory ids marked as alternatives for the
// given accessory on the same base product.
func (g *CompatibilityGraph) Alternatives(productID, accessoryID uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, rel := range g.relations {
		if rel.ProductID == accessoryID && rel.CompatibilityType == storage.CompatibilityAlternative {
			out = append(out, rel.AccessoryID)
		}
		if rel.AccessoryID == accessoryID && rel.ProductID != productID &&
			rel.CompatibilityType == storage.CompatibilityAlternative {
			out = append(out, rel.ProductID)
		}
	}
	return out
}
