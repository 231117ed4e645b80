package classify

import (
	"context"

	"github.com/serviceintel-ai/docpipe/internal/observability"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// Resolver persists classification results as canonical entities.
type Resolver struct {
	repos  *storage.Repositories
	logger *observability.Logger
}

// NewResolver creates an entity resolver.
func NewResolver(repos *storage.Repositories, logger *observability.Logger) *Resolver {
	return &Resolver{repos: repos, logger: logger}
}

// ResolveProducts upserts the manufacturer and each model as a product,
// linking detected accessories to the main machines. It returns the created
// or found products keyed by normalized model number.
func (r *Resolver) ResolveProducts(ctx context.Context, manufacturer string, models []string) (map[string]*storage.Product, error) {
	canonical := NormalizeManufacturer(manufacturer)
	if canonical == "" || len(models) == 0 {
		return map[string]*storage.Product{}, nil
	}

	mfr, err := r.repos.Manufacturers.GetOrCreate(ctx, canonical, AliasesFor(canonical))
	if err != nil {
		return nil, err
	}

	out := make(map[string]*storage.Product, len(models))
	var mains, accessories []*storage.Product

	for _, raw := range models {
		model := NormalizeModel(raw)
		ptype := ClassifyModel(model)
		product, err := r.repos.Products.GetOrCreate(ctx, mfr.ID, model, ptype)
		if err != nil {
			return nil, err
		}
		out[model] = product
		if IsAccessory(model) {
			accessories = append(accessories, product)
		} else {
			mains = append(mains, product)
		}
	}

	// Every accessory mentioned alongside a machine in the same document is
	// recorded as compatible with it.
	for _, main := range mains {
		for _, acc := range accessories {
			link := &storage.ProductAccessory{
				ProductID:         main.ID,
				AccessoryID:       acc.ID,
				CompatibilityType: storage.CompatibilityCompatible,
			}
			if err := r.repos.Accessories.Upsert(ctx, link); err != nil {
				return nil, err
			}
		}
	}

	r.logger.Debug().
		Str("manufacturer", canonical).
		Int("products", len(mains)).
		Int("accessories", len(accessories)).
		Msg("resolved products")

	return out, nil
}

// ResolveSeries attaches products to their detected series.
func (r *Resolver) ResolveSeries(ctx context.Context, manufacturer string, products map[string]*storage.Product) error {
	canonical := NormalizeManufacturer(manufacturer)
	if canonical == "" {
		return nil
	}
	mfr, err := r.repos.Manufacturers.GetOrCreate(ctx, canonical, AliasesFor(canonical))
	if err != nil {
		return err
	}

	for model, product := range products {
		name := SeriesName(model)
		if name == "" || product.ProductSeriesID != nil {
			continue
		}
		series, err := r.repos.Series.GetOrCreate(ctx, mfr.ID, name)
		if err != nil {
			return err
		}
		if err := r.repos.Products.SetSeries(ctx, product.ID, series.ID); err != nil {
			return err
		}
	}
	return nil
}
