package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/serviceintel-ai/docpipe/internal/classify"
	"github.com/serviceintel-ai/docpipe/internal/config"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

var validateManufacturer string

var validateCmd = &cobra.Command{
	Use:   "validate <product-model> <accessory-model>...",
	Short: "Validate a product configuration",
	Long: `Check a base product plus a set of accessories against the stored
compatibility relations: required accessories present, no conflicting pair
selected, alternatives reported as warnings.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateManufacturer, "manufacturer", "m", "", "manufacturer name (required)")
	_ = validateCmd.MarkFlagRequired("manufacturer")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN, storage.OpenOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("database connection: %w", err)
	}
	defer db.Close()
	repos := storage.NewRepositories(db)

	mfr, err := repos.Manufacturers.GetByCanonicalName(ctx, classify.NormalizeManufacturer(validateManufacturer))
	if err != nil {
		return fmt.Errorf("manufacturer %q: %w", validateManufacturer, err)
	}

	base, err := repos.Products.GetByModel(ctx, mfr.ID, classify.NormalizeModel(args[0]))
	if err != nil {
		return fmt.Errorf("product %q: %w", args[0], err)
	}

	selected := []uuid.UUID{base.ID}
	accessories := make([]uuid.UUID, 0, len(args)-1)
	for _, model := range args[1:] {
		p, err := repos.Products.GetByModel(ctx, mfr.ID, classify.NormalizeModel(model))
		if err != nil {
			return fmt.Errorf("accessory %q: %w", model, err)
		}
		accessories = append(accessories, p.ID)
		selected = append(selected, p.ID)
	}

	// Relations of everything selected, so transitive requirements of the
	// chosen accessories are visible too.
	var relations []*storage.ProductAccessory
	for _, id := range selected {
		rels, err := repos.Accessories.ListForProduct(ctx, id)
		if err != nil {
			return fmt.Errorf("list relations: %w", err)
		}
		relations = append(relations, rels...)
	}

	graph := classify.NewCompatibilityGraph(relations)
	if err := graph.Validate(); err != nil {
		return fmt.Errorf("stored relations are inconsistent: %w", err)
	}

	report := graph.ValidateConfiguration(base.ID, accessories)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Valid {
		return fmt.Errorf("configuration is invalid")
	}
	return nil
}
