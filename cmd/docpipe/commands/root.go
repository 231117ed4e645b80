// Package commands implements the docpipe CLI.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "docpipe",
	Short: "Service documentation ingest pipeline",
	Long: `docpipe ingests technical service documentation (service manuals, parts
catalogs, bulletins) into a structured knowledge base: text chunks, page
images with vision captions, error codes, part numbers, product entities,
and search embeddings.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Missing .env is fine; the environment may already be set.
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
