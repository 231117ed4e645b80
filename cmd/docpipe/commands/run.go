package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline daemon",
	Long: `Watch the input directory and process every PDF that arrives, moving
finished files to the processed directory. Runs until interrupted.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	app.logger.Info().
		Str("input_dir", app.cfg.Driver.InputDir).
		Str("processed_dir", app.cfg.Driver.ProcessedDir).
		Msg("pipeline daemon starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.scheduler.Run(ctx)
	})
	g.Go(func() error {
		return app.driver.Run(ctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		app.logger.Info().Msg("pipeline daemon stopped")
		return nil
	}
	return err
}
