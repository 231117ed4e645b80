package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/serviceintel-ai/docpipe/internal/pipeline"
)

var ingestTimeout time.Duration

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Process the given PDF files and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 2*time.Hour, "overall batch timeout")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	schedCtx, stopScheduler := context.WithCancel(ctx)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = app.scheduler.Run(schedCtx)
	}()

	bar := progressbar.NewOptions(len(args),
		progressbar.OptionSetDescription("processing"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
	)

	go func() {
		for _, path := range args {
			if err := app.scheduler.Submit(ctx, path, filepath.Base(path)); err != nil {
				return
			}
		}
	}()

	succeeded, failed := 0, 0
	var failures []pipeline.Completion
	for succeeded+failed < len(args) {
		select {
		case <-ctx.Done():
			stopScheduler()
			<-schedDone
			return ctx.Err()
		case c := <-app.scheduler.Completions():
			if c.Result.Advance() {
				succeeded++
			} else {
				failed++
				failures = append(failures, c)
			}
			_ = bar.Add(1)
		}
	}
	_ = bar.Finish()
	fmt.Println()

	stopScheduler()
	<-schedDone

	fmt.Printf("Processed %d file(s): %d succeeded, %d failed\n", len(args), succeeded, failed)
	for _, c := range failures {
		fmt.Printf("  FAILED %s (stage %s): %v\n", c.Task.Filename, c.Task.Stage, c.Result.Err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}
