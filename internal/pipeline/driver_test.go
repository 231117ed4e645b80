package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviceintel-ai/docpipe/internal/config"
	"github.com/serviceintel-ai/docpipe/internal/observability"
)

// A full queue must not stop the driver from reporting finished documents:
// the submit path blocks under backpressure while the completion drain keeps
// running. With a single loop doing both, a batch larger than the queues
// stalled until shutdown.
func TestDriverDrainsCompletionsWhileSubmitBlocked(t *testing.T) {
	inputDir := t.TempDir()
	processedDir := t.TempDir()

	// No workers run and the upload queue is pre-filled to capacity, so the
	// driver's first submit blocks immediately.
	sched := NewScheduler(nil, config.PipelineConfig{QueueCapacity: 1}, nil, observability.Nop())
	sched.queues[StageUpload] <- Task{Stage: StageUpload, Filename: "occupant.pdf"}

	d := NewDriver(sched, nil, config.DriverConfig{
		InputDir:     inputDir,
		ProcessedDir: processedDir,
		PollInterval: time.Hour,
	}, observability.Nop())

	waiting := filepath.Join(inputDir, "manual.pdf")
	require.NoError(t, os.WriteFile(waiting, []byte("%PDF-1.7"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	sched.completions <- Completion{
		Task:   Task{FilePath: waiting, Filename: "manual.pdf"},
		Result: Result{Kind: ResultOK},
		Final:  true,
	}

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(processedDir, "manual.pdf"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "completion not drained while submit was blocked")

	m := d.Metrics()
	assert.Equal(t, 1, m.Succeeded)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop on cancellation")
	}
}
