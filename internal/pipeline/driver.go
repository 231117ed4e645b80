package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/serviceintel-ai/docpipe/internal/config"
	"github.com/serviceintel-ai/docpipe/internal/observability"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// BatchMetrics summarizes one ingest batch.
type BatchMetrics struct {
	FilesFound  int
	Succeeded   int
	Failed      int
	Elapsed     time.Duration
	ChunksTotal int
	ImagesTotal int
}

// Driver watches the input directory and feeds files into the upload
// stage. Filesystem events give low latency; a slow poll catches files the
// watcher missed and provides the backpressure-friendly fallback.
type Driver struct {
	scheduler *Scheduler
	repos     *storage.Repositories
	cfg       config.DriverConfig
	logger    *observability.Logger

	mu        sync.Mutex
	submitted map[string]struct{} // in-flight file paths
	metrics   BatchMetrics
	started   time.Time
}

// NewDriver creates a driver.
func NewDriver(scheduler *Scheduler, repos *storage.Repositories, cfg config.DriverConfig, logger *observability.Logger) *Driver {
	return &Driver{
		scheduler: scheduler,
		repos:     repos,
		cfg:       cfg,
		logger:    logger,
		submitted: map[string]struct{}{},
	}
}

// Run watches the input directory until the context is cancelled. The
// completion drain runs in its own goroutine: submits block under
// backpressure, and a blocked submit must not stop finished documents from
// being reported, or a batch larger than the queues deadlocks.
func (d *Driver) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.cfg.InputDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(d.cfg.ProcessedDir, 0o755); err != nil {
		return err
	}
	d.started = time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.drainCompletions(ctx) })
	g.Go(func() error { return d.watchLoop(ctx) })
	return g.Wait()
}

func (d *Driver) drainCompletions(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case completion, ok := <-d.scheduler.Completions():
			if !ok {
				return nil
			}
			d.handleCompletion(completion)
		}
	}
}

func (d *Driver) watchLoop(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(d.cfg.InputDir); err != nil {
		return err
	}

	pollInterval := d.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// Pick up files that were already waiting.
	d.scanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				d.maybeSubmit(ctx, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn().Err(err).Msg("watcher error")
		case <-ticker.C:
			d.scanOnce(ctx)
		}
	}
}

// Metrics returns a snapshot of the batch counters.
func (d *Driver) Metrics() BatchMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.metrics
	m.Elapsed = time.Since(d.started)
	return m
}

func (d *Driver) scanOnce(ctx context.Context) {
	entries, err := os.ReadDir(d.cfg.InputDir)
	if err != nil {
		d.logger.Warn().Err(err).Msg("input directory scan failed")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		d.maybeSubmit(ctx, filepath.Join(d.cfg.InputDir, entry.Name()))
	}
}

func (d *Driver) maybeSubmit(ctx context.Context, path string) {
	name := filepath.Base(path)
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".pdf") && !strings.HasSuffix(lower, ".pdfz") {
		return
	}

	d.mu.Lock()
	if _, inFlight := d.submitted[path]; inFlight {
		d.mu.Unlock()
		return
	}
	d.submitted[path] = struct{}{}
	d.metrics.FilesFound++
	d.mu.Unlock()

	if err := d.scheduler.Submit(ctx, path, name); err != nil {
		d.logger.Warn().Err(err).Str("file", name).Msg("submit failed")
		d.mu.Lock()
		delete(d.submitted, path)
		d.metrics.FilesFound--
		d.mu.Unlock()
		return
	}
	d.logger.Info().Str("file", name).Msg("file submitted")
}

func (d *Driver) handleCompletion(c Completion) {
	path := c.Task.FilePath

	chunks, images := 0, 0
	if c.Result.Advance() && c.Result.DocumentID != uuid.Nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		chunks, _ = d.repos.Chunks.CountByDocument(ctx, c.Result.DocumentID)
		images, _ = d.repos.Images.CountByDocument(ctx, c.Result.DocumentID)
		cancel()
	}

	d.mu.Lock()
	if c.Result.Advance() {
		d.metrics.Succeeded++
		d.metrics.ChunksTotal += chunks
		d.metrics.ImagesTotal += images
	} else {
		d.metrics.Failed++
	}
	if path != "" {
		delete(d.submitted, path)
	}
	d.mu.Unlock()

	if c.Result.Advance() && path != "" {
		dest := filepath.Join(d.cfg.ProcessedDir, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			d.logger.Warn().Err(err).Str("file", path).Msg("relocate to processed failed")
		}
	}

	d.logMetrics()
}

func (d *Driver) logMetrics() {
	m := d.Metrics()
	d.logger.Info().
		Int("files_found", m.FilesFound).
		Int("succeeded", m.Succeeded).
		Int("failed", m.Failed).
		Int("chunks_total", m.ChunksTotal).
		Int("images_total", m.ImagesTotal).
		Dur("elapsed", m.Elapsed).
		Msg("batch progress")
}
