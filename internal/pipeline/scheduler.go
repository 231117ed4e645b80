package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/serviceintel-ai/docpipe/internal/cache"
	"github.com/serviceintel-ai/docpipe/internal/config"
	"github.com/serviceintel-ai/docpipe/internal/observability"
)

// Completion reports the terminal outcome of one document's pipeline run.
type Completion struct {
	Task   Task
	Result Result
	// Final is true when the document will not advance further: either the
	// last stage finished or a stage failed.
	Final bool
}

// Scheduler runs one bounded queue and worker pool per stage. Documents hop
// from stage to stage on success; different documents occupy different
// stages concurrently.
type Scheduler struct {
	orchestrator *Orchestrator
	cfg          config.PipelineConfig
	locks        *cache.Client
	logger       *observability.Logger

	queues      map[string]chan Task
	completions chan Completion

	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler. locks may be nil, disabling the
// advisory per-(document, stage) lock.
func NewScheduler(orc *Orchestrator, cfg config.PipelineConfig, locks *cache.Client, logger *observability.Logger) *Scheduler {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 16
	}
	queues := make(map[string]chan Task, len(StageOrder))
	for _, stage := range StageOrder {
		queues[stage] = make(chan Task, capacity)
	}
	return &Scheduler{
		orchestrator: orc,
		cfg:          cfg,
		locks:        locks,
		logger:       logger,
		queues:       queues,
		completions:  make(chan Completion, capacity),
	}
}

// Completions returns the channel of terminal document outcomes.
func (s *Scheduler) Completions() <-chan Completion {
	return s.completions
}

// Submit enqueues a file into the upload stage. Blocks when the queue is
// full; that backpressure is what keeps the driver's directory scan slow.
func (s *Scheduler) Submit(ctx context.Context, filePath, filename string) error {
	task := Task{Stage: StageUpload, FilePath: filePath, Filename: filename}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.queues[StageUpload] <- task:
		return nil
	}
}

// Run starts all worker pools and blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.started = true
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, stage := range StageOrder {
		stage := stage
		workers := s.cfg.WorkersFor(stage)
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				s.worker(ctx, stage)
				return nil
			})
		}
	}
	err := g.Wait()
	close(s.completions)
	return err
}

func (s *Scheduler) worker(ctx context.Context, stage string) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.queues[stage]:
			s.process(ctx, task)
		}
	}
}

func (s *Scheduler) process(ctx context.Context, task Task) {
	// The advisory lock keeps two workers from running the same
	// (document, stage) pair at once. Crash recovery does not depend on
	// it: the TTL expires and re-runs are idempotent.
	if s.locks != nil && task.DocumentID != uuid.Nil {
		key := task.DocumentID.String() + ":" + task.Stage
		ok, err := s.locks.AcquireLock(ctx, key, s.cfg.LockTTL)
		if err == nil && !ok {
			s.logger.Debug().Str("stage", task.Stage).
				Str("document_id", task.DocumentID.String()).Msg("stage already locked, skipping")
			return
		}
		if err == nil {
			defer func() {
				_ = s.locks.ReleaseLock(context.WithoutCancel(ctx), key)
			}()
		}
	}

	result := s.orchestrator.Execute(ctx, &task)

	if !result.Advance() {
		s.report(ctx, Completion{Task: task, Result: result, Final: true})
		return
	}

	next := NextStage(task.Stage)
	if next == "" {
		s.report(ctx, Completion{Task: task, Result: result, Final: true})
		return
	}

	// The file path rides along so the driver can relocate the source
	// when the terminal stage reports back.
	hop := Task{DocumentID: result.DocumentID, Stage: next, FilePath: task.FilePath, Filename: task.Filename}
	select {
	case <-ctx.Done():
	case s.queues[next] <- hop:
	}
}

func (s *Scheduler) report(ctx context.Context, c Completion) {
	select {
	case <-ctx.Done():
	case s.completions <- c:
	}
}
