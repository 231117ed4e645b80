package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/observability"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// ResultKind is the sum-typed outcome of one stage execution.
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultSkipped
	ResultTransientFailure
	ResultPermanentFailure
)

// Result is what the scheduler receives back from the orchestrator.
type Result struct {
	Kind       ResultKind
	DocumentID uuid.UUID
	Err        error
}

// Advance reports whether the document should hop to the next stage.
func (r Result) Advance() bool {
	return r.Kind == ResultOK || r.Kind == ResultSkipped
}

// Orchestrator executes one stage for one document: idempotency check,
// stage_status mutations, retries, and the durable error trail. It is the
// only component that writes processing_status and pipeline_errors.
type Orchestrator struct {
	repos    *storage.Repositories
	registry *Registry
	logger   *observability.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(repos *storage.Repositories, registry *Registry, logger *observability.Logger) *Orchestrator {
	return &Orchestrator{repos: repos, registry: registry, logger: logger}
}

// Execute runs the stage named by the task, with retries per the service
// policy. Transient failures are retried up to max_retries; exhaustion
// transitions the error row to gave_up and the document to failed.
func (o *Orchestrator) Execute(ctx context.Context, t *Task) Result {
	stage, ok := o.registry.Get(t.Stage)
	if !ok {
		return Result{Kind: ResultPermanentFailure, DocumentID: t.DocumentID,
			Err: domain.Invariant(fmt.Sprintf("unknown stage %s", t.Stage), nil)}
	}

	correlationID := uuid.New().String()
	ctx = observability.ContextWithCorrelationID(ctx, correlationID)
	logger := o.logger.WithContext(ctx).WithStage(t.Stage)
	if t.DocumentID != uuid.Nil {
		logger = logger.WithDocument(t.DocumentID.String())
	}

	// Idempotent skip: a completion marker with a matching input
	// fingerprint means this stage already ran over identical inputs.
	if t.DocumentID != uuid.Nil {
		fp, err := stage.Fingerprint(ctx, t)
		if err == nil && fp != "" {
			marker, merr := o.repos.Markers.Get(ctx, t.DocumentID, t.Stage)
			if merr == nil && marker.DataHash == fp {
				logger.Debug().Msg("stage skipped, inputs unchanged")
				return Result{Kind: ResultSkipped, DocumentID: t.DocumentID}
			}
		}
	}

	policy, err := o.repos.RetryPolicies.GetForService(ctx, ServiceForStage(t.Stage))
	if err != nil {
		policy = storage.DefaultRetryPolicy
	}

	if t.DocumentID != uuid.Nil {
		if err := o.repos.Documents.StartStage(ctx, t.DocumentID, t.Stage); err != nil {
			return Result{Kind: ResultTransientFailure, DocumentID: t.DocumentID, Err: err}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		outcome, runErr := stage.Run(ctx, t)
		if runErr == nil {
			return o.succeed(ctx, t, outcome, logger)
		}
		lastErr = runErr

		category := domain.CategoryOf(runErr)
		cancelled := errors.Is(runErr, context.Canceled) || ctx.Err() != nil
		if cancelled {
			category = domain.CategoryTransient
		}

		exhausted := attempt == policy.MaxRetries
		status := storage.ErrorStatusRetrying
		if category != domain.CategoryTransient {
			status = storage.ErrorStatusOpen
		}
		if exhausted && category == domain.CategoryTransient {
			status = storage.ErrorStatusGaveUp
		}
		// Computed once so the audit row and the actual sleep agree even
		// with jitter on.
		delay := backoffDelay(policy, attempt)
		o.recordError(ctx, t, correlationID, runErr, category, policy.MaxRetries, status, delay)

		logger.Warn().Err(runErr).Int("attempt", attempt+1).
			Str("category", string(category)).Msg("stage attempt failed")

		if cancelled {
			o.failStage(ctx, t, runErr, false)
			return Result{Kind: ResultTransientFailure, DocumentID: t.DocumentID, Err: runErr}
		}
		if category != domain.CategoryTransient {
			o.failStage(ctx, t, runErr, true)
			return Result{Kind: ResultPermanentFailure, DocumentID: t.DocumentID, Err: runErr}
		}
		if exhausted {
			o.failStage(ctx, t, runErr, true)
			return Result{Kind: ResultTransientFailure, DocumentID: t.DocumentID, Err: runErr}
		}

		if err := sleepCtx(ctx, delay); err != nil {
			o.failStage(ctx, t, runErr, false)
			return Result{Kind: ResultTransientFailure, DocumentID: t.DocumentID, Err: runErr}
		}
	}

	// Unreachable: the loop always returns. Kept for the compiler.
	return Result{Kind: ResultTransientFailure, DocumentID: t.DocumentID, Err: lastErr}
}

func (o *Orchestrator) succeed(ctx context.Context, t *Task, outcome *Outcome, logger *observability.Logger) Result {
	if outcome == nil {
		outcome = &Outcome{}
	}
	if t.DocumentID == uuid.Nil && outcome.DocumentID != uuid.Nil {
		t.DocumentID = outcome.DocumentID
		// Upload creates the row mid-run; its slot still needs the normal
		// start/complete transitions.
		if err := o.repos.Documents.StartStage(ctx, t.DocumentID, t.Stage); err != nil {
			return Result{Kind: ResultTransientFailure, DocumentID: t.DocumentID, Err: err}
		}
	}
	if t.DocumentID == uuid.Nil {
		return Result{Kind: ResultPermanentFailure,
			Err: domain.Invariant("stage completed without a document id", nil)}
	}

	if err := o.repos.Documents.CompleteStage(ctx, t.DocumentID, t.Stage, outcome.Metadata); err != nil {
		return Result{Kind: ResultTransientFailure, DocumentID: t.DocumentID, Err: err}
	}

	if outcome.DataHash != "" {
		meta, _ := json.Marshal(outcome.Metadata)
		marker := &storage.StageCompletionMarker{
			DocumentID: t.DocumentID,
			StageName:  t.Stage,
			DataHash:   outcome.DataHash,
			Metadata:   meta,
		}
		if err := o.repos.Markers.Upsert(ctx, marker); err != nil {
			logger.Warn().Err(err).Msg("marker write failed, re-run will not skip")
		}
	}

	if t.Stage == StageOrder[len(StageOrder)-1] {
		if err := o.repos.Documents.SetProcessingStatus(ctx, t.DocumentID, storage.ProcessingStatusCompleted); err != nil {
			logger.Warn().Err(err).Msg("final status update failed")
		}
	}

	logger.Info().Msg("stage completed")
	return Result{Kind: ResultOK, DocumentID: t.DocumentID}
}

func (o *Orchestrator) recordError(ctx context.Context, t *Task, correlationID string, runErr error, category domain.ErrorCategory, maxRetries int, status storage.ErrorStatus, delay time.Duration) {
	var docID *uuid.UUID
	if t.DocumentID != uuid.Nil {
		id := t.DocumentID
		docID = &id
	}
	contextJSON, _ := json.Marshal(map[string]interface{}{
		"filename": t.Filename,
	})
	rec := &storage.PipelineErrorRecord{
		DocumentID:    docID,
		StageName:     t.Stage,
		ErrorType:     string(domain.KindOf(runErr)),
		ErrorCategory: string(category),
		ErrorMessage:  runErr.Error(),
		Context:       contextJSON,
		MaxRetries:    maxRetries,
		Status:        status,
		IsTransient:   category == domain.CategoryTransient,
		CorrelationID: correlationID,
		NextRetryAt:   nextRetryAt(status, delay),
	}
	if err := o.repos.PipelineErrors.Record(ctx, rec); err != nil {
		o.logger.Error().Err(err).Msg("pipeline error record write failed")
	}
}

// nextRetryAt stamps when the next attempt is due. Terminal and
// non-retrying statuses carry no schedule.
func nextRetryAt(status storage.ErrorStatus, delay time.Duration) *time.Time {
	if status != storage.ErrorStatusRetrying {
		return nil
	}
	at := time.Now().UTC().Add(delay)
	return &at
}

func (o *Orchestrator) failStage(ctx context.Context, t *Task, runErr error, markDocumentFailed bool) {
	if t.DocumentID == uuid.Nil {
		return
	}
	if err := o.repos.Documents.FailStage(ctx, t.DocumentID, t.Stage, runErr.Error(), nil); err != nil {
		o.logger.Error().Err(err).Msg("fail_stage write failed")
	}
	if markDocumentFailed {
		if err := o.repos.Documents.SetProcessingStatus(ctx, t.DocumentID, storage.ProcessingStatusFailed); err != nil {
			o.logger.Error().Err(err).Msg("processing_status write failed")
		}
	}
}
