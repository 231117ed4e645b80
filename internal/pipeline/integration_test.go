package pipeline_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/observability"
	"github.com/serviceintel-ai/docpipe/internal/pipeline"
	"github.com/serviceintel-ai/docpipe/internal/storage"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("DOCPIPE_INTEGRATION") != "1" {
		t.Skip("set DOCPIPE_INTEGRATION=1 to run container-backed tests")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg17",
		postgres.WithDatabase("docpipe_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := storage.Open(ctx, dsn, storage.OpenOptions{MaxOpenConns: 5})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, storage.Migrate(ctx, db))
	return db
}

// scriptedStage is a stand-in stage body with programmable behavior.
type scriptedStage struct {
	name        string
	fingerprint string
	runs        int
	run         func(attempt int) (*pipeline.Outcome, error)
}

func (s *scriptedStage) Name() string { return s.name }

func (s *scriptedStage) Fingerprint(ctx context.Context, t *pipeline.Task) (string, error) {
	return s.fingerprint, nil
}

func (s *scriptedStage) Run(ctx context.Context, t *pipeline.Task) (*pipeline.Outcome, error) {
	s.runs++
	if s.run != nil {
		return s.run(s.runs)
	}
	return &pipeline.Outcome{DataHash: s.fingerprint}, nil
}

func scriptedRegistry(t *testing.T, override *scriptedStage) *pipeline.Registry {
	t.Helper()
	stages := make([]pipeline.Stage, 0, len(pipeline.StageOrder))
	for _, name := range pipeline.StageOrder {
		if override != nil && override.name == name {
			stages = append(stages, override)
			continue
		}
		stages = append(stages, &scriptedStage{name: name})
	}
	reg, err := pipeline.NewRegistry(stages...)
	require.NoError(t, err)
	return reg
}

func seedDocument(t *testing.T, repos *storage.Repositories, hash string) *storage.Document {
	t.Helper()
	doc, _, err := repos.Documents.CreateIfAbsent(context.Background(), &storage.Document{
		ID:       uuid.New(),
		FileHash: hash,
		Filename: "scripted.pdf",
	})
	require.NoError(t, err)
	return doc
}

func TestIntegration_RetryExhaustionGivesUp(t *testing.T) {
	db := startPostgres(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	// Fast policy for the embedder so exhaustion takes milliseconds.
	require.NoError(t, repos.RetryPolicies.Upsert(ctx, storage.RetryPolicy{
		ServiceName:      "embedder",
		MaxRetries:       3,
		BaseDelaySeconds: 0.01,
		MaxDelaySeconds:  0.05,
		ExponentialBase:  2,
		JitterEnabled:    false,
	}))

	doc := seedDocument(t, repos, "1111111111111111111111111111111111111111111111111111111111111111")

	failing := &scriptedStage{
		name: pipeline.StageEmbeddingSearch,
		run: func(attempt int) (*pipeline.Outcome, error) {
			return nil, domain.Transient("embedding endpoint unavailable", nil)
		},
	}
	orc := pipeline.NewOrchestrator(repos, scriptedRegistry(t, failing), observability.Nop())

	result := orc.Execute(ctx, &pipeline.Task{DocumentID: doc.ID, Stage: pipeline.StageEmbeddingSearch})
	assert.False(t, result.Advance())
	assert.Equal(t, pipeline.ResultTransientFailure, result.Kind)
	assert.Equal(t, 4, failing.runs) // max_retries + 1 attempts

	var status string
	var retryCount int
	require.NoError(t, db.QueryRowContext(ctx, `
		SELECT status, retry_count FROM pipeline_errors
		WHERE document_id = $1 AND stage_name = $2
	`, doc.ID, pipeline.StageEmbeddingSearch).Scan(&status, &retryCount))
	assert.Equal(t, string(storage.ErrorStatusGaveUp), status)
	assert.Equal(t, 3, retryCount)

	got, err := repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.ProcessingStatusFailed, got.ProcessingStatus)
	assert.Equal(t, storage.StageStateFailed, got.StageStatus[pipeline.StageEmbeddingSearch].Status)
}

func TestIntegration_TransientFailureSchedulesNextRetry(t *testing.T) {
	db := startPostgres(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	require.NoError(t, repos.RetryPolicies.Upsert(ctx, storage.RetryPolicy{
		ServiceName:      "embedder",
		MaxRetries:       3,
		BaseDelaySeconds: 0.01,
		MaxDelaySeconds:  0.05,
		ExponentialBase:  2,
		JitterEnabled:    false,
	}))

	doc := seedDocument(t, repos, "4444444444444444444444444444444444444444444444444444444444444444")

	// Fails once, then recovers. The audit row stays at its retrying state
	// with the retry schedule it carried.
	flaky := &scriptedStage{
		name:        pipeline.StageEmbeddingSearch,
		fingerprint: "fp-flaky",
		run: func(attempt int) (*pipeline.Outcome, error) {
			if attempt == 1 {
				return nil, domain.Transient("embedding endpoint unavailable", nil)
			}
			return &pipeline.Outcome{DataHash: "fp-flaky"}, nil
		},
	}
	orc := pipeline.NewOrchestrator(repos, scriptedRegistry(t, flaky), observability.Nop())

	result := orc.Execute(ctx, &pipeline.Task{DocumentID: doc.ID, Stage: pipeline.StageEmbeddingSearch})
	assert.Equal(t, pipeline.ResultOK, result.Kind)
	assert.Equal(t, 2, flaky.runs)

	var status string
	var nextRetryAt sql.NullTime
	require.NoError(t, db.QueryRowContext(ctx, `
		SELECT status, next_retry_at FROM pipeline_errors
		WHERE document_id = $1 AND stage_name = $2
	`, doc.ID, pipeline.StageEmbeddingSearch).Scan(&status, &nextRetryAt))
	assert.Equal(t, string(storage.ErrorStatusRetrying), status)
	assert.True(t, nextRetryAt.Valid, "retrying row carries a next_retry_at schedule")
}

func TestIntegration_PermanentErrorFailsImmediately(t *testing.T) {
	db := startPostgres(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	doc := seedDocument(t, repos, "2222222222222222222222222222222222222222222222222222222222222222")

	failing := &scriptedStage{
		name: pipeline.StageClassification,
		run: func(attempt int) (*pipeline.Outcome, error) {
			return nil, domain.Permanent("model vocabulary violation", nil)
		},
	}
	orc := pipeline.NewOrchestrator(repos, scriptedRegistry(t, failing), observability.Nop())

	result := orc.Execute(ctx, &pipeline.Task{DocumentID: doc.ID, Stage: pipeline.StageClassification})
	assert.Equal(t, pipeline.ResultPermanentFailure, result.Kind)
	assert.Equal(t, 1, failing.runs)

	got, err := repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.ProcessingStatusFailed, got.ProcessingStatus)
}

func TestIntegration_SkipWhenMarkerMatches(t *testing.T) {
	db := startPostgres(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	doc := seedDocument(t, repos, "3333333333333333333333333333333333333333333333333333333333333333")

	stage := &scriptedStage{
		name:        pipeline.StageTextExtraction,
		fingerprint: "fp-stable",
	}
	orc := pipeline.NewOrchestrator(repos, scriptedRegistry(t, stage), observability.Nop())
	task := &pipeline.Task{DocumentID: doc.ID, Stage: pipeline.StageTextExtraction}

	// First run executes the body and writes the marker.
	result := orc.Execute(ctx, task)
	assert.Equal(t, pipeline.ResultOK, result.Kind)
	assert.Equal(t, 1, stage.runs)

	// Second run over identical inputs skips without touching the body.
	result = orc.Execute(ctx, task)
	assert.Equal(t, pipeline.ResultSkipped, result.Kind)
	assert.Equal(t, 1, stage.runs)

	// A changed fingerprint invalidates the marker.
	stage.fingerprint = "fp-changed"
	result = orc.Execute(ctx, task)
	assert.Equal(t, pipeline.ResultOK, result.Kind)
	assert.Equal(t, 2, stage.runs)
}
