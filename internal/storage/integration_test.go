package storage_test

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

	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// startPostgres spins up a pgvector-enabled Postgres and applies the schema.
// Guarded by DOCPIPE_INTEGRATION=1 so the suite stays runnable without
// Docker.
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
	// Schema application is idempotent.
	require.NoError(t, storage.Migrate(ctx, db))
	return db
}

func TestIntegration_DocumentLifecycle(t *testing.T) {
	db := startPostgres(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	doc := &storage.Document{
		ID:          uuid.New(),
		FileHash:    "a3f2b1c4d5e6f7a8a3f2b1c4d5e6f7a8a3f2b1c4d5e6f7a8a3f2b1c4d5e6f7a8",
		Filename:    "bizhub_C558_service_manual.pdf",
		FileSize:    1024,
		PageCount:   12,
		StoragePath: "documents/a3/a3f2.pdf",
	}
	created, isNew, err := repos.Documents.CreateIfAbsent(ctx, doc)
	require.NoError(t, err)
	assert.True(t, isNew)

	// Same hash, different filename: the original row wins.
	again, isNew, err := repos.Documents.CreateIfAbsent(ctx, &storage.Document{
		ID:       uuid.New(),
		FileHash: doc.FileHash,
		Filename: "duplicate_upload.pdf",
	})
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, "bizhub_C558_service_manual.pdf", again.Filename)

	byHash, err := repos.Documents.GetByFileHash(ctx, doc.FileHash)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byHash.ID)

	require.NoError(t, repos.Documents.StartStage(ctx, created.ID, "text_extraction"))
	require.NoError(t, repos.Documents.UpdateStageProgress(ctx, created.ID, "text_extraction", 50,
		map[string]interface{}{"chunks": 10}))
	require.NoError(t, repos.Documents.CompleteStage(ctx, created.ID, "text_extraction",
		map[string]interface{}{"chunks": 21}))

	got, err := repos.Documents.GetByID(ctx, created.ID)
	require.NoError(t, err)
	slot, ok := got.StageStatus["text_extraction"]
	require.True(t, ok)
	assert.Equal(t, storage.StageStateCompleted, slot.Status)
	assert.InDelta(t, 100, slot.Progress, 0.01)

	require.NoError(t, repos.Documents.FailStage(ctx, created.ID, "classification", "boom", nil))
	require.NoError(t, repos.Documents.SetProcessingStatus(ctx, created.ID, storage.ProcessingStatusFailed))

	got, err = repos.Documents.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.ProcessingStatusFailed, got.ProcessingStatus)
	assert.Equal(t, storage.StageStateFailed, got.StageStatus["classification"].Status)
}

func TestIntegration_ChunksAndMarkers(t *testing.T) {
	db := startPostgres(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	doc := &storage.Document{
		ID:       uuid.New(),
		FileHash: "0000000000000000000000000000000000000000000000000000000000000001",
		Filename: "chunk_host.pdf",
	}
	created, _, err := repos.Documents.CreateIfAbsent(ctx, doc)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, repos.Chunks.Create(ctx, &storage.Chunk{
			ID:          uuid.New(),
			DocumentID:  created.ID,
			ChunkIndex:  i + 1,
			PageStart:   i + 1,
			PageEnd:     i + 1,
			Content:     "chunk content",
			ContentHash: uuid.New().String(),
			ChunkType:   storage.ChunkTypeText,
		}))
	}
	n, err := repos.Chunks.CountByDocument(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	nearest, err := repos.Chunks.NearestToPage(ctx, created.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, nearest.PageStart)

	marker := &storage.StageCompletionMarker{
		DocumentID: created.ID,
		StageName:  "text_extraction",
		DataHash:   "abc123",
	}
	require.NoError(t, repos.Markers.Upsert(ctx, marker))

	got, err := repos.Markers.Get(ctx, created.ID, "text_extraction")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.DataHash)

	// Re-upsert with a new hash replaces, not duplicates.
	marker.DataHash = "def456"
	require.NoError(t, repos.Markers.Upsert(ctx, marker))
	got, err = repos.Markers.Get(ctx, created.ID, "text_extraction")
	require.NoError(t, err)
	assert.Equal(t, "def456", got.DataHash)
}

func TestIntegration_ImageUpsertKeepsIdentity(t *testing.T) {
	db := startPostgres(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	doc, _, err := repos.Documents.CreateIfAbsent(ctx, &storage.Document{
		ID:       uuid.New(),
		FileHash: "0000000000000000000000000000000000000000000000000000000000000002",
		Filename: "image_host.pdf",
	})
	require.NoError(t, err)

	first := &storage.Image{
		DocumentID:  doc.ID,
		PageNumber:  4,
		ImageIndex:  0,
		FileHash:    "imghash01",
		StoragePath: "images/im/imghash01.png",
		ImageFormat: "png",
		ImageType:   storage.ImageTypePNGConversion,
	}
	require.NoError(t, repos.Images.Upsert(ctx, first))

	// A crash re-run generates a fresh id for the same (document, index).
	// The upsert must hand back the surviving row's id so follow-up writes
	// land on a real row.
	rerun := &storage.Image{
		DocumentID:  doc.ID,
		PageNumber:  4,
		ImageIndex:  0,
		FileHash:    "imghash01",
		StoragePath: "images/im/imghash01.png",
		ImageFormat: "png",
		ImageType:   storage.ImageTypePNGConversion,
	}
	require.NoError(t, repos.Images.Upsert(ctx, rerun))
	assert.Equal(t, first.ID, rerun.ID)

	n, err := repos.Images.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repos.Images.SetDescription(ctx, rerun.ID, "fusing unit diagram", 0.92, nil))

	images, err := repos.Images.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.NotNil(t, images[0].AIDescription)
	assert.Equal(t, "fusing unit diagram", *images[0].AIDescription)
}

func TestIntegration_RetryPolicyFallback(t *testing.T) {
	db := startPostgres(t)
	repos := storage.NewRepositories(db)
	ctx := context.Background()

	p, err := repos.RetryPolicies.GetForService(ctx, "unconfigured_service")
	require.NoError(t, err)
	assert.Equal(t, "unconfigured_service", p.ServiceName)
	assert.Equal(t, storage.DefaultRetryPolicy.MaxRetries, p.MaxRetries)

	custom := storage.RetryPolicy{
		ServiceName:      "embedder",
		MaxRetries:       5,
		BaseDelaySeconds: 0.5,
		MaxDelaySeconds:  10,
		ExponentialBase:  3,
		JitterEnabled:    false,
	}
	require.NoError(t, repos.RetryPolicies.Upsert(ctx, custom))

	p, err = repos.RetryPolicies.GetForService(ctx, "embedder")
	require.NoError(t, err)
	assert.Equal(t, 5, p.MaxRetries)
	assert.InDelta(t, 3.0, p.ExponentialBase, 0.001)
}
