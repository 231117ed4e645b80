package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviceintel-ai/docpipe/internal/storage"
)

type fakeStage struct {
	name string
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Fingerprint(ctx context.Context, t *Task) (string, error) {
	return "", nil
}

func (f *fakeStage) Run(ctx context.Context, t *Task) (*Outcome, error) {
	return &Outcome{}, nil
}

func allFakeStages() []Stage {
	stages := make([]Stage, 0, len(StageOrder))
	for _, name := range StageOrder {
		stages = append(stages, &fakeStage{name: name})
	}
	return stages
}

func TestNextStageOrder(t *testing.T) {
	assert.Equal(t, StageTextExtraction, NextStage(StageUpload))
	assert.Equal(t, StageTableExtraction, NextStage(StageTextExtraction))
	assert.Equal(t, StageImageProcessing, NextStage(StageTableExtraction))
	assert.Equal(t, StageClassification, NextStage(StageImageProcessing))
	assert.Equal(t, StagePartsExtraction, NextStage(StageClassification))
	assert.Equal(t, StageSeriesDetection, NextStage(StagePartsExtraction))
	assert.Equal(t, StageEmbeddingSearch, NextStage(StageSeriesDetection))
	assert.Equal(t, "", NextStage(StageEmbeddingSearch))
	assert.Equal(t, "", NextStage("no_such_stage"))
}

func TestNewRegistryRequiresAllStages(t *testing.T) {
	_, err := NewRegistry(&fakeStage{name: StageUpload})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")

	reg, err := NewRegistry(allFakeStages()...)
	require.NoError(t, err)
	for _, name := range StageOrder {
		s, ok := reg.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, name, s.Name())
	}
	_, ok := reg.Get("no_such_stage")
	assert.False(t, ok)
}

func TestXorHashesOrderIndependent(t *testing.T) {
	a := sha256.Sum256([]byte("first chunk"))
	b := sha256.Sum256([]byte("second chunk"))
	c := sha256.Sum256([]byte("third chunk"))
	ha, hb, hc := hex.EncodeToString(a[:]), hex.EncodeToString(b[:]), hex.EncodeToString(c[:])

	fp1 := xorHashes([]string{ha, hb, hc})
	fp2 := xorHashes([]string{hc, ha, hb})
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64)

	// A different chunk set yields a different fingerprint.
	assert.NotEqual(t, fp1, xorHashes([]string{ha, hb}))
}

func TestXorHashesEdgeCases(t *testing.T) {
	assert.Equal(t, "", xorHashes(nil))

	// Malformed entries are ignored rather than corrupting the fold.
	a := sha256.Sum256([]byte("only valid entry"))
	ha := hex.EncodeToString(a[:])
	assert.Equal(t, xorHashes([]string{ha}), xorHashes([]string{ha, "zzz", "abcd"}))
}

func TestServiceForStage(t *testing.T) {
	assert.Equal(t, "object_store", ServiceForStage(StageUpload))
	assert.Equal(t, "vision", ServiceForStage(StageImageProcessing))
	assert.Equal(t, "scrape", ServiceForStage(StageClassification))
	assert.Equal(t, "embedder", ServiceForStage(StageEmbeddingSearch))
	assert.Equal(t, "database", ServiceForStage(StageTextExtraction))
	assert.Equal(t, "database", ServiceForStage("no_such_stage"))
}

func TestBackoffDelayGrowthAndCap(t *testing.T) {
	policy := storage.RetryPolicy{
		MaxRetries:       5,
		BaseDelaySeconds: 1,
		MaxDelaySeconds:  8,
		ExponentialBase:  2,
		JitterEnabled:    false,
	}

	assert.Equal(t, 1*time.Second, backoffDelay(policy, 0))
	assert.Equal(t, 2*time.Second, backoffDelay(policy, 1))
	assert.Equal(t, 4*time.Second, backoffDelay(policy, 2))
	assert.Equal(t, 8*time.Second, backoffDelay(policy, 3))
	// Capped from here on.
	assert.Equal(t, 8*time.Second, backoffDelay(policy, 4))
	assert.Equal(t, 8*time.Second, backoffDelay(policy, 10))
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	policy := storage.RetryPolicy{
		MaxRetries:       3,
		BaseDelaySeconds: 4,
		MaxDelaySeconds:  60,
		ExponentialBase:  2,
		JitterEnabled:    true,
	}

	for i := 0; i < 100; i++ {
		d := backoffDelay(policy, 0)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestResultAdvance(t *testing.T) {
	assert.True(t, Result{Kind: ResultOK}.Advance())
	assert.True(t, Result{Kind: ResultSkipped}.Advance())
	assert.False(t, Result{Kind: ResultTransientFailure}.Advance())
	assert.False(t, Result{Kind: ResultPermanentFailure}.Advance())
}

func TestSleepCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleepCtx(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextRetryAt(t *testing.T) {
	before := time.Now().UTC()
	at := nextRetryAt(storage.ErrorStatusRetrying, 2*time.Second)
	require.NotNil(t, at)
	assert.WithinRange(t, *at, before.Add(2*time.Second), time.Now().UTC().Add(2*time.Second+time.Second))

	assert.Nil(t, nextRetryAt(storage.ErrorStatusOpen, 2*time.Second))
	assert.Nil(t, nextRetryAt(storage.ErrorStatusGaveUp, 2*time.Second))
}
