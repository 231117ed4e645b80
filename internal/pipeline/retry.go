package pipeline

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/serviceintel-ai/docpipe/internal/storage"
)

// stageService maps each stage to the external service whose retry policy
// governs it.
var stageService = map[string]string{
	StageUpload:          "object_store",
	StageTextExtraction:  "database",
	StageTableExtraction: "database",
	StageImageProcessing: "vision",
	StageClassification:  "scrape",
	StagePartsExtraction: "database",
	StageSeriesDetection: "database",
	StageEmbeddingSearch: "embedder",
}

// ServiceForStage returns the retry policy service name for a stage.
func ServiceForStage(stage string) string {
	if s, ok := stageService[stage]; ok {
		return s
	}
	return "database"
}

// backoffDelay computes the delay before the given retry attempt (0-based)
// under a policy: min(max_delay, base * exponential_base^retry), with
// optional jitter of up to 25 percent in either direction.
func backoffDelay(policy storage.RetryPolicy, retry int) time.Duration {
	base := policy.BaseDelaySeconds
	if base <= 0 {
		base = 1
	}
	expBase := policy.ExponentialBase
	if expBase <= 1 {
		expBase = 2
	}

	delay := base * math.Pow(expBase, float64(retry))
	if policy.MaxDelaySeconds > 0 && delay > policy.MaxDelaySeconds {
		delay = policy.MaxDelaySeconds
	}
	if policy.JitterEnabled {
		delay = delay * (0.75 + rand.Float64()*0.5)
	}
	return time.Duration(delay * float64(time.Second))
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
