package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Database.DSN = "postgres://localhost/docpipe?sslmode=disable"
	return cfg
}

func TestValidate_RequiresDSN(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_CONNECTION_URL")
}

func TestValidate_RejectsBadChunkSizes(t *testing.T) {
	cfg := validConfig()
	cfg.Chunking.Overlap = cfg.Chunking.TargetSize
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Chunking.MaxSize = cfg.Chunking.TargetSize - 1
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsZeroWorkers(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.StageWorkers["classification"] = 0
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_CONNECTION_URL", "postgres://db/docs")
	t.Setenv("EMBEDDING_DIMENSION", "1024")
	t.Setenv("ENABLE_ERROR_CODE_EXTRACTION", "false")
	t.Setenv("EMBEDDING_GENERATION_TIMEOUT_SECONDS", "60")
	t.Setenv("INPUT_DIR", "/data/in")
	t.Setenv("OBJECT_STORAGE_USE_SSL", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://db/docs", cfg.Database.DSN)
	assert.Equal(t, 1024, cfg.Embedding.Dimension)
	assert.False(t, cfg.Features.ErrorCodeExtraction)
	assert.Equal(t, 60*time.Second, cfg.Limits.EmbeddingTimeout)
	assert.Equal(t, "/data/in", cfg.Driver.InputDir)
	assert.False(t, cfg.ObjectStore.UseSSL)
}

func TestWorkersFor_Default(t *testing.T) {
	cfg := PipelineConfig{StageWorkers: map[string]int{"upload": 4}}
	assert.Equal(t, 4, cfg.WorkersFor("upload"))
	assert.Equal(t, 2, cfg.WorkersFor("unknown_stage"))
}
