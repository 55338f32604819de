package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CITEGRAPH_CONFIG", "")
	t.Setenv("EMBEDDING_TIER", "")
	t.Setenv("GENERATIVE_TIER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Ingestion.ChunkSizeBytes)
	assert.Equal(t, 200, cfg.Ingestion.OverlapBytes)
	assert.Equal(t, 3, cfg.Ingestion.MaxAutomaticRetries)
	assert.Equal(t, 10, cfg.Ingestion.MaxManualRetries)
	assert.Equal(t, 300, cfg.Ingestion.HeartbeatTimeoutSeconds)
	assert.Equal(t, 0.90, cfg.Linker.ExactThreshold)
	assert.Equal(t, 0.70, cfg.Linker.FuzzyThreshold)
	assert.Equal(t, 0.70, cfg.Relations.ConfidenceThreshold)
	assert.Equal(t, 8, cfg.Query.K)
	assert.Equal(t, "local-small", cfg.Embeddings.Tier)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)
	assert.Equal(t, 60, cfg.Ingestion.StageTimeoutSeconds["extract"])
	assert.Equal(t, 15, cfg.Ingestion.StageTimeoutSeconds["index"])
}

func TestLoadYAMLAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
ingestion:
  chunk_size_bytes: 2000
linker:
  exact_threshold: 0.95
`), 0o644))

	t.Setenv("CITEGRAPH_CONFIG", path)
	t.Setenv("EMBEDDING_TIER", "hosted-standard")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2000, cfg.Ingestion.ChunkSizeBytes)
	assert.Equal(t, 0.95, cfg.Linker.ExactThreshold)
	assert.Equal(t, "hosted-standard", cfg.Embeddings.Tier)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestOverlapNeverReachesChunkSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ingestion:
  chunk_size_bytes: 100
  overlap_bytes: 100
`), 0o644))
	t.Setenv("CITEGRAPH_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Less(t, cfg.Ingestion.OverlapBytes, cfg.Ingestion.ChunkSizeBytes)
}
