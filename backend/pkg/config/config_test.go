package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "")
	t.Setenv("PIPELINE_MODE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.GraphBackend)
	assert.Equal(t, "local", cfg.PipelineMode)
	assert.Equal(t, "table", cfg.CheckpointBackend)
	assert.Equal(t, 60*time.Second, cfg.BreakerOpenTimeout)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "cassandra")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_TableCheckpointsNeedSQLBackend(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "memory")
	t.Setenv("CHECKPOINT_BACKEND", "table")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CHECKPOINT_BACKEND", "memory")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.GraphBackend)
}

func TestValidate_TemporalNeedsSharedCheckpoints(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "memory")
	t.Setenv("PIPELINE_MODE", "temporal")
	t.Setenv("CHECKPOINT_BACKEND", "memory")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CHECKPOINT_BACKEND", "redis")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "temporal", cfg.PipelineMode)
}

func TestValidate_StaticExtractorNeedsPayload(t *testing.T) {
	t.Setenv("EXTRACTION_PROVIDER", "static")
	t.Setenv("EXTRACTION_STATIC_FILE", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("EXTRACTION_STATIC_FILE", "testdata/knowledge.json")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "static", cfg.ExtractionProvider)
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
steps:
  extract:
    max_attempts: 5
    initial_delay: 2s
    backoff: exponential
    timeout: 45s
  validate:
    max_attempts: 1
    backoff: constant
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	pf, err := LoadPolicyFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5, pf.Steps["extract"].MaxAttempts)
	assert.Equal(t, 2*time.Second, pf.Steps["extract"].InitialDelay)
	assert.Equal(t, 45*time.Second, pf.Steps["extract"].Timeout)
	assert.Equal(t, "constant", pf.Steps["validate"].Backoff)
}

func TestLoadPolicyFile_BadBackoff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  extract:\n    backoff: linear\n"), 0o600))

	_, err := LoadPolicyFile(path)
	assert.Error(t, err)
}

func TestLoadPolicyFile_EmptyPath(t *testing.T) {
	pf, err := LoadPolicyFile("")
	require.NoError(t, err)
	assert.Empty(t, pf.Steps)
}
