package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FallsBackToDefaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, ":5000", cfg.Server.Port)
	assert.Equal(t, 256, cfg.Classifier.AnalysisSize)
	assert.InDelta(t, 0.15, cfg.Classifier.EdgeDensityThreshold, 1e-9)
	assert.Equal(t, "u2netp", cfg.Pipeline.FallbackModel)
	assert.Equal(t, "classifier", cfg.Pipeline.ModelSelection)
}

func TestLoad_FileValuesAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: ":9090"
pipeline:
  max_concurrent: 4
  queue_timeout: 5s
classifier:
  edge_density_threshold: 0.2
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrent)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.QueueTimeout)
	assert.InDelta(t, 0.2, cfg.Classifier.EdgeDensityThreshold, 1e-9)
	// 未配置的字段使用默认值
	assert.Equal(t, 5, cfg.Classifier.MinNeighbors)
	assert.Equal(t, "auto", cfg.Models.Device)
	assert.Zero(t, cfg.Models.GPUMemLimitMB)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  device: cuda\n"), 0o644))

	t.Setenv("MATTE_MODELS_DEVICE", "cpu")
	t.Setenv("MATTE_MODELS_GPU_MEM_LIMIT_MB", "2048")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cpu", cfg.Models.Device)
	assert.Equal(t, uint64(2048), cfg.Models.GPUMemLimitMB)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
