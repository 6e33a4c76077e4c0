package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scholardoc.yaml")
	content := `
output_dir: /tmp/out
pipeline:
  quality_threshold: 0.9
  languages: en,de
  max_workers: 8
  diagnostics: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader := NewIsolatedLoader()
	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/out", cfg.OutputDir)
	assert.InDelta(t, 0.9, cfg.Pipeline.QualityThreshold, 1e-9)
	assert.Equal(t, "en,de", cfg.Pipeline.Languages)
	assert.Equal(t, 8, cfg.Pipeline.MaxWorkers)
	assert.True(t, cfg.Pipeline.Diagnostics)
	// Unset keys fall back to defaults.
	assert.Equal(t, 50, cfg.Pipeline.BatchSize)
	assert.Equal(t, 1800, cfg.Pipeline.Timeout)
}

func TestLoadWithFileMissing(t *testing.T) {
	loader := NewIsolatedLoader()
	_, err := loader.LoadWithFile("/nonexistent/scholardoc.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoadWithFileInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scholardoc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  max_workers: -2\n"), 0o600))

	loader := NewIsolatedLoader()
	_, err := loader.LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_workers")
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("SCHOLARDOC_PIPELINE_BATCH_SIZE", "25")

	loader := NewIsolatedLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Pipeline.BatchSize)
}

func TestSetOverridesFileAndDefaults(t *testing.T) {
	loader := NewIsolatedLoader()
	loader.Set("pipeline.force_surya", true)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.True(t, cfg.Pipeline.ForceSurya)
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scholardoc.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	loader := NewIsolatedLoader()
	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)
	assert.InDelta(t, DefaultConfig().Pipeline.QualityThreshold, cfg.Pipeline.QualityThreshold, 1e-9)
}
