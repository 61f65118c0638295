package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_CORRELATOR_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Correlation.WindowMinutes)
	assert.Equal(t, 3.0, cfg.Anomaly.ZScoreThreshold)
	assert.Equal(t, "auto", cfg.Anomaly.Method)
	assert.True(t, cfg.Anomaly.BollingerEnabled)
	assert.False(t, cfg.Correlation.SmartGrouping.Enabled)
	assert.False(t, cfg.Correlation.Narrative.Enabled)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "correlator.yaml")
	data := []byte(`
server:
  address: ":6000"
anomaly:
  minSamples: 4
  bollingerEnabled: false
correlation:
  windowMinutes: 15
  smartGrouping:
    enabled: true
    similarityThreshold: 0.5
narrative:
  timeout: 2s
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("MIRADOR_CORRELATOR_NARRATIVE_ENABLED", "true")
	t.Setenv("MIRADOR_CORRELATOR_ANOMALY_METHOD", "ZScore")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Server.Address)
	assert.Equal(t, 4, cfg.Anomaly.MinSamples)
	assert.False(t, cfg.Anomaly.BollingerEnabled)
	assert.Equal(t, "zscore", cfg.Anomaly.Method)
	assert.Equal(t, 15, cfg.Correlation.WindowMinutes)
	assert.True(t, cfg.Correlation.SmartGrouping.Enabled)
	assert.Equal(t, 0.5, cfg.Correlation.SmartGrouping.SimilarityThreshold)
	assert.True(t, cfg.Correlation.Narrative.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Narrative.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Correlation.WindowMinutes = 0
	cfg.Anomaly.Method = "median"
	cfg.Correlation.SmartGrouping.Enabled = true
	cfg.Correlation.SmartGrouping.SimilarityThreshold = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "correlation.windowMinutes")
	assert.Contains(t, err.Error(), "anomaly.method")
	assert.Contains(t, err.Error(), "similarityThreshold")
}
