package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 365.25, cfg.Pipeline.DaysPerYear)
	assert.False(t, cfg.Pipeline.Strict)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tvtools.yaml")
	data := `
logging:
  level: debug
  format: text
pipeline:
  workers: 4
  days_per_year: 360
  strict: true
telemetry:
  enabled: true
  service_name: tvtest
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 360.0, cfg.Pipeline.DaysPerYear)
	assert.True(t, cfg.Pipeline.Strict)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "tvtest", cfg.Telemetry.ServiceName)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tvtools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644))

	t.Setenv("TV_LOGGING_LEVEL", "warn")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadFromRejectsInvalidLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tvtools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: verbose\n"), 0644))

	_, err := LoadFrom(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "tvtools", cfg.Telemetry.ServiceName)
}
