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
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AICHEMIST_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8532, cfg.Server.Port)
	assert.Equal(t, 24*time.Hour, cfg.Licensing.ValidationTTL)
	assert.Equal(t, 24*time.Hour, cfg.Licensing.OfflineGracePeriod)
	assert.Equal(t, 50, cfg.Trial.MaxConversions)
	assert.Equal(t, int64(10485760), cfg.Trial.MaxFileSizeBytes)
	assert.Equal(t, []string{"html-pdf", "xlsx-csv"}, cfg.Trial.FreeConverters)
	assert.Equal(t, "http", cfg.Remote.Backend)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.NotEmpty(t, cfg.Paths.LicenseFile)
	assert.NotEmpty(t, cfg.Paths.TrialFile)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aichemist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
trial:
  max_conversions: 10
licensing:
  validation_ttl: 12h
`), 0o600))
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AICHEMIST_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Trial.MaxConversions)
	assert.Equal(t, 12*time.Hour, cfg.Licensing.ValidationTTL)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aichemist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AICHEMIST_CONFIG", path)
	t.Setenv("AICHEMIST_SERVER_PORT", "9100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aichemist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))
	t.Setenv("AICHEMIST_CONFIG", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		t.Setenv("AICHEMIST_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	t.Run("sheets backend requires sheet id", func(t *testing.T) {
		cfg := base(t)
		cfg.Remote.Backend = "sheets"
		cfg.Remote.SheetID = ""
		assert.Error(t, cfg.Validate())
		cfg.Remote.SheetID = "sheet-123"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("free converter set must not be empty", func(t *testing.T) {
		cfg := base(t)
		cfg.Trial.FreeConverters = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("port bounds", func(t *testing.T) {
		cfg := base(t)
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("ttl must be positive", func(t *testing.T) {
		cfg := base(t)
		cfg.Licensing.ValidationTTL = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestGetPaths(t *testing.T) {
	paths, err := GetPaths()
	require.NoError(t, err)
	assert.Contains(t, paths.DataDir, "AIChemist")
	assert.Equal(t, filepath.Join(paths.DataDir, "license.json"), paths.LicenseFile)
	assert.Equal(t, filepath.Join(paths.DataDir, "trial.json"), paths.TrialFile)
	assert.Equal(t, filepath.Join(paths.DataDir, "upload-queue.jsonl"), paths.QueueFile)
}
