package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(LoaderOptions{
		ConfigDir:   tmpDir,
		Environment: "development",
	})
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "localhost", cfg.Broker.Host)
}

func TestLoadPrefersEnvironmentFile(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(tmpDir, "staging.yaml"),
		[]byte("environment: \"staging\"\nbroker:\n  port: 9100\n"),
		0644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(tmpDir, "default.yaml"),
		[]byte("environment: \"default\"\nbroker:\n  port: 7000\n"),
		0644,
	))

	cfg, err := Load(LoaderOptions{ConfigDir: tmpDir, Environment: "staging"})
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 9100, cfg.Broker.Port)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	os.Setenv("ONE_CONNECT_LOG_LEVEL", "debug")
	os.Setenv("ONE_CONNECT_BROKER_HOST", "override.example.com")
	defer os.Unsetenv("ONE_CONNECT_LOG_LEVEL")
	defer os.Unsetenv("ONE_CONNECT_BROKER_HOST")

	cfg, err := Load(LoaderOptions{ConfigDir: tmpDir, Environment: "development"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "override.example.com", cfg.Broker.Host)
}

func TestLoadForEnvironment(t *testing.T) {
	cfg, err := LoadForEnvironment("production")
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
}

func TestMustLoadDoesNotPanicOnEmptyDir(t *testing.T) {
	// MustLoad never errors in practice since Load always falls back to
	// in-memory defaults; this documents that guarantee.
	assert.NotPanics(t, func() {
		MustLoad(LoaderOptions{ConfigDir: t.TempDir()})
	})
}
