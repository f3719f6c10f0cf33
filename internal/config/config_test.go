package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5, cfg.SessionWindowTurns)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 5, cfg.CircuitFailureThreshold)
	assert.Equal(t, 2, cfg.CircuitSuccessThreshold)
	assert.Equal(t, 10, cfg.SnapshotRetention)
}

func TestNewWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "alpha-bridge", cfg.AppName)
}

func TestNewLoadsYAMLOverridingDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app_name: custom-bridge\nsession_window_turns: 8\n"), 0o644))

	cfg, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-bridge", cfg.AppName)
	assert.Equal(t, 8, cfg.SessionWindowTurns)
}

func TestOptionsOverrideYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session_window_turns: 8\n"), 0o644))

	cfg, err := New(path, WithSessionWindow(12))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.SessionWindowTurns)
}

func TestWithSessionWindowRejectsNonPositive(t *testing.T) {
	_, err := New("", WithSessionWindow(0))
	assert.Error(t, err)
}

func TestWithAppRootRejectsEmpty(t *testing.T) {
	_, err := New("", WithAppRoot(""))
	assert.Error(t, err)
}

func TestNewMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := New(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "alpha-bridge", cfg.AppName)
}
