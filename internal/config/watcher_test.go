package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultDynamicConfig(t *testing.T) {
	cfg := DefaultDynamicConfig()
	assert.InDelta(t, 0.6, cfg.Retrieval.Threshold, 1e-9)
	assert.Equal(t, 20, cfg.Retrieval.Limit)
	assert.Equal(t, 8000, cfg.Window.MaxTokens)
	assert.Equal(t, 5, cfg.Window.MinMessages)
	assert.Equal(t, 2000, cfg.Window.ReserveForContext)
}

func TestWatcherInitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dynamic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
retrieval:
  threshold: 0.75
  limit: 10
metadata:
  version: "v2"
`), 0o644))

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	current := w.Current()
	assert.InDelta(t, 0.75, current.Retrieval.Threshold, 1e-9)
	assert.Equal(t, 10, current.Retrieval.Limit)
	// Unset sections keep their defaults.
	assert.Equal(t, 8000, current.Window.MaxTokens)
	assert.Equal(t, "v2", current.Metadata.Version)
}

func TestWatcherMissingFile(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop())
	require.Error(t, err)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dynamic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  limit: 5\n"), 0o644))

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	w.Stop()
	w.Stop()
}
