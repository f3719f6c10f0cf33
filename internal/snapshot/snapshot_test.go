package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSnapshotAndRestore(t *testing.T) {
	workDir := t.TempDir()
	original := filepath.Join(workDir, "config.yaml")
	writeFile(t, original, "version: 1")

	snapper, err := New(filepath.Join(workDir, ".snapshots"), 10, nil)
	require.NoError(t, err)

	_, err = snapper.Snapshot(original, "before edit")
	require.NoError(t, err)

	writeFile(t, original, "version: 2")

	require.NoError(t, snapper.Restore(original, ""))
	data, err := os.ReadFile(original)
	require.NoError(t, err)
	assert.Equal(t, "version: 1", string(data))
}

func TestRestoreIsItselfReversible(t *testing.T) {
	workDir := t.TempDir()
	original := filepath.Join(workDir, "config.yaml")
	writeFile(t, original, "version: 1")

	snapper, err := New(filepath.Join(workDir, ".snapshots"), 10, nil)
	require.NoError(t, err)
	_, err = snapper.Snapshot(original, "before edit")
	require.NoError(t, err)

	writeFile(t, original, "version: 2")
	require.NoError(t, snapper.Restore(original, ""))

	records, err := snapper.List(original)
	require.NoError(t, err)
	last := records[len(records)-1]
	assert.Equal(t, "pre-restore", last.Reason)
}

func TestRetentionPrunesOldestFIFO(t *testing.T) {
	workDir := t.TempDir()
	original := filepath.Join(workDir, "config.yaml")
	writeFile(t, original, "v0")

	snapper, err := New(filepath.Join(workDir, ".snapshots"), 2, nil)
	require.NoError(t, err)

	var firstSnapshotPath string
	for i := 0; i < 4; i++ {
		rec, err := snapper.Snapshot(original, "edit")
		require.NoError(t, err)
		if i == 0 {
			firstSnapshotPath = rec.SnapshotPath
		}
		writeFile(t, original, "v")
		time.Sleep(2 * time.Millisecond)
	}

	records, err := snapper.List(original)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	_, err = os.Stat(firstSnapshotPath)
	assert.True(t, os.IsNotExist(err))
}

func TestListEmptyWhenNoSnapshotsTaken(t *testing.T) {
	snapper, err := New(t.TempDir(), 10, nil)
	require.NoError(t, err)
	records, err := snapper.List("/nonexistent/path")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRestoreWithNoSnapshotsFails(t *testing.T) {
	snapper, err := New(t.TempDir(), 10, nil)
	require.NoError(t, err)
	err = snapper.Restore("/nonexistent/path", "")
	assert.Error(t, err)
}
