package fileutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic_ReplacesFile(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644)) //nolint:gosec // G306: test file
	require.NoError(t, WriteAtomic(target, []byte("new"), 0o600))

	data, err := os.ReadFile(target) //nolint:gosec // G304: path from t.TempDir()
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestWriteAtomic_CreatesDirectory(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "a", "b", "config.yaml")
	require.NoError(t, WriteAtomic(target, []byte("version: 1\n"), 0o600))

	info, err := os.Stat(filepath.Dir(target))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteAtomic_FailureLeavesOriginalFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not apply to root")
	}

	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "bundle.json")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0o644)) //nolint:gosec // G306: test file

	require.NoError(t, os.Chmod(tmpDir, 0o500)) //nolint:gosec // G302: intentionally read-only
	t.Cleanup(func() {
		_ = os.Chmod(tmpDir, 0o700) //nolint:gosec // G302: restore for cleanup
	})

	require.Error(t, WriteAtomic(target, []byte("replacement"), 0o600))

	data, err := os.ReadFile(target) //nolint:gosec // G304: path from t.TempDir()
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestWriteAtomic_EmptyPath(t *testing.T) {
	t.Parallel()
	require.ErrorIs(t, WriteAtomic("", []byte("data"), 0o600), ErrEmptyPath)
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteJSON(target, map[string]int{"inputs": 3}, 0o600))

	data, err := os.ReadFile(target) //nolint:gosec // G304: path from t.TempDir()
	require.NoError(t, err)

	var decoded map[string]int
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 3, decoded["inputs"])
	assert.Equal(t, byte('\n'), data[len(data)-1])

	require.Error(t, WriteJSON(target, make(chan int), 0o600))
}
