package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestRemoveOlderThan(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := now.Add(-48 * time.Hour)

	touch(t, filepath.Join(dir, "old.mp4"), old)
	touch(t, filepath.Join(dir, "fresh.mp4"), now)
	touch(t, filepath.Join(dir, ".gitkeep"), old)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	removed, err := RemoveOlderThan(dir, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, filepath.Join(dir, "old.mp4"))
	assert.FileExists(t, filepath.Join(dir, "fresh.mp4"))
	assert.FileExists(t, filepath.Join(dir, ".gitkeep"))
	assert.DirExists(t, filepath.Join(dir, "nested"))
}

func TestRemoveOlderThan_MissingDir(t *testing.T) {
	removed, err := RemoveOlderThan(filepath.Join(t.TempDir(), "absent"), time.Hour, time.Now())
	assert.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestEnsureDirs(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "uploads")
	b := filepath.Join(base, "outputs", "charts")

	require.NoError(t, EnsureDirs(a, b))
	assert.DirExists(t, a)
	assert.DirExists(t, b)
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.jpg")
	assert.NoError(t, RemoveIfExists(path))
	assert.NoError(t, RemoveIfExists(""))

	touch(t, path, time.Now())
	assert.NoError(t, RemoveIfExists(path))
	assert.NoFileExists(t, path)
}
