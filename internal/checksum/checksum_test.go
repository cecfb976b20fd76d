package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesMatchesHashBytes(t *testing.T) {
	dir := t.TempDir()
	contents := map[string]string{
		"a": "alpha",
		"b": "",
		"c": "gamma gamma gamma",
	}
	var paths []string
	for name, body := range contents {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		paths = append(paths, p)
	}

	got, err := Files(paths)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for name, body := range contents {
		assert.Equal(t, HashString(body), got[filepath.Join(dir, name)], name)
	}

	single, err := File(filepath.Join(dir, "a"))
	require.NoError(t, err)
	assert.Equal(t, HashString("alpha"), single)
	assert.Len(t, single, 64)
}

func TestFilesReportsMissing(t *testing.T) {
	dir := t.TempDir()
	ok := filepath.Join(dir, "ok")
	require.NoError(t, os.WriteFile(ok, []byte("x"), 0o644))

	got, err := Files([]string{ok, filepath.Join(dir, "missing")})
	assert.Error(t, err)
	assert.Contains(t, got, ok)
}

func TestFilesEmpty(t *testing.T) {
	got, err := Files(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
