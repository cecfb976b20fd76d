package macro

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReaderContinuation(t *testing.T) {
	c, _, _ := newTestContext(t)
	src := "%a one \\\n  two\n%b %{?x:\\\n  y}\n%c C\n"
	require.NoError(t, c.LoadReader(strings.NewReader(src), LevelMacroFiles))

	a, ok := c.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "one \n  two", a)
	b, ok := c.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "%{?x:\n  y}", b)
	c2, ok := c.Lookup("c")
	require.True(t, ok)
	assert.Equal(t, "C", c2)
}

func TestLoadReaderDropEscapes(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.DropEscapes = true
	require.NoError(t, c.LoadReader(strings.NewReader("%a one \\\n  two\n%b B\n"), LevelMacroFiles))

	a, _ := c.Lookup("a")
	assert.Equal(t, "one   two", a)
	b, _ := c.Lookup("b")
	assert.Equal(t, "B", b)
	assert.True(t, c.Clone().DropEscapes)
}

func TestLoadReaderCommentsDoNotContinue(t *testing.T) {
	c, _, _ := newTestContext(t)
	src := "%a one \\\n  two\n# note: %{ is how braces open\n  # and %( opens a shell\n%b B\n%c C\n"
	require.NoError(t, c.LoadReader(strings.NewReader(src), LevelMacroFiles))

	a, _ := c.Lookup("a")
	assert.Equal(t, "one \n  two", a)
	b, ok := c.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "B", b)
	v, ok := c.Lookup("c")
	require.True(t, ok)
	assert.Equal(t, "C", v)
	assert.Equal(t, 3, c.Len())
}

func TestLoadReaderSkipsBadDefinitions(t *testing.T) {
	c, _, logs := newTestContext(t)
	src := "%ok yes\n%-bad x\nplain text\n%also fine\n"
	require.NoError(t, c.LoadReader(strings.NewReader(src), LevelMacroFiles))

	assert.True(t, c.IsDefined("ok"))
	assert.True(t, c.IsDefined("also"))
	assert.Contains(t, logs.String(), "skipping bad macro definition")
}

func TestLoadFileMissing(t *testing.T) {
	c, _, _ := newTestContext(t)
	err := c.LoadFile(filepath.Join(t.TempDir(), "nope"), LevelMacroFiles)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestInitMacrosGlobsAndSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "macros.d"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "macros"), []byte("%first 1\n%shared base\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "macros.d", "macros.extra"), []byte("%second 2\n%shared override\n"), 0o644))

	c, _, _ := newTestContext(t)
	files := strings.Join([]string{
		filepath.Join(dir, "macros"),
		filepath.Join(dir, "missing"),
		filepath.Join(dir, "macros.d", "macros.*"),
	}, ":")
	require.NoError(t, c.InitMacros(files))

	v, _ := c.Lookup("first")
	assert.Equal(t, "1", v)
	v, _ = c.Lookup("second")
	assert.Equal(t, "2", v)
	v, _ = c.Lookup("shared")
	assert.Equal(t, "override", v)
}
