package script

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpmkit/internal/chroot"
	"rpmkit/internal/rpmerr"
)

func newRunner(t *testing.T, root string) (*Runner, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	r := NewRunner(chroot.NewPrefix(root))
	r.Log = zerolog.Nop()
	r.Stdout = &out
	r.Stderr = &out
	return r, &out
}

func TestEmptyScriptIsANoop(t *testing.T) {
	r, _ := newRunner(t, t.TempDir())
	require.NoError(t, r.Run(Script{Name: "%post"}))
}

func TestScriptArgsAndEnvironment(t *testing.T) {
	root := t.TempDir()
	r, out := newRunner(t, root)

	err := r.Run(Script{
		Name:     "%post",
		Package:  "foo-1.0-1",
		Body:     "echo \"$1 $2 $RPM_INSTALL_PREFIX $RPM_INSTALL_PREFIX0 $PATH\"\n",
		Args:     []int{1, -1},
		Prefixes: []string{"/opt/foo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1  /opt/foo /opt/foo "+ScriptPath+"\n", out.String())

	// the temp file is removed again
	entries, err := os.ReadDir(filepath.Join(root, "var/tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScriptRunsInRoot(t *testing.T) {
	root := t.TempDir()
	r, out := newRunner(t, root)
	require.NoError(t, r.Run(Script{Name: "%pre", Body: "pwd\n"}))
	want, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestInterpreterWithoutBody(t *testing.T) {
	r, out := newRunner(t, t.TempDir())
	require.NoError(t, r.Run(Script{Name: "%post", Prog: []string{"/bin/echo", "ldconfig"}, Args: []int{2}}))
	assert.Equal(t, "ldconfig 2\n", out.String())
}

func TestScriptFailureCarriesExitCode(t *testing.T) {
	r, _ := newRunner(t, t.TempDir())
	err := r.Run(Script{Name: "%preun", Package: "foo-1.0-1", Body: "exit 3\n"})
	require.Error(t, err)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrScript))

	name, ok := rpmerr.Detail(err, "script")
	require.True(t, ok)
	assert.Equal(t, "%preun", name)
	code, ok := rpmerr.Detail(err, "exitCode")
	require.True(t, ok)
	assert.Equal(t, 3, code)
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestMissingInterpreter(t *testing.T) {
	r, _ := newRunner(t, t.TempDir())
	err := r.Run(Script{Name: "%post", Prog: []string{"/nonexistent/interp"}, Body: "x"})
	require.Error(t, err)
	code, _ := rpmerr.Detail(err, "exitCode")
	assert.Equal(t, -1, code)
}
