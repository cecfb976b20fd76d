package rpmkit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpmkit/internal/macro"
)

func builtinPlatforms(t *testing.T) *Platforms {
	t.Helper()
	p, err := loadPlatforms(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	return p
}

func TestTargetParse(t *testing.T) {
	p := builtinPlatforms(t)

	tgt, err := p.Target("i686-pc-Linux")
	require.NoError(t, err)
	assert.Equal(t, "i686", tgt.CPU)
	assert.Equal(t, "pc", tgt.Vendor)
	assert.Equal(t, "linux", tgt.OS)
	assert.Equal(t, "lib", tgt.Arch.Lib)

	tgt, err = p.Target("x86_64")
	require.NoError(t, err)
	assert.Equal(t, "unknown", tgt.Vendor)
	assert.Equal(t, "linux", tgt.OS)
	assert.True(t, tgt.Arch.Multilib)

	_, err = p.Target("vax-dec-ultrix")
	assert.Error(t, err)
}

func TestCompatible(t *testing.T) {
	p := builtinPlatforms(t)
	assert.Equal(t, []string{"aarch64", "noarch"}, p.Compatible("aarch64"))
	assert.Contains(t, p.Compatible("x86_64"), "i386")
	assert.Equal(t, []string{"sparc", "noarch"}, p.Compatible("sparc"))
}

func TestPlatformFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[arch.riscv64]
optflags = "-O2"
compat = ["riscv64", "noarch"]
lib = "lib64"
`), 0o644))
	p, err := loadPlatforms(path)
	require.NoError(t, err)
	tgt, err := p.Target("riscv64-linux")
	require.NoError(t, err)
	assert.Equal(t, "lib64", tgt.Arch.Lib)

	require.NoError(t, os.WriteFile(path, []byte("[arch"), 0o644))
	_, err = loadPlatforms(path)
	assert.Error(t, err)
}

func TestTargetDefine(t *testing.T) {
	p := builtinPlatforms(t)
	tgt, err := p.Target("x86_64-redhat-linux")
	require.NoError(t, err)

	m := macro.NewContext()
	tgt.Define(m, macro.LevelCmdline)
	out, err := m.Expand("%{_target} %{_target_vendor} %{_arch} %{_lib} %{optflags}")
	require.NoError(t, err)
	assert.Equal(t, "x86_64-linux redhat x86_64 lib64 -O2 -g -m64 -mtune=generic", out)
}
