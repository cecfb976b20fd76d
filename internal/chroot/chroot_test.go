package chroot

import (
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpmkit/internal/rpmerr"
)

func TestJoin(t *testing.T) {
	tests := []struct {
		root, path, want string
	}{
		{"/", "/etc/passwd", "/etc/passwd"},
		{"", "etc/passwd", "/etc/passwd"},
		{"/srv/root", "/etc/passwd", "/srv/root/etc/passwd"},
		{"/srv/root", "/../../etc", "/srv/root/etc"},
		{"/srv/root/", "/", "/srv/root"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Join(tt.root, tt.path), "%s + %s", tt.root, tt.path)
	}
}

func TestPrefixRooter(t *testing.T) {
	r := NewPrefix("/tmp/x")
	assert.False(t, r.Real())
	assert.Equal(t, "/tmp/x/usr/bin/foo", r.Resolve("/usr/bin/foo"))
	assert.Equal(t, "/tmp/x/usr", HostPath(r, "/usr"))

	require.NoError(t, r.Enter())
	err := r.Enter()
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrInvalidState))
	require.NoError(t, r.Exit())
	require.NoError(t, r.Enter())
	require.NoError(t, r.Exit())
}

type countingRooter struct {
	prefixRooter
	enters, exits int
	exitErr       error
}

func (c *countingRooter) Enter() error { c.enters++; return c.prefixRooter.Enter() }
func (c *countingRooter) Exit() error {
	c.exits++
	c.prefixRooter.Exit()
	return c.exitErr
}

func TestWithinAlwaysExits(t *testing.T) {
	r := &countingRooter{prefixRooter: prefixRooter{root: "/r"}}

	require.NoError(t, Within(r, func() error { return nil }))
	assert.Equal(t, 1, r.enters)
	assert.Equal(t, 1, r.exits)

	boom := errors.New("boom")
	err := Within(r, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, r.exits)

	assert.Panics(t, func() {
		_ = Within(r, func() error { panic("unpack exploded") })
	})
	assert.Equal(t, 3, r.exits)
}

func TestWithinJoinsExitError(t *testing.T) {
	exitErr := errors.New("chroot . failed")
	r := &countingRooter{prefixRooter: prefixRooter{root: "/r"}, exitErr: exitErr}
	fnErr := errors.New("fn failed")

	err := Within(r, func() error { return fnErr })
	assert.ErrorIs(t, err, fnErr)
	assert.ErrorIs(t, err, exitErr)
}

func TestNewPicksPrefixForHostRoot(t *testing.T) {
	r, err := New("/", zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, r.Real())
	assert.Equal(t, "/", r.Root())

	r, err = New("", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "/", r.Root())
}

func TestNewAlternateRootNeedsRealChroot(t *testing.T) {
	root := t.TempDir()
	r, err := New(root, zerolog.Nop())
	if os.Geteuid() == 0 {
		require.NoError(t, err)
		assert.True(t, r.Real())
		return
	}
	require.Error(t, err)
	assert.Nil(t, r)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrFilesystem))
}

func TestExitKeepsStateWhenChrootFails(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("chroot(\".\") succeeds as root")
	}
	cwd, err := os.Open(".")
	require.NoError(t, err)
	defer cwd.Close()

	u := &unixRooter{root: t.TempDir(), log: zerolog.Nop(), saved: cwd}
	critical.Store(1)
	defer critical.Store(0)

	err = u.Exit()
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrFilesystem))
	assert.NotNil(t, u.saved)
	assert.True(t, InCritical())
}
