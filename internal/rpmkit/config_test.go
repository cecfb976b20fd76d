package rpmkit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpmkit.conf")
	require.NoError(t, os.WriteFile(path, []byte(`# comment
RPMKIT_TOPDIR = "/home/me/rpmbuild"
RPMKIT_DEBUG=yes
garbage line
R2_BUCKET_NAME='pkgs'
`), 0o644))
	t.Setenv("RPMKIT_DBPATH", "/tmp/db")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/home/me/rpmbuild", cfg.Values["RPMKIT_TOPDIR"])
	assert.Equal(t, "pkgs", cfg.Values["R2_BUCKET_NAME"])
	assert.Equal(t, "/tmp/db", cfg.Values["RPMKIT_DBPATH"])
	assert.True(t, enabled(cfg, "RPMKIT_DEBUG"))
	assert.False(t, enabled(cfg, "RPMKIT_VERBOSE"))
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("RPMKIT_ROOT", "/srv/root")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.conf"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/root", cfg.Values["RPMKIT_ROOT"])
	assert.Equal(t, "/srv/root/etc/rpmkit/rpmkit.conf", configPath())
}

func TestInitConfigDefaults(t *testing.T) {
	initConfig(&Config{Values: map[string]string{
		"RPMKIT_ROOT":     "/mnt/sysroot",
		"RPMKIT_MULTILIB": "1",
	}})
	assert.Equal(t, "/mnt/sysroot", rootDir)
	assert.Equal(t, "/var/lib/rpmkit", dbPath)
	assert.Equal(t, "/usr/src/rpmkit", topDir)
	assert.Equal(t, "rpmkit", signKeyID)
	assert.Equal(t, "/mnt/sysroot/var/lib/rpmkit", databaseDir())
	assert.True(t, EnableMultilib)
	assert.False(t, Debug)
}
