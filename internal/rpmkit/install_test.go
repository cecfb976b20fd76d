package rpmkit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpmkit/internal/rpmerr"
)

func TestOpenTransactionRefusesUnconfinedRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("a real chroot is available as root")
	}
	oldRoot, oldDB := rootDir, dbPath
	t.Cleanup(func() { rootDir, dbPath = oldRoot, oldDB })
	rootDir, dbPath = t.TempDir(), "/var/lib/rpmkit"

	db, tx, err := openTransaction()
	require.Error(t, err)
	assert.Nil(t, db)
	assert.Nil(t, tx)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrFilesystem))

	// nothing was created under the root either
	_, statErr := os.Stat(filepath.Join(rootDir, dbPath))
	assert.True(t, os.IsNotExist(statErr))
}
