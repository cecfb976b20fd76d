package rpmdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpmkit/internal/depset"
	"rpmkit/internal/header"
	"rpmkit/internal/rpmerr"
)

func pkg(name, version, release string, files ...string) *header.Header {
	h := header.New()
	h.SetString(header.TagName, name)
	h.SetString(header.TagVersion, version)
	h.SetString(header.TagRelease, release)
	infos := make([]header.FileInfo, len(files))
	for i, f := range files {
		infos[i] = header.FileInfo{Path: f, Mode: 0o100644}
	}
	h.SetFiles(infos)
	h.SetFileStates(make([]header.FileState, len(files)))
	return h
}

func openRW(t *testing.T, dir string) *DB {
	t.Helper()
	db, err := Open(dir, ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddGetReopen(t *testing.T) {
	dir := t.TempDir()
	db := openRW(t, dir)

	h := pkg("foo", "1.0", "1", "/usr/bin/foo", "/etc/foo.conf")
	s := &depset.Set{}
	s.Add(depset.SenseProvides|depset.SenseEqual, "libfoo", "1.0", 0)
	h.SetDependencies(s)

	id, err := db.Add(h)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	got, err := db.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "foo-1.0-1", got.NVR())
	require.NoError(t, db.Close())

	ro, err := Open(dir, ReadOnly)
	require.NoError(t, err)
	defer ro.Close()
	assert.Equal(t, 1, ro.Len())
	assert.Equal(t, 1, ro.CountPackages("foo"))
	assert.Equal(t, []Match{{ID: 1, Index: 0}}, ro.Lookup(header.TagProvideName, "libfoo"))
	assert.Equal(t, []Match{{ID: 1, Index: 1}}, ro.Lookup(header.TagOldFilenames, "/etc/foo.conf"))

	_, err = ro.Add(pkg("bar", "1", "1"))
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrDatabase))
}

func TestGetReturnsCopy(t *testing.T) {
	db := openRW(t, t.TempDir())
	id, err := db.Add(pkg("foo", "1.0", "1"))
	require.NoError(t, err)

	h, err := db.Get(id)
	require.NoError(t, err)
	h.SetString(header.TagVersion, "9.9")

	again, err := db.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "1.0", again.Version())
}

func TestRemoveDropsIndexes(t *testing.T) {
	dir := t.TempDir()
	db := openRW(t, dir)
	a, err := db.Add(pkg("foo", "1.0", "1", "/usr/bin/foo"))
	require.NoError(t, err)
	b, err := db.Add(pkg("foo", "2.0", "1", "/usr/bin/foo"))
	require.NoError(t, err)
	assert.Equal(t, 2, db.CountPackages("foo"))

	require.NoError(t, db.Remove(a))
	assert.Equal(t, 1, db.CountPackages("foo"))
	owners, err := db.FileOwners("/usr/bin/foo")
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, b, owners[0].RecordID)

	_, err = os.Stat(filepath.Join(dir, packagesDir, recordName(a)))
	assert.True(t, os.IsNotExist(err))

	err = db.Remove(a)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrNotFound))
}

func TestIdsAreNotReused(t *testing.T) {
	dir := t.TempDir()
	db := openRW(t, dir)
	_, err := db.Add(pkg("a", "1", "1"))
	require.NoError(t, err)
	b, err := db.Add(pkg("b", "1", "1"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = openRW(t, dir)
	c, err := db.Add(pkg("c", "1", "1"))
	require.NoError(t, err)
	assert.Equal(t, b+1, c)
}

func TestCorruptRecordIsRejected(t *testing.T) {
	dir := t.TempDir()
	db := openRW(t, dir)
	id, err := db.Add(pkg("foo", "1.0", "1"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	path := filepath.Join(dir, packagesDir, recordName(id))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Open(dir, ReadOnly)
	require.Error(t, err)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrDatabase))
}

func TestLockContention(t *testing.T) {
	dir := t.TempDir()
	openRW(t, dir)

	_, err := Open(dir, ReadWrite)
	require.Error(t, err)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrDatabase))

	_, err = Open(dir, ReadOnly)
	assert.Error(t, err)
}

func TestReadersShareTheLock(t *testing.T) {
	dir := t.TempDir()
	db := openRW(t, dir)
	require.NoError(t, db.Close())

	a, err := Open(dir, ReadOnly)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(dir, ReadOnly)
	require.NoError(t, err)
	defer b.Close()

	_, err = Open(dir, ReadWrite)
	assert.Error(t, err)
}

func TestIteratorFiltersAndWriteBack(t *testing.T) {
	dir := t.TempDir()
	db := openRW(t, dir)
	for _, v := range []string{"1.0", "2.0", "2.0"} {
		_, err := db.Add(pkg("foo", v, "1", "/usr/bin/foo"))
		require.NoError(t, err)
	}
	_, err := db.Add(pkg("bar", "2.0", "1"))
	require.NoError(t, err)

	it := db.InitIterator(header.TagName, "foo")
	it.SetVersion("2.0")
	var ids []uint32
	for h := it.Next(); h != nil; h = it.Next() {
		ids = append(ids, it.Offset())
		h.SetFileStates([]header.FileState{header.StateReplaced})
		it.SetModified(true)
	}
	require.NoError(t, it.Close())
	assert.Equal(t, []uint32{2, 3}, ids)

	require.NoError(t, db.Close())
	db = openRW(t, dir)
	for id, want := range map[uint32]header.FileState{1: header.StateNormal, 2: header.StateReplaced, 3: header.StateReplaced} {
		h, err := db.Get(id)
		require.NoError(t, err)
		assert.Equal(t, []header.FileState{want}, h.FileStates(), "record %d", id)
	}
}

func TestIteratorAllPackages(t *testing.T) {
	db := openRW(t, t.TempDir())
	for _, n := range []string{"c", "a", "b"} {
		_, err := db.Add(pkg(n, "1", "1"))
		require.NoError(t, err)
	}
	it := db.InitIterator(AllPackages, "")
	var names []string
	for h := it.Next(); h != nil; h = it.Next() {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)

	it = db.InitIterator(header.TagName, "a")
	it.SetRelease("2")
	assert.Nil(t, it.Next())
}

func TestFileOwnersIndexesBaseNames(t *testing.T) {
	db := openRW(t, t.TempDir())
	id, err := db.Add(pkg("foo", "1.0", "1", "/usr/bin/foo", "/usr/lib/foo.so"))
	require.NoError(t, err)

	owners, err := db.FileOwners("/usr/lib/foo.so")
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, id, owners[0].RecordID)
	assert.Equal(t, 1, owners[0].FileIndex)
	assert.Equal(t, []Match{{ID: id, Index: 1}}, db.Lookup(header.TagBaseNames, "foo.so"))

	owners, err = db.FileOwners("/nope")
	require.NoError(t, err)
	assert.Empty(t, owners)
}
