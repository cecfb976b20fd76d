package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpmkit/internal/depset"
	"rpmkit/internal/rpmerr"
)

func sample() *Header {
	h := New()
	h.SetString(TagName, "foo")
	h.SetString(TagVersion, "1.0")
	h.SetString(TagRelease, "1")
	return h
}

func TestIdentity(t *testing.T) {
	h := sample()
	assert.Equal(t, "foo-1.0-1", h.NVR())
	assert.Equal(t, "", h.Epoch())
	h.SetInt32(TagEpoch, 3)
	assert.Equal(t, depset.EVR{Epoch: "3", Version: "1.0", Release: "1"}, h.EVR())
}

func TestAddOrAppend(t *testing.T) {
	h := New()
	require.NoError(t, h.AddOrAppend(TagRequireName, ArrayValue("a")))
	require.NoError(t, h.AddOrAppend(TagRequireName, ArrayValue("b", "c")))
	assert.Equal(t, []string{"a", "b", "c"}, h.Strings(TagRequireName))

	err := h.AddOrAppend(TagRequireName, IntValue(1))
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrInvalidState))

	h.SetString(TagName, "x")
	assert.Error(t, h.AddOrAppend(TagName, StringValue("y")))
}

func TestModifyAndDelete(t *testing.T) {
	h := sample()
	assert.False(t, h.Modify(TagSummary, StringValue("s")))
	assert.False(t, h.Has(TagSummary))
	assert.True(t, h.Modify(TagName, StringValue("bar")))
	assert.Equal(t, "bar", h.Name())
	assert.True(t, h.Delete(TagName))
	assert.False(t, h.Delete(TagName))
}

func TestCopyIsDeep(t *testing.T) {
	h := sample()
	h.SetStrings(TagRequireName, []string{"a"})
	c := h.Copy()
	c.Strings(TagRequireName)[0] = "changed"
	assert.Equal(t, "a", h.Strings(TagRequireName)[0])
}

func TestFileNameCompression(t *testing.T) {
	h := New()
	paths := []string{"/usr/bin/foo", "/usr/bin/bar", "/etc/foo.conf", "/usr/bin/baz"}
	h.SetFileNames(paths)

	assert.Equal(t, []string{"/usr/bin/", "/etc/"}, h.Strings(TagDirNames))
	assert.Equal(t, []string{"foo", "bar", "foo.conf", "baz"}, h.Strings(TagBaseNames))
	assert.Equal(t, []int32{0, 0, 1, 0}, h.Int32s(TagDirIndexes))
	assert.Equal(t, paths, h.FileNames())
	assert.Equal(t, 4, h.FileCount())
}

func TestLegacyFileNames(t *testing.T) {
	h := New()
	h.SetStrings(TagOldFilenames, []string{"/a/b", "/a/c"})
	assert.Equal(t, []string{"/a/b", "/a/c"}, h.FileNames())
	assert.Equal(t, []string{"b", "c"}, h.BaseNames())

	h.CompressFileList()
	assert.False(t, h.Has(TagOldFilenames))
	assert.Equal(t, []string{"/a/"}, h.Strings(TagDirNames))
	assert.Equal(t, []string{"/a/b", "/a/c"}, h.FileNames())
}

func TestFilesRoundTrip(t *testing.T) {
	h := New()
	in := []FileInfo{
		{Path: "/etc/foo.conf", Size: 10, Mode: 0o100644, Flags: FileConfig | FileNoReplace, User: "root", Group: "root", Digest: "ab"},
		{Path: "/usr/bin/foo", Size: 32, Mode: 0o100755, User: "root", Group: "wheel"},
	}
	h.SetFiles(in)
	h.SetFileStates([]FileState{StateNormal, StateReplaced})

	got := h.Files()
	require.Len(t, got, 2)
	assert.Equal(t, "/etc/foo.conf", got[0].Path)
	assert.Equal(t, FileConfig|FileNoReplace, got[0].Flags)
	assert.Equal(t, "wheel", got[1].Group)
	assert.Equal(t, StateReplaced, got[1].State)
	assert.Equal(t, int64(42), h.Size())
}

func TestDependencies(t *testing.T) {
	var s depset.Set
	require.NoError(t, depset.ParseField(&s, depset.FieldRequires, "bar >= 2.0, baz", 0, 0))
	require.NoError(t, depset.ParseField(&s, depset.FieldProvides, "virt", 0, 0))
	require.NoError(t, depset.ParseField(&s, depset.FieldTriggerIn, "sendmail", 1, 0))

	h := sample()
	h.SetDependencies(&s)
	assert.Equal(t, []string{"bar", "baz"}, h.Strings(TagRequireName))
	assert.Equal(t, []int32{1}, h.Int32s(TagTriggerIndex))

	back := h.Dependencies()
	assert.Equal(t, s.Requires(), back.Requires())
	assert.Equal(t, s.Triggers(), back.Triggers())

	provides := h.Provides()
	require.Len(t, provides, 2)
	assert.Equal(t, "foo", provides[0].Name)
	assert.Equal(t, "1.0-1", provides[0].Version)

	require.NoError(t, h.AppendRecord(depset.Record{Name: "qux", Flags: depset.SenseMultilib}))
	assert.Equal(t, []string{"bar", "baz", "qux"}, h.Strings(TagRequireName))
}

func TestScripts(t *testing.T) {
	h := New()
	body, prog := h.Script(ScriptPost)
	assert.Empty(t, body)
	assert.Empty(t, prog)

	h.SetScript(ScriptPost, "echo hi", "")
	body, prog = h.Script(ScriptPost)
	assert.Equal(t, "echo hi", body)
	assert.Equal(t, DefaultInterpreter, prog)

	assert.Equal(t, 0, h.AddTriggerScript("echo t0", ""))
	assert.Equal(t, 1, h.AddTriggerScript("print", "/usr/bin/perl"))
	body, prog = h.TriggerScript(1)
	assert.Equal(t, "print", body)
	assert.Equal(t, "/usr/bin/perl", prog)
}

func TestJSONRoundTrip(t *testing.T) {
	h := sample()
	h.Put(TagDescription, I18NValue("a package"))
	h.SetInt32s(TagFileModes, []int32{0o644, 0o755})
	h.Put(TagFileColors, BinValue([]byte{1, 2, 3}))
	h.SetStrings(TagFileLinkTos, []string{"", "target"})

	data, err := Encode(h)
	require.NoError(t, err)
	back, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, h.Tags(), back.Tags())
	assert.Equal(t, "a package", back.String(TagDescription))
	v, _ := back.Get(TagDescription)
	assert.Equal(t, KindI18N, v.Kind)
	assert.Equal(t, []byte{1, 2, 3}, back.Bin(TagFileColors))
	assert.Equal(t, []string{"", "target"}, back.Strings(TagFileLinkTos))
}

func TestDecodeRejectsBadKinds(t *testing.T) {
	_, err := Decode([]byte(`[{"tag":1000,"kind":2,"strs":["a","b"]}]`))
	assert.Error(t, err)
	_, err = Decode([]byte(`[{"tag":1000,"kind":99}]`))
	assert.Error(t, err)
}

func TestModeConversion(t *testing.T) {
	for _, m := range []uint32{0o100644, 0o040755, 0o120777, 0o104755, 0o041777} {
		assert.Equal(t, m, UnixMode(FileMode(m)), "%o", m)
	}
	assert.True(t, FileMode(0o040755).IsDir())
	assert.True(t, FileMode(0o100644).IsRegular())
}
