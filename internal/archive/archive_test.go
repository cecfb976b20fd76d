package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpmkit/internal/checksum"
	"rpmkit/internal/rpmerr"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		magic []byte
		want  Compression
	}{
		{"gzip", []byte{0x1f, 0x8b, 8}, CompressionGzip},
		{"compress", []byte{0x1f, 0x9d}, CompressionGzip},
		{"bzip2", []byte("BZh91AY"), CompressionBzip2},
		{"zip", []byte("PK\x03\x04rest"), CompressionZip},
		{"xz", []byte{0xfd, '7', 'z', 'X', 'Z', 0}, CompressionXz},
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd, 1}, CompressionZstd},
		{"plain", []byte("Name: foo"), CompressionNone},
		{"empty", nil, CompressionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.magic))
		})
	}
}

func TestZstdRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("rpmkit ", 100))
	c, err := ZstdCompress(data)
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, Detect(c))
	d, err := ZstdDecompress(c)
	require.NoError(t, err)
	assert.Equal(t, data, d)
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func TestPackUnpackWithRemap(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{
		"etc/foo.conf":  "key=value\n",
		"usr/bin/foo":   "#!/bin/sh\necho foo\n",
		"usr/share/doc": "skip me",
	})

	var payload bytes.Buffer
	err := TarCodec{}.Pack(&payload, []PackFile{
		{ArchivePath: "etc", Mode: os.ModeDir | 0o755},
		{ArchivePath: "etc/foo.conf", SourcePath: filepath.Join(src, "etc/foo.conf"), Mode: 0o644, MTime: 1000},
		{ArchivePath: "usr/bin/foo", SourcePath: filepath.Join(src, "usr/bin/foo"), Mode: 0o755},
		{ArchivePath: "usr/share/doc", SourcePath: filepath.Join(src, "usr/share/doc"), Mode: 0o644},
		{ArchivePath: "usr/bin/foolink", Mode: os.ModeSymlink | 0o777, LinkTarget: "foo"},
	})
	require.NoError(t, err)

	dest := t.TempDir()
	manifest := []Entry{
		{ArchivePath: "etc", TargetPath: filepath.Join(dest, "etc"), Mode: os.ModeDir | 0o755},
		{ArchivePath: "etc/foo.conf", TargetPath: filepath.Join(dest, "etc/foo.conf.rpmnew"), Mode: 0o600, MTime: 1000,
			Digest: checksum.HashString("key=value\n")},
		{ArchivePath: "usr/bin/foo", TargetPath: filepath.Join(dest, "usr/bin/foo"), Mode: 0o755},
		{ArchivePath: "usr/bin/foolink", TargetPath: filepath.Join(dest, "usr/bin/foolink"), Mode: os.ModeSymlink | 0o777},
	}

	var progress int64
	err = TarCodec{}.Unpack(&payload, manifest, UnpackOptions{Progress: func(n int64) { progress = n }})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dest, "etc/foo.conf.rpmnew"))
	require.NoError(t, err)
	assert.Equal(t, "key=value\n", string(got))

	info, err := os.Stat(filepath.Join(dest, "etc/foo.conf.rpmnew"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, int64(1000), info.ModTime().Unix())

	link, err := os.Readlink(filepath.Join(dest, "usr/bin/foolink"))
	require.NoError(t, err)
	assert.Equal(t, "foo", link)

	_, err = os.Stat(filepath.Join(dest, "usr/share/doc"))
	assert.True(t, os.IsNotExist(err), "members outside the manifest are not written")
	assert.Equal(t, int64(len("key=value\n")+len("#!/bin/sh\necho foo\n")), progress)
}

func TestUnpackDigestMismatch(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, map[string]string{"a": "real"})

	var payload bytes.Buffer
	require.NoError(t, TarCodec{}.Pack(&payload, []PackFile{
		{ArchivePath: "a", SourcePath: filepath.Join(src, "a"), Mode: 0o644},
	}))

	dest := t.TempDir()
	err := TarCodec{}.Unpack(&payload, []Entry{
		{ArchivePath: "a", TargetPath: filepath.Join(dest, "a"), Mode: 0o644, Digest: checksum.HashString("fake")},
	}, UnpackOptions{})
	require.Error(t, err)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrFilesystem))
	path, ok := rpmerr.Detail(err, "path")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dest, "a"), path)
}

func TestUnpackMissingMember(t *testing.T) {
	var payload bytes.Buffer
	require.NoError(t, TarCodec{}.Pack(&payload, nil))

	dest := t.TempDir()
	err := TarCodec{}.Unpack(bytes.NewReader(payload.Bytes()), []Entry{
		{ArchivePath: "d", TargetPath: filepath.Join(dest, "d"), Mode: os.ModeDir | 0o750},
		{ArchivePath: "f", TargetPath: filepath.Join(dest, "f"), Mode: 0o644},
	}, UnpackOptions{})
	require.Error(t, err)

	info, statErr := os.Stat(filepath.Join(dest, "d"))
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestReadMemberFromGzipTarball(t *testing.T) {
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range map[string]string{"foo-1.0/README": "readme", "foo-1.0/foo.spec": "Name: foo\n"} {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "foo-1.0.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	name, data, err := ReadMember(path, func(n string) bool { return strings.HasSuffix(n, ".spec") })
	require.NoError(t, err)
	assert.Equal(t, "foo-1.0/foo.spec", name)
	assert.Equal(t, "Name: foo\n", string(data))

	_, _, err = ReadMember(path, func(string) bool { return false })
	assert.Error(t, err)
}

func TestReadMemberFromZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("pkg/bar.spec")
	require.NoError(t, err)
	_, err = w.Write([]byte("Name: bar\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "bar.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	kind, err := DetectFile(path)
	require.NoError(t, err)
	assert.Equal(t, CompressionZip, kind)

	name, data, err := ReadMember(path, func(n string) bool { return strings.HasSuffix(n, ".spec") })
	require.NoError(t, err)
	assert.Equal(t, "pkg/bar.spec", name)
	assert.Equal(t, "Name: bar\n", string(data))
}
