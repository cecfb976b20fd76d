package rpmdb

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"lukechampine.com/blake3"

	"rpmkit/internal/archive"
	"rpmkit/internal/header"
	"rpmkit/internal/rpmerr"
)

const trailerSize = 32

func recordName(id uint32) string {
	return fmt.Sprintf("%08d.hdr", id)
}

// encodeRecord is zstd(JSON header) followed by the blake3-256 digest of
// the compressed bytes.
func encodeRecord(h *header.Header) ([]byte, error) {
	js, err := header.Encode(h)
	if err != nil {
		return nil, err
	}
	z, err := archive.ZstdCompress(js)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(z)
	return append(z, sum[:]...), nil
}

func decodeRecord(data []byte) (*header.Header, error) {
	if len(data) < trailerSize {
		return nil, fmt.Errorf("record truncated (%d bytes)", len(data))
	}
	z, trailer := data[:len(data)-trailerSize], data[len(data)-trailerSize:]
	sum := blake3.Sum256(z)
	if !bytes.Equal(sum[:], trailer) {
		return nil, fmt.Errorf("record digest mismatch")
	}
	js, err := archive.ZstdDecompress(z)
	if err != nil {
		return nil, err
	}
	return header.Decode(js)
}

// writeAtomic replaces dir/name with data: temp file, fsync, rename, then
// fsync of the directory.
func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func dbError(err error, format string, args ...any) error {
	return rpmerr.Wrapf(err, rpmerr.ErrDatabase, format, args...)
}
