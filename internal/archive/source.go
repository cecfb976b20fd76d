package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zip"

	"rpmkit/internal/rpmerr"
)

// ReadMember returns the name and contents of the first regular member of
// the archive at path for which match returns true. Tarballs in any
// supported compression and zip files are accepted.
func ReadMember(path string, match func(name string) bool) (string, []byte, error) {
	kind, err := DetectFile(path)
	if err != nil {
		return "", nil, rpmerr.Wrapf(err, rpmerr.ErrNotFound, "cannot open %s", path)
	}
	if kind == CompressionZip {
		return readZipMember(path, match)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	rc, err := NewReader(f, kind)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("error reading tar header in %s: %w", path, err)
		}
		if hdr.Typeflag != tar.TypeReg || !match(hdr.Name) {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read %s from %s: %w", hdr.Name, path, err)
		}
		return hdr.Name, data, nil
	}
	return "", nil, rpmerr.Newf(rpmerr.ErrNotFound, "no matching member in %s", path)
}

func readZipMember(path string, match func(string) bool) (string, []byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", nil, err
	}
	defer r.Close()
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !match(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", nil, err
		}
		return f.Name, data, nil
	}
	return "", nil, rpmerr.Newf(rpmerr.ErrNotFound, "no matching member in %s", path)
}
