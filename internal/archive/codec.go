package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"
	"lukechampine.com/blake3"

	"rpmkit/internal/rpmerr"
)

// Entry maps one archive member onto the filesystem.
type Entry struct {
	ArchivePath string
	TargetPath  string
	Mode        os.FileMode
	UID         int
	GID         int
	MTime       int64
	LinkTarget  string
	Digest      string // hex blake3; empty skips verification
}

// UnpackOptions tunes Unpack.
type UnpackOptions struct {
	// Chown applies Entry.UID/GID. Only meaningful as root.
	Chown bool
	// Progress receives the cumulative number of payload bytes written.
	Progress func(written int64)
}

// Codec reads and writes package payloads.
type Codec interface {
	Unpack(payload io.Reader, manifest []Entry, opts UnpackOptions) error
	Pack(w io.Writer, files []PackFile) error
}

// PackFile is one member to write into a payload.
type PackFile struct {
	ArchivePath string
	SourcePath  string // file to read; empty for directories
	Mode        os.FileMode
	Uname       string
	Gname       string
	MTime       int64
	LinkTarget  string
}

// TarCodec is a tar payload, zstd-compressed when written and sniffed when
// read.
type TarCodec struct{}

var _ Codec = TarCodec{}

func unpackError(path string, err error) error {
	return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "unpacking of archive failed on file %s", path).
		WithDetail("path", path)
}

// Unpack writes every manifest member found in payload. Members not in
// the manifest are skipped. Directories listed in the manifest but absent
// from the payload are created; any other absent member is an error.
func (TarCodec) Unpack(payload io.Reader, manifest []Entry, opts UnpackOptions) error {
	byArchive := make(map[string]*Entry, len(manifest))
	for i := range manifest {
		byArchive[manifest[i].ArchivePath] = &manifest[i]
	}
	seen := make(map[string]bool, len(manifest))

	rc, _, err := NewAutoReader(payload)
	if err != nil {
		return rpmerr.Wrap(err, rpmerr.ErrFilesystem, "cannot open payload")
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	var written int64
	buf := make([]byte, 64*1024)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rpmerr.Wrap(err, rpmerr.ErrFilesystem, "error reading payload")
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		e, ok := byArchive[hdr.Name]
		if !ok {
			continue
		}
		seen[hdr.Name] = true

		if err := os.MkdirAll(filepath.Dir(e.TargetPath), 0o755); err != nil {
			return unpackError(e.TargetPath, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := makeDir(e); err != nil {
				return unpackError(e.TargetPath, err)
			}
		case tar.TypeReg:
			n, err := writeFile(e, tr, buf)
			if err != nil {
				return unpackError(e.TargetPath, err)
			}
			written += n
			if opts.Progress != nil {
				opts.Progress(written)
			}
		case tar.TypeSymlink:
			link := hdr.Linkname
			if e.LinkTarget != "" {
				link = e.LinkTarget
			}
			_ = os.Remove(e.TargetPath)
			if err := os.Symlink(link, e.TargetPath); err != nil {
				return unpackError(e.TargetPath, err)
			}
		case tar.TypeLink:
			target, ok := byArchive[hdr.Linkname]
			if !ok {
				return unpackError(e.TargetPath, fmt.Errorf("hard link target %s not in manifest", hdr.Linkname))
			}
			_ = os.Remove(e.TargetPath)
			if err := os.Link(target.TargetPath, e.TargetPath); err != nil {
				return unpackError(e.TargetPath, err)
			}
		default:
			continue
		}

		if err := finish(e, hdr.Typeflag == tar.TypeSymlink, opts.Chown); err != nil {
			return unpackError(e.TargetPath, err)
		}
	}

	for i := range manifest {
		e := &manifest[i]
		if seen[e.ArchivePath] {
			continue
		}
		if e.Mode.IsDir() {
			if err := makeDir(e); err != nil {
				return unpackError(e.TargetPath, err)
			}
			if err := finish(e, false, opts.Chown); err != nil {
				return unpackError(e.TargetPath, err)
			}
			continue
		}
		return unpackError(e.TargetPath, errors.New("member missing from payload"))
	}
	return nil
}

func makeDir(e *Entry) error {
	if err := os.MkdirAll(e.TargetPath, e.Mode.Perm()|0o700); err != nil {
		return err
	}
	return nil
}

func writeFile(e *Entry, r io.Reader, buf []byte) (int64, error) {
	_ = os.Remove(e.TargetPath)
	out, err := os.OpenFile(e.TargetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, e.Mode.Perm())
	if err != nil {
		return 0, err
	}
	h := blake3.New(32, nil)
	n, err := io.CopyBuffer(io.MultiWriter(out, h), r, buf)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if e.Digest != "" {
		if got := fmt.Sprintf("%x", h.Sum(nil)); got != e.Digest {
			return n, fmt.Errorf("digest mismatch: have %s, want %s", got, e.Digest)
		}
	}
	return n, nil
}

// finish applies ownership, permissions and times.
func finish(e *Entry, symlink, chown bool) error {
	if chown {
		if err := unix.Lchown(e.TargetPath, e.UID, e.GID); err != nil {
			return err
		}
	}
	mtime := time.Unix(e.MTime, 0)
	tv := []unix.Timeval{unix.NsecToTimeval(mtime.UnixNano()), unix.NsecToTimeval(mtime.UnixNano())}
	if symlink {
		_ = unix.Lutimes(e.TargetPath, tv)
		return nil
	}
	if err := os.Chmod(e.TargetPath, e.Mode.Perm()|e.Mode&(os.ModeSetuid|os.ModeSetgid|os.ModeSticky)); err != nil {
		return err
	}
	if e.MTime != 0 {
		if err := os.Chtimes(e.TargetPath, mtime, mtime); err != nil {
			return err
		}
	}
	return nil
}

// Pack writes files as a zstd-compressed tar. Ownership is recorded by
// name only; numeric ids are resolved at install time.
func (TarCodec) Pack(w io.Writer, files []PackFile) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	for _, f := range files {
		if err := packOne(tw, f); err != nil {
			tw.Close()
			zw.Close()
			return fmt.Errorf("failed to add %s: %w", f.ArchivePath, err)
		}
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func packOne(tw *tar.Writer, f PackFile) error {
	hdr := &tar.Header{
		Name:    f.ArchivePath,
		Mode:    int64(f.Mode.Perm()),
		Uname:   f.Uname,
		Gname:   f.Gname,
		ModTime: time.Unix(f.MTime, 0),
		Format:  tar.FormatPAX,
	}
	if f.Mode&os.ModeSetuid != 0 {
		hdr.Mode |= 0o4000
	}
	if f.Mode&os.ModeSetgid != 0 {
		hdr.Mode |= 0o2000
	}
	if f.Mode&os.ModeSticky != 0 {
		hdr.Mode |= 0o1000
	}

	switch {
	case f.Mode.IsDir():
		hdr.Typeflag = tar.TypeDir
		return tw.WriteHeader(hdr)
	case f.Mode&os.ModeSymlink != 0:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = f.LinkTarget
		return tw.WriteHeader(hdr)
	}

	src, err := os.Open(f.SourcePath)
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr.Typeflag = tar.TypeReg
	hdr.Size = info.Size()
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, src)
	return err
}
