package build

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"rpmkit/internal/archive"
	"rpmkit/internal/checksum"
	"rpmkit/internal/header"
	"rpmkit/internal/pkgfile"
	"rpmkit/internal/rpmerr"
	"rpmkit/internal/spec"
)

// sourceName is the file name of the source package.
func (b *Builder) sourceName() string {
	suffix := ".src.rpm"
	for _, s := range b.spec.Sources {
		if s.NoSource {
			suffix = ".nosrc.rpm"
			break
		}
	}
	return b.spec.Main().Header.NVR() + suffix
}

func (b *Builder) stamp(h *header.Header) {
	h.SetInt32(header.TagBuildTime, int32(time.Now().Unix()))
	if host, err := os.Hostname(); err == nil {
		h.SetString(header.TagBuildHost, host)
	}
	h.SetString(header.TagOS, b.os)
}

// write streams the packed payload into a package file at path.
func (b *Builder) write(path string, h *header.Header, files []archive.PackFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot create %s", filepath.Dir(path))
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archive.TarCodec{}.Pack(pw, files))
	}()
	err := pkgfile.Write(path, h, pr, b.opts.Signer)
	pr.Close()
	if err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "Could not write package %s", path)
	}
	b.log.Info().Str("path", path).Int("files", len(files)).Msg("Wrote")
	return nil
}

// writeBinary writes one binary package to %{_rpmdir}/ARCH/.
func (b *Builder) writeBinary(pkg *spec.Package, list *fileList) (string, error) {
	h := pkg.Header.Copy()
	b.stamp(h)
	h.SetString(header.TagArch, b.arch)
	h.SetString(header.TagSourceRPM, b.sourceName())
	h.SetFiles(list.infos())

	name := h.NVR() + "." + b.arch + ".rpm"
	path := filepath.Join(b.dir("_rpmdir"), b.arch, name)
	if err := b.write(path, h, list.packFiles()); err != nil {
		return "", err
	}
	return path, nil
}

// writeSource packs the spec, the sources and the patches, leaving out
// those marked NoSource or NoPatch, into %{_srcrpmdir}.
func (b *Builder) writeSource() (string, error) {
	h := b.spec.Main().Header.Copy()
	b.stamp(h)
	h.SetString(header.TagArch, b.arch)

	type member struct {
		disk  string
		flags header.FileFlags
	}
	members := []member{{disk: b.spec.Path, flags: header.FileSpecFile}}
	for _, src := range b.spec.Sources {
		if !src.NoSource {
			members = append(members, member{disk: b.spec.SourcePath(src)})
		}
	}

	var (
		infos []header.FileInfo
		packs []archive.PackFile
		disks []string
	)
	for _, m := range members {
		st, err := os.Stat(m.disk)
		if err != nil {
			return "", rpmerr.Wrapf(err, rpmerr.ErrNotFound, "Bad file: %s", m.disk)
		}
		base := filepath.Base(m.disk)
		infos = append(infos, header.FileInfo{
			Path:  base,
			Size:  st.Size(),
			Mode:  header.UnixMode(st.Mode()),
			MTime: st.ModTime().Unix(),
			Flags: m.flags,
			User:  "root",
			Group: "root",
		})
		packs = append(packs, archive.PackFile{
			ArchivePath: base,
			SourcePath:  m.disk,
			Mode:        st.Mode(),
			Uname:       "root",
			Gname:       "root",
			MTime:       st.ModTime().Unix(),
		})
		disks = append(disks, m.disk)
	}
	sums, err := checksum.Files(disks)
	if err != nil {
		return "", rpmerr.Wrap(err, rpmerr.ErrFilesystem, "cannot digest sources")
	}
	for i := range infos {
		infos[i].Digest = sums[disks[i]]
	}
	h.SetFiles(infos)

	path := filepath.Join(b.dir("_srcrpmdir"), b.sourceName())
	if err := b.write(path, h, packs); err != nil {
		return "", err
	}
	return path, nil
}
