package build

import (
	"bufio"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"rpmkit/internal/archive"
	"rpmkit/internal/checksum"
	"rpmkit/internal/header"
	"rpmkit/internal/rpmerr"
	"rpmkit/internal/spec"
)

// collected is one file headed for a binary package.
type collected struct {
	info header.FileInfo
	// disk is where the file sits in the buildroot; empty for ghosts that
	// do not exist.
	disk string
}

// fileList is the outcome of matching one package's %files against the
// buildroot.
type fileList struct {
	files   []collected
	missing []string
}

func (l *fileList) infos() []header.FileInfo {
	out := make([]header.FileInfo, len(l.files))
	for i, f := range l.files {
		out[i] = f.info
	}
	return out
}

// packFiles lists the payload members. Ghosts are recorded in the header
// only.
func (l *fileList) packFiles() []archive.PackFile {
	var out []archive.PackFile
	for _, f := range l.files {
		if f.info.Flags&header.FileGhost != 0 || f.disk == "" {
			continue
		}
		out = append(out, archive.PackFile{
			ArchivePath: strings.TrimPrefix(f.info.Path, "/"),
			SourcePath:  f.disk,
			Mode:        header.FileMode(f.info.Mode),
			Uname:       f.info.User,
			Gname:       f.info.Group,
			MTime:       f.info.MTime,
			LinkTarget:  f.info.Link,
		})
	}
	return out
}

// fileLines returns the %files lines of pkg followed by those of its -f
// list, which is read relative to the build subdirectory.
func (b *Builder) fileLines(pkg *spec.Package) ([]string, error) {
	lines := append([]string(nil), pkg.Files...)
	if pkg.FileList == "" {
		return lines, nil
	}
	name, err := b.expand(pkg.FileList)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(b.buildSubdir(), name)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, rpmerr.Wrapf(err, rpmerr.ErrNotFound, "Could not open %%files file %s", name)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line, err := b.expand(sc.Text())
		if err != nil {
			return nil, err
		}
		if t := strings.TrimSpace(line); t != "" && !strings.HasPrefix(t, "#") {
			lines = append(lines, t)
		}
	}
	return lines, sc.Err()
}

// collectFiles resolves the %files of pkg against the buildroot. Missing
// files are reported in the list rather than as an error so every one of
// them can be shown.
func (b *Builder) collectFiles(pkg *spec.Package) (*fileList, error) {
	lines, err := b.fileLines(pkg)
	if err != nil {
		return nil, err
	}
	entries, err := spec.ParseFiles(lines)
	if err != nil {
		return nil, rpmerr.Wrap(err, rpmerr.ErrSpec, "bad %files list for "+pkg.Name())
	}

	list := &fileList{}
	seen := make(map[string]bool)
	add := func(c collected) {
		if seen[c.info.Path] {
			b.log.Warn().Str("path", c.info.Path).Str("package", pkg.Name()).Msg("file listed twice")
			return
		}
		seen[c.info.Path] = true
		list.files = append(list.files, c)
	}

	for _, e := range entries {
		if !strings.HasPrefix(e.Path, "/") {
			docs, err := b.installDoc(pkg, e)
			if err != nil {
				return nil, err
			}
			for _, d := range docs {
				add(d)
			}
			continue
		}
		if err := b.matchEntry(e, list, add); err != nil {
			return nil, err
		}
	}

	if err := b.digest(list); err != nil {
		return nil, err
	}
	sort.Slice(list.files, func(i, j int) bool { return list.files[i].info.Path < list.files[j].info.Path })
	return list, nil
}

func hasGlob(p string) bool { return strings.ContainsAny(p, "*?[") }

func (b *Builder) matchEntry(e spec.FileEntry, list *fileList, add func(collected)) error {
	root := b.spec.BuildRoot
	var disks []string
	if hasGlob(e.Path) {
		matches, err := filepath.Glob(filepath.Join(root, e.Path))
		if err != nil {
			return rpmerr.Wrapf(err, rpmerr.ErrSpec, "bad glob %s", e.Path)
		}
		disks = matches
	} else {
		disks = []string{filepath.Join(root, e.Path)}
	}

	for _, disk := range disks {
		info, err := os.Lstat(disk)
		if err != nil {
			if e.Flags&header.FileGhost != 0 && !hasGlob(e.Path) {
				add(ghostInfo(e))
				continue
			}
			list.missing = append(list.missing, disk)
			continue
		}
		if info.IsDir() && !e.Dir {
			if err := b.walkDir(root, disk, e, add); err != nil {
				return err
			}
			continue
		}
		c, err := b.stat(root, disk, info, e)
		if err != nil {
			return err
		}
		add(c)
	}
	if len(disks) == 0 {
		list.missing = append(list.missing, filepath.Join(root, e.Path))
	}
	return nil
}

func (b *Builder) walkDir(root, dir string, e spec.FileEntry, add func(collected)) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		c, err := b.stat(root, p, info, e)
		if err != nil {
			return err
		}
		add(c)
		return nil
	})
}

func ghostInfo(e spec.FileEntry) collected {
	mode := uint32(0o100644)
	if e.Attrs.Mode >= 0 {
		mode = 0o100000 | uint32(e.Attrs.Mode)
	}
	return collected{info: header.FileInfo{
		Path:  e.Path,
		Mode:  mode,
		Flags: e.Flags,
		User:  ownerOr(e.Attrs.User),
		Group: ownerOr(e.Attrs.Group),
	}}
}

func ownerOr(name string) string {
	if name == "" {
		return "root"
	}
	return name
}

// stat builds the header record for one file on disk, applying %attr and
// %defattr.
func (b *Builder) stat(root, disk string, info fs.FileInfo, e spec.FileEntry) (collected, error) {
	rel, err := filepath.Rel(root, disk)
	if err != nil {
		return collected{}, err
	}
	fi := header.FileInfo{
		Path:  path.Clean("/" + filepath.ToSlash(rel)),
		Mode:  header.UnixMode(info.Mode()),
		MTime: info.ModTime().Unix(),
		Flags: e.Flags,
		User:  ownerOr(e.Attrs.User),
		Group: ownerOr(e.Attrs.Group),
	}
	perm := e.Attrs.Mode
	if info.IsDir() && e.Attrs.DirMode >= 0 {
		perm = e.Attrs.DirMode
	}
	if perm >= 0 && info.Mode()&fs.ModeSymlink == 0 {
		fi.Mode = fi.Mode&^0o7777 | uint32(perm)
	}
	switch {
	case info.Mode().IsRegular():
		fi.Size = info.Size()
	case info.Mode()&fs.ModeSymlink != 0:
		if fi.Link, err = os.Readlink(disk); err != nil {
			return collected{}, err
		}
	}
	return collected{info: fi, disk: disk}, nil
}

// digest fills in blake3 digests of the regular files in parallel.
func (b *Builder) digest(list *fileList) error {
	var paths []string
	for _, f := range list.files {
		if f.disk != "" && header.FileMode(f.info.Mode).IsRegular() {
			paths = append(paths, f.disk)
		}
	}
	sums, err := checksum.Files(paths)
	if err != nil {
		return rpmerr.Wrap(err, rpmerr.ErrFilesystem, "cannot digest package files")
	}
	for i := range list.files {
		if d, ok := sums[list.files[i].disk]; ok {
			list.files[i].info.Digest = d
		}
	}
	return nil
}

// installDoc copies a relative %doc path from the build subdirectory into
// the package's documentation directory under the buildroot.
func (b *Builder) installDoc(pkg *spec.Package, e spec.FileEntry) ([]collected, error) {
	docRoot, err := b.expand("%{_docdir}")
	if err != nil {
		return nil, err
	}
	docDir := path.Join(docRoot, pkg.Name()+"-"+pkg.Header.Version())
	hostDocDir := filepath.Join(b.spec.BuildRoot, docDir)

	matches, err := filepath.Glob(filepath.Join(b.buildSubdir(), e.Path))
	if err != nil || len(matches) == 0 {
		return nil, rpmerr.Newf(rpmerr.ErrNotFound, "File not found: %s", filepath.Join(b.buildSubdir(), e.Path))
	}
	if err := os.MkdirAll(hostDocDir, 0o755); err != nil {
		return nil, rpmerr.Wrap(err, rpmerr.ErrFilesystem, "cannot create doc dir")
	}

	var out []collected
	add := func(c collected) { out = append(out, c) }
	for _, src := range matches {
		dst := filepath.Join(hostDocDir, filepath.Base(src))
		if err := copyTree(src, dst); err != nil {
			return nil, rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot copy %s", src)
		}
		info, err := os.Lstat(dst)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			if err := b.walkDir(b.spec.BuildRoot, dst, e, add); err != nil {
				return nil, err
			}
			continue
		}
		c, err := b.stat(b.spec.BuildRoot, dst, info, e)
		if err != nil {
			return nil, err
		}
		add(c)
	}
	return out, nil
}

// copyTree copies a file, symlink or directory tree, keeping modes and
// modification times.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			os.Remove(target)
			return os.Symlink(link, target)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, info.Mode().Perm()); err != nil {
			return err
		}
		return os.Chtimes(target, info.ModTime(), info.ModTime())
	})
}

// unpackaged lists files under the buildroot no package claims.
func unpackaged(root string, lists []*fileList) ([]string, error) {
	claimed := make(map[string]bool)
	for _, l := range lists {
		for _, f := range l.files {
			claimed[f.info.Path] = true
		}
	}
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		if name := "/" + filepath.ToSlash(rel); !claimed[name] {
			out = append(out, name)
		}
		return nil
	})
	return out, err
}
