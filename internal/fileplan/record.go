// Package fileplan decides and applies what happens to each file of a
// package being installed.
package fileplan

import (
	"os"
	"strings"

	"rpmkit/internal/archive"
	"rpmkit/internal/header"
	"rpmkit/internal/idcache"
)

// Action is the fate chosen for one file.
type Action int

const (
	ActionUnknown Action = iota
	ActionCreate
	ActionBackup
	ActionSave
	ActionSkip
	ActionAltName
	ActionErase
	ActionSkipNState
	ActionSkipNetShared
	ActionSkipMultilib
	ActionCopyIn
	ActionCopyOut
)

var actionNames = [...]string{
	ActionUnknown:       "unknown",
	ActionCreate:        "create",
	ActionBackup:        "backup",
	ActionSave:          "save",
	ActionSkip:          "skip",
	ActionAltName:       "altname",
	ActionErase:         "erase",
	ActionSkipNState:    "skipnstate",
	ActionSkipNetShared: "skipnetshared",
	ActionSkipMultilib:  "skipmultilib",
	ActionCopyIn:        "copyin",
	ActionCopyOut:       "copyout",
}

func (a Action) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "???"
}

// FileRecord is one file of a package on its way to disk.
type FileRecord struct {
	// RelativePath is the absolute path inside the install root.
	RelativePath string
	// ArchivePath names the payload member.
	ArchivePath string
	Digest      string
	UID, GID    int
	Mode        uint32
	Size        int64
	MTime       int64
	LinkTarget  string
	Flags       header.FileFlags
	State       header.FileState
	Action      Action
	// Install is cleared for files the disposition excludes from unpack.
	Install bool
}

// IsConfig reports whether the file carries %config.
func (f *FileRecord) IsConfig() bool { return f.Flags&header.FileConfig != 0 }

// BuildOptions tunes BuildRecords.
type BuildOptions struct {
	// Prefix relocates files under the package's default prefix.
	Prefix string
	// IDs resolves owner names; nil maps everything to root.
	IDs *idcache.Cache
}

// BuildRecords turns the header's file arrays into records with action
// create. The archive path is the file path minus the legacy default
// prefix when the package has one, and minus the leading "/" otherwise.
func BuildRecords(h *header.Header, opts BuildOptions) []FileRecord {
	files := h.Files()
	defaultPrefix := strings.TrimSuffix(h.String(header.TagDefaultPrefix), "/")
	legacy := defaultPrefix != "" && !h.Has(header.TagBaseNames)

	out := make([]FileRecord, len(files))
	for i, f := range files {
		archivePath := strings.TrimPrefix(f.Path, "/")
		if legacy && strings.HasPrefix(f.Path, defaultPrefix+"/") {
			archivePath = f.Path[len(defaultPrefix)+1:]
		}
		rel := f.Path
		if opts.Prefix != "" && defaultPrefix != "" && strings.HasPrefix(f.Path, defaultPrefix+"/") {
			rel = strings.TrimSuffix(opts.Prefix, "/") + f.Path[len(defaultPrefix):]
		}
		var uid, gid int
		if opts.IDs != nil {
			uid = opts.IDs.UID(f.User)
			gid = opts.IDs.GID(f.Group)
		}
		out[i] = FileRecord{
			RelativePath: rel,
			ArchivePath:  archivePath,
			Digest:       f.Digest,
			UID:          uid,
			GID:          gid,
			Mode:         f.Mode,
			Size:         f.Size,
			MTime:        f.MTime,
			LinkTarget:   f.Link,
			Flags:        f.Flags,
			State:        header.StateNormal,
			Action:       ActionCreate,
			Install:      true,
		}
	}
	return out
}

// Manifest lists the files to unpack. resolve maps a path inside the root
// to the path the process must write to.
func Manifest(files []FileRecord, resolve func(string) string) []archive.Entry {
	var out []archive.Entry
	for _, f := range files {
		if !f.Install {
			continue
		}
		mode := header.FileMode(f.Mode)
		digest := f.Digest
		if !mode.IsRegular() {
			digest = ""
		}
		out = append(out, archive.Entry{
			ArchivePath: f.ArchivePath,
			TargetPath:  resolve(f.RelativePath),
			Mode:        mode,
			UID:         f.UID,
			GID:         f.GID,
			MTime:       f.MTime,
			LinkTarget:  f.LinkTarget,
			Digest:      digest,
		})
	}
	return out
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
