package fileplan

import (
	"os"
	"strings"

	"github.com/rs/zerolog"

	"rpmkit/internal/checksum"
	"rpmkit/internal/header"
	"rpmkit/internal/logging"
)

// Owner is an installed package holding a path.
type Owner struct {
	RecordID  uint32
	Header    *header.Header
	FileIndex int
}

// Installed answers which installed packages own a path.
type Installed interface {
	FileOwners(path string) ([]Owner, error)
}

// SharedFile links a file of the new package to the same path in an
// installed one. Once the new package is committed the other header's
// copy is marked replaced.
type SharedFile struct {
	MainIndex      int
	OwnerID        uint32
	OwnerFileIndex int
}

// Conflict is a path another package owns with different content.
type Conflict struct {
	Path  string
	Owner string
}

// Request describes the package being installed.
type Request struct {
	Header *header.Header
	Files  []FileRecord
	// Replacing holds the records this install erases (upgrade targets).
	Replacing map[uint32]bool
	// ReplaceFiles downgrades file conflicts to silent replacement.
	ReplaceFiles bool
	ExcludeDocs  bool
	NetShared    []string
}

// Result is what a Resolver produced besides the per-file actions.
type Result struct {
	Shared    []SharedFile
	Conflicts []Conflict
}

// Resolver sets Action on every file of req.
type Resolver interface {
	Resolve(req *Request) (*Result, error)
}

// DefaultResolver consults the database and the disk.
type DefaultResolver struct {
	DB       Installed
	HostPath func(string) string
	Log      zerolog.Logger
}

func NewResolver(db Installed, resolve func(string) string) *DefaultResolver {
	if resolve == nil {
		resolve = func(p string) string { return p }
	}
	return &DefaultResolver{DB: db, HostPath: resolve, Log: logging.GetLogger("fileplan")}
}

func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "/")
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func (r *DefaultResolver) Resolve(req *Request) (*Result, error) {
	res := &Result{}
	nvr := req.Header.NVR()
	ownerFiles := make(map[uint32][]header.FileInfo)
	for i := range req.Files {
		f := &req.Files[i]
		f.Action = ActionCreate

		if underAny(f.RelativePath, req.NetShared) {
			f.Action = ActionSkipNetShared
			continue
		}
		if req.ExcludeDocs && f.Flags&header.FileDoc != 0 {
			f.Action = ActionSkipNState
			continue
		}

		var owners []Owner
		if r.DB != nil {
			var err error
			if owners, err = r.DB.FileOwners(f.RelativePath); err != nil {
				return nil, err
			}
		}

		handled := false
		for _, o := range owners {
			old, ok := ownerFiles[o.RecordID]
			if !ok {
				old = o.Header.Files()
				ownerFiles[o.RecordID] = old
			}
			if o.FileIndex >= len(old) {
				continue
			}
			of := old[o.FileIndex]
			if of.State != header.StateNormal {
				continue
			}
			res.Shared = append(res.Shared, SharedFile{MainIndex: i, OwnerID: o.RecordID, OwnerFileIndex: o.FileIndex})
			if handled {
				continue
			}
			handled = true

			switch {
			case o.Header.NVR() == nvr:
				if !filesDiffer(of, f) {
					f.Action = ActionSkipMultilib
				}
			case req.Replacing[o.RecordID]:
				if f.IsConfig() {
					f.Action = r.decideFate(of, f)
				}
			default:
				if filesDiffer(of, f) && !req.ReplaceFiles {
					res.Conflicts = append(res.Conflicts, Conflict{Path: f.RelativePath, Owner: o.Header.NVR()})
				}
				if f.IsConfig() {
					f.Action = r.decideFate(of, f)
				}
			}
		}
		if handled {
			continue
		}

		// nobody owns it: keep a differing config file already on disk
		if f.IsConfig() && header.FileMode(f.Mode).IsRegular() {
			host := r.HostPath(f.RelativePath)
			if st, err := os.Lstat(host); err == nil && st.Mode().IsRegular() {
				if sum, err := checksum.File(host); err == nil && sum != f.Digest {
					f.Action = ActionBackup
				}
			}
		}
	}
	return res, nil
}

type fileKind int

const (
	kindReg fileKind = iota
	kindDir
	kindLink
	kindOther
)

func whatis(mode uint32) fileKind {
	m := header.FileMode(mode)
	switch {
	case m.IsDir():
		return kindDir
	case m&os.ModeSymlink != 0:
		return kindLink
	case m.IsRegular():
		return kindReg
	}
	return kindOther
}

func filesDiffer(old header.FileInfo, f *FileRecord) bool {
	ok, nk := whatis(old.Mode), whatis(f.Mode)
	if ok != nk {
		return true
	}
	switch ok {
	case kindReg:
		return old.Digest != f.Digest
	case kindLink:
		return old.Link != f.LinkTarget
	}
	return false
}

// decideFate picks between create, skip, save and altname for a config
// file that an installed package already ships.
func (r *DefaultResolver) decideFate(old header.FileInfo, f *FileRecord) Action {
	host := r.HostPath(f.RelativePath)
	st, err := os.Lstat(host)
	if err != nil {
		if f.Flags&header.FileMissingOK != 0 {
			r.Log.Debug().Str("path", f.RelativePath).Msg("skipped due to missingok flag")
			return ActionSkip
		}
		return ActionCreate
	}

	disk := whatis(header.UnixMode(st.Mode()))
	db := whatis(old.Mode)
	nw := whatis(f.Mode)

	switch {
	case nw == kindDir:
		return ActionCreate
	case disk != nw:
		return r.saveOrAltName(f)
	case nw != db && disk != db:
		return r.saveOrAltName(f)
	case db != nw:
		return ActionCreate
	case db != kindLink && db != kindReg:
		return ActionCreate
	}

	var onDisk, dbAttr, newAttr string
	if db == kindReg {
		sum, err := checksum.File(host)
		if err != nil {
			return r.saveOrAltName(f)
		}
		onDisk, dbAttr, newAttr = sum, old.Digest, f.Digest
	} else {
		link, err := os.Readlink(host)
		if err != nil {
			return r.saveOrAltName(f)
		}
		onDisk, dbAttr, newAttr = link, old.Link, f.LinkTarget
	}

	if onDisk == dbAttr {
		// never modified
		return ActionCreate
	}
	if dbAttr == newAttr {
		// same in both versions; keep the local edit
		return ActionSkip
	}
	return r.saveOrAltName(f)
}

func (r *DefaultResolver) saveOrAltName(f *FileRecord) Action {
	if f.Flags&header.FileNoReplace != 0 {
		return ActionAltName
	}
	return ActionSave
}
