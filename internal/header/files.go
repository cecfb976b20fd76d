package header

import (
	"io/fs"
	"path"
	"strings"
)

// FileFlags are the per-file attributes set by %files directives.
type FileFlags uint32

const (
	FileConfig    FileFlags = 1 << 0
	FileDoc       FileFlags = 1 << 1
	FileDoNotUse  FileFlags = 1 << 2
	FileMissingOK FileFlags = 1 << 3
	FileNoReplace FileFlags = 1 << 4
	FileSpecFile  FileFlags = 1 << 5
	FileGhost     FileFlags = 1 << 6
	FileLicense   FileFlags = 1 << 7
	FileReadme    FileFlags = 1 << 8
	FileExclude   FileFlags = 1 << 9
)

// FileState is recorded per file once a package is installed.
type FileState int32

const (
	StateNormal       FileState = 0
	StateReplaced     FileState = 1
	StateNotInstalled FileState = 2
	StateNetShared    FileState = 3
)

func (s FileState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateReplaced:
		return "replaced"
	case StateNotInstalled:
		return "not installed"
	case StateNetShared:
		return "net shared"
	}
	return "(unknown)"
}

// SetFileNames stores paths as the compressed DIRNAMES/BASENAMES/DIRINDEXES
// triple and drops any legacy OLDFILENAMES.
func (h *Header) SetFileNames(paths []string) {
	if len(paths) == 0 {
		for _, t := range []Tag{TagDirNames, TagBaseNames, TagDirIndexes, TagOldFilenames} {
			h.Delete(t)
		}
		return
	}
	var dirs []string
	seen := make(map[string]int32)
	bases := make([]string, len(paths))
	idx := make([]int32, len(paths))
	for i, p := range paths {
		cut := strings.LastIndexByte(p, '/') + 1
		dir := p[:cut]
		n, ok := seen[dir]
		if !ok {
			n = int32(len(dirs))
			seen[dir] = n
			dirs = append(dirs, dir)
		}
		bases[i] = p[cut:]
		idx[i] = n
	}
	h.SetStrings(TagDirNames, dirs)
	h.SetStrings(TagBaseNames, bases)
	h.SetInt32s(TagDirIndexes, idx)
	h.Delete(TagOldFilenames)
}

// FileNames returns the full path of every file, from the compressed
// triple or from legacy OLDFILENAMES.
func (h *Header) FileNames() []string {
	if old := h.Strings(TagOldFilenames); len(old) > 0 && !h.Has(TagBaseNames) {
		return old
	}
	bases := h.Strings(TagBaseNames)
	dirs := h.Strings(TagDirNames)
	idx := h.Int32s(TagDirIndexes)
	out := make([]string, len(bases))
	for i, b := range bases {
		if i < len(idx) && int(idx[i]) < len(dirs) {
			out[i] = dirs[idx[i]] + b
		} else {
			out[i] = b
		}
	}
	return out
}

// BaseNames returns the last element of every file path.
func (h *Header) BaseNames() []string {
	if h.Has(TagBaseNames) {
		return h.Strings(TagBaseNames)
	}
	var out []string
	for _, f := range h.Strings(TagOldFilenames) {
		out = append(out, path.Base(f))
	}
	return out
}

// CompressFileList converts a legacy OLDFILENAMES list in place.
func (h *Header) CompressFileList() {
	if old := h.Strings(TagOldFilenames); len(old) > 0 && !h.Has(TagBaseNames) {
		h.SetFileNames(old)
	}
}

func (h *Header) FileCount() int {
	if n := len(h.Strings(TagBaseNames)); n > 0 {
		return n
	}
	return len(h.Strings(TagOldFilenames))
}

func (h *Header) FileStates() []FileState {
	raw := h.Int32s(TagFileStates)
	out := make([]FileState, len(raw))
	for i, s := range raw {
		out[i] = FileState(s)
	}
	return out
}

// SetFileStates writes the whole state array in one piece.
func (h *Header) SetFileStates(states []FileState) {
	raw := make([]int32, len(states))
	for i, s := range states {
		raw[i] = int32(s)
	}
	h.SetInt32s(TagFileStates, raw)
}

func (h *Header) FileFlags() []FileFlags {
	raw := h.Int32s(TagFileFlags)
	out := make([]FileFlags, len(raw))
	for i, f := range raw {
		out[i] = FileFlags(f)
	}
	return out
}

// FileInfo is one row of the per-file arrays.
type FileInfo struct {
	Path   string
	Size   int64
	Mode   uint32
	MTime  int64
	Digest string
	Link   string
	Flags  FileFlags
	User   string
	Group  string
	State  FileState
}

func int32At(v []int32, i int) int32 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func strAt(v []string, i int) string {
	if i < len(v) {
		return v[i]
	}
	return ""
}

// Files zips the per-file arrays together.
func (h *Header) Files() []FileInfo {
	names := h.FileNames()
	sizes := h.Int32s(TagFileSizes)
	modes := h.Int32s(TagFileModes)
	mtimes := h.Int32s(TagFileMtimes)
	flags := h.Int32s(TagFileFlags)
	states := h.Int32s(TagFileStates)
	digests := h.Strings(TagFileDigests)
	links := h.Strings(TagFileLinkTos)
	users := h.Strings(TagFileUserName)
	groups := h.Strings(TagFileGroupName)

	out := make([]FileInfo, len(names))
	for i, n := range names {
		out[i] = FileInfo{
			Path:   n,
			Size:   int64(uint32(int32At(sizes, i))),
			Mode:   uint32(int32At(modes, i)),
			MTime:  int64(uint32(int32At(mtimes, i))),
			Digest: strAt(digests, i),
			Link:   strAt(links, i),
			Flags:  FileFlags(int32At(flags, i)),
			User:   strAt(users, i),
			Group:  strAt(groups, i),
			State:  FileState(int32At(states, i)),
		}
	}
	return out
}

// SetFiles writes the per-file arrays from files, in order.
func (h *Header) SetFiles(files []FileInfo) {
	n := len(files)
	names := make([]string, n)
	sizes := make([]int32, n)
	modes := make([]int32, n)
	mtimes := make([]int32, n)
	flags := make([]int32, n)
	digests := make([]string, n)
	links := make([]string, n)
	users := make([]string, n)
	groups := make([]string, n)
	var total int64
	for i, f := range files {
		names[i] = f.Path
		sizes[i] = int32(f.Size)
		modes[i] = int32(f.Mode)
		mtimes[i] = int32(f.MTime)
		flags[i] = int32(f.Flags)
		digests[i] = f.Digest
		links[i] = f.Link
		users[i] = f.User
		groups[i] = f.Group
		total += f.Size
	}
	h.SetFileNames(names)
	h.SetInt32s(TagFileSizes, sizes)
	h.SetInt32s(TagFileModes, modes)
	h.SetInt32s(TagFileMtimes, mtimes)
	h.SetInt32s(TagFileFlags, flags)
	h.SetStrings(TagFileDigests, digests)
	h.SetStrings(TagFileLinkTos, links)
	h.SetStrings(TagFileUserName, users)
	h.SetStrings(TagFileGroupName, groups)
	h.SetInt32(TagSize, int32(total))
}

const (
	modeTypeMask = 0o170000
	modeSocket   = 0o140000
	modeSymlink  = 0o120000
	modeRegular  = 0o100000
	modeBlock    = 0o060000
	modeDir      = 0o040000
	modeChar     = 0o020000
	modeFifo     = 0o010000
)

// FileMode converts a unix st_mode word to an fs.FileMode.
func FileMode(m uint32) fs.FileMode {
	mode := fs.FileMode(m & 0o777)
	switch m & modeTypeMask {
	case modeDir:
		mode |= fs.ModeDir
	case modeSymlink:
		mode |= fs.ModeSymlink
	case modeBlock:
		mode |= fs.ModeDevice
	case modeChar:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case modeFifo:
		mode |= fs.ModeNamedPipe
	case modeSocket:
		mode |= fs.ModeSocket
	}
	if m&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if m&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if m&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

// UnixMode is the inverse of FileMode.
func UnixMode(mode fs.FileMode) uint32 {
	m := uint32(mode.Perm())
	switch {
	case mode.IsDir():
		m |= modeDir
	case mode&fs.ModeSymlink != 0:
		m |= modeSymlink
	case mode&fs.ModeCharDevice != 0:
		m |= modeChar
	case mode&fs.ModeDevice != 0:
		m |= modeBlock
	case mode&fs.ModeNamedPipe != 0:
		m |= modeFifo
	case mode&fs.ModeSocket != 0:
		m |= modeSocket
	default:
		m |= modeRegular
	}
	if mode&fs.ModeSetuid != 0 {
		m |= 0o4000
	}
	if mode&fs.ModeSetgid != 0 {
		m |= 0o2000
	}
	if mode&fs.ModeSticky != 0 {
		m |= 0o1000
	}
	return m
}
