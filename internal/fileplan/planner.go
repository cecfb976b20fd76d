package fileplan

import (
	"os"

	"github.com/rs/zerolog"

	"rpmkit/internal/header"
	"rpmkit/internal/logging"
	"rpmkit/internal/rpmerr"
)

// Planner applies chosen actions around the archive unpack.
type Planner struct {
	// HostPath maps a path inside the root to the path to touch.
	HostPath func(string) string
	Log      zerolog.Logger
}

func NewPlanner(resolve func(string) string) *Planner {
	if resolve == nil {
		resolve = func(p string) string { return p }
	}
	return &Planner{HostPath: resolve, Log: logging.GetLogger("fileplan")}
}

// Prepare runs the before-unpack half of every action: existing files are
// renamed out of the way for backup and save, altname retargets the file,
// and skip-style actions drop the file from the unpack. Ghost files are
// never unpacked. A failed rename
// stops here, before any payload byte is written.
func (p *Planner) Prepare(files []FileRecord) error {
	for i := range files {
		f := &files[i]
		ext := ""
		switch f.Action {
		case ActionCreate:
			f.Install = true
		case ActionBackup:
			f.Install = true
			ext = ".rpmorig"
		case ActionSave:
			f.Install = true
			ext = ".rpmsave"
		case ActionAltName:
			f.Install = true
			alt := f.RelativePath + ".rpmnew"
			p.Log.Warn().Str("path", f.RelativePath).Str("as", alt).Msg("file created under alternate name")
			f.RelativePath = alt
		default:
			f.Install = false
		}
		if f.Flags&header.FileGhost != 0 {
			f.Install = false
			continue
		}
		if ext == "" {
			continue
		}
		target := p.HostPath(f.RelativePath)
		if !exists(target) {
			continue
		}
		saved := target + ext
		p.Log.Warn().Str("path", f.RelativePath).Str("as", f.RelativePath+ext).Msg("existing file saved")
		if err := os.Rename(target, saved); err != nil {
			return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "rename of %s to %s failed", f.RelativePath, f.RelativePath+ext).
				WithDetail("path", f.RelativePath)
		}
	}
	return nil
}

// States returns the per-file state array to record once the unpack is
// done. Files skipped for locale or netshared reasons remember why.
func (p *Planner) States(files []FileRecord) []header.FileState {
	out := make([]header.FileState, len(files))
	for i := range files {
		switch files[i].Action {
		case ActionSkipNState:
			files[i].State = header.StateNotInstalled
		case ActionSkipNetShared:
			files[i].State = header.StateNetShared
		}
		out[i] = files[i].State
	}
	return out
}
