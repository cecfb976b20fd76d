package transaction

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"rpmkit/internal/checksum"
	"rpmkit/internal/chroot"
	"rpmkit/internal/header"
	"rpmkit/internal/rpmerr"
)

// erase removes an installed package: preun, triggerun, files, postun,
// triggerpostun, then the record.
func (t *Transaction) erase(id uint32, h *header.Header) error {
	nvr := h.NVR()
	log := t.Log.With().Str("package", nvr).Logger()
	if t.Flags&FlagTest != 0 {
		return nil
	}

	scriptArg := t.DB.CountPackages(h.Name()) - 1
	t.notify(Event{Kind: EventEraseStart, Package: nvr, Total: int64(h.FileCount())})
	log.Info().Int("scriptArg", scriptArg).Msg("erasing")

	if err := t.runScript(h, header.ScriptPreUn, scriptArg); err != nil {
		return err
	}
	if err := t.runTriggers(id, h, triggerUn, -1); err != nil {
		return err
	}

	if t.Flags&FlagJustDB == 0 {
		if err := chroot.Within(t.Rooter, func() error { return t.removeFiles(id, h) }); err != nil {
			return err
		}
	}

	if err := t.runScript(h, header.ScriptPostUn, scriptArg); err != nil {
		return err
	}
	if err := t.runTriggers(id, h, triggerPostUn, -1); err != nil {
		return err
	}

	if err := t.DB.Remove(id); err != nil {
		return err
	}
	t.notify(Event{Kind: EventEraseStop, Package: nvr})
	return nil
}

// removeFiles walks the file list backwards so directories come after
// their contents. Files not in the normal state, and files another
// installed package still holds, stay. Changed config files are kept as
// .rpmsave.
func (t *Transaction) removeFiles(id uint32, h *header.Header) error {
	files := h.Files()
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		if f.State != header.StateNormal {
			continue
		}
		if t.sharedElsewhere(id, f.Path) {
			t.Log.Debug().Str("path", f.Path).Msg("file is shared, not removed")
			continue
		}

		target := t.Rooter.Resolve(f.Path)
		mode := header.FileMode(f.Mode)
		st, err := os.Lstat(target)
		if err != nil {
			continue
		}

		switch {
		case mode.IsDir():
			if err := os.Remove(target); err != nil && !dirBusy(err) {
				t.Log.Warn().Err(err).Str("path", f.Path).Msg("cannot remove directory")
			}
		case f.Flags&header.FileConfig != 0 && st.Mode().IsRegular() && t.configChanged(target, f):
			saved := target + ".rpmsave"
			t.Log.Warn().Str("path", f.Path).Str("as", f.Path+".rpmsave").Msg("modified config file saved")
			if err := os.Rename(target, saved); err != nil {
				return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "rename of %s to %s failed", f.Path, f.Path+".rpmsave").
					WithDetail("path", f.Path)
			}
		default:
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				t.Log.Warn().Err(err).Str("path", f.Path).Msg("cannot remove file")
			}
		}
	}
	return nil
}

func (t *Transaction) configChanged(target string, f header.FileInfo) bool {
	sum, err := checksum.File(target)
	return err != nil || sum != f.Digest
}

func (t *Transaction) sharedElsewhere(id uint32, path string) bool {
	owners, err := t.DB.FileOwners(path)
	if err != nil {
		return false
	}
	for _, o := range owners {
		if o.RecordID == id {
			continue
		}
		states := o.Header.FileStates()
		if o.FileIndex >= len(states) || states[o.FileIndex] == header.StateNormal {
			return true
		}
	}
	return false
}

func dirBusy(err error) bool {
	return errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, unix.EEXIST) || errors.Is(err, unix.EBUSY)
}
