package transaction

import (
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"rpmkit/internal/archive"
	"rpmkit/internal/chroot"
	"rpmkit/internal/fileplan"
	"rpmkit/internal/header"
	"rpmkit/internal/rpmerr"
	"rpmkit/internal/script"
)

// Run applies the ordered elements one at a time. It refuses to start
// while Check reported problems. A failing package stops the run; the
// packages committed before it stay committed.
func (t *Transaction) Run() (err error) {
	if t.state != StateOrdered {
		return rpmerr.Newf(rpmerr.ErrInvalidState, "cannot run a %s transaction", t.state)
	}
	if err := t.problems.Err(); err != nil {
		return err
	}

	t.state = StateRunning
	defer func() {
		if err != nil {
			t.state = StateFailed
		} else {
			t.state = StateCommitted
		}
	}()

	erased := make(map[uint32]bool)
	for _, e := range t.order {
		switch e.Kind {
		case ElementInstall:
			if err := t.install(e, erased); err != nil {
				return err
			}
		case ElementErase:
			if erased[e.RecordID] {
				continue
			}
			if err := t.erase(e.RecordID, e.Header); err != nil {
				return err
			}
			erased[e.RecordID] = true
		}
	}
	return nil
}

func (t *Transaction) scriptsOff() bool {
	return t.Flags&(FlagNoScripts|FlagJustDB) != 0
}

func installPrefixes(h *header.Header) []string {
	if p := h.String(header.TagInstallPrefix); p != "" {
		return []string{p}
	}
	if p := h.Prefix(); p != "" {
		return []string{p}
	}
	return nil
}

func (t *Transaction) runScript(h *header.Header, which header.Script, arg int) error {
	if t.scriptsOff() {
		return nil
	}
	body, prog := h.Script(which)
	if body == "" && prog == "" {
		return nil
	}
	return t.Scripts.Run(script.Script{
		Name:     which.String(),
		Package:  h.NVR(),
		Body:     body,
		Prog:     strings.Fields(prog),
		Args:     []int{arg},
		Prefixes: installPrefixes(h),
	})
}

// install takes one package through its install steps and then erases
// whatever an upgrade replaces.
func (t *Transaction) install(e *Element, erased map[uint32]bool) error {
	h := e.Header.Copy()
	nvr := h.NVR()
	log := t.Log.With().Str("package", nvr).Logger()

	scriptArg := t.DB.CountPackages(h.Name()) + 1

	var old *header.Header
	var oldID uint32
	it := t.DB.InitIterator(header.TagName, h.Name())
	it.SetVersion(h.Version())
	it.SetRelease(h.Release())
	if oh := it.Next(); oh != nil {
		old, oldID = oh, it.Offset()
		scriptArg--
	}
	if err := it.Close(); err != nil {
		return err
	}

	files := e.files
	if files == nil && h.FileCount() > 0 {
		files = fileplan.BuildRecords(h, fileplan.BuildOptions{Prefix: e.Prefix, IDs: t.IDs})
	}
	if e.Prefix != "" && h.Prefix() != "" {
		paths := make([]string, len(files))
		for i := range files {
			paths[i] = files[i].RelativePath
		}
		h.SetFileNames(paths)
		h.SetString(header.TagInstallPrefix, e.Prefix)
	}

	if t.Flags&FlagTest != 0 {
		log.Debug().Int("files", len(files)).Msg("test mode, not installing")
		return nil
	}

	t.notify(Event{Kind: EventInstallStart, Package: nvr, Total: h.Size()})
	log.Info().Int("scriptArg", scriptArg).Msg("installing")

	if err := t.runScript(h, header.ScriptPre, scriptArg); err != nil {
		return err
	}

	if t.Flags&FlagJustDB != 0 {
		h.SetFileStates(fileplan.NewPlanner(nil).States(files))
		h.SetInt32(header.TagInstallTime, int32(time.Now().Unix()))
	} else if err := t.unpack(e, h, files); err != nil {
		return err
	}

	if old != nil {
		if err := t.DB.Remove(oldID); err != nil {
			return err
		}
		if t.Flags&FlagMultilib != 0 {
			log.Debug().Str("arch", old.Arch()).Msg("merging into installed multilib package")
			merged, err := mergeMultilib(old, h, files)
			if err != nil {
				return err
			}
			h = merged
		}
	}

	id, err := t.DB.Add(h)
	if err != nil {
		return err
	}

	if err := t.runScript(h, header.ScriptPost, scriptArg); err != nil {
		return err
	}

	if err := t.runTriggers(id, h, triggerIn, 0); err != nil {
		return err
	}

	shared := e.shared
	if old != nil {
		shared = slices.DeleteFunc(slices.Clone(shared), func(s fileplan.SharedFile) bool { return s.OwnerID == oldID })
	}
	if err := t.markReplaced(shared); err != nil {
		return err
	}
	t.notify(Event{Kind: EventInstallStop, Package: nvr, Amount: h.Size(), Total: h.Size()})

	if !e.Upgrade {
		return nil
	}
	ids := make([]uint32, 0, len(e.replacing))
	for rid := range e.replacing {
		ids = append(ids, rid)
	}
	slices.Sort(ids)
	for _, rid := range ids {
		if erased[rid] {
			continue
		}
		oh, err := t.DB.Get(rid)
		if err != nil {
			continue
		}
		log.Info().Str("replaces", oh.NVR()).Msg("erasing upgraded package")
		if err := t.erase(rid, oh); err != nil {
			return err
		}
		erased[rid] = true
	}
	return nil
}

// unpack runs the file steps inside the root: disposition, unpack and the
// per-file states. The root is left again on every path out.
func (t *Transaction) unpack(e *Element, h *header.Header, files []fileplan.FileRecord) error {
	var payload io.ReadCloser
	if len(files) > 0 {
		if e.Payload == nil {
			return rpmerr.Newf(rpmerr.ErrInvalidState, "%s has no payload", h.NVR())
		}
		var err error
		if payload, err = e.Payload(); err != nil {
			return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot open payload of %s", h.NVR())
		}
		defer payload.Close()
	}

	planner := fileplan.NewPlanner(t.Rooter.Resolve)
	nvr := h.NVR()
	total := h.Size()
	return chroot.Within(t.Rooter, func() error {
		if err := planner.Prepare(files); err != nil {
			return err
		}
		manifest := fileplan.Manifest(files, t.Rooter.Resolve)
		if len(manifest) > 0 {
			opts := archive.UnpackOptions{
				Chown: os.Geteuid() == 0,
				Progress: func(n int64) {
					t.notify(Event{Kind: EventInstallProgress, Package: nvr, Amount: n, Total: total})
				},
			}
			if err := t.Codec.Unpack(payload, manifest, opts); err != nil {
				return err
			}
		}
		h.SetFileStates(planner.States(files))
		h.SetInt32(header.TagInstallTime, int32(time.Now().Unix()))
		return nil
	})
}

// markReplaced flips the state of files now owned by the new package to
// replaced in the other headers. A header is rewritten only when one of
// its states actually changed.
func (t *Transaction) markReplaced(shared []fileplan.SharedFile) error {
	byOwner := make(map[uint32][]int)
	var owners []uint32
	for _, s := range shared {
		if _, ok := byOwner[s.OwnerID]; !ok {
			owners = append(owners, s.OwnerID)
		}
		byOwner[s.OwnerID] = append(byOwner[s.OwnerID], s.OwnerFileIndex)
	}
	slices.Sort(owners)

	for _, id := range owners {
		oh, err := t.DB.Get(id)
		if err != nil {
			continue
		}
		states := oh.FileStates()
		changed := false
		for _, i := range byOwner[id] {
			if i < len(states) && states[i] != header.StateReplaced {
				states[i] = header.StateReplaced
				changed = true
			}
		}
		if !changed {
			continue
		}
		oh.SetFileStates(states)
		if err := t.DB.Update(id, oh); err != nil {
			return err
		}
	}
	return nil
}
