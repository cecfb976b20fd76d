package transaction

import (
	"rpmkit/internal/depset"
	"rpmkit/internal/fileplan"
	"rpmkit/internal/header"
	"rpmkit/internal/rpmerr"
)

// mergeMultilib folds a newly unpacked package into the installed header
// of the same name, version and release. The capability masks are OR-ed,
// files the planner skipped as already present are dropped, SIZE grows by
// the surviving files only, and of the incoming dependencies only
// multilib-flagged ones not already present are kept.
func mergeMultilib(old, h *header.Header, files []fileplan.FileRecord) (*header.Header, error) {
	merged := old.Copy()

	oldMask, _ := old.Int32(header.TagMultilibs)
	newMask, _ := h.Int32(header.TagMultilibs)
	if mask := oldMask | newMask; mask != 0 {
		merged.SetInt32(header.TagMultilibs, mask)
	}

	all := merged.Files()
	incoming := h.Files()
	var added int64
	for i, f := range incoming {
		if i < len(files) && files[i].Action == fileplan.ActionSkipMultilib {
			continue
		}
		all = append(all, f)
		added += f.Size
	}
	states := make([]header.FileState, len(all))
	for i, f := range all {
		states[i] = f.State
	}
	size := merged.Size()
	merged.SetFiles(all)
	merged.SetFileStates(states)
	merged.SetInt32(header.TagSize, int32(size+added))

	for _, c := range []depset.Class{depset.Requires, depset.Provides, depset.Conflicts} {
		have := merged.Records(c)
		for _, r := range h.Records(c) {
			if r.Flags&depset.SenseMultilib == 0 || containsRecord(have, r) {
				continue
			}
			if err := merged.AppendRecord(r); err != nil {
				return nil, rpmerr.Wrapf(err, rpmerr.ErrInvalidState, "cannot merge %s into %s", r.Name, old.NVR())
			}
			have = append(have, r)
		}
	}

	if t, ok := h.Int32(header.TagInstallTime); ok {
		merged.SetInt32(header.TagInstallTime, t)
	}
	return merged, nil
}

func containsRecord(list []depset.Record, r depset.Record) bool {
	for _, x := range list {
		if x.Name == r.Name && x.Flags == r.Flags && x.Version == r.Version {
			return true
		}
	}
	return false
}
