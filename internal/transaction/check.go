package transaction

import (
	"io/fs"
	"slices"
	"strings"

	"rpmkit/internal/depset"
	"rpmkit/internal/fileplan"
	"rpmkit/internal/header"
	"rpmkit/internal/rpmdb"
	"rpmkit/internal/rpmerr"
)

// world answers dependency questions against the system as it will look
// after the transaction: the database minus erasures plus additions.
type world struct {
	db     *rpmdb.DB
	added  []*Element
	erased map[uint32]bool
	cache  map[uint32]*header.Header
}

func newWorld(db *rpmdb.DB) *world {
	return &world{db: db, erased: make(map[uint32]bool), cache: make(map[uint32]*header.Header)}
}

func (w *world) header(id uint32) *header.Header {
	if h, ok := w.cache[id]; ok {
		return h
	}
	h, err := w.db.Get(id)
	if err != nil {
		return nil
	}
	w.cache[id] = h
	return h
}

// provides reports whether h satisfies r by name, by a provide or, for a
// path, by shipping the file.
func provides(h *header.Header, r depset.Record) bool {
	if depset.Hits(r, h.Name(), h.EVR(), h.Records(depset.Provides)) {
		return true
	}
	return r.IsFile() && slices.Contains(h.FileNames(), r.Name)
}

func (w *world) satisfied(r depset.Record) bool {
	if strings.HasPrefix(r.Name, "rpmlib(") {
		return true
	}
	for _, e := range w.added {
		if provides(e.Header, r) {
			return true
		}
	}
	for _, m := range w.db.Lookup(header.TagName, r.Name) {
		if h := w.header(m.ID); !w.erased[m.ID] && h != nil && r.SatisfiedBy(h.EVR()) {
			return true
		}
	}
	for _, m := range w.db.Lookup(header.TagProvideName, r.Name) {
		h := w.header(m.ID)
		if w.erased[m.ID] || h == nil {
			continue
		}
		provs := h.Records(depset.Provides)
		if m.Index < len(provs) {
			p := provs[m.Index]
			if depset.RangesOverlap(p.Name, p.Version, p.Flags, r.Name, r.Version, r.Flags) {
				return true
			}
		}
	}
	if r.IsFile() {
		for _, m := range w.db.Lookup(header.TagOldFilenames, r.Name) {
			if !w.erased[m.ID] {
				return true
			}
		}
	}
	return false
}

// Check looks for unmet requirements, conflicts, file conflicts and
// packages that cannot be installed as asked. Problems the filter drops
// are not reported. Check may be repeated until the transaction runs.
func (t *Transaction) Check() (Problems, error) {
	if t.state != StateCreated && t.state != StateChecked {
		return nil, rpmerr.Newf(rpmerr.ErrInvalidState, "cannot check a %s transaction", t.state)
	}
	w := newWorld(t.DB)
	var problems Problems
	report := func(p Problem) {
		if !t.Filter.drops(p.Kind) {
			problems = append(problems, p)
		}
	}

	for _, e := range t.elements {
		if e.Kind == ElementErase {
			w.erased[e.RecordID] = true
		}
	}
	for _, e := range t.elements {
		if e.Kind != ElementInstall {
			continue
		}
		w.added = append(w.added, e)
		t.checkInstalled(e, w, report)
		for id := range e.replacing {
			w.erased[id] = true
		}
	}

	for _, e := range w.added {
		t.checkDeps(e, w, report)
	}
	t.checkErasures(w, report)

	if err := t.checkFiles(w, report); err != nil {
		return nil, err
	}

	t.problems = problems
	t.state = StateChecked
	t.Log.Debug().Int("elements", len(t.elements)).Int("problems", len(problems)).Msg("transaction checked")
	return problems, nil
}

// checkInstalled compares e against installed packages of the same name
// and works out which records an upgrade replaces.
func (t *Transaction) checkInstalled(e *Element, w *world, report func(Problem)) {
	h := e.Header
	nvr := h.NVR()
	e.replacing = make(map[uint32]bool)

	if arch := h.Arch(); len(t.Arches) > 0 && arch != "" && arch != "noarch" && !slices.Contains(t.Arches, arch) {
		report(Problem{Kind: ProblemBadArch, Package: nvr})
	}

	for _, m := range t.DB.Lookup(header.TagName, h.Name()) {
		old := w.header(m.ID)
		if old == nil || w.erased[m.ID] {
			continue
		}
		cmp := depset.CompareEVR(old.EVR(), h.EVR())
		switch {
		case cmp == 0:
			if t.Flags&FlagMultilib != 0 && old.Arch() != h.Arch() {
				continue
			}
			report(Problem{Kind: ProblemPkgInstalled, Package: nvr})
		case e.Upgrade:
			if cmp > 0 {
				report(Problem{Kind: ProblemOldPackage, Package: nvr, Other: old.NVR()})
			}
			e.replacing[m.ID] = true
		}
	}

	if !e.Upgrade {
		return
	}
	for _, r := range h.Records(depset.Obsoletes) {
		for _, m := range t.DB.Lookup(header.TagName, r.Name) {
			old := w.header(m.ID)
			if old != nil && r.SatisfiedBy(old.EVR()) && old.NVR() != nvr {
				t.Log.Debug().Str("package", nvr).Str("obsoletes", old.NVR()).Msg("obsoleted package will be erased")
				e.replacing[m.ID] = true
			}
		}
	}
}

func (t *Transaction) checkDeps(e *Element, w *world, report func(Problem)) {
	h := e.Header
	nvr := h.NVR()
	for _, r := range h.Records(depset.Requires) {
		if !w.satisfied(r) {
			report(Problem{Kind: ProblemRequires, Package: nvr, Dep: r})
		}
	}

	// what e conflicts with
	for _, r := range h.Records(depset.Conflicts) {
		for _, other := range w.added {
			if other != e && provides(other.Header, r) {
				report(Problem{Kind: ProblemConflict, Package: nvr, Dep: r, Other: other.NVR()})
			}
		}
		for _, m := range t.DB.Lookup(header.TagName, r.Name) {
			if old := w.header(m.ID); old != nil && !w.erased[m.ID] && provides(old, r) {
				report(Problem{Kind: ProblemConflict, Package: nvr, Dep: r, Other: old.NVR()})
			}
		}
	}

	// what installed packages say they conflict with
	keys := []string{h.Name()}
	for _, p := range h.Records(depset.Provides) {
		keys = append(keys, p.Name)
	}
	seen := make(map[rpmdb.Match]bool)
	for _, k := range keys {
		for _, m := range t.DB.Lookup(header.TagConflictName, k) {
			old := w.header(m.ID)
			if seen[m] || old == nil || w.erased[m.ID] {
				continue
			}
			seen[m] = true
			cs := old.Records(depset.Conflicts)
			if m.Index < len(cs) && provides(h, cs[m.Index]) {
				report(Problem{Kind: ProblemConflict, Package: old.NVR(), Dep: cs[m.Index], Other: nvr})
			}
		}
	}
}

// checkErasures reports installed packages whose requirements stop being
// met once the erased packages are gone.
func (t *Transaction) checkErasures(w *world, report func(Problem)) {
	ids := make([]uint32, 0, len(w.erased))
	for id := range w.erased {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	seen := make(map[rpmdb.Match]bool)
	for _, id := range ids {
		gone := w.header(id)
		if gone == nil {
			continue
		}
		keys := []string{gone.Name()}
		for _, p := range gone.Records(depset.Provides) {
			keys = append(keys, p.Name)
		}
		keys = append(keys, gone.FileNames()...)
		for _, k := range keys {
			for _, m := range t.DB.Lookup(header.TagRequireName, k) {
				if seen[m] || w.erased[m.ID] {
					continue
				}
				seen[m] = true
				requirer := w.header(m.ID)
				if requirer == nil {
					continue
				}
				reqs := requirer.Records(depset.Requires)
				if m.Index < len(reqs) && !w.satisfied(reqs[m.Index]) {
					report(Problem{Kind: ProblemRequires, Package: requirer.NVR(), Dep: reqs[m.Index], Other: gone.NVR()})
				}
			}
		}
	}
}

// checkFiles builds every install's file records, lets the resolver pick
// their actions and reports paths two packages disagree on.
func (t *Transaction) checkFiles(w *world, report func(Problem)) error {
	type claim struct {
		e *Element
		f *fileplan.FileRecord
	}
	claims := make(map[string]claim)

	for _, e := range w.added {
		h := e.Header
		e.files = fileplan.BuildRecords(h, fileplan.BuildOptions{Prefix: e.Prefix, IDs: t.IDs})
		replacing := make(map[uint32]bool, len(w.erased))
		for id := range w.erased {
			replacing[id] = true
		}
		req := &fileplan.Request{
			Header:       h,
			Files:        e.files,
			Replacing:    replacing,
			ReplaceFiles: t.Filter&FilterReplaceFiles != 0,
			ExcludeDocs:  t.Flags&FlagNoDocs != 0,
			NetShared:    t.NetShared,
		}
		res, err := t.Resolver.Resolve(req)
		if err != nil {
			return rpmerr.Wrapf(err, rpmerr.ErrDatabase, "cannot resolve files of %s", h.NVR())
		}
		e.shared = res.Shared
		for _, c := range res.Conflicts {
			report(Problem{Kind: ProblemFileConflict, Package: h.NVR(), Path: c.Path, Other: c.Owner})
		}

		for i := range e.files {
			f := &e.files[i]
			prev, ok := claims[f.RelativePath]
			if !ok {
				claims[f.RelativePath] = claim{e, f}
				continue
			}
			if prev.e.Header.NVR() != h.NVR() && recordsDiffer(prev.f, f) {
				report(Problem{Kind: ProblemFileConflict, Package: h.NVR(), Path: f.RelativePath, Other: prev.e.NVR()})
			}
		}
	}
	return nil
}

func recordsDiffer(a, b *fileplan.FileRecord) bool {
	am, bm := header.FileMode(a.Mode), header.FileMode(b.Mode)
	if am.Type() != bm.Type() {
		return true
	}
	switch {
	case am.IsRegular():
		return a.Digest != b.Digest
	case am&fs.ModeSymlink != 0:
		return a.LinkTarget != b.LinkTarget
	}
	return false
}

// CheckBuildDeps tests BuildRequires and BuildConflicts of the package
// named nvr against the database alone.
func CheckBuildDeps(db *rpmdb.DB, nvr string, deps *depset.Set) Problems {
	w := newWorld(db)
	var ps Problems
	for _, r := range deps.Requires() {
		if !w.satisfied(r) {
			ps = append(ps, Problem{Kind: ProblemRequires, Package: nvr, Dep: r})
		}
	}
	for _, r := range deps.Conflicts() {
		if w.satisfied(r) {
			ps = append(ps, Problem{Kind: ProblemConflict, Package: nvr, Dep: r})
		}
	}
	return ps
}
