package header

import "rpmkit/internal/depset"

type depTags struct {
	name, flags, version, index Tag
}

var depTagsOf = map[depset.Class]depTags{
	depset.Requires:  {TagRequireName, TagRequireFlags, TagRequireVersion, 0},
	depset.Provides:  {TagProvideName, TagProvideFlags, TagProvideVersion, 0},
	depset.Conflicts: {TagConflictName, TagConflictFlags, TagConflictVersion, 0},
	depset.Obsoletes: {TagObsoleteName, TagObsoleteFlags, TagObsoleteVersion, 0},
	depset.Triggers:  {TagTriggerName, TagTriggerFlags, TagTriggerVersion, TagTriggerIndex},
}

var depClasses = []depset.Class{depset.Requires, depset.Provides, depset.Conflicts, depset.Obsoletes, depset.Triggers}

// DepTags returns the name, flags and version tags of a dependency class.
func DepTags(c depset.Class) (name, flags, version Tag) {
	t := depTagsOf[c]
	return t.name, t.flags, t.version
}

// Records reads one class of dependencies.
func (h *Header) Records(c depset.Class) []depset.Record {
	t := depTagsOf[c]
	names := h.Strings(t.name)
	flags := h.Int32s(t.flags)
	versions := h.Strings(t.version)
	var index []int32
	if t.index != 0 {
		index = h.Int32s(t.index)
	}
	out := make([]depset.Record, len(names))
	for i, n := range names {
		out[i] = depset.Record{
			Name:    n,
			Flags:   depset.Sense(uint32(int32At(flags, i))),
			Version: strAt(versions, i),
			Index:   int(int32At(index, i)),
		}
	}
	return out
}

// Dependencies rebuilds the dependency set stored in the header.
func (h *Header) Dependencies() *depset.Set {
	s := &depset.Set{}
	for _, c := range depClasses {
		for _, r := range h.Records(c) {
			s.AddRecord(r)
		}
	}
	return s
}

// SetDependencies replaces every dependency array with the content of s.
func (h *Header) SetDependencies(s *depset.Set) {
	for _, c := range depClasses {
		h.setRecords(c, s.List(c))
	}
}

func (h *Header) setRecords(c depset.Class, recs []depset.Record) {
	t := depTagsOf[c]
	if len(recs) == 0 {
		h.Delete(t.name)
		h.Delete(t.flags)
		h.Delete(t.version)
		if t.index != 0 {
			h.Delete(t.index)
		}
		return
	}
	names := make([]string, len(recs))
	flags := make([]int32, len(recs))
	versions := make([]string, len(recs))
	index := make([]int32, len(recs))
	for i, r := range recs {
		names[i] = r.Name
		flags[i] = int32(r.Flags)
		versions[i] = r.Version
		index[i] = int32(r.Index)
	}
	h.SetStrings(t.name, names)
	h.SetInt32s(t.flags, flags)
	h.SetStrings(t.version, versions)
	if t.index != 0 {
		h.SetInt32s(t.index, index)
	}
}

// AppendRecord adds one dependency to the end of its class arrays.
func (h *Header) AppendRecord(r depset.Record) error {
	t := depTagsOf[depset.ClassOf(r.Flags)]
	if err := h.AddOrAppend(t.name, ArrayValue(r.Name)); err != nil {
		return err
	}
	if err := h.AddOrAppend(t.flags, IntValue(int32(r.Flags))); err != nil {
		return err
	}
	if err := h.AddOrAppend(t.version, ArrayValue(r.Version)); err != nil {
		return err
	}
	if t.index != 0 {
		return h.AddOrAppend(t.index, IntValue(int32(r.Index)))
	}
	return nil
}

// Provides lists what the package provides, with the package itself
// first as "name = [epoch:]version-release".
func (h *Header) Provides() []depset.Record {
	self := depset.Record{
		Name:    h.Name(),
		Flags:   depset.SenseProvides | depset.SenseEqual,
		Version: h.EVR().String(),
	}
	return append([]depset.Record{self}, h.Records(depset.Provides)...)
}
