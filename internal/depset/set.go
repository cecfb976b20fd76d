package depset

// Class selects one of the dependency lists a Set keeps.
type Class int

const (
	Requires Class = iota
	Provides
	Conflicts
	Obsoletes
	Triggers
)

func (c Class) String() string {
	switch c {
	case Provides:
		return "Provides"
	case Conflicts:
		return "Conflicts"
	case Obsoletes:
		return "Obsoletes"
	case Triggers:
		return "Triggers"
	default:
		return "Requires"
	}
}

// ClassOf derives the list a flag word belongs to.
func ClassOf(flags Sense) Class {
	switch {
	case flags&SenseProvides != 0:
		return Provides
	case flags&SenseObsoletes != 0:
		return Obsoletes
	case flags&SenseConflicts != 0:
		return Conflicts
	case flags&SensePrereq != 0:
		return Requires
	case flags&SenseTrigger != 0:
		return Triggers
	}
	return Requires
}

// normalize keeps the comparison bits plus the one class bit that
// selected the list, and the multilib marker.
func normalize(flags Sense) Sense {
	var extra Sense
	switch ClassOf(flags) {
	case Provides:
		extra = SenseProvides
	case Obsoletes:
		extra = SenseObsoletes
	case Conflicts:
		extra = SenseConflicts
	case Triggers:
		extra = flags & SenseTrigger
	default:
		extra = flags & SensePrereq
	}
	return flags&SenseMask | extra | flags&SenseMultilib
}

// Set is the ordered dependency bookkeeping of one package.
type Set struct {
	lists [5][]Record
}

// Add appends a dependency unless an identical record (name, flags,
// version and, for triggers, index) is already present. It reports
// whether the set grew.
func (s *Set) Add(flags Sense, name, version string, index int) bool {
	flags = normalize(flags)
	class := ClassOf(flags)
	if class != Triggers {
		index = 0
	}
	list := s.lists[class]
	for i := len(list) - 1; i >= 0; i-- {
		r := list[i]
		if r.Name == name && r.Flags == flags && r.Version == version && r.Index == index {
			return false
		}
	}
	s.lists[class] = append(list, Record{Name: name, Flags: flags, Version: version, Index: index})
	return true
}

// AddRecord is Add for an existing record.
func (s *Set) AddRecord(r Record) bool {
	return s.Add(r.Flags, r.Name, r.Version, r.Index)
}

// List returns the records of one class in insertion order.
func (s *Set) List(c Class) []Record {
	return s.lists[c]
}

func (s *Set) Requires() []Record  { return s.lists[Requires] }
func (s *Set) Provides() []Record  { return s.lists[Provides] }
func (s *Set) Conflicts() []Record { return s.lists[Conflicts] }
func (s *Set) Obsoletes() []Record { return s.lists[Obsoletes] }
func (s *Set) Triggers() []Record  { return s.lists[Triggers] }

// PreReqs are the requirements that also constrain install order.
func (s *Set) PreReqs() []Record {
	var out []Record
	for _, r := range s.lists[Requires] {
		if r.Flags&SensePrereq != 0 {
			out = append(out, r)
		}
	}
	return out
}

// Len counts every record.
func (s *Set) Len() int {
	n := 0
	for _, l := range s.lists {
		n += len(l)
	}
	return n
}

// Conflicting returns the records in c that are hit by a package named
// name with the given EVR and provides.
func (s *Set) Conflicting(name string, evr EVR, provides []Record) []Record {
	var hits []Record
	for _, c := range s.lists[Conflicts] {
		if Hits(c, name, evr, provides) {
			hits = append(hits, c)
		}
	}
	return hits
}

// Hits reports whether dependency d is satisfied by a package with the
// given name, EVR and provides. Provides are compared by range overlap.
func Hits(d Record, name string, evr EVR, provides []Record) bool {
	if d.Name == name && d.SatisfiedBy(evr) {
		return true
	}
	for _, p := range provides {
		if RangesOverlap(p.Name, p.Version, p.Flags, d.Name, d.Version, d.Flags) {
			return true
		}
	}
	return false
}
