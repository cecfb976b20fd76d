package macro

import (
	"sort"
)

// Definition levels. Lower levels are shadowed by higher ones; transient
// argument bindings live above LevelGlobal at the depth of the call that
// created them.
const (
	LevelDefault    = -15
	LevelMacroFiles = -13
	LevelRPMRC      = -11
	LevelCmdline    = -7
	LevelTarball    = -5
	LevelSpec       = -3
	LevelOldSpec    = -1
	LevelGlobal     = 0
)

const chunkSize = 16

// Entry is one definition frame. Frames for the same name are linked
// through Prev, newest first.
type Entry struct {
	Prev       *Entry
	Name       string
	Opts       string
	Parametric bool
	Body       string
	Level      int
	Used       int
}

// Table is a name-sorted array of definition stacks. Slots past firstFree
// are unused capacity; a slot whose last frame is popped is compacted away
// on the next sort.
type Table struct {
	slots     []*Entry
	firstFree int
}

func newTable() *Table {
	return &Table{}
}

// Len is the number of distinct names currently defined.
func (t *Table) Len() int { return t.firstFree }

// Allocated is the current slot capacity.
func (t *Table) Allocated() int { return len(t.slots) }

func (t *Table) index(name string) int {
	if t.firstFree == 0 {
		return -1
	}
	i := sort.Search(t.firstFree, func(i int) bool {
		return t.slots[i].Name >= name
	})
	if i < t.firstFree && t.slots[i].Name == name {
		return i
	}
	return -1
}

// Find returns the visible frame for name, or nil.
func (t *Table) Find(name string) *Entry {
	if i := t.index(name); i >= 0 {
		return t.slots[i]
	}
	return nil
}

// Push defines name at level, shadowing any existing frame.
func (t *Table) Push(name, opts string, parametric bool, body string, level int) {
	e := &Entry{
		Name:       name,
		Opts:       opts,
		Parametric: parametric,
		Body:       body,
		Level:      level,
	}
	if i := t.index(name); i >= 0 {
		e.Prev = t.slots[i]
		t.slots[i] = e
		return
	}
	if t.firstFree == len(t.slots) {
		t.grow()
	}
	t.slots[t.firstFree] = e
	t.firstFree++
	t.sort()
}

// Pop removes the top frame for name. Popping an unknown name is a no-op.
func (t *Table) Pop(name string) {
	i := t.index(name)
	if i < 0 {
		return
	}
	t.slots[i] = t.slots[i].Prev
	if t.slots[i] == nil {
		t.sort()
	}
}

// PopAtOrAbove drops every top frame whose level is >= minLevel and
// returns how many frames were removed.
func (t *Table) PopAtOrAbove(minLevel int) int {
	popped := 0
	emptied := false
	for i := 0; i < t.firstFree; i++ {
		for t.slots[i] != nil && t.slots[i].Level >= minLevel {
			t.slots[i] = t.slots[i].Prev
			popped++
		}
		if t.slots[i] == nil {
			emptied = true
		}
	}
	if emptied {
		t.sort()
	}
	return popped
}

// Entries returns the visible frames in name order.
func (t *Table) Entries() []*Entry {
	out := make([]*Entry, 0, t.firstFree)
	for i := 0; i < t.firstFree; i++ {
		if t.slots[i] != nil {
			out = append(out, t.slots[i])
		}
	}
	return out
}

func (t *Table) grow() {
	slots := make([]*Entry, len(t.slots)+chunkSize)
	copy(slots, t.slots)
	t.slots = slots
}

// sort orders live slots by name, moves emptied slots to the end and
// resets firstFree to the first empty slot.
func (t *Table) sort() {
	live := t.slots[:t.firstFree]
	sort.SliceStable(live, func(i, j int) bool {
		a, b := live[i], live[j]
		if a == nil || b == nil {
			return a != nil
		}
		return a.Name < b.Name
	})
	for i := 0; i < t.firstFree; i++ {
		if t.slots[i] == nil {
			t.firstFree = i
			break
		}
	}
}

func (t *Table) clone() *Table {
	c := &Table{slots: make([]*Entry, len(t.slots)), firstFree: t.firstFree}
	for i := 0; i < t.firstFree; i++ {
		c.slots[i] = cloneStack(t.slots[i])
	}
	return c
}

func cloneStack(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Prev = cloneStack(e.Prev)
	return &cp
}
