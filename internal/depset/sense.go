package depset

import (
	"fmt"
	"strings"
)

// Sense is the flag word stored with each dependency: a comparison in the
// low bits and the dependency class above it.
type Sense uint32

const (
	SenseAny       Sense = 0
	SenseSerial    Sense = 1 << 0
	SenseLess      Sense = 1 << 1
	SenseGreater   Sense = 1 << 2
	SenseEqual     Sense = 1 << 3
	SenseProvides  Sense = 1 << 4
	SenseConflicts Sense = 1 << 5
	SensePrereq    Sense = 1 << 6
	SenseObsoletes Sense = 1 << 7

	SenseTriggerIn     Sense = 1 << 16
	SenseTriggerUn     Sense = 1 << 17
	SenseTriggerPostUn Sense = 1 << 18
	SenseMultilib      Sense = 1 << 19

	SenseMask    = SenseSerial | SenseLess | SenseGreater | SenseEqual
	SenseTrigger = SenseTriggerIn | SenseTriggerUn | SenseTriggerPostUn
)

// Op renders the comparison bits the way dependency listings show them,
// e.g. ">=" or "<S". Unversioned dependencies give "".
func (s Sense) Op() string {
	var b strings.Builder
	if s&SenseLess != 0 {
		b.WriteByte('<')
	}
	if s&SenseGreater != 0 {
		b.WriteByte('>')
	}
	if s&SenseEqual != 0 {
		b.WriteByte('=')
	}
	if s&SenseSerial != 0 {
		b.WriteByte('S')
	}
	return b.String()
}

// Record is one dependency.
type Record struct {
	Name    string
	Flags   Sense
	Version string
	// Index links a trigger dependency to its script; 0 otherwise.
	Index int
}

func (r Record) String() string {
	op := r.Flags.Op()
	if op == "" || r.Version == "" {
		return r.Name
	}
	return fmt.Sprintf("%s %s %s", r.Name, op, r.Version)
}

// Versioned reports whether the record carries a comparison.
func (r Record) Versioned() bool {
	return r.Flags&SenseMask != 0 && r.Version != ""
}

// IsFile reports whether the name is a path.
func (r Record) IsFile() bool {
	return strings.HasPrefix(r.Name, "/")
}
