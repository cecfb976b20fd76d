package depset

import (
	"strings"

	"rpmkit/internal/rpmerr"
)

// Field names the header line a dependency list came from.
type Field int

const (
	FieldRequires Field = iota
	FieldPreReq
	FieldProvides
	FieldConflicts
	FieldObsoletes
	FieldBuildRequires
	FieldBuildPreReq
	FieldBuildConflicts
	FieldTriggerIn
	FieldTriggerUn
	FieldTriggerPostUn
)

var fieldNames = map[Field]string{
	FieldRequires:       "Requires",
	FieldPreReq:         "PreReq",
	FieldProvides:       "Provides",
	FieldConflicts:      "Conflicts",
	FieldObsoletes:      "Obsoletes",
	FieldBuildRequires:  "BuildRequires",
	FieldBuildPreReq:    "BuildPreReq",
	FieldBuildConflicts: "BuildConflicts",
	FieldTriggerIn:      "TriggerIn",
	FieldTriggerUn:      "TriggerUn",
	FieldTriggerPostUn:  "TriggerPostUn",
}

func (f Field) String() string { return fieldNames[f] }

// Flags is the class bit a field contributes to every record it yields.
func (f Field) Flags() Sense {
	switch f {
	case FieldProvides:
		return SenseProvides
	case FieldObsoletes:
		return SenseObsoletes
	case FieldConflicts, FieldBuildConflicts:
		return SenseConflicts
	case FieldPreReq, FieldBuildPreReq:
		return SensePrereq
	case FieldTriggerIn:
		return SenseTriggerIn
	case FieldTriggerUn:
		return SenseTriggerUn
	case FieldTriggerPostUn:
		return SenseTriggerPostUn
	}
	return SenseAny
}

type comparison struct {
	token string
	sense Sense
}

// Longer tokens first so "<=" is not read as "<".
var comparisons = []comparison{
	{"<=", SenseLess | SenseEqual},
	{"=<", SenseLess | SenseEqual},
	{"<", SenseLess},
	{"==", SenseEqual},
	{"=", SenseEqual},
	{">=", SenseGreater | SenseEqual},
	{"=>", SenseGreater | SenseEqual},
	{">", SenseGreater},
}

// lookupOp maps an operator token, optionally suffixed with S for a
// serial comparison, to its sense bits.
func lookupOp(tok string) (Sense, bool) {
	var serial Sense
	if len(tok) > 1 && strings.HasSuffix(tok, "S") {
		tok = tok[:len(tok)-1]
		serial = SenseSerial
	}
	for _, c := range comparisons {
		if c.token == tok {
			return c.sense | serial, true
		}
	}
	return 0, false
}

func isSep(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v' || c == ','
}

// tokenize splits a field on whitespace and commas.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r < 0x80 && isSep(byte(r)) })
}

func depError(f Field, format string, args ...any) error {
	return rpmerr.Newf(rpmerr.ErrDependency, format, args...).WithDetail("field", f.String())
}

// ParseField parses a relational field such as
// "foo, bar >= 1.2 /bin/sh baz < 3" and adds every entry to s with the
// field's class bits plus extra. index tags trigger records with their
// script number.
//
// Rejected: tokens that start with anything but an alphanumeric, '_' or
// '/'; paths in Conflicts and Obsoletes; versioned paths; a comparison
// with no version after it; versions on PreReq.
func ParseField(s *Set, f Field, field string, index int, extra Sense) error {
	tagFlags := f.Flags() | extra
	toks := tokenize(field)
	for i := 0; i < len(toks); i++ {
		name := toks[i]
		c := name[0]
		if !(isAlnum(c) || c == '_' || c == '/') {
			return depError(f, "Dependency tokens must begin with alpha-numeric, '_' or '/': %s", field)
		}
		if c == '/' {
			switch f {
			case FieldConflicts, FieldObsoletes, FieldBuildConflicts:
				return depError(f, "File name not permitted: %s", field)
			}
		}

		flags := tagFlags
		version := ""
		if i+1 < len(toks) {
			if sense, ok := lookupOp(toks[i+1]); ok {
				if c == '/' {
					return depError(f, "Versioned file name not permitted: %s", field)
				}
				if f == FieldPreReq || f == FieldBuildPreReq {
					return depError(f, "Version not permitted in %s: %s", f, field)
				}
				flags |= sense
				i++
				if i+1 < len(toks) {
					version = toks[i+1]
					i++
				}
			}
		}
		if flags&SenseMask != 0 && version == "" {
			return depError(f, "Version required: %s", field)
		}
		s.Add(flags, name, version, index)
	}
	return nil
}
