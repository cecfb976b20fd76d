package spec

import (
	"bufio"
	"io"
	"strings"

	"rpmkit/internal/macro"
	"rpmkit/internal/rpmerr"
)

// ifFrame is one open conditional.
type ifFrame struct {
	// outer is whether lines were being read when the %if was met.
	outer bool
	// taken is the branch result of the %if itself.
	taken   bool
	sawElse bool
	line    int
}

// reader hands out expanded logical lines, resolving conditionals on the
// way. Lines ending in a backslash are joined with the next one.
type reader struct {
	sc     *bufio.Scanner
	macros *macro.Context
	arch   string
	os     string

	lineNum  int
	lastLine int
	ifs      []ifFrame
	pending  *string
}

func newReader(r io.Reader, macros *macro.Context, arch, os string) *reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &reader{sc: sc, macros: macros, arch: arch, os: os}
}

func (r *reader) errorf(format string, args ...any) error {
	return lineError(r.lastLine, format, args...)
}

func lineError(line int, format string, args ...any) error {
	args = append([]any{line}, args...)
	return rpmerr.Newf(rpmerr.ErrSpec, "line %d: "+format, args...).WithDetail("line", line)
}

func (r *reader) reading() bool {
	return len(r.ifs) == 0 || (r.ifs[len(r.ifs)-1].outer && r.ifs[len(r.ifs)-1].branch())
}

func (f ifFrame) branch() bool {
	if f.sawElse {
		return !f.taken
	}
	return f.taken
}

// physical returns the next joined line and the number of its first
// physical line.
func (r *reader) physical() (string, bool) {
	if !r.sc.Scan() {
		return "", false
	}
	r.lineNum++
	first := r.lineNum
	line := r.sc.Text()
	for strings.HasSuffix(line, "\\") && r.sc.Scan() {
		r.lineNum++
		line += "\n" + r.sc.Text()
	}
	r.lastLine = first
	return line, true
}

// unread pushes an expanded line back for the next call to next.
func (r *reader) unread(line string) {
	r.pending = &line
}

// next returns the next line that is not skipped by a conditional, macro
// expanded. ok is false at end of input.
func (r *reader) next() (line string, ok bool, err error) {
	if r.pending != nil {
		line, r.pending = *r.pending, nil
		return line, true, nil
	}
	for {
		raw, more := r.physical()
		if !more {
			if err := r.sc.Err(); err != nil {
				return "", false, rpmerr.Wrap(err, rpmerr.ErrSpec, "read failed")
			}
			if len(r.ifs) > 0 {
				return "", false, lineError(r.ifs[len(r.ifs)-1].line, "Unclosed %%if")
			}
			return "", false, nil
		}

		trimmed := strings.TrimLeft(raw, " \t")
		word, rest := splitWord(trimmed)
		if handled, err := r.conditional(word, rest); handled || err != nil {
			if err != nil {
				return "", false, err
			}
			continue
		}
		if !r.reading() {
			continue
		}

		expanded, err := r.macros.Expand(raw)
		if err != nil {
			return "", false, lineError(r.lastLine, "%v", err)
		}
		return expanded, true, nil
	}
}

// conditional handles %if-family lines. Conditions in skipped branches
// are not expanded.
func (r *reader) conditional(word, rest string) (bool, error) {
	switch word {
	case "%if", "%ifarch", "%ifnarch", "%ifos", "%ifnos":
	case "%else":
		if len(r.ifs) == 0 {
			return true, r.errorf("Got a %%else with no %%if")
		}
		top := &r.ifs[len(r.ifs)-1]
		if top.sawElse {
			return true, r.errorf("Got a second %%else for the %%if on line %d", top.line)
		}
		top.sawElse = true
		return true, nil
	case "%endif":
		if len(r.ifs) == 0 {
			return true, r.errorf("Got a %%endif with no %%if")
		}
		r.ifs = r.ifs[:len(r.ifs)-1]
		return true, nil
	default:
		return false, nil
	}

	frame := ifFrame{outer: r.reading(), line: r.lastLine}
	if frame.outer {
		expanded, err := r.macros.Expand(rest)
		if err != nil {
			return true, lineError(r.lastLine, "%v", err)
		}
		switch word {
		case "%if":
			ok, err := evalCondition(strings.TrimSpace(expanded))
			if err != nil {
				return true, r.errorf("%s: %v", word, err)
			}
			frame.taken = ok
		case "%ifarch":
			frame.taken = listHas(expanded, r.arch)
		case "%ifnarch":
			frame.taken = !listHas(expanded, r.arch)
		case "%ifos":
			frame.taken = listHas(expanded, r.os)
		case "%ifnos":
			frame.taken = !listHas(expanded, r.os)
		}
	}
	r.ifs = append(r.ifs, frame)
	return true, nil
}

// listHas matches want against a whitespace or comma separated list.
func listHas(list, want string) bool {
	for _, f := range splitList(list) {
		if f == want {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '\t' || r == ',' || r == '\n' })
}

// splitWord returns the first blank-delimited word of s and the remainder.
func splitWord(s string) (string, string) {
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}
