package spec

import (
	"fmt"
	"strconv"
	"strings"

	"rpmkit/internal/header"
)

// Attrs are the mode and ownership a %defattr or %attr sets. A negative
// mode and an empty name mean "as found on disk".
type Attrs struct {
	Mode    int
	DirMode int
	User    string
	Group   string
}

var unsetAttrs = Attrs{Mode: -1, DirMode: -1}

// over returns a with every unset field taken from def.
func (a Attrs) over(def Attrs) Attrs {
	if a.Mode < 0 {
		a.Mode = def.Mode
	}
	if a.DirMode < 0 {
		a.DirMode = def.DirMode
	}
	if a.User == "" {
		a.User = def.User
	}
	if a.Group == "" {
		a.Group = def.Group
	}
	return a
}

// FileEntry is one path of a %files section with its directives
// resolved. Path may be a glob; relative paths only occur for %doc.
type FileEntry struct {
	Path  string
	Attrs Attrs
	Flags header.FileFlags
	// Dir packages the directory itself without its contents.
	Dir bool
}

// ParseFiles interprets %files lines. %defattr carries over to later
// lines; everything else applies to its own line.
func ParseFiles(lines []string) ([]FileEntry, error) {
	def := unsetAttrs
	var out []FileEntry
	for n, line := range lines {
		entries, err := parseFileLine(line, &def)
		if err != nil {
			return nil, fmt.Errorf("%%files line %d: %w", n+1, err)
		}
		out = append(out, entries...)
	}
	return out, nil
}

// directive splits "%name(args)" into name and args.
func directive(tok string) (name, args string, hasArgs bool) {
	i := strings.IndexByte(tok, '(')
	if i < 0 {
		return tok, "", false
	}
	return tok[:i], strings.TrimSuffix(tok[i+1:], ")"), true
}

// fileTokens splits a line on blanks, keeping "%attr(a, b, c)" whole.
func fileTokens(line string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	depth := 0
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unmatched ) in %q", line)
			}
		case (c == ' ' || c == '\t') && depth == 0:
			if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
			continue
		}
		cur.WriteByte(c)
	}
	if depth != 0 {
		return nil, fmt.Errorf("unmatched ( in %q", line)
	}
	if cur.Len() > 0 {
		toks = append(toks, cur.String())
	}
	return toks, nil
}

func parseAttrs(args string, withDirMode bool) (Attrs, error) {
	a := unsetAttrs
	fields := strings.Split(args, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) < 3 || len(fields) > 4 || (len(fields) == 4 && !withDirMode) {
		return a, fmt.Errorf("bad syntax: (%s)", args)
	}
	var err error
	if a.Mode, err = parseMode(fields[0]); err != nil {
		return a, err
	}
	if fields[1] != "-" {
		a.User = fields[1]
	}
	if fields[2] != "-" {
		a.Group = fields[2]
	}
	if len(fields) == 4 {
		if a.DirMode, err = parseMode(fields[3]); err != nil {
			return a, err
		}
	}
	return a, nil
}

func parseMode(s string) (int, error) {
	if s == "-" {
		return -1, nil
	}
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil || m > 0o7777 {
		return -1, fmt.Errorf("bad mode spec: %s", s)
	}
	return int(m), nil
}

func parseFileLine(line string, def *Attrs) ([]FileEntry, error) {
	toks, err := fileTokens(line)
	if err != nil {
		return nil, err
	}
	var (
		attrs = unsetAttrs
		flags header.FileFlags
		dir   bool
		paths []string
	)
	for _, tok := range toks {
		if !strings.HasPrefix(tok, "%") {
			paths = append(paths, tok)
			continue
		}
		name, args, hasArgs := directive(tok)
		switch name {
		case "%defattr":
			if *def, err = parseAttrs(args, true); err != nil {
				return nil, fmt.Errorf("%%defattr: %w", err)
			}
		case "%attr":
			if attrs, err = parseAttrs(args, false); err != nil {
				return nil, fmt.Errorf("%%attr: %w", err)
			}
		case "%config":
			flags |= header.FileConfig
			if hasArgs {
				for _, opt := range splitList(args) {
					switch opt {
					case "noreplace":
						flags |= header.FileNoReplace
					case "missingok":
						flags |= header.FileMissingOK
					default:
						return nil, fmt.Errorf("invalid %%config token: %s", opt)
					}
				}
			}
		case "%doc":
			flags |= header.FileDoc
		case "%license":
			flags |= header.FileLicense | header.FileDoc
		case "%readme":
			flags |= header.FileReadme
		case "%ghost":
			flags |= header.FileGhost
		case "%dir":
			dir = true
		case "%verify", "%lang":
		default:
			return nil, fmt.Errorf("unknown directive %s", tok)
		}
	}

	if len(paths) == 0 {
		return nil, nil
	}
	if len(paths) > 1 && flags&header.FileDoc == 0 {
		return nil, fmt.Errorf("two files on one line: %s", paths[0])
	}
	out := make([]FileEntry, 0, len(paths))
	for _, p := range paths {
		if !strings.HasPrefix(p, "/") && flags&header.FileDoc == 0 {
			return nil, fmt.Errorf("file must begin with \"/\": %s", p)
		}
		out = append(out, FileEntry{Path: p, Attrs: attrs.over(*def), Flags: flags, Dir: dir})
	}
	return out, nil
}
