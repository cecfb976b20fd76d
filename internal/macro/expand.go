package macro

import (
	"io"
	"strings"

	"rpmkit/internal/rpmerr"
)

// state is the per-call expansion state. Nested expansions share it so
// depth and trace settings carry through recursion.
type state struct {
	ctx      *Context
	table    *Table
	out      []byte
	limit    int
	depth    int
	maxDepth int
	stderr   io.Writer

	macroTrace  bool
	expandTrace bool
}

func isBlank(c byte) bool { return c == ' ' || c == '\t' }
func isEOL(c byte) bool   { return c == '\n' || c == '\r' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isAlnum(c byte) bool { return isAlpha(c) || isDigit(c) }

func (s *state) putc(c byte) error {
	if len(s.out) >= s.limit {
		return rpmerr.Newf(rpmerr.ErrBufferExhausted, "target buffer overflow (capacity %d)", s.limit)
	}
	s.out = append(s.out, c)
	return nil
}

func (s *state) puts(str string) error {
	if len(s.out)+len(str) > s.limit {
		return rpmerr.Newf(rpmerr.ErrBufferExhausted, "target buffer overflow (capacity %d)", s.limit)
	}
	s.out = append(s.out, str...)
	return nil
}

// recurse expands text one level deeper into the current output.
func (s *state) recurse(text string) error {
	s.depth++
	defer func() { s.depth-- }()
	if s.depth > s.maxDepth {
		return rpmerr.Newf(rpmerr.ErrRecursionLimit, "recursion depth(%d) greater than max(%d)", s.depth, s.maxDepth).
			WithDetail("depth", s.depth)
	}
	return s.expand(text)
}

// expandToString runs recurse into a scratch buffer of the same capacity
// and returns what it produced.
func (s *state) expandToString(text string) (string, error) {
	savedOut, savedLimit := s.out, s.limit
	s.out = make([]byte, 0, len(text))
	s.limit = s.ctx.Capacity
	if s.limit <= 0 {
		s.limit = DefaultCapacity
	}
	err := s.recurse(text)
	result := string(s.out)
	s.out, s.limit = savedOut, savedLimit
	return result, err
}

// matchChar returns the index of the pr that closes the pl at start,
// honouring backslash escapes and nesting, or -1.
func matchChar(text string, start int, pl, pr byte) int {
	lvl := 0
	for i := start; i < len(text); i++ {
		c := text[i]
		if c == '\\' {
			i++
			continue
		}
		if c == pr {
			lvl--
			if lvl <= 0 {
				return i
			}
		} else if c == pl {
			lvl++
		}
	}
	return -1
}

// token is one parsed %-construct.
type token struct {
	name     string
	negate   bool
	chkexist bool
	hasArg   bool   // a :X clause was present
	arg      string // the X in %{name:X}
	hasArgs  bool   // blank after the name: getopt arguments follow
	args     string
	braced   bool
	text     string // source text of the whole construct, for tracing
}

// expand is the main rewriting loop.
func (s *state) expand(text string) error {
	start := len(s.out)
	i := 0
	for i < len(text) {
		c := text[i]
		if c != '%' {
			if err := s.putc(c); err != nil {
				return err
			}
			i++
			continue
		}
		i++
		if i >= len(text) {
			// lone trailing %
			if err := s.putc('%'); err != nil {
				return err
			}
			break
		}

		var tok token
		var next int

		switch text[i] {
		case '%':
			if err := s.putc('%'); err != nil {
				return err
			}
			i++
			continue

		case '(':
			end := matchChar(text, i, '(', ')')
			if end < 0 {
				return parseError("unterminated (: %s", text[i:])
			}
			if s.macroTrace {
				s.printMacro(text[i:], end+1-i)
			}
			if err := s.doShellEscape(text[i+1 : end]); err != nil {
				return err
			}
			i = end + 1
			continue

		case '{':
			end := matchChar(text, i, '{', '}')
			if end < 0 {
				return parseError("unterminated {: %s", text[i:])
			}
			tok = parseBraced(text[i+1 : end])
			tok.text = text[i : end+1]
			next = end + 1
			if tok.name == "" {
				return parseError("empty macro name: %s", tok.text)
			}

		default:
			tok, next = parseBare(text, i)
			if tok.name == "" {
				// %<something unparseable>: keep the percent, carry on
				if err := s.putc('%'); err != nil {
					return err
				}
				i = next
				continue
			}
		}

		if s.macroTrace {
			s.printMacro(text[i:], next-i)
		}

		n, err := s.dispatch(&tok, text, i, next)
		if err != nil {
			return err
		}
		i = n
	}

	if s.expandTrace {
		s.printExpansion(s.out[start:])
	}
	return nil
}

// parseBraced splits the inside of %{...}.
func parseBraced(inner string) token {
	tok := token{braced: true}
	f := 0
	for f < len(inner) && (inner[f] == '!' || inner[f] == '?') {
		if inner[f] == '!' {
			tok.negate = !tok.negate
		} else {
			tok.chkexist = true
		}
		f++
	}
	fe := f
	for fe < len(inner) && inner[fe] != ' ' && inner[fe] != ':' {
		fe++
	}
	tok.name = inner[f:fe]
	if fe < len(inner) {
		switch inner[fe] {
		case ':':
			tok.hasArg = true
			tok.arg = inner[fe+1:]
		case ' ':
			tok.hasArgs = true
			tok.args = inner[fe+1:]
		}
	}
	return tok
}

// parseBare parses %name starting at i (just past the %). It returns the
// index the scan resumes at, which for macros taking line arguments is
// decided later by dispatch.
func parseBare(text string, i int) (token, int) {
	var tok token
	for i < len(text) && (text[i] == '!' || text[i] == '?') {
		if text[i] == '!' {
			tok.negate = !tok.negate
		} else {
			tok.chkexist = true
		}
		i++
	}
	f := i
	se := i
	if se < len(text) && text[se] == '-' {
		se++
	}
	for se < len(text) && (isAlnum(text[se]) || text[se] == '_') {
		se++
	}
	if se < len(text) {
		switch text[se] {
		case '*':
			se++
			if se < len(text) && text[se] == '*' {
				se++
			}
		case '#':
			se++
		}
	}
	tok.name = text[f:se]
	if tok.name == "-" {
		tok.name = ""
		return tok, f
	}
	if se < len(text) && isBlank(text[se]) {
		tok.hasArgs = true
		eol := strings.IndexByte(text[se:], '\n')
		if eol < 0 {
			tok.args = text[se:]
		} else {
			tok.args = text[se : se+eol]
		}
	}
	tok.text = text[f:se]
	return tok, se
}

// lineEnd returns the index just past the arguments that begin at
// nameEnd: past the newline if there is one, else end of text.
func lineEnd(text string, nameEnd int) int {
	eol := strings.IndexByte(text[nameEnd:], '\n')
	if eol < 0 {
		return len(text)
	}
	return nameEnd + eol + 1
}

// dispatch handles one parsed token and returns where scanning resumes.
func (s *state) dispatch(tok *token, text string, at, next int) (int, error) {
	switch tok.name {
	case "global", "define":
		var d definition
		var err error
		if tok.braced {
			d, _, err = parseDefine(tok.args, 0)
		} else {
			d, next, err = parseDefine(text, next)
		}
		if err != nil {
			return next, err
		}
		level := s.depth
		if tok.name == "global" {
			level = LevelGlobal
			body, err := s.expandToString(d.body)
			if err != nil {
				return next, rpmerr.Wrapf(err, rpmerr.ErrParse, "macro %s failed to expand", d.name)
			}
			d.body = body
		}
		s.table.Push(d.name, d.opts, d.parametric, d.body, level)
		return next, nil

	case "undefine":
		var name string
		var err error
		if tok.braced {
			name, _, err = parseUndefine(tok.args, 0)
		} else {
			name, next, err = parseUndefine(text, next)
		}
		if err != nil {
			return next, err
		}
		s.table.Pop(name)
		return next, nil

	case "echo", "warn", "error":
		msg := ""
		switch {
		case tok.hasArg:
			msg = tok.arg
		case tok.hasArgs:
			msg = strings.TrimLeft(tok.args, " \t")
			if !tok.braced {
				next = lineEnd(text, next)
			}
		}
		return next, s.doOutput(tok.name, msg)

	case "trace":
		s.macroTrace = !tok.negate
		s.expandTrace = !tok.negate
		return next, nil

	case "dump":
		dumpTable(s.stderr, s.table)
		for next < len(text) && isEOL(text[next]) {
			next++
		}
		return next, nil

	case "basename", "suffix", "expand", "verbose", "uncompress", "url2path", "u2p", "S", "P", "F":
		return next, s.doFoo(tok)
	}

	me := s.table.Find(tok.name)

	if strings.HasPrefix(tok.name, "-") {
		if me != nil {
			me.Used++
		}
		if (me == nil && !tok.negate) || (me != nil && tok.negate) {
			return next, nil
		}
		if tok.hasArg && tok.arg != "" {
			return next, s.recurse(tok.arg)
		}
		if me != nil && me.Body != "" {
			return next, s.recurse(me.Body)
		}
		return next, nil
	}

	if tok.chkexist {
		if me != nil {
			me.Used++
		}
		if (me == nil && !tok.negate) || (me != nil && tok.negate) {
			return next, nil
		}
		if tok.hasArg && tok.arg != "" {
			return next, s.recurse(tok.arg)
		}
		if me != nil && me.Body != "" {
			return next, s.recurse(me.Body)
		}
		return next, nil
	}

	if me == nil {
		// Unknown macros are emitted verbatim for downstream consumers.
		if err := s.putc('%'); err != nil {
			return next, err
		}
		return at, nil
	}

	return s.invoke(me, tok, text, next)
}

// invoke expands a user macro one level deeper. Anything bound at that
// level, including arguments and nested %define's, is dropped afterwards.
func (s *state) invoke(me *Entry, tok *token, text string, next int) (int, error) {
	frame := s.depth + 1
	defer s.table.PopAtOrAbove(frame)

	if me.Parametric {
		if tok.hasArgs {
			if !tok.braced {
				next = lineEnd(text, next)
			}
			if err := s.bindArgs(me, tok.args, frame); err != nil {
				return next, err
			}
		} else {
			s.table.Push("**", "", false, "", frame)
			s.table.Push("*", "", false, "", frame)
			s.table.Push("#", "", false, "0", frame)
			s.table.Push("0", "", false, me.Name, frame)
		}
	}

	if me.Body != "" {
		if err := s.recurse(me.Body); err != nil {
			return next, err
		}
		me.Used++
	}
	return next, nil
}
