package macro

import (
	"fmt"
	"strings"
)

// printMacro shows the construct being expanded with a caret after it,
// followed by the rest of its line.
func (s *state) printMacro(text string, n int) {
	if n > len(text) {
		n = len(text)
	}
	rest := text[n:]
	if i := strings.IndexAny(rest, "\r\n"); i >= 0 {
		rest = rest[:i]
	}
	ellipsis := ""
	choplen := 61 - 2*s.depth
	if choplen < 0 {
		choplen = 0
	}
	if n+len(rest) > choplen {
		keep := choplen - n
		if keep < 0 {
			keep = 0
		}
		if keep < len(rest) {
			rest = rest[:keep]
			ellipsis = "..."
		}
	}
	fmt.Fprintf(s.stderr, "%3d>%*s%%%s^", s.depth, 2*s.depth+1, "", text[:n])
	if rest != "" {
		fmt.Fprintf(s.stderr, "%s%s", rest, ellipsis)
	}
	fmt.Fprintln(s.stderr)
}

// printExpansion shows what one level produced; nested levels only show
// their last line.
func (s *state) printExpansion(out []byte) {
	t := strings.TrimRight(string(out), "\r\n")
	if t == "" {
		fmt.Fprintf(s.stderr, "%3d<%*s(empty)\n", s.depth, 2*s.depth+1, "")
		return
	}
	ellipsis := ""
	if s.depth > 0 {
		if i := strings.LastIndexByte(t, '\n'); i >= 0 {
			t = t[i+1:]
		}
		choplen := 61 - 2*s.depth
		if choplen < 0 {
			choplen = 0
		}
		if len(t) > choplen {
			t = t[:choplen]
			ellipsis = "..."
		}
	}
	fmt.Fprintf(s.stderr, "%3d<%*s%s%s\n", s.depth, 2*s.depth+1, "", t, ellipsis)
}
