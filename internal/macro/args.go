package macro

import (
	"strconv"
	"strings"
)

type optHit struct {
	opt    byte
	hasArg bool
	arg    string
}

// getopt parses argv (without argv[0]) against a getopt spec. Options
// and operands may be interleaved unless opts starts with '+'; "--" ends
// option parsing. Unknown options and missing arguments are returned in
// bad and otherwise ignored.
func getopt(argv []string, opts string) (hits []optHit, operands []string, bad []byte) {
	posix := strings.HasPrefix(opts, "+")
	if posix {
		opts = opts[1:]
	}
	for i := 0; i < len(argv); i++ {
		a := argv[i]
		if a == "--" {
			operands = append(operands, argv[i+1:]...)
			return
		}
		if len(a) < 2 || a[0] != '-' {
			if posix {
				operands = append(operands, argv[i:]...)
				return
			}
			operands = append(operands, a)
			continue
		}
		for j := 1; j < len(a); j++ {
			c := a[j]
			k := strings.IndexByte(opts, c)
			if k < 0 || c == ':' {
				bad = append(bad, c)
				continue
			}
			if k+1 < len(opts) && opts[k+1] == ':' {
				switch {
				case j+1 < len(a):
					hits = append(hits, optHit{opt: c, hasArg: true, arg: a[j+1:]})
				case i+1 < len(argv):
					i++
					hits = append(hits, optHit{opt: c, hasArg: true, arg: argv[i]})
				default:
					bad = append(bad, c)
				}
				break
			}
			hits = append(hits, optHit{opt: c})
		}
	}
	return
}

// bindArgs binds %0, %** (the raw words), %-c, %-c*, %#, %1..%N and %*
// at level. Options and operands come from the expanded argument text.
func (s *state) bindArgs(me *Entry, raw string, level int) error {
	expanded, err := s.expandToString(raw)
	if err != nil {
		return err
	}
	argv := strings.Fields(expanded)

	s.table.Push("0", "", false, me.Name, level)
	s.table.Push("**", "", false, strings.Join(strings.Fields(raw), " "), level)

	hits, operands, bad := getopt(argv, me.Opts)
	for _, c := range bad {
		s.ctx.Log.Warn().Msgf("Unknown option %c in %s(%s)", c, me.Name, me.Opts)
	}
	for _, h := range hits {
		flag := "-" + string(h.opt)
		body := flag
		if h.hasArg {
			body += " " + h.arg
		}
		s.table.Push(flag, "", false, body, level)
		if h.hasArg {
			s.table.Push(flag+"*", "", false, h.arg, level)
		}
	}

	s.table.Push("#", "", false, strconv.Itoa(len(operands)), level)
	for n, a := range operands {
		s.table.Push(strconv.Itoa(n+1), "", false, a, level)
	}
	s.table.Push("*", "", false, strings.Join(operands, " "), level)
	return nil
}
