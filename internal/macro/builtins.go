package macro

import (
	"fmt"
	"path"
	"strings"

	"rpmkit/internal/archive"
	"rpmkit/internal/rpmerr"
)

type definition struct {
	name       string
	opts       string
	parametric bool
	body       string
}

func validName(name string) bool {
	return name != "" && (isAlpha(name[0]) || name[0] == '_')
}

// parseDefine reads "name[(opts)] body" from text at i. A body in braces
// is taken verbatim; otherwise it runs to end of line, a backslash
// escaping the next character (so backslash-newline continues it).
func parseDefine(text string, i int) (definition, int, error) {
	var d definition
	for i < len(text) && isBlank(text[i]) {
		i++
	}
	start := i
	for i < len(text) && (isAlnum(text[i]) || text[i] == '_') {
		i++
	}
	d.name = text[start:i]

	if i < len(text) && text[i] == '(' {
		i++
		ostart := i
		for i < len(text) && text[i] != ')' {
			i++
		}
		if i >= len(text) {
			return d, i, parseError("macro %s has unterminated opts", d.name)
		}
		d.opts = text[ostart:i]
		d.parametric = true
		i++
	}

	for i < len(text) && isBlank(text[i]) {
		i++
	}

	if i < len(text) && text[i] == '{' {
		end := matchChar(text, i, '{', '}')
		if end < 0 {
			return d, i, parseError("macro %s has unterminated body", d.name)
		}
		d.body = text[i+1 : end]
		i = end + 1
	} else {
		var b strings.Builder
		for i < len(text) && !isEOL(text[i]) {
			if text[i] == '\\' && i+1 < len(text) {
				i++
			}
			b.WriteByte(text[i])
			i++
		}
		d.body = strings.TrimRight(b.String(), " \t\r\n")
	}

	for i < len(text) && isEOL(text[i]) {
		i++
	}

	if !validName(d.name) {
		return d, i, parseError("macro %s has illegal name (%%define)", d.name)
	}
	if d.body == "" {
		return d, i, parseError("macro %s has empty body", d.name)
	}
	return d, i, nil
}

func parseUndefine(text string, i int) (string, int, error) {
	for i < len(text) && isBlank(text[i]) {
		i++
	}
	start := i
	for i < len(text) && (isAlnum(text[i]) || text[i] == '_') {
		i++
	}
	name := text[start:i]
	for i < len(text) && isEOL(text[i]) {
		i++
	}
	if !validName(name) {
		return name, i, parseError("macro %s has illegal name (%%undefine)", name)
	}
	return name, i, nil
}

// doOutput implements %echo, %warn and %error. %error is fatal.
func (s *state) doOutput(verb, msg string) error {
	expanded, err := s.expandToString(msg)
	if err != nil {
		return err
	}
	switch verb {
	case "error":
		return rpmerr.New(rpmerr.ErrSpec, expanded)
	case "warn":
		s.ctx.Log.Warn().Msg(expanded)
		fmt.Fprintln(s.stderr, expanded)
	default:
		fmt.Fprintln(s.stderr, expanded)
	}
	return nil
}

// doFoo implements the string transforms. The argument is expanded first
// and the transformed result is expanded again into the output.
func (s *state) doFoo(tok *token) error {
	buf := ""
	if tok.hasArg {
		var err error
		if buf, err = s.expandToString(tok.arg); err != nil {
			return err
		}
	}

	var result string
	emit := true

	switch tok.name {
	case "basename":
		result = buf
		if i := strings.LastIndexByte(buf, '/'); i >= 0 {
			result = buf[i+1:]
		}
	case "suffix":
		i := strings.LastIndexByte(buf, '.')
		if i < 0 {
			emit = false
		} else {
			result = buf[i+1:]
		}
	case "expand":
		result = buf
	case "verbose":
		emit = s.ctx.Verbose != tok.negate
		result = buf
	case "url2path", "u2p":
		result = urlPath(buf)
	case "uncompress":
		result = s.uncompressCommand(buf)
	case "S", "P":
		result = buf
		if buf != "" && strings.TrimLeft(buf, "0123456789") == "" {
			if tok.name == "S" {
				result = "%SOURCE" + buf
			} else {
				result = "%PATCH" + buf
			}
		}
	case "F":
		result = "file" + buf + ".file"
	}

	if !emit || result == "" {
		return nil
	}
	return s.recurse(result)
}

// urlPath strips a scheme://host prefix. An empty path is "/".
func urlPath(u string) string {
	p := u
	if i := strings.Index(u, "://"); i >= 0 {
		rest := u[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			p = rest[j:]
		} else {
			p = ""
		}
	}
	if p == "" {
		return "/"
	}
	return path.Clean(p)
}

func (s *state) uncompressCommand(arg string) string {
	file := strings.TrimLeft(arg, " \t")
	if i := strings.IndexAny(file, " \t"); i >= 0 {
		file = file[:i]
	}
	kind, err := archive.DetectFile(file)
	if err != nil {
		s.ctx.Log.Warn().Err(err).Str("file", file).Msg("cannot sniff compression")
		kind = archive.CompressionGzip
	}
	switch kind {
	case archive.CompressionGzip:
		return "%_gzip -dc " + file
	case archive.CompressionBzip2:
		return "%_bzip2 -dc " + file
	case archive.CompressionZip:
		return "%_unzip " + file
	case archive.CompressionXz:
		return "%_xz -dc " + file
	case archive.CompressionZstd:
		return "%_zstd -dc " + file
	default:
		return "%_cat " + file
	}
}

// doShellEscape expands cmd, runs it and writes its output minus
// trailing line endings.
func (s *state) doShellEscape(cmd string) error {
	expanded, err := s.expandToString(cmd)
	if err != nil {
		return err
	}
	if s.ctx.Shell == nil {
		return rpmerr.Newf(rpmerr.ErrScript, "no shell available for %%(%s)", expanded)
	}
	out, err := s.ctx.Shell.Output(expanded)
	if err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrScript, "failed to run %%(%s)", expanded).WithDetail("command", expanded)
	}
	return s.puts(strings.TrimRight(out, "\r\n"))
}
