package macro

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
)

// UserMacroPath is the per-user macro file, loaded after the system ones.
func UserMacroPath() string {
	return filepath.Join(xdg.ConfigHome, "rpmkit", "macros")
}

// readLogicalLine reads one logical line. A line continues while it ends
// in a backslash or while a %{ or %( opened on it is still unclosed. With
// escapes the backslash-newline pair is kept for the definition parser;
// without, both are dropped and the lines joined. A # comment starting a
// logical line is always a single line.
func readLogicalLine(r *bufio.Reader, escapes bool) (string, bool, error) {
	var buf strings.Builder
	braces, parens := 0, 0
	read := false
	for {
		line, err := r.ReadString('\n')
		if line == "" && err != nil {
			if err == io.EOF {
				return buf.String(), read, nil
			}
			return buf.String(), read, err
		}
		read = true
		line = strings.TrimRight(line, "\r\n")

		if buf.Len() == 0 && strings.HasPrefix(strings.TrimLeft(line, " \t"), "#") {
			return line, true, nil
		}

		for p := 0; p < len(line); p++ {
			switch line[p] {
			case '\\':
				if p+1 < len(line) {
					p++
				}
			case '%':
				if p+1 < len(line) {
					switch line[p+1] {
					case '{':
						p++
						braces++
					case '(':
						p++
						parens++
					case '%':
						p++
					}
				}
			case '{':
				if braces > 0 {
					braces++
				}
			case '}':
				if braces > 0 {
					braces--
				}
			case '(':
				if parens > 0 {
					parens++
				}
			case ')':
				if parens > 0 {
					parens--
				}
			}
		}

		continued := strings.HasSuffix(line, "\\")
		if !continued && braces == 0 && parens == 0 {
			buf.WriteString(line)
			return buf.String(), true, nil
		}
		if continued && !escapes {
			buf.WriteString(line[:len(line)-1])
		} else {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
		if err == io.EOF {
			return buf.String(), true, nil
		}
	}
}

// LoadReader defines every "%name body" line read from r at level.
func (c *Context) LoadReader(r io.Reader, level int) error {
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, ok, err := readLogicalLine(br, !c.DropEscapes)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		lineNo++
		n := strings.TrimLeft(line, " \t")
		if !strings.HasPrefix(n, "%") {
			continue
		}
		if err := c.DefineMacro(n[1:], level); err != nil {
			c.Log.Warn().Err(err).Int("line", lineNo).Msg("skipping bad macro definition")
		}
	}
}

// LoadFile reads a macro file.
func (c *Context) LoadFile(path string, level int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := c.LoadReader(f, level); err != nil {
		return fmt.Errorf("failed to read macro file %s: %w", path, err)
	}
	return nil
}

// InitMacros loads a colon separated list of macro files at
// LevelMacroFiles. Entries may start with ~/ and may be globs; missing
// files are skipped.
func (c *Context) InitMacros(files string) error {
	for _, entry := range strings.Split(files, ":") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.HasPrefix(entry, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				entry = filepath.Join(home, entry[2:])
			}
		}
		matches, err := filepath.Glob(entry)
		if err != nil {
			return fmt.Errorf("bad macro file pattern %q: %w", entry, err)
		}
		for _, m := range matches {
			if err := c.LoadFile(m, LevelMacroFiles); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return err
			}
			c.Log.Debug().Str("file", m).Msg("loaded macro file")
		}
	}
	return nil
}
