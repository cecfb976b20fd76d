package macro

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"rpmkit/internal/logging"
	"rpmkit/internal/rpmerr"
)

const (
	// DefaultMaxDepth bounds macro recursion.
	DefaultMaxDepth = 16
	// DefaultCapacity bounds the output of a single Expand call.
	DefaultCapacity = 64 * 1024
)

// ShellRunner runs a %(...) command and returns its standard output.
type ShellRunner interface {
	Output(command string) (string, error)
}

// Context owns a macro table. Expand calls against one Context are
// serialised; use Clone for independent contexts.
type Context struct {
	mu    sync.Mutex
	table *Table

	MaxDepth int
	Capacity int
	Verbose  bool
	Trace    bool

	// DropEscapes makes macro file loading join backslash-continued
	// lines without keeping the backslash-newline pair.
	DropEscapes bool

	Shell ShellRunner
	Out   io.Writer
	Log   zerolog.Logger
}

func NewContext() *Context {
	return &Context{
		table:    newTable(),
		MaxDepth: DefaultMaxDepth,
		Capacity: DefaultCapacity,
		Out:      os.Stderr,
		Log:      logging.GetLogger("macro"),
	}
}

// Add defines a non-parametric macro at level.
func (c *Context) Add(name, body string, level int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table.Push(name, "", false, body, level)
}

// AddWithOpts defines a parametric macro whose arguments are parsed with
// the getopt spec opts.
func (c *Context) AddWithOpts(name, opts, body string, level int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table.Push(name, opts, true, body, level)
}

// Undefine pops the newest definition of name.
func (c *Context) Undefine(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table.Pop(name)
}

// Lookup returns the unexpanded body of the visible definition.
func (c *Context) Lookup(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.table.Find(name); e != nil {
		return e.Body, true
	}
	return "", false
}

func (c *Context) IsDefined(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

// Len is the number of distinct names defined.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.Len()
}

// DefineMacro parses "name[(opts)] body" and defines it at level.
func (c *Context) DefineMacro(text string, level int) error {
	d, _, err := parseDefine(text, 0)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table.Push(d.name, d.opts, d.parametric, d.body, level)
	return nil
}

// Expand rewrites input, returning the expanded text.
func (c *Context) Expand(input string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.newState()
	if err := st.expand(input); err != nil {
		return "", err
	}
	return string(st.out), nil
}

// ExpandN is Expand with an explicit output capacity.
func (c *Context) ExpandN(input string, capacity int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.newState()
	st.limit = capacity
	if err := st.expand(input); err != nil {
		return "", err
	}
	return string(st.out), nil
}

// ExpandNumeric expands input and interprets the result as an integer.
// Values starting with y or Y are 1, n or N are 0; anything unparseable,
// including an unexpanded macro, is 0.
func (c *Context) ExpandNumeric(input string) int64 {
	val, err := c.Expand(input)
	if err != nil || val == "" || val[0] == '%' {
		return 0
	}
	switch val[0] {
	case 'Y', 'y':
		return 1
	case 'N', 'n':
		return 0
	}
	n, err := strconv.ParseInt(val, 0, 64)
	if err != nil {
		return 0
	}
	return n
}

// Clone returns a deep copy with its own table.
func (c *Context) Clone() *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Context{
		table:    c.table.clone(),
		MaxDepth: c.MaxDepth,
		Capacity: c.Capacity,
		Verbose:  c.Verbose,
		Trace:    c.Trace,
		Shell:    c.Shell,
		Out:      c.Out,
		Log:      c.Log,

		DropEscapes: c.DropEscapes,
	}
}

// LoadFrom copies the visible definitions of src into c at level.
func (c *Context) LoadFrom(src *Context, level int) {
	if src == c {
		return
	}
	src.mu.Lock()
	entries := src.table.Entries()
	copies := make([]Entry, len(entries))
	for i, e := range entries {
		copies[i] = *e
	}
	src.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range copies {
		c.table.Push(e.Name, e.Opts, e.Parametric, e.Body, level)
	}
}

// Entries returns a snapshot of the visible definitions in name order.
func (c *Context) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.table.Entries()
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = *e
		out[i].Prev = nil
	}
	return out
}

// Dump writes the table in the %dump format.
func (c *Context) Dump(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dumpTable(w, c.table)
}

func dumpTable(w io.Writer, t *Table) {
	active, empty := 0, 0
	fmt.Fprintln(w, "========================")
	for i := 0; i < t.firstFree; i++ {
		e := t.slots[i]
		if e == nil {
			empty++
			continue
		}
		active++
		mark := ':'
		if e.Used > 0 {
			mark = '='
		}
		fmt.Fprintf(w, "%3d%c %s", e.Level, mark, e.Name)
		if e.Opts != "" {
			fmt.Fprintf(w, "(%s)", e.Opts)
		}
		if e.Body != "" {
			fmt.Fprintf(w, "\t%s", e.Body)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "======================== active %d empty %d\n", active, empty)
}

func (c *Context) newState() *state {
	limit := c.Capacity
	if limit <= 0 {
		limit = DefaultCapacity
	}
	maxDepth := c.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	out := c.Out
	if out == nil {
		out = io.Discard
	}
	return &state{
		ctx:         c,
		table:       c.table,
		limit:       limit,
		maxDepth:    maxDepth,
		stderr:      out,
		macroTrace:  c.Trace,
		expandTrace: c.Trace,
	}
}

func parseError(format string, args ...any) error {
	return rpmerr.Newf(rpmerr.ErrParse, format, args...)
}
