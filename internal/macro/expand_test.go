package macro

import (
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpmkit/internal/rpmerr"
)

type fakeShell struct {
	commands []string
	output   string
	err      error
}

func (f *fakeShell) Output(cmd string) (string, error) {
	f.commands = append(f.commands, cmd)
	return f.output, f.err
}

func newTestContext(t *testing.T) (*Context, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, logs bytes.Buffer
	c := NewContext()
	c.Out = &out
	c.Log = zerolog.New(&logs)
	c.Shell = &fakeShell{}
	return c, &out, &logs
}

func mustExpand(t *testing.T, c *Context, in string) string {
	t.Helper()
	got, err := c.Expand(in)
	require.NoError(t, err, "expanding %q", in)
	return got
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestPercentHandling(t *testing.T) {
	c, _, _ := newTestContext(t)
	tests := []struct{ in, want string }{
		{"100%%", "100%"},
		{"100%", "100%"},
		{"%%{name}", "%{name}"},
		{"50% off", "50% off"},
		{"no macros here", "no macros here"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, mustExpand(t, c, tt.in))
		})
	}
}

func TestUnknownMacrosPassThrough(t *testing.T) {
	c, _, _ := newTestContext(t)
	in := "%{nope} and %nope and %{nope:arg}"
	assert.Equal(t, in, mustExpand(t, c, in))
}

func TestExistenceTestSymmetry(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.Add("foo", "value", LevelGlobal)

	tests := []struct{ in, want string }{
		{"%{?foo:YES}", "YES"},
		{"%{!?foo:YES}", ""},
		{"%{?bar:YES}", ""},
		{"%{!?bar:YES}", "YES"},
		{"%{?foo}", "value"},
		{"%{?bar}", ""},
		{"[%?foo]", "[value]"},
		{"[%!?bar]", "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, mustExpand(t, c, tt.in))
		})
	}
}

func TestSimpleSubstitutionAndNesting(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.Add("name", "foo", LevelSpec)
	c.Add("version", "1.0", LevelSpec)
	c.Add("nv", "%{name}-%{version}", LevelSpec)

	assert.Equal(t, "foo-1.0.tar.gz", mustExpand(t, c, "%{nv}.tar.gz"))
	assert.Equal(t, "foo-1.0", mustExpand(t, c, "%nv"))
}

func TestGlobalVisibleAfterNestedCall(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.Add("setg", "%{global gx %{val}}", LevelGlobal)
	c.Add("val", "1", LevelGlobal)

	assert.Equal(t, "", mustExpand(t, c, "%setg"))

	body, ok := c.Lookup("gx")
	require.True(t, ok)
	assert.Equal(t, "1", body, "global bodies are expanded when defined")

	c.Add("val", "changed", LevelGlobal)
	assert.Equal(t, "1", mustExpand(t, c, "%{gx}"))
}

func TestDefineInsideMacroIsScopedToTheCall(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.Add("setl", "%{define ly 2}[%{ly}]", LevelGlobal)
	c.AddWithOpts("setlp", "", "%{define lz 3}[%{lz}]", LevelGlobal)

	assert.Equal(t, "[2]", mustExpand(t, c, "%{setl}"))
	assert.False(t, c.IsDefined("ly"))

	assert.Equal(t, "[3]", mustExpand(t, c, "%{setlp}"))
	assert.False(t, c.IsDefined("lz"))
}

func TestDefineAtTopLevelPersists(t *testing.T) {
	c, _, _ := newTestContext(t)
	assert.Equal(t, "2", mustExpand(t, c, "%define y 2\n%{y}"))
	assert.True(t, c.IsDefined("y"))

	assert.Equal(t, "x", mustExpand(t, c, "%{define z x}%{z}"))
	body, _ := c.Lookup("z")
	assert.Equal(t, "x", body)
}

func TestDefineBodyIsLazy(t *testing.T) {
	c, _, _ := newTestContext(t)
	mustExpand(t, c, "%define lazy %{late}\n")
	body, _ := c.Lookup("lazy")
	assert.Equal(t, "%{late}", body)

	c.Add("late", "now", LevelGlobal)
	assert.Equal(t, "now", mustExpand(t, c, "%lazy"))
}

func TestUndefine(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.Add("x", "old", LevelGlobal)
	c.Add("x", "new", LevelGlobal)
	assert.Equal(t, "new", mustExpand(t, c, "%x"))
	assert.Equal(t, "old", mustExpand(t, c, "%undefine x\n%x"))
	assert.Equal(t, "%x", mustExpand(t, c, "%{undefine x}%x"))
}

func TestRecursionGuard(t *testing.T) {
	c, _, _ := newTestContext(t)
	require.NoError(t, c.DefineMacro("loop %loop", LevelGlobal))

	_, err := c.Expand("before %loop after")
	require.Error(t, err)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrRecursionLimit))
	depth, ok := rpmerr.Detail(err, "depth")
	require.True(t, ok)
	assert.Equal(t, DefaultMaxDepth+1, depth)

	c.MaxDepth = 2
	c.Add("a", "%b", LevelGlobal)
	c.Add("b", "ok", LevelGlobal)
	assert.Equal(t, "ok", mustExpand(t, c, "%a"))
	c.Add("b", "%c", LevelGlobal)
	c.Add("c", "deep", LevelGlobal)
	_, err = c.Expand("%a")
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrRecursionLimit))
}

func TestParametricArguments(t *testing.T) {
	c, _, _ := newTestContext(t)
	require.NoError(t, c.DefineMacro("greet(n:v) Hello %{-n*} %1 %# [%*] [%**] %0%{-v: loud}", LevelGlobal))

	tests := []struct{ in, want string }{
		{"%greet -n Bob world\n", "Hello Bob world 1 [world] [-n Bob world] greet"},
		{"%greet a -v b\nrest", "Hello  a 2 [a b] [a -v b] greet loudrest"},
		{"%{greet -nBob x y}", "Hello Bob x 2 [x y] [-nBob x y] greet"},
		{"%greet\n", "Hello  %1 0 [] [] greet\n"},
		{"%greet -- -v\n", "Hello  -v 1 [-v] [-- -v] greet"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, mustExpand(t, c, tt.in))
		})
	}
}

func TestPosixOptionParsing(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.AddWithOpts("p", "+a", "%{-a:A}|%*", LevelGlobal)
	assert.Equal(t, "|x -a", mustExpand(t, c, "%p x -a\n"))
	assert.Equal(t, "A|x", mustExpand(t, c, "%p -a x\n"))
}

func TestFlagMacros(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.AddWithOpts("f", "ab", "%{-a:A}%{!-a:noA}%{-b}", LevelGlobal)

	assert.Equal(t, "A", mustExpand(t, c, "%f -a\n"))
	assert.Equal(t, "noA-b", mustExpand(t, c, "%f -b\n"))
	assert.Equal(t, "A-b", mustExpand(t, c, "%f -ab\n"))
	assert.Equal(t, "noA\n", mustExpand(t, c, "%f\n"))
}

func TestUnknownOptionWarnsAndContinues(t *testing.T) {
	c, _, logs := newTestContext(t)
	c.AddWithOpts("f", "a", "%{-a:A}%{!-a:noA}:%1", LevelGlobal)

	assert.Equal(t, "noA:x", mustExpand(t, c, "%f -z x\n"))
	assert.Contains(t, logs.String(), "Unknown option z in f(a)")
}

func TestArgumentBindingsDoNotLeak(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.AddWithOpts("inner", "", "<%1>", LevelGlobal)
	require.NoError(t, c.DefineMacro("outer(x) {%inner a\n[%1]%{-x:X}}", LevelGlobal))

	before := names(c.Entries())
	assert.Equal(t, "<a>[X]X", mustExpand(t, c, "%outer -x X\n"))
	assert.Equal(t, before, names(c.Entries()))

	for _, n := range []string{"0", "1", "*", "**", "#", "-x"} {
		assert.False(t, c.IsDefined(n), n)
	}
}

func TestArgumentsAreExpanded(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.Add("who", "world", LevelGlobal)
	c.AddWithOpts("hi", "", "hi %1", LevelGlobal)
	assert.Equal(t, "hi world", mustExpand(t, c, "%hi %{who}\n"))
}

func TestStringBuiltins(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.Add("SOURCE1", "foo-1.0.tar.gz", LevelSpec)
	c.Add("PATCH2", "fix.patch", LevelSpec)
	c.Add("x", "7", LevelGlobal)
	c.Verbose = false

	tests := []struct{ in, want string }{
		{"%{basename:/usr/src/foo-1.0.tar.gz}", "foo-1.0.tar.gz"},
		{"%{basename:plain}", "plain"},
		{"%{suffix:foo-1.0.tar.gz}", "gz"},
		{"%{suffix:noext}", ""},
		{"%{expand:%%{x}}", "7"},
		{"%{S:1}", "foo-1.0.tar.gz"},
		{"%{S:name}", "name"},
		{"%{P:2}", "fix.patch"},
		{"%{F:spec}", "filespec.file"},
		{"%{verbose:loud}", ""},
		{"%{!verbose:quiet}", "quiet"},
		{"%{url2path:http://example.com/pub/foo.tar.gz}", "/pub/foo.tar.gz"},
		{"%{u2p:ftp://example.com}", "/"},
		{"%{u2p:/local/path}", "/local/path"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, mustExpand(t, c, tt.in))
		})
	}

	c.Verbose = true
	assert.Equal(t, "loud", mustExpand(t, c, "%{verbose:loud}"))
}

func TestUncompressSniffsMagic(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.Add("_cat", "/bin/cat", LevelDefault)
	c.Add("_gzip", "/bin/gzip", LevelDefault)
	c.Add("_bzip2", "/bin/bzip2", LevelDefault)

	dir := t.TempDir()
	plain := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(plain, []byte("hello"), 0o644))

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, _ = w.Write([]byte("hello"))
	require.NoError(t, w.Close())
	packed := filepath.Join(dir, "packed.gz")
	require.NoError(t, os.WriteFile(packed, gz.Bytes(), 0o644))

	bz := filepath.Join(dir, "x.bz2")
	require.NoError(t, os.WriteFile(bz, []byte("BZh91AY&SY"), 0o644))

	assert.Equal(t, "/bin/cat "+plain, mustExpand(t, c, "%{uncompress:"+plain+"}"))
	assert.Equal(t, "/bin/gzip -dc "+packed, mustExpand(t, c, "%{uncompress:"+packed+"}"))
	assert.Equal(t, "/bin/bzip2 -dc "+bz, mustExpand(t, c, "%{uncompress:"+bz+"}"))
}

func TestShellEscape(t *testing.T) {
	c, _, _ := newTestContext(t)
	sh := &fakeShell{output: "hello\r\n\n"}
	c.Shell = sh
	c.Add("x", "7", LevelGlobal)

	assert.Equal(t, "[hello]", mustExpand(t, c, "[%(echo %{x})]"))
	assert.Equal(t, []string{"echo 7"}, sh.commands)

	sh.err = errors.New("fork failed")
	_, err := c.Expand("%(true)")
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrScript))
}

func TestParseErrors(t *testing.T) {
	c, _, _ := newTestContext(t)
	for _, in := range []string{"%{foo", "%(echo", "%{}", "%{?}", "%define 1bad x\n", "%define foo(ab body\n", "%define empty\n"} {
		t.Run(in, func(t *testing.T) {
			_, err := c.Expand(in)
			require.Error(t, err)
			assert.True(t, rpmerr.IsCode(err, rpmerr.ErrParse), "got %v", err)
		})
	}
}

func TestDefineMacroText(t *testing.T) {
	c, _, _ := newTestContext(t)
	require.NoError(t, c.DefineMacro("multi line1\\\nline2  ", LevelCmdline))
	body, _ := c.Lookup("multi")
	assert.Equal(t, "line1\nline2", body)

	require.NoError(t, c.DefineMacro("grouped {a b\nc}", LevelCmdline))
	body, _ = c.Lookup("grouped")
	assert.Equal(t, "a b\nc", body)

	require.NoError(t, c.DefineMacro("x 1", LevelCmdline))
	body, _ = c.Lookup("x")
	assert.Equal(t, "1", body)

	require.NoError(t, c.DefineMacro("opt() %*", LevelCmdline))
	assert.Equal(t, "a b", mustExpand(t, c, "%opt a b\n"))

	for _, bad := range []string{"9x y", "(ab) y", "name", "name(a body"} {
		err := c.DefineMacro(bad, LevelCmdline)
		assert.True(t, rpmerr.IsCode(err, rpmerr.ErrParse), bad)
	}
}

func TestOutputCapacityIsEnforced(t *testing.T) {
	c, _, _ := newTestContext(t)
	got, err := c.ExpandN("abc", 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	_, err = c.ExpandN("abcd", 3)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrBufferExhausted))

	c.Add("big", strings.Repeat("x", 10), LevelGlobal)
	_, err = c.ExpandN("%big", 9)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrBufferExhausted))

	c.Shell = &fakeShell{output: "0123456789"}
	_, err = c.ExpandN("%(x)", 5)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrBufferExhausted))
}

func TestOutputVerbs(t *testing.T) {
	c, out, logs := newTestContext(t)
	c.Add("x", "7", LevelGlobal)

	assert.Equal(t, "after", mustExpand(t, c, "%echo value is %{x}\nafter"))
	assert.Equal(t, "", mustExpand(t, c, "%{warn:careful}"))
	assert.Equal(t, "value is 7\ncareful\n", out.String())
	assert.Contains(t, logs.String(), "careful")

	_, err := c.Expand("%{error:broken %{x}}")
	require.Error(t, err)
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrSpec))
	assert.Contains(t, err.Error(), "broken 7")
}

func TestDumpFormat(t *testing.T) {
	c, out, _ := newTestContext(t)
	c.Add("used", "u", LevelGlobal)
	c.AddWithOpts("param", "ab", "p", LevelSpec)
	mustExpand(t, c, "%used")

	mustExpand(t, c, "%dump\n")
	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "========================", lines[0])
	assert.Equal(t, " -3: param(ab)\tp", lines[1])
	assert.Equal(t, "  0= used\tu", lines[2])
	assert.Equal(t, "======================== active 2 empty 0", lines[3])
}

func TestTraceOutput(t *testing.T) {
	c, out, _ := newTestContext(t)
	c.Add("x", "7", LevelGlobal)
	assert.Equal(t, "7", mustExpand(t, c, "%{trace}%{x}%{!trace}"))
	assert.Contains(t, out.String(), "  0> %{x}^")
	assert.Contains(t, out.String(), "  1<   7")
}

func TestExpandNumeric(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.Add("yes", "Yes", LevelGlobal)
	c.Add("no", "no", LevelGlobal)
	c.Add("hex", "0x10", LevelGlobal)
	c.Add("num", "42", LevelGlobal)
	c.Add("junk", "12abc", LevelGlobal)

	tests := map[string]int64{
		"%{yes}":     1,
		"%{no}":      0,
		"%{hex}":     16,
		"%{num}":     42,
		"%{junk}":    0,
		"%{missing}": 0,
		"":           0,
	}
	for in, want := range tests {
		assert.Equal(t, want, c.ExpandNumeric(in), in)
	}
}

func TestCloneAndLoadFrom(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.Add("a", "1", LevelGlobal)

	clone := c.Clone()
	clone.Add("a", "2", LevelGlobal)
	clone.Add("b", "3", LevelGlobal)
	assert.Equal(t, "1", mustExpand(t, c, "%a"))
	assert.False(t, c.IsDefined("b"))

	cli := NewContext()
	cli.Add("b", "cli", LevelCmdline)
	c.LoadFrom(cli, LevelCmdline)
	assert.Equal(t, "cli", mustExpand(t, c, "%b"))
	e := c.Entries()
	for _, entry := range e {
		if entry.Name == "b" {
			assert.Equal(t, LevelCmdline, entry.Level)
		}
	}
}

func TestConcurrentExpandIsSerialised(t *testing.T) {
	c, _, _ := newTestContext(t)
	c.AddWithOpts("wrap", "", "<%1>", LevelGlobal)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Expand("%wrap v\n")
			if err == nil && got != "<v>" {
				err = errors.New("unexpected " + got)
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.False(t, c.IsDefined("1"))
}
