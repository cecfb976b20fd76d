package rpmkit

import (
	"bytes"
	"flag"
	"io"
	"testing"

	"github.com/gookit/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpmkit/internal/depset"
	"rpmkit/internal/rpmerr"
	"rpmkit/internal/transaction"
)

func init() {
	color.Disable()
}

func TestSplitMode(t *testing.T) {
	tests := []struct {
		args  []string
		name  string
		stage byte
		rest  []string
	}{
		{[]string{"-ba", "foo.spec"}, "b", 'a', []string{"foo.spec"}},
		{[]string{"-tp", "foo.tar.gz"}, "t", 'p', []string{"foo.tar.gz"}},
		{[]string{"-Uvh", "a.rpm"}, "U", 0, []string{"-v", "-h", "a.rpm"}},
		{[]string{"-qpl", "a.rpm"}, "q", 0, []string{"-p", "-l", "a.rpm"}},
		{[]string{"-e", "foo"}, "e", 0, []string{"foo"}},
		{[]string{"--install", "a.rpm"}, "i", 0, []string{"a.rpm"}},
		{[]string{"--resign", "a.rpm"}, "addsign", 0, []string{"a.rpm"}},
		{[]string{"--showrc"}, "showrc", 0, []string{}},
	}
	for _, tt := range tests {
		m, err := splitMode(tt.args)
		require.NoError(t, err, tt.args)
		assert.Equal(t, tt.name, m.name, tt.args)
		assert.Equal(t, tt.stage, m.stage, tt.args)
		if len(tt.rest) == 0 {
			assert.Empty(t, m.args, tt.args)
		} else {
			assert.Equal(t, tt.rest, m.args, tt.args)
		}
	}
}

func TestSplitModeRejects(t *testing.T) {
	for _, args := range [][]string{nil, {"foo"}, {"-bx"}, {"-b"}, {"--frobnicate"}, {"-z"}} {
		_, err := splitMode(args)
		assert.Error(t, err, args)
	}
}

func TestParseArgsInterspersed(t *testing.T) {
	var c common
	var nodeps bool
	fs := newFlagSet("test", &c, io.Discard)
	fs.BoolVar(&nodeps, "nodeps", false, "")

	operands, err := parseArgs(fs, []string{"a.rpm", "--nodeps", "b.rpm", "-D", "foo bar", "-v", "-v"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.rpm", "b.rpm"}, operands)
	assert.True(t, nodeps)
	assert.Equal(t, stringList{"foo bar"}, c.defines)
	assert.Equal(t, 2, c.verbosity)
}

func TestParseArgsUnknownFlag(t *testing.T) {
	var c common
	fs := newFlagSet("test", &c, io.Discard)
	_, err := parseArgs(fs, []string{"--bogus"})
	assert.Error(t, err)
}

func TestReportErrorListsProblems(t *testing.T) {
	ps := transaction.Problems{
		{Kind: transaction.ProblemRequires, Package: "foo-1-1", Dep: depset.Record{Name: "bar", Flags: depset.SenseGreater | depset.SenseEqual, Version: "2"}},
		{Kind: transaction.ProblemRequires, Package: "foo-1-1", Dep: depset.Record{Name: "baz"}},
	}
	var buf bytes.Buffer
	reportError(&buf, ps.Err())
	assert.Equal(t, "error: Failed dependencies:\n\tbar >= 2 is needed by foo-1-1\n\tbaz is needed by foo-1-1\n", buf.String())
}

func TestReportErrorPlain(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, rpmerr.New(rpmerr.ErrNotFound, "package foo is not installed"))
	assert.Contains(t, buf.String(), "error: ")
	assert.Contains(t, buf.String(), "package foo is not installed")

	buf.Reset()
	reportError(&buf, flag.ErrHelp)
	assert.Empty(t, buf.String())
}
