package spec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpmkit/internal/depset"
	"rpmkit/internal/header"
	"rpmkit/internal/macro"
	"rpmkit/internal/rpmerr"
)

func testMacros(t *testing.T) *macro.Context {
	t.Helper()
	c := macro.NewContext()
	c.Log = zerolog.Nop()
	c.Add("_sourcedir", t.TempDir(), macro.LevelDefault)
	c.Add("_builddir", "/build", macro.LevelDefault)
	return c
}

func parseString(t *testing.T, text string, opts Options) (*Spec, error) {
	t.Helper()
	if opts.Macros == nil {
		opts.Macros = testMacros(t)
	}
	nop := zerolog.Nop()
	opts.Log = &nop
	return Parse(strings.NewReader(text), "test.spec", opts)
}

const basicSpec = `# a comment
Name: foo
Version: 1.0
Release: 3
Summary: The foo tool
License: MIT
Group: Utilities
Source0: http://example.com/%{name}-%{version}.tar.gz
Patch1: foo-fix.patch
Requires: bar >= 2.0, baz
Provides: footool
BuildRequires: make

%description
Foo does things.

%package devel
Summary: Headers for foo
Requires: foo = %{version}

%description devel
Headers.

%prep
echo prep

%build
make

%install
mkdir -p %{buildroot}/usr/bin

%clean
rm -rf %{buildroot}

%post
echo post

%postun -p /sbin/ldconfig

%files
%defattr(-,root,root)
/usr/bin/foo
%doc README

%files devel
/usr/include/foo.h

%changelog
* Mon Jan 01 2024 Someone <a@b.c> 1.0-3
- first
`

func TestParseBasicSpec(t *testing.T) {
	s, err := parseString(t, basicSpec, Options{BuildRoot: "/tmp/foo-root"})
	require.NoError(t, err)

	require.Len(t, s.Packages, 2)
	main := s.Main()
	assert.Equal(t, "foo-1.0-3", main.Header.NVR())
	assert.Equal(t, "The foo tool", main.Header.String(header.TagSummary))
	assert.Equal(t, "Foo does things.", main.Header.String(header.TagDescription))

	devel := s.Package("foo-devel")
	require.NotNil(t, devel)
	assert.Equal(t, "foo-devel-1.0-3", devel.Header.NVR())
	assert.Equal(t, "MIT", devel.Header.String(header.TagLicense))
	assert.Equal(t, "Headers for foo", devel.Header.String(header.TagSummary))
	assert.Equal(t, "Utilities", devel.Header.String(header.TagGroup))
	assert.Equal(t, "Headers.", devel.Header.String(header.TagDescription))

	reqs := main.Header.Dependencies().Requires()
	require.Len(t, reqs, 2)
	assert.Equal(t, "bar >= 2.0", reqs[0].String())
	assert.Equal(t, "baz", reqs[1].String())
	assert.Equal(t, "foo = 1.0", devel.Header.Dependencies().Requires()[0].String())
	assert.Len(t, s.BuildDeps.Requires(), 1)

	assert.Equal(t, "echo prep\n", s.Prep)
	assert.Equal(t, "make\n", s.Build)
	assert.Equal(t, "mkdir -p /tmp/foo-root/usr/bin\n", s.Install)
	assert.Equal(t, "rm -rf /tmp/foo-root\n", s.Clean)
	assert.Equal(t, "/tmp/foo-root", s.BuildRoot)

	body, prog := main.Header.Script(header.ScriptPost)
	assert.Equal(t, "echo post\n", body)
	assert.Equal(t, header.DefaultInterpreter, prog)
	body, prog = main.Header.Script(header.ScriptPostUn)
	assert.Empty(t, body)
	assert.Equal(t, "/sbin/ldconfig", prog)

	assert.True(t, main.HasFiles)
	assert.Equal(t, []string{"%defattr(-,root,root)", "/usr/bin/foo", "%doc README"}, main.Files)
	assert.Equal(t, []string{"/usr/include/foo.h"}, devel.Files)

	assert.Contains(t, s.Changelog, "- first")
	assert.Equal(t, s.Changelog, main.Header.String(header.TagChangelog))

	require.Len(t, s.Sources, 2)
	assert.Equal(t, "foo-1.0.tar.gz", s.Sources[0].FileName())
	assert.Equal(t, []string{"foo-1.0.tar.gz"}, main.Header.Strings(header.TagSource))
	assert.Equal(t, []string{"foo-fix.patch"}, main.Header.Strings(header.TagPatch))
	src, ok := s.FindSource(1, true)
	require.True(t, ok)
	assert.Equal(t, "foo-fix.patch", src.Path)

	dir, _ := s.Macros.Lookup("_sourcedir")
	assert.Equal(t, dir+"/foo-1.0.tar.gz", s.SourcePath(s.Sources[0]))
	got, err := s.Macros.Expand("%{SOURCE0} %{PATCH1}")
	require.NoError(t, err)
	assert.Equal(t, dir+"/foo-1.0.tar.gz "+dir+"/foo-fix.patch", got)
}

func TestDefaultBuildRoot(t *testing.T) {
	m := testMacros(t)
	m.Add("_tmppath", "/scratch", macro.LevelDefault)
	s, err := parseString(t, "Name: a\nVersion: 2\nRelease: 1\n%install\necho %{buildroot}\n", Options{Macros: m})
	require.NoError(t, err)
	assert.Equal(t, "/scratch/a-2-root", s.BuildRoot)
	assert.Equal(t, "echo /scratch/a-2-root\n", s.Install)

	s, err = parseString(t, "Name: a\nVersion: 2\nRelease: 1\nBuildRoot: /br/\n", Options{})
	require.NoError(t, err)
	assert.Equal(t, "/br", s.BuildRoot)
}

func TestConditionals(t *testing.T) {
	text := `Name: c
Version: 1
Release: 1
%define with_x 1
%if %{with_x}
Summary: with x
%else
Summary: without x
%endif
%ifarch sparc alpha
Requires: sparcstuff
%else
%if 2 > 1 && "a" == "a"
Requires: other
%endif
%endif
%ifnos linux
Requires: notlinux
%endif
%if 0
%if %{undefined_macro_with %{garbage
%endif
%endif
`
	s, err := parseString(t, text, Options{Arch: "x86_64", OS: "linux"})
	require.NoError(t, err)
	h := s.Main().Header
	assert.Equal(t, "with x", h.String(header.TagSummary))
	reqs := h.Dependencies().Requires()
	require.Len(t, reqs, 1)
	assert.Equal(t, "other", reqs[0].Name)

	s, err = parseString(t, text, Options{Arch: "sparc", OS: "irix"})
	require.NoError(t, err)
	var names []string
	for _, r := range s.Main().Header.Dependencies().Requires() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"sparcstuff", "notlinux"}, names)
}

func TestParseErrors(t *testing.T) {
	const head = "Name: e\nVersion: 1\nRelease: 1\n"
	tests := []struct {
		name string
		text string
		msg  string
		line int
	}{
		{"missing name", "Version: 1\nRelease: 1\n", "Name field must be present", 0},
		{"missing release", "Name: e\nVersion: 1\n", "Release field must be present", 0},
		{"unknown tag", head + "Frobnicate: yes\n", "Unknown tag: Frobnicate", 4},
		{"not a tag", head + "just words\n", "Unknown tag", 4},
		{"empty tag", head + "Summary:\n", "Empty tag", 4},
		{"dash in version", "Name: e\nVersion: 1-2\n", "Illegal char '-' in Version", 2},
		{"bad epoch", head + "Epoch: x\n", "must be a number", 4},
		{"else without if", head + "%else\n", "Got a %else with no %if", 4},
		{"endif without if", head + "%endif\n", "Got a %endif with no %if", 4},
		{"second else", head + "%if 1\n%else\n%else\n%endif\n", "second %else for the %if on line 4", 6},
		{"unclosed if", head + "%if 1\nSummary: s\n", "Unclosed %if", 4},
		{"second description", head + "%description\na\n%description\nb\n", "Second description", 6},
		{"no such package", head + "%description other\nx\n", "Package does not exist: e-other", 4},
		{"duplicate package", head + "%package x\n%package x\n", "Package already exists: e-x", 5},
		{"second post", head + "%post\na\n%post\nb\n", "Second %post", 6},
		{"relative prog", head + "%post -p sh\n", "must begin with '/'", 4},
		{"trigger without dashes", head + "%triggerin bar\n", "No \"--\"", 4},
		{"second files", head + "%files\n/a\n%files\n/b\n", "Second %files list", 6},
		{"bad files line", head + "%files\n/a /b\n", "two files on one line", 5},
		{"name in subpackage", head + "%package x\nName: y\n", "not allowed in sub-package", 5},
		{"duplicate source", head + "Source0: a\nSource: b\n", "Duplicate source number: 0", 5},
		{"nosource unknown", head + "NoSource: 3\n", "Bad nosource number: 3", 4},
		{"bad condition", head + "%if 1 +\n%endif\n", "%if", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseString(t, tt.text, Options{})
			require.Error(t, err)
			assert.True(t, rpmerr.IsCode(err, rpmerr.ErrSpec), "code of %v", err)
			assert.Contains(t, err.Error(), tt.msg)
			if tt.line > 0 {
				line, ok := rpmerr.Detail(err, "line")
				require.True(t, ok)
				assert.Equal(t, tt.line, line)
			}
		})
	}
}

func TestLineContinuation(t *testing.T) {
	s, err := parseString(t, "Name: l\nVersion: 1\nRelease: 1\n%build\n./configure \\\n  --prefix=/usr\nmake\n", Options{})
	require.NoError(t, err)
	assert.Equal(t, "./configure \\\n  --prefix=/usr\nmake\n", s.Build)
}

func TestSpecDefinesAreVisible(t *testing.T) {
	m := testMacros(t)
	s, err := parseString(t, "%define ver 4.2\nName: d\nVersion: %{ver}\nRelease: 1\n", Options{Macros: m})
	require.NoError(t, err)
	assert.Equal(t, "4.2", s.Main().Header.Version())
	v, ok := m.Lookup("version")
	require.True(t, ok)
	assert.Equal(t, "4.2", v)
}

func TestExclusiveArch(t *testing.T) {
	text := "Name: x\nVersion: 1\nRelease: 1\nExclusiveArch: i386 sparc\nExcludeOS: hpux\n"
	_, err := parseString(t, text, Options{Arch: "x86_64"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Architecture is not included: x86_64")

	_, err = parseString(t, text, Options{Arch: "x86_64", Force: true})
	require.NoError(t, err)

	s, err := parseString(t, text, Options{Arch: "sparc", OS: "linux"})
	require.NoError(t, err)
	assert.Equal(t, []string{"i386", "sparc"}, s.Main().Header.Strings(header.TagExclusiveArch))

	_, err = parseString(t, text, Options{Arch: "sparc", OS: "hpux"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OS is excluded: hpux")
}

func TestTriggers(t *testing.T) {
	text := `Name: t
Version: 1
Release: 1
%triggerin -- bar >= 1.0
echo in
%triggerpostun -n other -p /bin/bash -- baz
echo postun
%package -n other
Summary: other
`
	_, err := parseString(t, text, Options{})
	require.Error(t, err, "trigger for a package declared later")

	text = `Name: t
Version: 1
Release: 1
%package -n other
Summary: other
%triggerin -- bar >= 1.0
echo in
%triggerpostun -n other -p /bin/bash -- baz
echo postun
%triggerun -- bar, qux
echo un
`
	s, err := parseString(t, text, Options{})
	require.NoError(t, err)

	main := s.Main().Header
	trig := main.Dependencies().Triggers()
	require.Len(t, trig, 3)
	assert.Equal(t, "bar >= 1.0", trig[0].String())
	assert.NotZero(t, trig[0].Flags&depset.SenseTriggerIn)
	assert.Equal(t, 0, trig[0].Index)
	assert.Equal(t, 1, trig[1].Index)
	assert.NotZero(t, trig[1].Flags&depset.SenseTriggerUn)
	assert.Equal(t, "qux", trig[2].Name)
	body, prog := main.TriggerScript(1)
	assert.Equal(t, "echo un\n", body)
	assert.Equal(t, header.DefaultInterpreter, prog)

	other := s.Package("other").Header
	trig = other.Dependencies().Triggers()
	require.Len(t, trig, 1)
	assert.NotZero(t, trig[0].Flags&depset.SenseTriggerPostUn)
	body, prog = other.TriggerScript(0)
	assert.Equal(t, "echo postun\n", body)
	assert.Equal(t, "/bin/bash", prog)
}

func TestSetupAndPatch(t *testing.T) {
	m := testMacros(t)
	dir, _ := m.Lookup("_sourcedir")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo-1.0.tar"), []byte("plain tar"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.tar"), []byte("plain tar"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fix.patch"), []byte("--- a\n+++ b\n"), 0o644))

	text := `Name: foo
Version: 1.0
Release: 1
Source0: foo-1.0.tar
Source1: extra.tar
Patch0: fix.patch
%prep
%setup -q -a 1
%patch -p1 -b .orig
`
	s, err := parseString(t, text, Options{Macros: m})
	require.NoError(t, err)
	assert.Equal(t, "foo-1.0", s.BuildSubdir)
	sub, _ := m.Lookup("buildsubdir")
	assert.Equal(t, "foo-1.0", sub)

	want := strings.Join([]string{
		"cd /build",
		"rm -rf foo-1.0",
		"tar -xf " + dir + "/foo-1.0.tar",
		"cd foo-1.0",
		"tar -xf " + dir + "/extra.tar",
		`echo "Patch #0 (fix.patch):"`,
		"patch -p1 -s -b --suffix .orig < " + dir + "/fix.patch",
	}, "\n") + "\n"
	assert.Equal(t, want, s.Prep)
}

func TestSetupCreateDir(t *testing.T) {
	m := testMacros(t)
	dir, _ := m.Lookup("_sourcedir")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.tar"), []byte("plain"), 0o644))
	text := "Name: foo\nVersion: 1\nRelease: 1\nSource: src.tar\n%prep\n%setup -c -D -n work\n"
	s, err := parseString(t, text, Options{Macros: m})
	require.NoError(t, err)
	assert.Equal(t, "cd /build\nmkdir -p work\ncd work\ntar -xvvf "+dir+"/src.tar\n", s.Prep)
}

func TestSetupCompressedSource(t *testing.T) {
	m := testMacros(t)
	m.Add("_gzip", "/usr/bin/gzip", macro.LevelDefault)
	dir, _ := m.Lookup("_sourcedir")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src.tar.gz"), []byte{0x1f, 0x8b, 0x08, 0, 0, 0}, 0o644))
	text := "Name: foo\nVersion: 1\nRelease: 1\nSource: src.tar.gz\n%prep\n%setup -q -T -b 0\n"
	s, err := parseString(t, text, Options{Macros: m})
	require.NoError(t, err)
	assert.Contains(t, s.Prep, "/usr/bin/gzip -dc "+dir+"/src.tar.gz | tar -xf -\nSTATUS=$?")
}

func TestSetupErrors(t *testing.T) {
	head := "Name: foo\nVersion: 1\nRelease: 1\n%prep\n"
	for _, tt := range []struct{ line, msg string }{
		{"%setup -a 3", "No source number 0"},
		{"%setup -T -a 3", "No source number 3"},
		{"%setup -x", "Bad arg to %setup: -x"},
		{"%patch2", "No patch number 2"},
		{"%patch -Z", "Bad arg to %patch"},
	} {
		_, err := parseString(t, head+tt.line+"\n", Options{})
		require.Error(t, err, tt.line)
		assert.Contains(t, err.Error(), tt.msg, tt.line)
	}
}

func TestParseFileNotFound(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.spec"), Options{})
	assert.True(t, rpmerr.IsCode(err, rpmerr.ErrNotFound))
}

func TestParseFiles(t *testing.T) {
	entries, err := ParseFiles([]string{
		"%defattr(644,root,wheel,755)",
		"/usr/bin/foo",
		"%attr(4755, -, bin) /usr/bin/suid",
		"%config(noreplace) /etc/foo.conf",
		"%config(missingok) %ghost /var/log/foo.log",
		"%doc README NEWS",
		"%license COPYING",
		"%dir /var/lib/foo",
		"%verify(not md5) %lang(de) /usr/share/foo/de",
	})
	require.NoError(t, err)
	require.Len(t, entries, 9)

	assert.Equal(t, Attrs{Mode: 0o644, DirMode: 0o755, User: "root", Group: "wheel"}, entries[0].Attrs)
	assert.Equal(t, Attrs{Mode: 0o4755, DirMode: 0o755, User: "root", Group: "bin"}, entries[1].Attrs)
	assert.Equal(t, header.FileConfig|header.FileNoReplace, entries[2].Flags)
	assert.Equal(t, header.FileConfig|header.FileMissingOK|header.FileGhost, entries[3].Flags)
	assert.Equal(t, "README", entries[4].Path)
	assert.Equal(t, "NEWS", entries[5].Path)
	assert.Equal(t, header.FileDoc, entries[5].Flags)
	assert.Equal(t, header.FileLicense|header.FileDoc, entries[6].Flags)
	assert.True(t, entries[7].Dir)
	assert.Equal(t, "/usr/share/foo/de", entries[8].Path)

	entries, err = ParseFiles([]string{"/a"})
	require.NoError(t, err)
	assert.Equal(t, unsetAttrs, entries[0].Attrs)
}

func TestParseFilesErrors(t *testing.T) {
	for _, tt := range []struct{ line, msg string }{
		{"%attr(755,root) /a", "%attr: bad syntax"},
		{"%attr(755,root,root,755) /a", "%attr: bad syntax"},
		{"%defattr(999,root,root)", "bad mode spec: 999"},
		{"%config(sometimes) /a", "invalid %config token"},
		{"%bogus /a", "unknown directive %bogus"},
		{"relative", "must begin with"},
		{"%attr(755,root,root /a", "unmatched ("},
	} {
		_, err := ParseFiles([]string{tt.line})
		require.Error(t, err, tt.line)
		assert.Contains(t, err.Error(), tt.msg, tt.line)
		assert.Contains(t, err.Error(), "%files line 1", tt.line)
	}
}

func TestEvalCondition(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"1", true},
		{"0", false},
		{"!0", true},
		{"2 + 3 * 4 == 14", true},
		{"(2 + 3) * 4 == 20", true},
		{"10 / 3 == 3", true},
		{"-1 < 0", true},
		{`"abc" < "abd"`, true},
		{`"x" != "x"`, false},
		{`""`, false},
		{"1 && 0 || 1", true},
		{"1 && (0 || 0)", false},
		{"3 >= 3 && 2 <= 1", false},
	}
	for _, tt := range tests {
		got, err := evalCondition(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, got, tt.expr)
	}

	for _, bad := range []string{"1 +", `1 == "a"`, "4 / 0", "(1", "1 2", `"open`} {
		_, err := evalCondition(bad)
		assert.Error(t, err, bad)
	}
}
