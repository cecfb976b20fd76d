package rpmkit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"rpmkit/internal/depset"
	"rpmkit/internal/header"
	"rpmkit/internal/pkgfile"
	"rpmkit/internal/rpmdb"
	"rpmkit/internal/rpmerr"
)

type queryFlags struct {
	all      bool
	file     bool
	pkgFile  bool
	list     bool
	info     bool
	configs  bool
	docs     bool
	requires bool
	provides bool
	scripts  bool
	states   bool
	remote   bool
}

// selected reports whether f asks for anything beyond the package name.
func (f *queryFlags) selected() bool {
	return f.list || f.info || f.configs || f.docs || f.requires || f.provides || f.scripts || f.states
}

// formatInfo renders the -qi block.
func formatInfo(h *header.Header) []string {
	field := func(label, value string) string {
		return fmt.Sprintf("%-12s: %s", label, value)
	}
	lines := []string{
		field("Name", h.Name()),
	}
	if e := h.Epoch(); e != "" {
		lines = append(lines, field("Epoch", e))
	}
	lines = append(lines,
		field("Version", h.Version()),
		field("Release", h.Release()),
		field("Architecture", h.Arch()),
	)
	if t, ok := h.Int32(header.TagInstallTime); ok {
		lines = append(lines, field("Install Date", time.Unix(int64(t), 0).UTC().Format(time.RFC1123)))
	}
	if g := h.String(header.TagGroup); g != "" {
		lines = append(lines, field("Group", g))
	}
	lines = append(lines, field("Size", fmt.Sprintf("%d", h.Size())))
	if l := h.String(header.TagLicense); l != "" {
		lines = append(lines, field("License", l))
	}
	if s := h.String(header.TagSourceRPM); s != "" {
		lines = append(lines, field("Source RPM", s))
	}
	if t, ok := h.Int32(header.TagBuildTime); ok {
		lines = append(lines, field("Build Date", time.Unix(int64(t), 0).UTC().Format(time.RFC1123)))
	}
	if b := h.String(header.TagBuildHost); b != "" {
		lines = append(lines, field("Build Host", b))
	}
	if p := h.Prefix(); p != "" {
		lines = append(lines, field("Relocations", p))
	}
	if u := h.String(header.TagURL); u != "" {
		lines = append(lines, field("URL", u))
	}
	lines = append(lines, field("Summary", h.String(header.TagSummary)), "Description :")
	if d := h.String(header.TagDescription); d != "" {
		lines = append(lines, strings.Split(d, "\n")...)
	}
	return lines
}

// formatFiles lists the files of h whose flags contain want; want 0 lists
// every file.
func formatFiles(h *header.Header, want header.FileFlags, states bool) []string {
	var out []string
	for _, f := range h.Files() {
		if want != 0 && f.Flags&want == 0 {
			continue
		}
		if states {
			out = append(out, fmt.Sprintf("%-14s %s", f.State, f.Path))
		} else {
			out = append(out, f.Path)
		}
	}
	if len(out) == 0 && want == 0 {
		out = append(out, "(contains no files)")
	}
	return out
}

// formatDeps lists one dependency class.
func formatDeps(h *header.Header, c depset.Class) []string {
	recs := h.Records(c)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.String()
	}
	return out
}

// formatScripts prints each non-empty lifecycle script with its
// interpreter.
func formatScripts(h *header.Header) []string {
	var out []string
	for _, s := range []header.Script{header.ScriptPre, header.ScriptPost, header.ScriptPreUn, header.ScriptPostUn, header.ScriptVerify} {
		body, prog := h.Script(s)
		if body == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s scriptlet (using %s):", strings.TrimPrefix(s.String(), "%"), prog))
		out = append(out, strings.Split(strings.TrimRight(body, "\n"), "\n")...)
	}
	return out
}

func (f *queryFlags) format(h *header.Header) []string {
	if !f.selected() {
		return []string{h.NVR() + "." + h.Arch()}
	}
	var out []string
	if f.info {
		out = append(out, formatInfo(h)...)
	}
	switch {
	case f.configs:
		out = append(out, formatFiles(h, header.FileConfig, f.states)...)
	case f.docs:
		out = append(out, formatFiles(h, header.FileDoc, f.states)...)
	case f.list || f.states:
		out = append(out, formatFiles(h, 0, f.states)...)
	}
	if f.requires {
		out = append(out, formatDeps(h, depset.Requires)...)
	}
	if f.provides {
		out = append(out, formatDeps(h, depset.Provides)...)
	}
	if f.scripts {
		out = append(out, formatScripts(h)...)
	}
	return out
}

// query handles -q.
func (env *cliEnv) query(args []string) error {
	var c common
	var f queryFlags
	fs := newFlagSet("query", &c, os.Stderr)
	fs.BoolVar(&f.all, "a", false, "Query all installed packages.")
	fs.BoolVar(&f.all, "all", false, "Query all installed packages.")
	fs.BoolVar(&f.file, "f", false, "Query the package owning a file.")
	fs.BoolVar(&f.pkgFile, "p", false, "Query package files.")
	fs.BoolVar(&f.list, "l", false, "List files.")
	fs.BoolVar(&f.info, "i", false, "Show package information.")
	fs.BoolVar(&f.configs, "c", false, "List configuration files.")
	fs.BoolVar(&f.docs, "d", false, "List documentation files.")
	fs.BoolVar(&f.requires, "R", false, "List requirements.")
	fs.BoolVar(&f.requires, "requires", false, "List requirements.")
	fs.BoolVar(&f.provides, "provides", false, "List provided capabilities.")
	fs.BoolVar(&f.scripts, "scripts", false, "Show lifecycle scripts.")
	fs.BoolVar(&f.states, "s", false, "Show file states.")
	fs.BoolVar(&f.remote, "remote", false, "List packages in the remote repository.")
	operands, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	c.apply()

	if f.remote {
		prefix := ""
		if len(operands) > 0 {
			prefix = operands[0]
		}
		return env.listRemote(prefix)
	}

	var lines []string
	if f.pkgFile {
		if len(operands) == 0 {
			return rpmerr.New(rpmerr.ErrInvalidState, "no package files given for query")
		}
		for _, path := range operands {
			h, err := pkgfile.ReadHeader(path)
			if err != nil {
				return err
			}
			lines = append(lines, f.format(h)...)
		}
		return env.emit(lines)
	}

	db, err := rpmdb.Open(databaseDir(), rpmdb.ReadOnly)
	if err != nil {
		return err
	}
	defer db.Close()

	switch {
	case f.all:
		it := db.InitIterator(rpmdb.AllPackages, "")
		var hs []*header.Header
		for h := it.Next(); h != nil; h = it.Next() {
			hs = append(hs, h)
		}
		it.Close()
		sort.Slice(hs, func(i, j int) bool { return hs[i].NVR() < hs[j].NVR() })
		for _, h := range hs {
			lines = append(lines, f.format(h)...)
		}
	case f.file:
		if len(operands) == 0 {
			return rpmerr.New(rpmerr.ErrInvalidState, "no files given for query")
		}
		for _, path := range operands {
			abs, _ := filepath.Abs(path)
			owners, err := db.FileOwners(abs)
			if err != nil {
				return err
			}
			if len(owners) == 0 {
				lines = append(lines, fmt.Sprintf("file %s is not owned by any package", abs))
				continue
			}
			for _, o := range owners {
				lines = append(lines, f.format(o.Header)...)
			}
		}
	default:
		if len(operands) == 0 {
			return rpmerr.New(rpmerr.ErrInvalidState, "no arguments given for query")
		}
		missing := 0
		for _, arg := range operands {
			ids := findInstalled(db, arg)
			if len(ids) == 0 {
				lines = append(lines, fmt.Sprintf("package %s is not installed", arg))
				missing++
				continue
			}
			for _, id := range ids {
				h, err := db.Get(id)
				if err != nil {
					return err
				}
				lines = append(lines, f.format(h)...)
			}
		}
		if err := env.emit(lines); err != nil {
			return err
		}
		if missing > 0 {
			return rpmerr.Newf(rpmerr.ErrNotFound, "%d package(s) not installed", missing)
		}
		return nil
	}
	return env.emit(lines)
}

// emit prints lines, through the pager when they go to a terminal.
func (env *cliEnv) emit(lines []string) error {
	if env.out == os.Stdout {
		return page("rpmkit", lines)
	}
	for _, l := range lines {
		fmt.Fprintln(env.out, l)
	}
	return nil
}

// showRC handles --showrc.
func (env *cliEnv) showRC(args []string) error {
	var c common
	var target string
	fs := newFlagSet("showrc", &c, os.Stderr)
	fs.StringVar(&target, "target", "", "Show settings for `CPU-VENDOR-OS`.")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	macros, t, platforms, err := env.setup(&c, target)
	if err != nil {
		return err
	}

	lines := []string{
		"ARCHITECTURE AND OS:",
		"build arch            : " + hostCPU(),
		"compatible build archs: " + strings.Join(platforms.Compatible(hostCPU()), " "),
		"install arch          : " + t.CPU,
		"install os            : " + t.OS,
		"compatible archs      : " + strings.Join(platforms.Compatible(t.CPU), " "),
		"optflags              : " + t.Arch.OptFlags,
		"",
		"MACRO FILES           : " + strings.Join(strings.Split(macroFiles, ":"), " "),
		"DATABASE              : " + databaseDir(),
		"",
		"========================",
	}
	var buf bytes.Buffer
	macros.Dump(&buf)
	lines = append(lines, strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")...)
	return env.emit(lines)
}

// initDB handles --initdb.
func (env *cliEnv) initDB(args []string) error {
	var c common
	fs := newFlagSet("initdb", &c, os.Stderr)
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}
	c.apply()
	db, err := rpmdb.Open(databaseDir(), rpmdb.ReadWrite)
	if err != nil {
		return err
	}
	step("Initialized database in %s (%d packages)", databaseDir(), db.Len())
	return db.Close()
}
