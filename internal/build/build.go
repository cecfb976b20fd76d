// Package build turns a parsed spec into packages: it runs the %prep,
// %build, %install and %clean stages, matches %files lists against the
// buildroot and writes binary and source package files.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"rpmkit/internal/executor"
	"rpmkit/internal/logging"
	"rpmkit/internal/pkgfile"
	"rpmkit/internal/rpmdb"
	"rpmkit/internal/rpmerr"
	"rpmkit/internal/spec"
	"rpmkit/internal/transaction"
)

// What selects the steps of a build.
type What uint32

const (
	Prep What = 1 << iota
	Compile
	Install
	CheckFiles
	PackageSource
	PackageBinary
	Clean
	RmBuild
	RmSource
	RmSpec
)

// Stages maps the letter of -bX and -tX to the steps it runs.
func Stages(letter byte, shortCircuit bool) (What, error) {
	switch letter {
	case 'p':
		return Prep, nil
	case 'c':
		if shortCircuit {
			return Compile, nil
		}
		return Prep | Compile, nil
	case 'i':
		if shortCircuit {
			return Install, nil
		}
		return Prep | Compile | Install, nil
	case 'l':
		return CheckFiles, nil
	case 'b':
		return Prep | Compile | Install | CheckFiles | PackageBinary | Clean, nil
	case 's':
		return PackageSource, nil
	case 'a':
		return Prep | Compile | Install | CheckFiles | PackageSource | PackageBinary | Clean, nil
	}
	return 0, fmt.Errorf("unknown build stage %q", letter)
}

// Options steer a build.
type Options struct {
	What What
	// NoDeps skips the BuildRequires check.
	NoDeps bool
	// DB answers BuildRequires; nil skips the check as well.
	DB *rpmdb.DB
	// Signer signs written packages when set.
	Signer *pkgfile.Signer
	// IdlePriority runs stage scripts under nice.
	IdlePriority bool
	Stdout       io.Writer
	Stderr       io.Writer
	Log          *zerolog.Logger
}

// Result lists what a build produced.
type Result struct {
	Binaries []string
	Source   string
	// Unpackaged are buildroot files no %files list claimed.
	Unpackaged []string
}

// Builder runs the steps of one spec.
type Builder struct {
	ctx  context.Context
	spec *spec.Spec
	opts Options
	log  zerolog.Logger
	arch string
	os   string
}

// New prepares a build of s. s.Macros must carry the directory macros;
// DefineDefaults fills in whatever is missing.
func New(ctx context.Context, s *spec.Spec, opts Options) *Builder {
	DefineDefaults(s.Macros)
	b := &Builder{ctx: ctx, spec: s, opts: opts}
	if opts.Log != nil {
		b.log = *opts.Log
	} else {
		b.log = logging.GetLogger("build")
	}
	b.log = b.log.With().Str("package", s.Main().Header.NVR()).Logger()
	b.arch = b.macroOr("%{?_target_cpu}", "noarch")
	b.os = b.macroOr("%{?_target_os}", "linux")
	if len(s.BuildArchs) > 0 {
		b.arch = s.BuildArchs[0]
	}
	return b
}

func (b *Builder) macroOr(expr, def string) string {
	if v, err := b.expand(expr); err == nil && v != "" {
		return v
	}
	return def
}

func (b *Builder) expand(s string) (string, error) {
	out, err := b.spec.Macros.Expand(s)
	if err != nil {
		return "", rpmerr.Wrapf(err, rpmerr.ErrParse, "cannot expand %q", s)
	}
	return out, nil
}

func (b *Builder) dir(name string) string {
	d, _ := b.expand("%{" + name + "}")
	return d
}

func (b *Builder) buildSubdir() string {
	return filepath.Join(b.dir("_builddir"), b.spec.BuildSubdir)
}

// Run executes the selected steps in order: prep, build, install, file
// check, source package, binary packages, clean, then the removals.
func (b *Builder) Run() (*Result, error) {
	w := b.opts.What
	res := &Result{}

	if !b.opts.NoDeps && b.opts.DB != nil && w&^(PackageSource|RmSource|RmSpec) != 0 {
		if err := b.checkBuildDeps(); err != nil {
			return nil, err
		}
	}

	stages := []struct {
		bit  What
		name string
		body string
	}{
		{Prep, "%prep", b.spec.Prep},
		{Compile, "%build", b.spec.Build},
		{Install, "%install", b.spec.Install},
	}
	for _, st := range stages {
		if w&st.bit == 0 {
			continue
		}
		if err := b.runStage(st.name, st.body, st.bit != Prep); err != nil {
			return nil, err
		}
	}

	var lists map[*spec.Package]*fileList
	if w&(CheckFiles|PackageBinary) != 0 {
		var err error
		if lists, err = b.checkFiles(res); err != nil {
			return nil, err
		}
	}
	if w&PackageSource != 0 {
		path, err := b.writeSource()
		if err != nil {
			return nil, err
		}
		res.Source = path
	}
	if w&PackageBinary != 0 {
		for _, pkg := range b.spec.Packages {
			if !pkg.HasFiles {
				continue
			}
			path, err := b.writeBinary(pkg, lists[pkg])
			if err != nil {
				return nil, err
			}
			res.Binaries = append(res.Binaries, path)
		}
	}
	if w&Clean != 0 {
		if err := b.runStage("%clean", b.spec.Clean, true); err != nil {
			return nil, err
		}
	}
	if w&RmBuild != 0 && b.spec.BuildSubdir != "" {
		if err := os.RemoveAll(b.buildSubdir()); err != nil {
			return nil, rpmerr.Wrap(err, rpmerr.ErrFilesystem, "cannot remove build directory")
		}
	}
	if w&RmSource != 0 {
		for _, src := range b.spec.Sources {
			p := b.spec.SourcePath(src)
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				b.log.Warn().Err(err).Str("path", p).Msg("cannot remove source")
			}
		}
	}
	if w&RmSpec != 0 && b.spec.Path != "" {
		if err := os.Remove(b.spec.Path); err != nil && !os.IsNotExist(err) {
			return nil, rpmerr.Wrap(err, rpmerr.ErrFilesystem, "cannot remove spec")
		}
	}
	return res, nil
}

func (b *Builder) checkBuildDeps() error {
	ps := transaction.CheckBuildDeps(b.opts.DB, b.spec.Main().Header.NVR(), &b.spec.BuildDeps)
	if len(ps) == 0 {
		return nil
	}
	return rpmerr.Newf(rpmerr.ErrDependency, "Failed build dependencies:\n%s", ps).WithDetail("problems", ps)
}

// runStage writes a stage body behind the %___build_pre prologue to a
// temporary file and runs it with "/bin/sh -e". Empty bodies are
// skipped.
func (b *Builder) runStage(name, body string, inSubdir bool) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	pre, err := b.expand("%{___build_pre}")
	if err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n\n")
	sb.WriteString(pre)
	sb.WriteString("\n")
	if inSubdir && b.spec.BuildSubdir != "" {
		fmt.Fprintf(&sb, "cd %q\n", b.spec.BuildSubdir)
	}
	sb.WriteString(body)
	sb.WriteString("\nexit 0\n")

	tmp := b.dir("_tmppath")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot create %s", tmp)
	}
	f, err := os.CreateTemp(tmp, "rpm-tmp.")
	if err != nil {
		return rpmerr.Wrap(err, rpmerr.ErrFilesystem, "cannot create script file")
	}
	defer os.Remove(f.Name())
	_, werr := io.WriteString(f, sb.String())
	if err := errors.Join(werr, f.Close()); err != nil {
		return rpmerr.Wrap(err, rpmerr.ErrFilesystem, "cannot write script file")
	}

	b.log.Info().Str("stage", name).Str("script", f.Name()).Msg("executing")
	cmd := exec.Command("/bin/sh", "-e", f.Name())
	cmd.Stdout = b.opts.Stdout
	cmd.Stderr = b.opts.Stderr
	cmd.Dir = b.dir("_builddir")
	if _, err := os.Stat(cmd.Dir); err != nil {
		if err := os.MkdirAll(cmd.Dir, 0o755); err != nil {
			return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot create %s", cmd.Dir)
		}
	}
	ex := executor.New(b.ctx)
	ex.ApplyIdlePriority = b.opts.IdlePriority
	if err := ex.Run(cmd); err != nil {
		code := executor.ExitCode(err)
		return rpmerr.Wrapf(err, rpmerr.ErrScript, "Bad exit status from %s (%s)", f.Name(), name).
			WithDetail("script", name).WithDetail("exitCode", code)
	}
	return nil
}

// checkFiles matches every package's %files against the buildroot.
// Missing files fail the build; unclaimed ones are only reported.
func (b *Builder) checkFiles(res *Result) (map[*spec.Package]*fileList, error) {
	lists := make(map[*spec.Package]*fileList)
	var all []*fileList
	var missing []string
	for _, pkg := range b.spec.Packages {
		if !pkg.HasFiles {
			continue
		}
		l, err := b.collectFiles(pkg)
		if err != nil {
			return nil, err
		}
		lists[pkg] = l
		all = append(all, l)
		missing = append(missing, l.missing...)
	}
	if len(missing) > 0 {
		for _, m := range missing {
			b.log.Error().Str("path", m).Msg("File not found")
		}
		return nil, rpmerr.Newf(rpmerr.ErrNotFound, "File not found: %s", strings.Join(missing, ", ")).
			WithDetail("files", missing)
	}
	extra, err := unpackaged(b.spec.BuildRoot, all)
	if err != nil {
		return nil, rpmerr.Wrap(err, rpmerr.ErrFilesystem, "cannot scan buildroot")
	}
	if len(extra) > 0 {
		b.log.Warn().Strs("files", extra).Msg("Installed (but unpackaged) file(s) found")
	}
	res.Unpackaged = extra
	return lists, nil
}
