// Package spec parses package build descriptions.
//
// A spec file is read line by line. Every line is macro expanded before it
// is looked at, conditionals (%if, %ifarch, %ifos and their negations) are
// resolved as lines are read, and the result is split into sections: the
// preamble, sub-package preambles, descriptions, the build scripts, the
// lifecycle scripts and triggers, file lists and the changelog.
package spec

import (
	"github.com/rs/zerolog"

	"rpmkit/internal/depset"
	"rpmkit/internal/header"
	"rpmkit/internal/logging"
	"rpmkit/internal/macro"
)

// Source is a Source or Patch line of the preamble.
type Source struct {
	Num int
	// Path is the value as written, usually a URL or a file name.
	Path     string
	Patch    bool
	NoSource bool
}

// FileName is the last path element of the source, which is where it is
// expected in the source directory.
func (s Source) FileName() string {
	p := s.Path
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

// Package is the main package or one sub-package.
type Package struct {
	Header *header.Header
	// Files holds the expanded lines of the %files section.
	Files []string
	// FileList names the -f file of %files, if any.
	FileList string
	// HasFiles is set once a %files section was seen; a package without
	// one is not written.
	HasFiles bool
	// AutoReqProv is on unless the preamble turns it off.
	AutoReqProv bool
}

func (p *Package) Name() string { return p.Header.Name() }

// Spec is a parsed spec file.
type Spec struct {
	Path string
	// Macros is the context the file was expanded with. It carries the
	// definitions the spec made.
	Macros *macro.Context

	Packages []*Package
	Sources  []Source

	// BuildDeps holds BuildRequires, BuildPreReq and BuildConflicts.
	BuildDeps depset.Set

	Prep    string
	Build   string
	Install string
	Clean   string

	BuildRoot     string
	BuildArchs    []string
	ExclusiveArch []string
	ExcludeArch   []string
	ExclusiveOS   []string
	ExcludeOS     []string
	Changelog     string
	// BuildSubdir is the directory %setup unpacked into.
	BuildSubdir string
}

// Main returns the main package.
func (s *Spec) Main() *Package { return s.Packages[0] }

// Package finds a package by full name.
func (s *Spec) Package(name string) *Package {
	for _, p := range s.Packages {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// SourcePath is where the source or patch is expected on disk.
func (s *Spec) SourcePath(src Source) string {
	dir, err := s.Macros.Expand("%{_sourcedir}")
	if err != nil || dir == "" || dir[0] == '%' {
		dir = "."
	}
	return dir + "/" + src.FileName()
}

// FindSource returns the source or patch with number num.
func (s *Spec) FindSource(num int, patch bool) (Source, bool) {
	for _, src := range s.Sources {
		if src.Num == num && src.Patch == patch {
			return src, true
		}
	}
	return Source{}, false
}

// Options steer Parse.
type Options struct {
	// Macros is the context to expand with. Parse defines into it; pass a
	// clone when the caller's context must stay untouched. Nil means a
	// fresh context.
	Macros *macro.Context
	// Arch and OS answer %ifarch and %ifos.
	Arch string
	OS   string
	// BuildRoot overrides the BuildRoot tag.
	BuildRoot string
	// Force accepts specs that would fail ExclusiveArch/ExcludeArch.
	Force bool
	Log   *zerolog.Logger
}

func (o *Options) logger() zerolog.Logger {
	if o.Log != nil {
		return *o.Log
	}
	return logging.GetLogger("spec")
}
