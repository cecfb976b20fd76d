package transaction

import (
	"fmt"
	"strings"

	"rpmkit/internal/depset"
	"rpmkit/internal/rpmerr"
)

// ProblemKind classifies what Check found.
type ProblemKind int

const (
	ProblemRequires ProblemKind = iota
	ProblemConflict
	ProblemFileConflict
	ProblemPkgInstalled
	ProblemOldPackage
	ProblemBadArch
)

func (k ProblemKind) String() string {
	switch k {
	case ProblemRequires:
		return "requires"
	case ProblemConflict:
		return "conflict"
	case ProblemFileConflict:
		return "file conflict"
	case ProblemPkgInstalled:
		return "package installed"
	case ProblemOldPackage:
		return "old package"
	case ProblemBadArch:
		return "bad arch"
	}
	return "unknown"
}

// Problem is one reason the transaction cannot run as asked.
type Problem struct {
	Kind ProblemKind
	// Package is the NVR the problem is reported against.
	Package string
	// Dep is the unmet requirement or the conflict that hit.
	Dep depset.Record
	// Other is the second package involved, when there is one.
	Other string
	// Path is set for file conflicts.
	Path string
}

func (p Problem) String() string {
	switch p.Kind {
	case ProblemRequires:
		if p.Other != "" {
			return fmt.Sprintf("%s is needed by %s (removed by %s)", p.Dep, p.Package, p.Other)
		}
		return fmt.Sprintf("%s is needed by %s", p.Dep, p.Package)
	case ProblemConflict:
		return fmt.Sprintf("%s conflicts with %s", p.Dep, p.Package)
	case ProblemFileConflict:
		return fmt.Sprintf("file %s from install of %s conflicts with file from package %s", p.Path, p.Package, p.Other)
	case ProblemPkgInstalled:
		return fmt.Sprintf("package %s is already installed", p.Package)
	case ProblemOldPackage:
		return fmt.Sprintf("package %s (which is newer than %s) is already installed", p.Other, p.Package)
	case ProblemBadArch:
		return fmt.Sprintf("package %s is for a different architecture", p.Package)
	}
	return p.Package
}

// Problems is the list Check returns.
type Problems []Problem

func (ps Problems) String() string {
	lines := make([]string, len(ps))
	for i, p := range ps {
		lines[i] = "\t" + p.String()
	}
	return strings.Join(lines, "\n")
}

// Err turns a non-empty list into a dependency error carrying the list as
// the "problems" detail.
func (ps Problems) Err() error {
	if len(ps) == 0 {
		return nil
	}
	return rpmerr.Newf(rpmerr.ErrDependency, "%d unresolved problem(s):\n%s", len(ps), ps).
		WithDetail("problems", ps)
}

// Filter suppresses classes of problems.
type Filter uint32

const (
	FilterNoDeps Filter = 1 << iota
	FilterIgnoreConflicts
	FilterReplaceFiles
	FilterReplacePkgs
	FilterOldPackage
	FilterIgnoreArch
)

func (f Filter) drops(k ProblemKind) bool {
	switch k {
	case ProblemRequires:
		return f&FilterNoDeps != 0
	case ProblemConflict:
		return f&(FilterNoDeps|FilterIgnoreConflicts) != 0
	case ProblemFileConflict:
		return f&FilterReplaceFiles != 0
	case ProblemPkgInstalled:
		return f&FilterReplacePkgs != 0
	case ProblemOldPackage:
		return f&FilterOldPackage != 0
	case ProblemBadArch:
		return f&FilterIgnoreArch != 0
	}
	return false
}
