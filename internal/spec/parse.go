package spec

import (
	"io"
	"os"
	"slices"
	"strings"

	"github.com/google/shlex"
	"github.com/rs/zerolog"

	"rpmkit/internal/header"
	"rpmkit/internal/macro"
	"rpmkit/internal/rpmerr"
)

type part int

const (
	partNone part = iota
	partPreamble
	partDescription
	partPrep
	partBuild
	partInstall
	partClean
	partScript
	partTrigger
	partFiles
	partChangelog
)

var sectionParts = map[string]part{
	"%package":       partPreamble,
	"%description":   partDescription,
	"%prep":          partPrep,
	"%build":         partBuild,
	"%install":       partInstall,
	"%clean":         partClean,
	"%pre":           partScript,
	"%post":          partScript,
	"%preun":         partScript,
	"%postun":        partScript,
	"%verifyscript":  partScript,
	"%trigger":       partTrigger,
	"%triggerin":     partTrigger,
	"%triggerun":     partTrigger,
	"%triggerpostun": partTrigger,
	"%files":         partFiles,
	"%changelog":     partChangelog,
}

// sectionOf reports which part a line opens, if any.
func sectionOf(line string) (part, bool) {
	word, _ := splitWord(strings.TrimLeft(line, " \t"))
	p, ok := sectionParts[word]
	return p, ok
}

type parser struct {
	r      *reader
	spec   *Spec
	macros *macro.Context
	opts   Options
	log    zerolog.Logger

	buildRootSet bool
	scriptsSeen  map[*Package]map[header.Script]bool
}

// ParseFile opens and parses the spec at path.
func ParseFile(path string, opts Options) (*Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rpmerr.Wrapf(err, rpmerr.ErrNotFound, "Unable to open %s", path)
	}
	defer f.Close()
	return Parse(f, path, opts)
}

// Parse reads a spec from r. path is only used for messages and
// Spec.Path.
func Parse(r io.Reader, path string, opts Options) (*Spec, error) {
	macros := opts.Macros
	if macros == nil {
		macros = macro.NewContext()
	}
	p := &parser{
		r:           newReader(r, macros, opts.Arch, opts.OS),
		macros:      macros,
		opts:        opts,
		log:         opts.logger().With().Str("spec", path).Logger(),
		scriptsSeen: make(map[*Package]map[header.Script]bool),
		spec: &Spec{
			Path:   path,
			Macros: macros,
		},
	}
	main := &Package{Header: header.New(), AutoReqProv: true}
	p.spec.Packages = []*Package{main}

	next, err := p.parsePreamble(main, "")
	if err == nil {
		p.defineBuildRoot()
	}
	for err == nil && next != partNone {
		var line string
		line, _, err = p.r.next()
		if err != nil {
			break
		}
		switch next {
		case partPreamble:
			next, err = p.parseSubpackage(line)
		case partDescription:
			next, err = p.parseDescription(line)
		case partPrep:
			next, err = p.parseBuildScript(line, &p.spec.Prep, true)
		case partBuild:
			next, err = p.parseBuildScript(line, &p.spec.Build, false)
		case partInstall:
			next, err = p.parseBuildScript(line, &p.spec.Install, false)
		case partClean:
			next, err = p.parseBuildScript(line, &p.spec.Clean, false)
		case partScript:
			next, err = p.parseScript(line)
		case partTrigger:
			next, err = p.parseTrigger(line)
		case partFiles:
			next, err = p.parseFiles(line)
		case partChangelog:
			next, err = p.parseChangelog()
		}
	}
	if err != nil {
		return nil, err
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return p.spec, nil
}

// body collects lines up to the next section header, which is pushed
// back. It returns the part that header opens.
func (p *parser) body() ([]string, part, error) {
	var lines []string
	for {
		line, ok, err := p.r.next()
		if err != nil {
			return nil, partNone, err
		}
		if !ok {
			return lines, partNone, nil
		}
		if next, isSection := sectionOf(line); isSection {
			p.r.unread(line)
			return lines, next, nil
		}
		lines = append(lines, line)
	}
}

func joinBody(lines []string) string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// sectionArgs splits the option part of a section line.
func (p *parser) sectionArgs(line string) (string, []string, error) {
	word, rest := splitWord(strings.TrimSpace(line))
	args, err := shlex.Split(rest)
	if err != nil {
		return word, nil, p.r.errorf("Bad arguments to %s: %v", word, err)
	}
	return word, args, nil
}

// sectionOpts is the common [-n] [-p prog] [-f file] [name] shape.
type sectionOpts struct {
	name  string
	dashN bool
	prog  string
	file  string
}

func (p *parser) parseSectionOpts(word string, args []string, allowed string) (sectionOpts, error) {
	var o sectionOpts
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-n" && strings.Contains(allowed, "n"):
			o.dashN = true
		case (a == "-p" || a == "-f") && strings.Contains(allowed, a[1:]):
			if i+1 >= len(args) {
				return o, p.r.errorf("Missing argument to %s in %s", a, word)
			}
			i++
			if a == "-p" {
				o.prog = args[i]
			} else {
				o.file = args[i]
			}
		case strings.HasPrefix(a, "-"):
			return o, p.r.errorf("Bad option %s in %s", a, word)
		case o.name != "":
			return o, p.r.errorf("Too many names: %s", a)
		default:
			o.name = a
		}
	}
	if o.dashN && o.name == "" {
		return o, p.r.errorf("-n requires a name in %s", word)
	}
	return o, nil
}

func (p *parser) fullName(o sectionOpts) string {
	if o.name == "" {
		return p.spec.Main().Name()
	}
	if o.dashN {
		return o.name
	}
	return p.spec.Main().Name() + "-" + o.name
}

func (p *parser) lookupPackage(o sectionOpts) (*Package, error) {
	name := p.fullName(o)
	if pkg := p.spec.Package(name); pkg != nil {
		return pkg, nil
	}
	return nil, p.r.errorf("Package does not exist: %s", name)
}

// inherited are copied from the main package into every sub-package.
var inherited = []header.Tag{
	header.TagVersion, header.TagRelease, header.TagEpoch, header.TagLicense,
	header.TagPackager, header.TagDistribution, header.TagVendor, header.TagURL,
	header.TagDefaultPrefix,
}

func (p *parser) parseSubpackage(line string) (part, error) {
	word, args, err := p.sectionArgs(line)
	if err != nil {
		return partNone, err
	}
	o, err := p.parseSectionOpts(word, args, "n")
	if err != nil {
		return partNone, err
	}
	if o.name == "" {
		return partNone, p.r.errorf("%%package requires a name")
	}
	name := p.fullName(o)
	if p.spec.Package(name) != nil {
		return partNone, p.r.errorf("Package already exists: %s", name)
	}

	main := p.spec.Main()
	h := header.New()
	h.SetString(header.TagName, name)
	for _, tag := range inherited {
		if v, ok := main.Header.Get(tag); ok {
			h.Put(tag, v)
		}
	}
	pkg := &Package{Header: h, AutoReqProv: main.AutoReqProv}
	p.spec.Packages = append(p.spec.Packages, pkg)
	return p.parsePreamble(pkg, name)
}

func (p *parser) parseDescription(line string) (part, error) {
	word, args, err := p.sectionArgs(line)
	if err != nil {
		return partNone, err
	}
	o, err := p.parseSectionOpts(word, args, "n")
	if err != nil {
		return partNone, err
	}
	pkg, err := p.lookupPackage(o)
	if err != nil {
		return partNone, err
	}
	if pkg.Header.Has(header.TagDescription) {
		return partNone, p.r.errorf("Second description")
	}
	lines, next, err := p.body()
	if err != nil {
		return partNone, err
	}
	pkg.Header.SetString(header.TagDescription, strings.TrimRight(joinBody(lines), "\n"))
	return next, nil
}

func (p *parser) parseBuildScript(line string, dst *string, prep bool) (part, error) {
	word, _ := splitWord(strings.TrimSpace(line))
	if *dst != "" {
		return partNone, p.r.errorf("Second %s", word)
	}
	var lines []string
	for {
		l, ok, err := p.r.next()
		if err != nil {
			return partNone, err
		}
		if !ok {
			*dst = joinBody(lines)
			return partNone, nil
		}
		if next, isSection := sectionOf(l); isSection {
			p.r.unread(l)
			*dst = joinBody(lines)
			return next, nil
		}
		if prep {
			if l, err = p.prepLine(l); err != nil {
				return partNone, err
			}
		}
		lines = append(lines, l)
	}
}

var scriptSlots = map[string]header.Script{
	"%pre":          header.ScriptPre,
	"%post":         header.ScriptPost,
	"%preun":        header.ScriptPreUn,
	"%postun":       header.ScriptPostUn,
	"%verifyscript": header.ScriptVerify,
}

func (p *parser) checkProg(prog string) error {
	if prog != "" && !strings.HasPrefix(prog, "/") {
		return p.r.errorf("script program must begin with '/': %s", prog)
	}
	return nil
}

func (p *parser) parseScript(line string) (part, error) {
	word, args, err := p.sectionArgs(line)
	if err != nil {
		return partNone, err
	}
	o, err := p.parseSectionOpts(word, args, "np")
	if err != nil {
		return partNone, err
	}
	if err := p.checkProg(o.prog); err != nil {
		return partNone, err
	}
	pkg, err := p.lookupPackage(o)
	if err != nil {
		return partNone, err
	}
	slot := scriptSlots[word]
	seen := p.scriptsSeen[pkg]
	if seen == nil {
		seen = make(map[header.Script]bool)
		p.scriptsSeen[pkg] = seen
	}
	if seen[slot] {
		return partNone, p.r.errorf("Second %s", word)
	}
	seen[slot] = true

	lines, next, err := p.body()
	if err != nil {
		return partNone, err
	}
	body := joinBody(lines)
	prog := o.prog
	if body != "" && prog == "" {
		prog = header.DefaultInterpreter
	}
	pkg.Header.SetScript(slot, body, prog)
	return next, nil
}

func (p *parser) parseTrigger(line string) (part, error) {
	word, rest := splitWord(strings.TrimSpace(line))
	opts, deps, found := cutDashDash(rest)
	if !found {
		return partNone, p.r.errorf("No \"--\" in %s", word)
	}
	if strings.TrimSpace(deps) == "" {
		return partNone, p.r.errorf("No dependencies in %s", word)
	}
	args, err := shlex.Split(opts)
	if err != nil {
		return partNone, p.r.errorf("Bad arguments to %s: %v", word, err)
	}
	o, err := p.parseSectionOpts(word, args, "np")
	if err != nil {
		return partNone, err
	}
	if err := p.checkProg(o.prog); err != nil {
		return partNone, err
	}
	pkg, err := p.lookupPackage(o)
	if err != nil {
		return partNone, err
	}
	lineNo := p.r.lastLine

	lines, next, err := p.body()
	if err != nil {
		return partNone, err
	}
	idx := pkg.Header.AddTriggerScript(joinBody(lines), o.prog)
	if err := p.addDeps(pkg, triggerField(word), deps, idx, lineNo); err != nil {
		return partNone, err
	}
	return next, nil
}

// cutDashDash splits "opts -- deps" on a standalone "--".
func cutDashDash(s string) (string, string, bool) {
	for i := 0; i+1 < len(s); i++ {
		if s[i] != '-' || s[i+1] != '-' {
			continue
		}
		before := i == 0 || s[i-1] == ' ' || s[i-1] == '\t'
		after := i+2 == len(s) || s[i+2] == ' ' || s[i+2] == '\t'
		if before && after {
			return s[:i], s[i+2:], true
		}
	}
	return s, "", false
}

func (p *parser) parseFiles(line string) (part, error) {
	word, args, err := p.sectionArgs(line)
	if err != nil {
		return partNone, err
	}
	o, err := p.parseSectionOpts(word, args, "nf")
	if err != nil {
		return partNone, err
	}
	pkg, err := p.lookupPackage(o)
	if err != nil {
		return partNone, err
	}
	if pkg.HasFiles {
		return partNone, p.r.errorf("Second %%files list")
	}
	pkg.HasFiles = true
	pkg.FileList = o.file

	lines, next, err := p.body()
	if err != nil {
		return partNone, err
	}
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		pkg.Files = append(pkg.Files, t)
	}
	if _, err := ParseFiles(pkg.Files); err != nil {
		return partNone, p.r.errorf("%v", err)
	}
	return next, nil
}

func (p *parser) parseChangelog() (part, error) {
	lines, next, err := p.body()
	if err != nil {
		return partNone, err
	}
	p.spec.Changelog = joinBody(lines)
	if p.spec.Changelog != "" {
		p.spec.Main().Header.SetString(header.TagChangelog, p.spec.Changelog)
	}
	return next, nil
}

// finish checks required tags and fills in what the sections left open.
func (p *parser) finish() error {
	main := p.spec.Main()
	for _, tag := range []header.Tag{header.TagName, header.TagVersion, header.TagRelease} {
		if !main.Header.Has(tag) {
			return rpmerr.Newf(rpmerr.ErrSpec, "%s field must be present in package: (main package)", tagLabel(tag))
		}
	}
	p.defineBuildRoot()

	if !p.opts.Force && p.opts.Arch != "" {
		arch := p.opts.Arch
		if len(p.spec.ExclusiveArch) > 0 && !slices.Contains(p.spec.ExclusiveArch, arch) &&
			!slices.Contains(p.spec.BuildArchs, "noarch") {
			return rpmerr.Newf(rpmerr.ErrSpec, "Architecture is not included: %s", arch)
		}
		if slices.Contains(p.spec.ExcludeArch, arch) {
			return rpmerr.Newf(rpmerr.ErrSpec, "Architecture is excluded: %s", arch)
		}
	}
	if osName := p.opts.OS; !p.opts.Force && osName != "" {
		if len(p.spec.ExclusiveOS) > 0 && !slices.Contains(p.spec.ExclusiveOS, osName) {
			return rpmerr.Newf(rpmerr.ErrSpec, "OS is not included: %s", osName)
		}
		if slices.Contains(p.spec.ExcludeOS, osName) {
			return rpmerr.Newf(rpmerr.ErrSpec, "OS is excluded: %s", osName)
		}
	}

	for _, pkg := range p.spec.Packages {
		if !pkg.Header.Has(header.TagSummary) {
			if s := main.Header.String(header.TagSummary); s != "" {
				pkg.Header.SetString(header.TagSummary, s)
			}
		}
		if !pkg.Header.Has(header.TagGroup) {
			if g := main.Header.String(header.TagGroup); g != "" {
				pkg.Header.SetString(header.TagGroup, g)
			}
		}
	}
	p.log.Debug().Int("packages", len(p.spec.Packages)).Int("sources", len(p.spec.Sources)).Msg("spec parsed")
	return nil
}

// defineBuildRoot settles the build root once: the override, the tag, or
// a default under %_tmppath. %buildroot is defined from it.
func (p *parser) defineBuildRoot() {
	if p.buildRootSet {
		return
	}
	p.buildRootSet = true
	root := p.opts.BuildRoot
	if root == "" {
		root = p.spec.BuildRoot
	}
	if root == "" {
		tmp, err := p.macros.Expand("%{?_tmppath}")
		if err != nil || tmp == "" {
			tmp = "/var/tmp"
		}
		main := p.spec.Main().Header
		root = tmp + "/" + main.Name() + "-" + main.Version() + "-root"
	}
	p.spec.BuildRoot = root
	p.macros.Add("buildroot", root, macro.LevelSpec)
}
