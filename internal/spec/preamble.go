package spec

import (
	"regexp"
	"strconv"
	"strings"

	"rpmkit/internal/depset"
	"rpmkit/internal/header"
	"rpmkit/internal/macro"
)

type tagKind int

const (
	tagString tagKind = iota
	tagVersionish
	tagEpoch
	tagDeps
	tagSource
	tagPatch
	tagNoSource
	tagNoPatch
	tagBuildRoot
	tagBuildArch
	tagArchList
	tagPrefix
	tagAutoReqProv
)

type preambleTag struct {
	kind  tagKind
	tag   header.Tag
	field depset.Field
	// macro is defined from the value when set.
	macro string
	// mainOnly tags are rejected in sub-package preambles.
	mainOnly bool
}

// preambleTags is keyed by the lower-cased tag name.
var preambleTags = map[string]preambleTag{
	"name":               {kind: tagString, tag: header.TagName, macro: "name", mainOnly: true},
	"version":            {kind: tagVersionish, tag: header.TagVersion, macro: "version"},
	"release":            {kind: tagVersionish, tag: header.TagRelease, macro: "release"},
	"epoch":              {kind: tagEpoch, tag: header.TagEpoch, macro: "epoch"},
	"serial":             {kind: tagEpoch, tag: header.TagEpoch, macro: "serial"},
	"summary":            {kind: tagString, tag: header.TagSummary, macro: "summary"},
	"license":            {kind: tagString, tag: header.TagLicense, macro: "license"},
	"copyright":          {kind: tagString, tag: header.TagLicense, macro: "copyright"},
	"group":              {kind: tagString, tag: header.TagGroup, macro: "group"},
	"url":                {kind: tagString, tag: header.TagURL, macro: "url"},
	"packager":           {kind: tagString, tag: header.TagPackager, macro: "packager"},
	"vendor":             {kind: tagString, tag: header.TagVendor, macro: "vendor"},
	"distribution":       {kind: tagString, tag: header.TagDistribution, macro: "distribution"},
	"buildroot":          {kind: tagBuildRoot, mainOnly: true},
	"buildarch":          {kind: tagBuildArch, mainOnly: true},
	"buildarchitectures": {kind: tagBuildArch, mainOnly: true},
	"exclusivearch":      {kind: tagArchList, tag: header.TagExclusiveArch, mainOnly: true},
	"excludearch":        {kind: tagArchList, tag: header.TagExcludeArch, mainOnly: true},
	"exclusiveos":        {kind: tagArchList, tag: header.TagExclusiveOS, mainOnly: true},
	"excludeos":          {kind: tagArchList, tag: header.TagExcludeOS, mainOnly: true},
	"prefix":             {kind: tagPrefix, tag: header.TagDefaultPrefix},
	"source":             {kind: tagSource, mainOnly: true},
	"patch":              {kind: tagPatch, mainOnly: true},
	"nosource":           {kind: tagNoSource, mainOnly: true},
	"nopatch":            {kind: tagNoPatch, mainOnly: true},
	"requires":           {kind: tagDeps, field: depset.FieldRequires},
	"prereq":             {kind: tagDeps, field: depset.FieldPreReq},
	"provides":           {kind: tagDeps, field: depset.FieldProvides},
	"conflicts":          {kind: tagDeps, field: depset.FieldConflicts},
	"obsoletes":          {kind: tagDeps, field: depset.FieldObsoletes},
	"buildrequires":      {kind: tagDeps, field: depset.FieldBuildRequires, mainOnly: true},
	"buildprereq":        {kind: tagDeps, field: depset.FieldBuildPreReq, mainOnly: true},
	"buildconflicts":     {kind: tagDeps, field: depset.FieldBuildConflicts, mainOnly: true},
	"autoreqprov":        {kind: tagAutoReqProv},
}

var tagLine = regexp.MustCompile(`^([A-Za-z]+)([0-9]*)\s*:\s*(.*)$`)

func tagLabel(t header.Tag) string {
	s := strings.ToLower(t.String())
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// parsePreamble reads tag lines of pkg until a section starts. name is
// empty for the main package.
func (p *parser) parsePreamble(pkg *Package, name string) (part, error) {
	for {
		line, ok, err := p.r.next()
		if err != nil {
			return partNone, err
		}
		if !ok {
			return partNone, nil
		}
		if next, isSection := sectionOf(line); isSection {
			p.r.unread(line)
			return next, nil
		}
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		m := tagLine.FindStringSubmatch(t)
		if m == nil {
			return partNone, p.r.errorf("Unknown tag: %s", t)
		}
		if err := p.handleTag(pkg, name == "", m[1], m[2], strings.TrimSpace(m[3])); err != nil {
			return partNone, err
		}
	}
}

func (p *parser) handleTag(pkg *Package, isMain bool, tagName, num, value string) error {
	pt, known := preambleTags[strings.ToLower(tagName)]
	if !known {
		return p.r.errorf("Unknown tag: %s", tagName)
	}
	if num != "" && pt.kind != tagSource && pt.kind != tagPatch {
		return p.r.errorf("Unknown tag: %s%s", tagName, num)
	}
	if pt.mainOnly && !isMain {
		return p.r.errorf("Tag not allowed in sub-package: %s", tagName)
	}
	if value == "" {
		return p.r.errorf("Empty tag: %s:", tagName)
	}
	h := pkg.Header

	switch pt.kind {
	case tagString:
		h.SetString(pt.tag, value)
	case tagVersionish:
		if strings.ContainsRune(value, '-') {
			return p.r.errorf("Illegal char '-' in %s: %s", tagName, value)
		}
		h.SetString(pt.tag, value)
	case tagEpoch:
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil || n < 0 {
			return p.r.errorf("%s field must be a number: %s", tagName, value)
		}
		h.SetInt32(pt.tag, int32(n))
	case tagDeps:
		if pt.field == depset.FieldBuildRequires || pt.field == depset.FieldBuildPreReq ||
			pt.field == depset.FieldBuildConflicts {
			if err := depset.ParseField(&p.spec.BuildDeps, pt.field, value, 0, 0); err != nil {
				return p.r.errorf("%v", err)
			}
			return nil
		}
		return p.addDeps(pkg, pt.field, value, 0, p.r.lastLine)
	case tagSource, tagPatch:
		return p.addSource(num, value, pt.kind == tagPatch)
	case tagNoSource, tagNoPatch:
		return p.markNoSource(value, pt.kind == tagNoPatch)
	case tagBuildRoot:
		p.spec.BuildRoot = strings.TrimRight(value, "/")
		if p.spec.BuildRoot == "" {
			return p.r.errorf("BuildRoot can not be \"/\": %s", value)
		}
	case tagBuildArch:
		p.spec.BuildArchs = append(p.spec.BuildArchs, splitList(value)...)
	case tagArchList:
		list := splitList(value)
		h.SetStrings(pt.tag, append(h.Strings(pt.tag), list...))
		switch pt.tag {
		case header.TagExclusiveArch:
			p.spec.ExclusiveArch = append(p.spec.ExclusiveArch, list...)
		case header.TagExcludeArch:
			p.spec.ExcludeArch = append(p.spec.ExcludeArch, list...)
		case header.TagExclusiveOS:
			p.spec.ExclusiveOS = append(p.spec.ExclusiveOS, list...)
		case header.TagExcludeOS:
			p.spec.ExcludeOS = append(p.spec.ExcludeOS, list...)
		}
	case tagPrefix:
		prefix := strings.TrimRight(value, "/")
		if prefix == "" || prefix[0] != '/' {
			return p.r.errorf("Prefix must begin with '/': %s", value)
		}
		h.SetString(pt.tag, prefix)
	case tagAutoReqProv:
		switch strings.ToLower(value) {
		case "no", "n", "0", "false", "off":
			pkg.AutoReqProv = false
		default:
			pkg.AutoReqProv = true
		}
	}

	if pt.macro != "" {
		p.macros.Add(pt.macro, value, macro.LevelSpec)
	}
	return nil
}

// addDeps parses a dependency field into pkg's header.
func (p *parser) addDeps(pkg *Package, f depset.Field, value string, index, line int) error {
	s := pkg.Header.Dependencies()
	if err := depset.ParseField(s, f, value, index, 0); err != nil {
		return lineError(line, "%v", err)
	}
	pkg.Header.SetDependencies(s)
	return nil
}

func triggerField(word string) depset.Field {
	switch word {
	case "%triggerun":
		return depset.FieldTriggerUn
	case "%triggerpostun":
		return depset.FieldTriggerPostUn
	}
	return depset.FieldTriggerIn
}

func (p *parser) addSource(num, value string, patch bool) error {
	n := 0
	if num != "" {
		v, err := strconv.Atoi(num)
		if err != nil {
			return p.r.errorf("Bad source number: %s", num)
		}
		n = v
	}
	if _, dup := p.spec.FindSource(n, patch); dup {
		kind := "source"
		if patch {
			kind = "patch"
		}
		return p.r.errorf("Duplicate %s number: %d", kind, n)
	}
	src := Source{Num: n, Path: value, Patch: patch}
	p.spec.Sources = append(p.spec.Sources, src)

	h := p.spec.Main().Header
	prefix, tag := "SOURCE", header.TagSource
	if patch {
		prefix, tag = "PATCH", header.TagPatch
	}
	h.SetStrings(tag, append(h.Strings(tag), src.FileName()))
	p.macros.Add(prefix+strconv.Itoa(n), "%{_sourcedir}/"+src.FileName(), macro.LevelSpec)
	return nil
}

func (p *parser) markNoSource(value string, patch bool) error {
	tag := header.TagNoSource
	if patch {
		tag = header.TagNoPatch
	}
	h := p.spec.Main().Header
	for _, f := range splitList(value) {
		n, err := strconv.Atoi(f)
		if err != nil {
			return p.r.errorf("Bad number: %s", f)
		}
		found := false
		for i := range p.spec.Sources {
			if s := &p.spec.Sources[i]; s.Num == n && s.Patch == patch {
				s.NoSource = true
				found = true
			}
		}
		if !found {
			return p.r.errorf("Bad no%s number: %d", map[bool]string{false: "source", true: "patch"}[patch], n)
		}
		h.SetInt32s(tag, append(h.Int32s(tag), int32(n)))
	}
	return nil
}
