package spec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"rpmkit/internal/archive"
	"rpmkit/internal/macro"
)

// prepLine rewrites %setup and %patch lines of %prep into shell. Other
// lines are returned unchanged.
func (p *parser) prepLine(line string) (string, error) {
	word, rest := splitWord(strings.TrimLeft(line, " \t"))
	switch {
	case word == "%setup":
		return p.setup(rest)
	case strings.HasPrefix(word, "%patch"):
		num := strings.TrimPrefix(word, "%patch")
		if num != "" {
			if _, err := strconv.Atoi(num); err != nil {
				return line, nil
			}
		}
		return p.patch(num, rest)
	}
	return line, nil
}

// optInt reads the numeric value of a flag given either as "-a 1" or "-a1".
func optInt(args []string, i *int, flag string) (int, error) {
	a := args[*i]
	v := strings.TrimPrefix(a, flag)
	if v == "" {
		if *i+1 >= len(args) {
			return 0, fmt.Errorf("%s needs a number", flag)
		}
		*i++
		v = args[*i]
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad number for %s: %s", flag, v)
	}
	return n, nil
}

func optString(args []string, i *int, flag string) (string, error) {
	v := strings.TrimPrefix(args[*i], flag)
	if v == "" {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s needs an argument", flag)
		}
		*i++
		v = args[*i]
	}
	return v, nil
}

func (p *parser) setup(rest string) (string, error) {
	args, err := shlex.Split(rest)
	if err != nil {
		return "", p.r.errorf("Bad %%setup arguments: %v", err)
	}
	var (
		name                       string
		createDir, leaveDirs, skip bool
		quiet                      bool
		before, after              []int
	)
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-c":
			createDir = true
		case a == "-D":
			leaveDirs = true
		case a == "-T":
			skip = true
		case a == "-q":
			quiet = true
		case strings.HasPrefix(a, "-n"):
			if name, err = optString(args, &i, "-n"); err != nil {
				return "", p.r.errorf("%%setup: %v", err)
			}
		case strings.HasPrefix(a, "-a"), strings.HasPrefix(a, "-b"):
			flag := a[:2]
			n, err := optInt(args, &i, flag)
			if err != nil {
				return "", p.r.errorf("%%setup: %v", err)
			}
			if flag == "-a" {
				after = append(after, n)
			} else {
				before = append(before, n)
			}
		default:
			return "", p.r.errorf("Bad arg to %%setup: %s", a)
		}
	}

	if name == "" {
		name = "%{name}-%{version}"
	}
	subdir, err := p.macros.Expand(name)
	if err != nil {
		return "", p.r.errorf("%v", err)
	}
	p.spec.BuildSubdir = subdir
	p.macros.Add("buildsubdir", subdir, macro.LevelSpec)

	var out []string
	untar := func(n int) error {
		s, err := p.untar(n, quiet)
		if err == nil {
			out = append(out, s)
		}
		return err
	}

	out = append(out, "cd %{_builddir}")
	if !leaveDirs {
		out = append(out, "rm -rf "+subdir)
	}
	if createDir {
		out = append(out, "mkdir -p "+subdir, "cd "+subdir)
	}
	if !createDir && !skip {
		if err := untar(0); err != nil {
			return "", err
		}
	}
	for _, n := range before {
		if err := untar(n); err != nil {
			return "", err
		}
	}
	if !createDir {
		out = append(out, "cd "+subdir)
	}
	if createDir && !skip {
		if err := untar(0); err != nil {
			return "", err
		}
	}
	for _, n := range after {
		if err := untar(n); err != nil {
			return "", err
		}
	}
	out = append(out, "%{?_fixperms:%{_fixperms} .}")
	return p.expandScript(strings.Join(out, "\n"))
}

const statusCheck = "STATUS=$?\nif [ $STATUS -ne 0 ]; then\n  exit $STATUS\nfi"

// untar returns the shell that unpacks source n into the current
// directory.
func (p *parser) untar(n int, quiet bool) (string, error) {
	src, ok := p.spec.FindSource(n, false)
	if !ok {
		return "", p.r.errorf("No source number %d", n)
	}
	file, err := p.macros.Expand("%{_sourcedir}/" + src.FileName())
	if err != nil {
		return "", p.r.errorf("%v", err)
	}
	taropts := "-xvvf"
	if quiet {
		taropts = "-xf"
	}
	kind, err := archive.DetectFile(file)
	switch {
	case err == nil && kind == archive.CompressionNone:
		return fmt.Sprintf("tar %s %s", taropts, file), nil
	case err == nil && kind == archive.CompressionZip:
		return fmt.Sprintf("%%{uncompress:%s}\n%s", file, statusCheck), nil
	default:
		return fmt.Sprintf("%%{uncompress:%s} | tar %s -\n%s", file, taropts, statusCheck), nil
	}
}

// patch handles %patch and %patchN.
func (p *parser) patch(num, rest string) (string, error) {
	args, err := shlex.Split(rest)
	if err != nil {
		return "", p.r.errorf("Bad %%patch arguments: %v", err)
	}
	var (
		strip          int
		suffix         string
		reverse, empty bool
		extra          []int
	)
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-R":
			reverse = true
		case a == "-E":
			empty = true
		case strings.HasPrefix(a, "-P"):
			n, err := optInt(args, &i, "-P")
			if err != nil {
				return "", p.r.errorf("%%patch: %v", err)
			}
			extra = append(extra, n)
		case strings.HasPrefix(a, "-p"):
			if strip, err = optInt(args, &i, "-p"); err != nil {
				return "", p.r.errorf("%%patch: %v", err)
			}
		case strings.HasPrefix(a, "-b"):
			if suffix, err = optString(args, &i, "-b"); err != nil {
				return "", p.r.errorf("%%patch: %v", err)
			}
		default:
			return "", p.r.errorf("Bad arg to %%patch: %s", a)
		}
	}

	var patches []int
	switch {
	case num != "":
		n, _ := strconv.Atoi(num)
		patches = append(patches, n)
	case len(extra) == 0:
		patches = append(patches, 0)
	}
	patches = append(patches, extra...)

	var out []string
	for _, n := range patches {
		src, ok := p.spec.FindSource(n, true)
		if !ok {
			return "", p.r.errorf("No patch number %d", n)
		}
		file, err := p.macros.Expand("%{_sourcedir}/" + src.FileName())
		if err != nil {
			return "", p.r.errorf("%v", err)
		}
		cmd := fmt.Sprintf("patch -p%d -s", strip)
		if suffix != "" {
			cmd += " -b --suffix " + suffix
		}
		if reverse {
			cmd += " -R"
		}
		if empty {
			cmd += " -E"
		}
		out = append(out, fmt.Sprintf("echo \"Patch #%d (%s):\"", n, src.FileName()))
		if kind, err := archive.DetectFile(file); err == nil && kind == archive.CompressionNone {
			out = append(out, cmd+" < "+file)
		} else {
			out = append(out, fmt.Sprintf("%%{uncompress:%s} | %s\n%s", file, cmd, statusCheck))
		}
	}
	return p.expandScript(strings.Join(out, "\n"))
}

func (p *parser) expandScript(s string) (string, error) {
	out, err := p.macros.Expand(s)
	if err != nil {
		return "", p.r.errorf("%v", err)
	}
	return strings.TrimRight(out, "\n"), nil
}
