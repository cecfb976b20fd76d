package rpmkit

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"rpmkit/internal/macro"
)

// ArchInfo describes one CPU architecture.
type ArchInfo struct {
	OptFlags string `toml:"optflags"`
	// Compat lists the package architectures this one can install, best
	// first.
	Compat   []string `toml:"compat"`
	Lib      string   `toml:"lib"`
	Multilib bool     `toml:"multilib"`
}

// OSInfo maps an OS spelling to its canonical name.
type OSInfo struct {
	Canonical string `toml:"canonical"`
}

// Platforms is the architecture and OS table.
type Platforms struct {
	Arch map[string]ArchInfo `toml:"arch"`
	OS   map[string]OSInfo   `toml:"os"`
}

const defaultPlatforms = `
[arch.x86_64]
optflags = "-O2 -g -m64 -mtune=generic"
compat = ["x86_64", "athlon", "i686", "i586", "i486", "i386", "noarch"]
lib = "lib64"
multilib = true

[arch.i686]
optflags = "-O2 -g -march=i686"
compat = ["i686", "i586", "i486", "i386", "noarch"]
lib = "lib"

[arch.i386]
optflags = "-O2 -g -march=i386"
compat = ["i386", "noarch"]
lib = "lib"

[arch.aarch64]
optflags = "-O2 -g"
compat = ["aarch64", "noarch"]
lib = "lib64"

[arch.noarch]
optflags = "-O2 -g"
compat = ["noarch"]
lib = "lib"

[os.linux]
canonical = "linux"

[os.Linux]
canonical = "linux"
`

func parsePlatforms(data []byte) (*Platforms, error) {
	var p Platforms
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid platform table: %w", err)
	}
	return &p, nil
}

// loadPlatforms reads the table at path, or the built-in one when the
// file does not exist.
func loadPlatforms(path string) (*Platforms, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return parsePlatforms([]byte(defaultPlatforms))
	}
	if err != nil {
		return nil, err
	}
	p, err := parsePlatforms(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// hostCPU maps the Go architecture name to the package one.
func hostCPU() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "i686"
	case "arm64":
		return "aarch64"
	}
	return runtime.GOARCH
}

// Target is a resolved build or install platform.
type Target struct {
	CPU    string
	Vendor string
	OS     string
	Arch   ArchInfo
}

// Target resolves CPU[-VENDOR]-OS, or a bare CPU meaning linux.
func (p *Platforms) Target(spec string) (Target, error) {
	parts := strings.Split(spec, "-")
	t := Target{CPU: parts[0], Vendor: "unknown", OS: "linux"}
	switch len(parts) {
	case 1:
	case 2:
		t.OS = parts[1]
	default:
		t.Vendor = parts[1]
		t.OS = strings.Join(parts[2:], "-")
	}
	info, ok := p.Arch[t.CPU]
	if !ok {
		return t, fmt.Errorf("unknown target architecture %q", t.CPU)
	}
	t.Arch = info
	if osInfo, ok := p.OS[t.OS]; ok && osInfo.Canonical != "" {
		t.OS = osInfo.Canonical
	}
	return t, nil
}

// Compatible lists the package architectures installable on arch.
func (p *Platforms) Compatible(arch string) []string {
	if info, ok := p.Arch[arch]; ok && len(info.Compat) > 0 {
		return info.Compat
	}
	return []string{arch, "noarch"}
}

// Define sets the %_target*, %_arch, %_os, %optflags and %_lib macros.
func (t Target) Define(c *macro.Context, level int) {
	c.Add("_target", t.CPU+"-"+t.OS, level)
	c.Add("_target_cpu", t.CPU, level)
	c.Add("_target_vendor", t.Vendor, level)
	c.Add("_target_os", t.OS, level)
	c.Add("_arch", t.CPU, level)
	c.Add("_os", t.OS, level)
	if t.Arch.OptFlags != "" {
		c.Add("optflags", t.Arch.OptFlags, level)
	}
	if t.Arch.Lib != "" {
		c.Add("_lib", t.Arch.Lib, level)
	}
}
