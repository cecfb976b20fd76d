package rpmkit

import (
	"fmt"
	"runtime"

	"github.com/gookit/color"
)

// Global variables
var (
	rootDir         string
	dbPath          string
	topDir          string
	tmpPath         string
	macroFiles      string
	platformFile    string
	keyDir          string
	cacheDir        string
	logFile         string
	signKeyID       string
	Debug           bool
	Verbose         bool
	EnableMultilib  bool
	setIdlePriority bool
	ConfigFile      = "/etc/rpmkit.conf"
	version         = "dev" // overridden at build time
	hostArch        = runtime.GOARCH
	buildDate       = "unknown" // overridden at build time
)

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

type colorPrinter interface {
	Printf(format string, a ...any)
	Println(a ...any)
}

// cPrintf prints with a colored style or falls back to fmt.Printf when nil
func cPrintf(p colorPrinter, format string, a ...any) {
	if p == nil {
		fmt.Printf(format, a...)
		return
	}
	p.Printf(format, a...)
}

func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}

// step prints the "-> message" line used for progress output.
func step(format string, args ...any) {
	colArrow.Print("-> ")
	colSuccess.Printf(format+"\n", args...)
}
