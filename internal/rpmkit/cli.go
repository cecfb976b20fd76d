package rpmkit

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"

	"rpmkit/internal/chroot"
	"rpmkit/internal/logging"
	"rpmkit/internal/rpmerr"
	"rpmkit/internal/transaction"
)

// printHelp prints the modes table
func printHelp() {
	colSuccess.Println("Usage: rpmkit <mode> [options] [arguments]")
	fmt.Println()
	color.Info.Println("Modes:")

	type modeInfo struct {
		Mode string
		Args string
		Desc string
	}
	modes := []modeInfo{
		{"-b[pcilbsa]", "<specfile>...", "Build from a spec file up to the given stage"},
		{"-t[pcilbsa]", "<tarball>...", "Build from the spec file inside a tarball"},
		{"-i, --install", "<package>...", "Install package files"},
		{"-U, --upgrade", "<package>...", "Install, replacing older versions"},
		{"-e, --erase", "<name>...", "Erase installed packages"},
		{"-q, --query", "[-a|-f|-p] [-l|-i|-c|-d|-R]", "Query installed packages or package files"},
		{"-K, --checksig", "<package>...", "Verify digests and signatures"},
		{"--addsign", "<package>...", "Sign package files"},
		{"--genkey", "<id>", "Generate an ed25519 signing key pair"},
		{"--publish", "<package>...", "Upload package files to the remote repository"},
		{"--showrc", "", "Show platform and macro settings"},
		{"--initdb", "", "Create an empty package database"},
		{"--version", "", "Version information"},
	}

	maxLen := 0
	for _, m := range modes {
		if n := len(m.Mode) + len(m.Args) + 1; n > maxLen {
			maxLen = n
		}
	}
	columnWidth := maxLen + 4

	for _, m := range modes {
		usage := "  " + m.Mode
		if m.Args != "" {
			usage += " " + m.Args
		}
		fmt.Print("  ")
		color.Bold.Print(m.Mode)
		if m.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(m.Args)
		}
		fmt.Print(strings.Repeat(" ", max(columnWidth-len(usage), 1)))
		color.Info.Println(m.Desc)
	}
	fmt.Println()
}

// Main is the CLI entrypoint for cmd/rpmkit.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go handleSignals(ctx, cancel, sigs)

	code := run(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}

// handleSignals cancels ctx on the first signal. While a chroot is
// entered the first signal is only reported; a second one within five
// seconds exits at once.
func handleSignals(ctx context.Context, cancel context.CancelFunc, sigs chan os.Signal) {
	for {
		select {
		case sig := <-sigs:
			if chroot.InCritical() {
				colArrow.Print("\n-> ")
				colError.Printf("Critical operation in progress. Press Ctrl+C AGAIN to force exit NOW.\n")
				select {
				case <-sigs:
					colArrow.Print("\n-> ")
					colError.Printf("Forced immediate exit.\n")
					os.Exit(130)
				case <-time.After(5 * time.Second):
					continue
				case <-ctx.Done():
					return
				}
			}
			colArrow.Print("\n-> ")
			color.Danger.Printf("Received %v. Cancelling process gracefully\n", sig)
			cancel()
			select {
			case <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Printf("Second interrupt received. Forcing immediate exit.\n")
				os.Exit(130)
			case <-time.After(2 * time.Second):
				colArrow.Print("\n-> ")
				color.Danger.Printf("Graceful shutdown timeout. Exiting.\n")
				os.Exit(1)
			}
		case <-ctx.Done():
			return
		}
	}
}

// mode is the selected top-level operation and the arguments left for
// its own flag set.
type mode struct {
	name  string
	stage byte
	args  []string
}

// splitMode picks the mode from the first argument. Bundled short flags
// after the mode letter ("-Uvh", "-qpl") become separate flags.
func splitMode(args []string) (mode, error) {
	if len(args) == 0 {
		return mode{}, errors.New("no mode given")
	}
	first, rest := args[0], args[1:]
	long := map[string]string{
		"--install":  "i",
		"--upgrade":  "U",
		"--erase":    "e",
		"--query":    "q",
		"--checksig": "K",
		"--addsign":  "addsign",
		"--resign":   "addsign",
		"--genkey":   "genkey",
		"--publish":  "publish",
		"--showrc":   "showrc",
		"--initdb":   "initdb",
		"--version":  "version",
		"--help":     "help",
		"-h":         "help",
	}
	if name, ok := long[first]; ok {
		return mode{name: name, args: rest}, nil
	}
	if len(first) < 2 || first[0] != '-' || first[1] == '-' {
		return mode{}, fmt.Errorf("unknown mode %q", first)
	}

	letter := first[1]
	switch letter {
	case 'b', 't':
		if len(first) != 3 || !strings.ContainsRune("pcilbsa", rune(first[2])) {
			return mode{}, fmt.Errorf("unknown build mode %q", first)
		}
		return mode{name: string(letter), stage: first[2], args: rest}, nil
	case 'i', 'U', 'e', 'q', 'K':
		var flags []string
		for _, c := range first[2:] {
			flags = append(flags, "-"+string(c))
		}
		return mode{name: string(letter), args: append(flags, rest...)}, nil
	}
	return mode{}, fmt.Errorf("unknown mode %q", first)
}

// parseArgs parses fs over args, allowing options after operands, and
// returns the operands.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var operands []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return operands, nil
		}
		operands = append(operands, args[0])
		args = args[1:]
	}
}

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

// common are the options every mode accepts.
type common struct {
	root      string
	dbpath    string
	defines   stringList
	macros    string
	verbosity int
	quiet     bool
}

func newFlagSet(name string, c *common, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&c.root, "root", "", "Use `DIR` as the top level directory.")
	fs.StringVar(&c.dbpath, "dbpath", "", "Use `DIR` as the database directory.")
	fs.Var(&c.defines, "define", "Define `'MACRO EXPR'`.")
	fs.Var(&c.defines, "D", "Define `'MACRO EXPR'`.")
	fs.StringVar(&c.macros, "macros", "", "Read `FILES` (colon list) instead of the default macro files.")
	fs.BoolFunc("v", "Be verbose; repeat for more.", func(string) error { c.verbosity++; return nil })
	fs.BoolFunc("verbose", "Be verbose.", func(string) error { c.verbosity++; return nil })
	fs.BoolVar(&c.quiet, "quiet", false, "Print only errors.")
	return fs
}

// apply copies per-invocation overrides into the globals.
func (c *common) apply() {
	if c.root != "" {
		rootDir = c.root
	}
	if c.dbpath != "" {
		dbPath = c.dbpath
	}
	if c.verbosity > 0 {
		Verbose = true
	}
	level := c.verbosity
	if Debug {
		level = max(level, 2)
	}
	if c.quiet {
		level = 0
	}
	logging.SetupLogger(level, logFile)
}

// run executes one invocation and returns the exit status.
func run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printHelp()
		return 1
	}
	m, err := splitMode(args)
	if err != nil {
		colError.Printf("error: %v\n", err)
		printHelp()
		return 1
	}

	cfg, err := loadConfig(configPath())
	if err != nil {
		colWarn.Printf("warning: %v\n", err)
	}
	initConfig(cfg)
	env := &cliEnv{ctx: ctx, cfg: cfg, out: os.Stdout}

	switch m.name {
	case "help":
		printHelp()
		return 0
	case "version":
		colNote.Printf("rpmkit %s (%s) built %s\n", version, hostArch, buildDate)
		return 0
	case "b", "t":
		err = env.build(m)
	case "i":
		err = env.install(m.args, false)
	case "U":
		err = env.install(m.args, true)
	case "e":
		err = env.erase(m.args)
	case "q":
		err = env.query(m.args)
	case "K":
		err = env.checkSig(m.args)
	case "addsign":
		err = env.addSign(m.args)
	case "genkey":
		err = env.genKey(m.args)
	case "publish":
		err = env.publish(m.args)
	case "showrc":
		err = env.showRC(m.args)
	case "initdb":
		err = env.initDB(m.args)
	}
	if err != nil {
		reportError(os.Stderr, err)
		return 1
	}
	return 0
}

// cliEnv carries what every mode handler needs.
type cliEnv struct {
	ctx context.Context
	cfg *Config
	out io.Writer
}

// reportError prints err, listing dependency problems one per line.
func reportError(w io.Writer, err error) {
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if v, ok := rpmerr.Detail(err, "problems"); ok {
		if ps, ok := v.(transaction.Problems); ok {
			fmt.Fprintln(w, colError.Sprint("error: Failed dependencies:"))
			for _, p := range ps {
				fmt.Fprintf(w, "\t%s\n", p)
			}
			return
		}
	}
	fmt.Fprintln(w, colError.Sprintf("error: %v", err))
}
