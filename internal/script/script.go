// Package script runs package lifecycle scripts.
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"rpmkit/internal/chroot"
	"rpmkit/internal/executor"
	"rpmkit/internal/logging"
	"rpmkit/internal/rpmerr"
)

// ScriptPath is the fixed PATH scripts run with.
const ScriptPath = "/sbin:/bin:/usr/sbin:/usr/bin:/usr/X11R6/bin"

// TmpDir is where script bodies are written, relative to the root.
const TmpDir = "/var/tmp"

// Script is one invocation.
type Script struct {
	// Name is what the script is called in messages, e.g. "%post".
	Name string
	// Package is the NVR the script belongs to.
	Package string
	Body    string
	// Prog is the interpreter argv. Empty means /bin/sh.
	Prog []string
	// Args are appended after the script file; negative values are
	// left out.
	Args     []int
	Prefixes []string
}

// Runner executes scripts under a root.
type Runner struct {
	Rooter chroot.Rooter
	Log    zerolog.Logger
	// Debug traces shell scripts with "set -x".
	Debug bool
	// IdlePriority runs scripts under nice.
	IdlePriority bool
	Stdout       io.Writer
	Stderr       io.Writer
	Context      context.Context
}

func NewRunner(r chroot.Rooter) *Runner {
	return &Runner{
		Rooter:  r,
		Log:     logging.GetLogger("script"),
		Context: context.Background(),
	}
}

// Run writes the body to a temporary file under the root and executes
// "interpreter file args..." with the root as "/". Nothing happens when
// there is neither body nor interpreter.
func (r *Runner) Run(s Script) error {
	if s.Body == "" && len(s.Prog) == 0 {
		return nil
	}
	argv := s.Prog
	if len(argv) == 0 {
		argv = []string{"/bin/sh"}
	}
	argv = append([]string(nil), argv...)

	root := r.Rooter.Root()
	inRoot := r.Rooter.Real() && root != "/"

	if s.Body != "" {
		hostTmp := chroot.Join(root, TmpDir)
		if err := os.MkdirAll(hostTmp, 0o755); err != nil {
			return rpmerr.Wrapf(err, rpmerr.ErrScript, "cannot create %s", hostTmp).
				WithDetail("script", s.Name).WithDetail("exitCode", -1)
		}
		f, err := os.CreateTemp(hostTmp, "rpm-tmp.")
		if err != nil {
			return rpmerr.Wrap(err, rpmerr.ErrScript, "cannot create script file").
				WithDetail("script", s.Name).WithDetail("exitCode", -1)
		}
		hostFile := f.Name()
		defer os.Remove(hostFile)

		if r.Debug && (argv[0] == "/bin/sh" || argv[0] == "/bin/bash") {
			io.WriteString(f, "set -x\n")
		}
		_, werr := io.WriteString(f, s.Body)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			return rpmerr.Wrap(errors.Join(werr, cerr), rpmerr.ErrScript, "cannot write script file").
				WithDetail("script", s.Name).WithDetail("exitCode", -1)
		}

		if inRoot {
			argv = append(argv, filepath.Join(TmpDir, filepath.Base(hostFile)))
		} else {
			argv = append(argv, hostFile)
		}
	}
	for _, a := range s.Args {
		if a >= 0 {
			argv = append(argv, strconv.Itoa(a))
		}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = r.environ(s.Prefixes)
	cmd.Stdin = nil
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	ex := executor.New(r.Context)
	ex.ApplyIdlePriority = r.IdlePriority
	if inRoot {
		ex.Chroot = root
		cmd.Dir = "/"
	} else {
		cmd.Dir = root
	}

	r.Log.Debug().Str("script", s.Name).Str("package", s.Package).Strs("argv", argv).Msg("running script")
	if err := ex.Run(cmd); err != nil {
		code := executor.ExitCode(err)
		return rpmerr.Wrapf(err, rpmerr.ErrScript, "execution of %s script from %s failed, exit status %d", s.Name, s.Package, code).
			WithDetail("script", s.Name).WithDetail("exitCode", code)
	}
	return nil
}

func (r *Runner) environ(prefixes []string) []string {
	env := []string{"PATH=" + ScriptPath}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "PATH=") && !strings.HasPrefix(kv, "RPM_INSTALL_PREFIX") {
			env = append(env, kv)
		}
	}
	for i, p := range prefixes {
		env = append(env, fmt.Sprintf("RPM_INSTALL_PREFIX%d=%s", i, p))
		if i == 0 {
			env = append(env, "RPM_INSTALL_PREFIX="+p)
		}
	}
	return env
}
