package rpmkit

import (
	"context"
	"os"

	"rpmkit/internal/build"
	"rpmkit/internal/executor"
	"rpmkit/internal/logging"
	"rpmkit/internal/macro"
)

// macroSetup is what the command line contributes to the macro context.
type macroSetup struct {
	target  string
	defines []string
	files   string
}

// setupMacros builds the global macro context: configured directories,
// the system macro files, the per-user file, the platform of the host or
// of --target, then --define.
func setupMacros(ctx context.Context, ms macroSetup, platforms *Platforms) (*macro.Context, Target, error) {
	m := macro.NewContext()
	m.Shell = executor.New(ctx)
	m.Verbose = Verbose
	m.Log = logging.GetLogger("macro")

	m.Add("_topdir", topDir, macro.LevelDefault)
	m.Add("_tmppath", tmpPath, macro.LevelDefault)
	m.Add("_dbpath", dbPath, macro.LevelDefault)

	files := macroFiles
	if ms.files != "" {
		files = ms.files
	}
	if err := m.InitMacros(files); err != nil {
		return nil, Target{}, err
	}
	if user := macro.UserMacroPath(); fileExists(user) {
		if err := m.LoadFile(user, macro.LevelMacroFiles); err != nil {
			return nil, Target{}, err
		}
		debugf("=> loaded user macros from %s\n", user)
	}

	host, err := platforms.Target(hostCPU())
	if err != nil {
		host = Target{CPU: hostCPU(), Vendor: "unknown", OS: "linux"}
	}
	host.Define(m, macro.LevelRPMRC)
	target := host
	if ms.target != "" {
		if target, err = platforms.Target(ms.target); err != nil {
			return nil, Target{}, err
		}
		target.Define(m, macro.LevelCmdline)
	}

	for _, d := range ms.defines {
		if err := m.DefineMacro(d, macro.LevelCmdline); err != nil {
			return nil, Target{}, err
		}
	}
	build.DefineDefaults(m)
	return m, target, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
