package rpmkit

import (
	"os"

	"rpmkit/internal/build"
	"rpmkit/internal/executor"
	"rpmkit/internal/logging"
	"rpmkit/internal/macro"
	"rpmkit/internal/pkgfile"
	"rpmkit/internal/rpmdb"
	"rpmkit/internal/rpmerr"
	"rpmkit/internal/spec"
)

// setup applies the common options and builds the macro context.
func (env *cliEnv) setup(c *common, target string) (*macro.Context, Target, *Platforms, error) {
	c.apply()
	platforms, err := loadPlatforms(platformFile)
	if err != nil {
		return nil, Target{}, nil, err
	}
	m, t, err := setupMacros(env.ctx, macroSetup{target: target, defines: c.defines, files: c.macros}, platforms)
	if err != nil {
		return nil, Target{}, nil, err
	}
	return m, t, platforms, nil
}

type buildFlags struct {
	shortCircuit bool
	clean        bool
	rmSource     bool
	rmSpec       bool
	noDeps       bool
	buildRoot    string
	target       string
	sign         bool
	force        bool
}

// build handles -bX and -tX.
func (env *cliEnv) build(m mode) error {
	var c common
	var bf buildFlags
	fs := newFlagSet("build", &c, os.Stderr)
	fs.BoolVar(&bf.shortCircuit, "short-circuit", false, "Run only the named stage.")
	fs.BoolVar(&bf.clean, "clean", false, "Remove the build tree when done.")
	fs.BoolVar(&bf.rmSource, "rmsource", false, "Remove the sources when done.")
	fs.BoolVar(&bf.rmSpec, "rmspec", false, "Remove the spec file when done.")
	fs.BoolVar(&bf.noDeps, "nodeps", false, "Do not verify build dependencies.")
	fs.StringVar(&bf.buildRoot, "buildroot", "", "Override the build root.")
	fs.StringVar(&bf.target, "target", "", "Build for `CPU-VENDOR-OS`.")
	fs.BoolVar(&bf.sign, "sign", false, "Sign the written packages.")
	fs.BoolVar(&bf.force, "force", false, "Ignore ExclusiveArch and ExcludeArch.")
	operands, err := parseArgs(fs, m.args)
	if err != nil {
		return err
	}
	if len(operands) == 0 {
		fs.Usage()
		return rpmerr.New(rpmerr.ErrInvalidState, "no spec files given for build")
	}

	what, err := build.Stages(m.stage, bf.shortCircuit)
	if err != nil {
		return err
	}
	if bf.shortCircuit && m.stage != 'c' && m.stage != 'i' {
		return rpmerr.New(rpmerr.ErrInvalidState, "--short-circuit may only be used with -bc, -bi, -tc or -ti")
	}
	if bf.clean {
		what |= build.RmBuild
	}
	if bf.rmSource {
		what |= build.RmSource
	}
	if bf.rmSpec {
		what |= build.RmSpec
	}

	macros, target, _, err := env.setup(&c, bf.target)
	if err != nil {
		return err
	}

	var signer *pkgfile.Signer
	if bf.sign {
		if signer, err = loadSigner(); err != nil {
			return err
		}
	}

	var db *rpmdb.DB
	if !bf.noDeps {
		if db, err = rpmdb.Open(databaseDir(), rpmdb.ReadOnly); err != nil {
			colWarn.Printf("warning: cannot open database, build dependencies not checked: %v\n", err)
			db = nil
		} else {
			defer db.Close()
		}
	}

	log := logging.GetLogger("build")
	for _, arg := range operands {
		specPath := arg
		if m.name == "t" {
			if specPath, err = build.SpecFromTarball(arg, macros); err != nil {
				return err
			}
			debugf("=> spec extracted to %s\n", specPath)
		}

		s, err := spec.ParseFile(specPath, spec.Options{
			Macros:    macros.Clone(),
			Arch:      target.CPU,
			OS:        target.OS,
			BuildRoot: bf.buildRoot,
			Force:     bf.force,
			Log:       &log,
		})
		if err != nil {
			return err
		}
		s.Macros.Shell = executor.New(env.ctx)

		step("Building %s", s.Main().Header.NVR())
		res, err := build.New(env.ctx, s, build.Options{
			What:         what,
			NoDeps:       bf.noDeps,
			DB:           db,
			Signer:       signer,
			IdlePriority: setIdlePriority,
			Stdout:       os.Stdout,
			Stderr:       os.Stderr,
			Log:          &log,
		}).Run()
		if err != nil {
			return err
		}
		if len(res.Unpackaged) > 0 {
			colWarn.Println("Installed (but unpackaged) file(s) found:")
			for _, f := range res.Unpackaged {
				cPrintf(nil, "   %s\n", f)
			}
		}
		if res.Source != "" {
			cPrintf(colInfo, "Wrote: %s\n", res.Source)
		}
		for _, b := range res.Binaries {
			cPrintf(colInfo, "Wrote: %s\n", b)
		}
	}
	return nil
}
