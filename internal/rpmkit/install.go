package rpmkit

import (
	"os"
	"path/filepath"
	"strings"

	"rpmkit/internal/chroot"
	"rpmkit/internal/header"
	"rpmkit/internal/logging"
	"rpmkit/internal/pkgfile"
	"rpmkit/internal/rpmdb"
	"rpmkit/internal/rpmerr"
	"rpmkit/internal/transaction"
)

type installFlags struct {
	noDeps       bool
	force        bool
	replaceFiles bool
	replacePkgs  bool
	oldPackage   bool
	ignoreArch   bool
	test         bool
	justDB       bool
	noScripts    bool
	noTriggers   bool
	excludeDocs  bool
	multilib     bool
	hash         bool
	noSignature  bool
	remote       bool
	prefix       string
	allMatches   bool
}

func (f *installFlags) txFlags() transaction.Flags {
	var fl transaction.Flags
	if f.test {
		fl |= transaction.FlagTest
	}
	if f.justDB {
		fl |= transaction.FlagJustDB
	}
	if f.noScripts {
		fl |= transaction.FlagNoScripts
	}
	if f.noTriggers {
		fl |= transaction.FlagNoTriggers
	}
	if f.excludeDocs {
		fl |= transaction.FlagNoDocs
	}
	if f.multilib || EnableMultilib {
		fl |= transaction.FlagMultilib
	}
	return fl
}

func (f *installFlags) filter() transaction.Filter {
	var fl transaction.Filter
	if f.noDeps {
		fl |= transaction.FilterNoDeps
	}
	if f.replaceFiles || f.force {
		fl |= transaction.FilterReplaceFiles
	}
	if f.replacePkgs || f.force {
		fl |= transaction.FilterReplacePkgs
	}
	if f.oldPackage || f.force {
		fl |= transaction.FilterOldPackage
	}
	if f.ignoreArch {
		fl |= transaction.FilterIgnoreArch
	}
	return fl
}

// openTransaction opens the database read-write and a transaction rooted
// at rootDir.
func openTransaction() (*rpmdb.DB, *transaction.Transaction, error) {
	log := logging.GetLogger("transaction")
	rooter, err := chroot.New(rootDir, log)
	if err != nil {
		return nil, nil, err
	}
	db, err := rpmdb.Open(databaseDir(), rpmdb.ReadWrite)
	if err != nil {
		return nil, nil, err
	}
	db.Log = logging.GetLogger("rpmdb")
	return db, transaction.New(db, rooter), nil
}

// runTransaction checks, orders and runs tx.
func runTransaction(tx *transaction.Transaction) error {
	problems, err := tx.Check()
	if err != nil {
		return err
	}
	if err := problems.Err(); err != nil {
		return err
	}
	if err := tx.Order(); err != nil {
		return err
	}
	return tx.Run()
}

// install handles -i and -U.
func (env *cliEnv) install(args []string, upgrade bool) error {
	var c common
	var f installFlags
	fs := newFlagSet("install", &c, os.Stderr)
	fs.BoolVar(&f.noDeps, "nodeps", false, "Do not verify package dependencies.")
	fs.BoolVar(&f.force, "force", false, "Short for --replacepkgs --replacefiles --oldpackage.")
	fs.BoolVar(&f.replaceFiles, "replacefiles", false, "Ignore file conflicts between packages.")
	fs.BoolVar(&f.replacePkgs, "replacepkgs", false, "Reinstall packages that are already installed.")
	fs.BoolVar(&f.oldPackage, "oldpackage", false, "Allow an upgrade to replace a newer package.")
	fs.BoolVar(&f.ignoreArch, "ignorearch", false, "Do not verify package architecture.")
	fs.BoolVar(&f.test, "test", false, "Do not install, only check.")
	fs.BoolVar(&f.justDB, "justdb", false, "Update the database, not the filesystem.")
	fs.BoolVar(&f.noScripts, "noscripts", false, "Do not run package scripts.")
	fs.BoolVar(&f.noTriggers, "notriggers", false, "Do not run trigger scripts.")
	fs.BoolVar(&f.excludeDocs, "excludedocs", false, "Do not install documentation.")
	fs.BoolVar(&f.multilib, "multilib", false, "Merge into an installed package of the same version.")
	fs.BoolVar(&f.hash, "h", false, "Show a progress bar.")
	fs.BoolVar(&f.hash, "hash", false, "Show a progress bar.")
	fs.BoolVar(&f.noSignature, "nosignature", false, "Do not verify package signatures.")
	fs.BoolVar(&f.remote, "remote", false, "Arguments are keys in the remote repository.")
	fs.StringVar(&f.prefix, "prefix", "", "Relocate a relocatable package to `DIR`.")
	operands, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(operands) == 0 {
		fs.Usage()
		return rpmerr.New(rpmerr.ErrInvalidState, "no packages given for install")
	}

	_, target, platforms, err := env.setup(&c, "")
	if err != nil {
		return err
	}

	paths := operands
	if f.remote {
		if paths, err = env.fetchRemote(operands); err != nil {
			return err
		}
	}

	db, tx, err := openTransaction()
	if err != nil {
		return err
	}
	defer db.Close()
	tx.Flags = f.txFlags()
	tx.Filter = f.filter()
	tx.Arches = platforms.Compatible(target.CPU)
	tx.Notify = newProgressNotifier(env.out, f.hash).Notify

	keys := keyRing(env.cfg)
	for _, p := range paths {
		pkg, err := pkgfile.Open(p)
		if err != nil {
			return err
		}
		if pkg.IsSource() {
			return rpmerr.Newf(rpmerr.ErrInvalidState, "%s is a source package; rebuild it with -b", p)
		}
		if !f.noSignature {
			if err := checkPackage(pkg, keys); err != nil {
				return err
			}
		}
		if _, err := tx.AddInstall(pkg.Header, pkg.Payload, f.prefix, upgrade); err != nil {
			return err
		}
	}
	return runTransaction(tx)
}

// erase handles -e.
func (env *cliEnv) erase(args []string) error {
	var c common
	var f installFlags
	fs := newFlagSet("erase", &c, os.Stderr)
	fs.BoolVar(&f.noDeps, "nodeps", false, "Do not verify package dependencies.")
	fs.BoolVar(&f.test, "test", false, "Do not erase, only check.")
	fs.BoolVar(&f.justDB, "justdb", false, "Update the database, not the filesystem.")
	fs.BoolVar(&f.noScripts, "noscripts", false, "Do not run package scripts.")
	fs.BoolVar(&f.noTriggers, "notriggers", false, "Do not run trigger scripts.")
	fs.BoolVar(&f.allMatches, "allmatches", false, "Erase every package matching a name.")
	operands, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(operands) == 0 {
		fs.Usage()
		return rpmerr.New(rpmerr.ErrInvalidState, "no packages given for erase")
	}
	c.apply()

	db, tx, err := openTransaction()
	if err != nil {
		return err
	}
	defer db.Close()
	tx.Flags = f.txFlags()
	tx.Filter = f.filter()
	tx.Notify = newProgressNotifier(env.out, false).Notify

	for _, arg := range operands {
		ids := findInstalled(db, arg)
		switch {
		case len(ids) == 0:
			return rpmerr.Newf(rpmerr.ErrNotFound, "package %s is not installed", arg)
		case len(ids) > 1 && !f.allMatches:
			return rpmerr.Newf(rpmerr.ErrInvalidState, "%s specifies multiple packages", arg)
		}
		for _, id := range ids {
			if _, err := tx.AddErase(id); err != nil {
				return err
			}
		}
	}
	return runTransaction(tx)
}

// findInstalled resolves NAME, NAME-VERSION or NAME-VERSION-RELEASE to
// database record ids, trying the longest name first.
func findInstalled(db *rpmdb.DB, arg string) []uint32 {
	collect := func(name, ver, rel string) []uint32 {
		it := db.InitIterator(header.TagName, name)
		defer it.Close()
		it.SetVersion(ver)
		it.SetRelease(rel)
		var ids []uint32
		for h := it.Next(); h != nil; h = it.Next() {
			ids = append(ids, it.Offset())
		}
		return ids
	}
	if ids := collect(arg, "", ""); len(ids) > 0 {
		return ids
	}
	i := strings.LastIndex(arg, "-")
	if i <= 0 {
		return nil
	}
	if ids := collect(arg[:i], arg[i+1:], ""); len(ids) > 0 {
		return ids
	}
	j := strings.LastIndex(arg[:i], "-")
	if j <= 0 {
		return nil
	}
	return collect(arg[:j], arg[j+1:i], arg[i+1:])
}

// cachePath is where a fetched remote key is stored.
func cachePath(key string) string {
	return filepath.Join(cacheDir, "packages", filepath.Base(key))
}
