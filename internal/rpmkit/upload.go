package rpmkit

import (
	"fmt"
	"os"

	"rpmkit/internal/header"
	"rpmkit/internal/pkgfile"
	"rpmkit/internal/repo"
	"rpmkit/internal/rpmerr"
)

func (env *cliEnv) remoteClient() (*repo.Client, error) {
	st := repo.SettingsFrom(env.cfg.Values)
	st.Debug = Debug
	return repo.New(env.ctx, st)
}

// fetchRemote downloads bucket keys into the package cache and returns
// the local paths.
func (env *cliEnv) fetchRemote(keys []string) ([]string, error) {
	client, err := env.remoteClient()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(keys))
	for _, key := range keys {
		dest := cachePath(key)
		step("Fetching %s", key)
		if err := client.Fetch(env.ctx, key, dest); err != nil {
			return nil, err
		}
		paths = append(paths, dest)
	}
	return paths, nil
}

// publish handles --publish.
func (env *cliEnv) publish(args []string) error {
	var c common
	var dryRun bool
	fs := newFlagSet("publish", &c, os.Stderr)
	fs.BoolVar(&dryRun, "test", false, "Print the keys without uploading.")
	operands, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	c.apply()
	if len(operands) == 0 {
		return rpmerr.New(rpmerr.ErrInvalidState, "no packages given to publish")
	}

	var client *repo.Client
	if !dryRun {
		if client, err = env.remoteClient(); err != nil {
			return err
		}
	}
	for _, path := range operands {
		pkg, err := pkgfile.Open(path)
		if err != nil {
			return err
		}
		key := repo.KeyFor(path, pkg.Header.String(header.TagArch), pkg.IsSource())
		if dryRun {
			fmt.Fprintln(env.out, key)
			continue
		}
		step("Publishing %s", key)
		if err := client.Publish(env.ctx, key, path); err != nil {
			return err
		}
	}
	return nil
}

// listRemote prints the remote keys under prefix.
func (env *cliEnv) listRemote(prefix string) error {
	client, err := env.remoteClient()
	if err != nil {
		return err
	}
	objects, err := client.List(env.ctx, prefix)
	if err != nil {
		return err
	}
	lines := make([]string, len(objects))
	for i, o := range objects {
		lines[i] = fmt.Sprintf("%-60s %10d", o.Key, o.Size)
	}
	return env.emit(lines)
}
