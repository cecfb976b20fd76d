package build

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"rpmkit/internal/archive"
	"rpmkit/internal/macro"
	"rpmkit/internal/rpmerr"
)

// SpecFromTarball extracts the first *.spec member of tarball into
// %{_specdir} and returns its path. The tarball is copied into
// %{_sourcedir} unless it is already there.
func SpecFromTarball(tarball string, macros *macro.Context) (string, error) {
	DefineDefaults(macros)
	name, data, err := archive.ReadMember(tarball, func(n string) bool {
		return strings.HasSuffix(n, ".spec")
	})
	if err != nil {
		return "", rpmerr.Wrapf(err, rpmerr.ErrSpec, "Failed to read spec file from %s", tarball)
	}

	specDir, err := macros.Expand("%{_specdir}")
	if err != nil {
		return "", err
	}
	sourceDir, err := macros.Expand("%{_sourcedir}")
	if err != nil {
		return "", err
	}
	for _, d := range []string{specDir, sourceDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return "", rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot create %s", d)
		}
	}

	specPath := filepath.Join(specDir, path.Base(name))
	if err := os.WriteFile(specPath, data, 0o644); err != nil {
		return "", rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot write %s", specPath)
	}

	dst := filepath.Join(sourceDir, filepath.Base(tarball))
	if abs, _ := filepath.Abs(tarball); abs != dst {
		if err := copyFile(tarball, dst); err != nil {
			return "", rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "cannot copy %s", tarball)
		}
	}
	return specPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
