package chroot

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"rpmkit/internal/rpmerr"
)

// critical is 1 while the process is inside a changed root. Signal
// handlers consult it before exiting.
var critical atomic.Int32

// InCritical reports whether a chroot is currently entered.
func InCritical() bool { return critical.Load() == 1 }

// Rooter switches the process into an alternate root and back.
type Rooter interface {
	Root() string
	// Real reports whether Enter changes the process root. When it does
	// not, callers address files through Resolve and child processes
	// are chrooted individually.
	Real() bool
	Enter() error
	Exit() error
	// Resolve maps an absolute path inside the root to the path the
	// process must use while entered.
	Resolve(path string) string
}

// New returns the rooter for root. The host root needs no chroot; any
// other root is entered with a real chroot, which requires euid 0.
// Without it New fails rather than run package scripts against the host.
func New(root string, log zerolog.Logger) (Rooter, error) {
	if root == "" {
		root = "/"
	}
	if root == "/" {
		return &prefixRooter{root: root}, nil
	}
	if os.Geteuid() != 0 {
		return nil, rpmerr.Newf(rpmerr.ErrFilesystem, "unable to chroot to %s: must be run as root", root).
			WithDetail("path", root)
	}
	return &unixRooter{root: root, log: log}, nil
}

type unixRooter struct {
	root  string
	log   zerolog.Logger
	saved *os.File
}

func (u *unixRooter) Root() string { return u.root }
func (u *unixRooter) Real() bool   { return true }

func (u *unixRooter) Resolve(path string) string { return path }

// Enter loads the host's name-service modules before the root changes,
// remembers the working directory and chroots with cwd left at the host
// "/", so that Exit can chroot(".") back out.
func (u *unixRooter) Enter() error {
	if u.saved != nil {
		return rpmerr.New(rpmerr.ErrInvalidState, "chroot already entered")
	}
	_, _ = user.Lookup("root")

	cwd, err := os.Open(".")
	if err != nil {
		return rpmerr.Wrap(err, rpmerr.ErrFilesystem, "cannot save working directory")
	}
	if err := unix.Chdir("/"); err != nil {
		cwd.Close()
		return rpmerr.Wrap(err, rpmerr.ErrFilesystem, "chdir / failed")
	}
	if err := unix.Chroot(u.root); err != nil {
		_ = unix.Fchdir(int(cwd.Fd()))
		cwd.Close()
		return rpmerr.Wrapf(err, rpmerr.ErrFilesystem, "unable to chroot to %s", u.root)
	}
	u.saved = cwd
	critical.Store(1)
	u.log.Debug().Str("root", u.root).Msg("entered chroot")
	return nil
}

func (u *unixRooter) Exit() error {
	if u.saved == nil {
		return nil
	}
	// still inside the root until chroot(".") succeeds
	if err := unix.Chroot("."); err != nil {
		return rpmerr.Wrap(err, rpmerr.ErrFilesystem, "unable to leave chroot")
	}
	defer func() {
		u.saved.Close()
		u.saved = nil
		critical.Store(0)
	}()
	if err := unix.Fchdir(int(u.saved.Fd())); err != nil {
		return rpmerr.Wrap(err, rpmerr.ErrFilesystem, "unable to restore working directory")
	}
	u.log.Debug().Str("root", u.root).Msg("left chroot")
	return nil
}

type prefixRooter struct {
	root    string
	entered bool
}

// NewPrefix returns a rooter that never changes the process root. Scripts
// run under it are not confined to root; it is meant for tests and for
// the host root.
func NewPrefix(root string) Rooter {
	if root == "" {
		root = "/"
	}
	return &prefixRooter{root: root}
}

func (p *prefixRooter) Root() string { return p.root }
func (p *prefixRooter) Real() bool   { return false }

func (p *prefixRooter) Enter() error {
	if p.entered {
		return rpmerr.New(rpmerr.ErrInvalidState, "root already entered")
	}
	p.entered = true
	return nil
}

func (p *prefixRooter) Exit() error {
	p.entered = false
	return nil
}

func (p *prefixRooter) Resolve(path string) string {
	return Join(p.root, path)
}

// Join places an absolute path under root.
func Join(root, path string) string {
	if root == "" || root == "/" {
		return filepath.Clean("/" + path)
	}
	return filepath.Join(root, strings.TrimPrefix(filepath.Clean("/"+path), "/"))
}

// Within runs fn inside r. The root is always left again, whatever fn
// returns; an error leaving it is joined with fn's error.
func Within(r Rooter, fn func() error) (err error) {
	if err := r.Enter(); err != nil {
		return err
	}
	defer func() {
		if exitErr := r.Exit(); exitErr != nil {
			err = errors.Join(err, exitErr)
		}
	}()
	return fn()
}

// HostPath returns the host-side path of a path inside r's root.
func HostPath(r Rooter, path string) string {
	return Join(r.Root(), path)
}

func (u *unixRooter) String() string   { return fmt.Sprintf("chroot(%s)", u.root) }
func (p *prefixRooter) String() string { return fmt.Sprintf("prefix(%s)", p.root) }
