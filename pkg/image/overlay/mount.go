// Package overlay drives the overlayfs mount lifecycle a build stage runs
// its root filesystem under: init creates the scratch directories and
// performs the mount, prepare/finish bracket each filesystem-mutating
// instruction, and teardown unmounts.
package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/arken-sh/arken/pkg/errkind"
)

// MountConfig owns one stage's overlay mount. LowerDirs is appended to in
// OCI order (first listed = bottom) as base-image layers are resolved.
type MountConfig struct {
	Root       string // scratch directory this stage's upper/work/mountpoint live under
	LowerDirs  []string
	UpperDir   string
	WorkDir    string
	Mountpoint string

	mu       sync.Mutex
	mounted  bool
	prepared bool
}

// NewMountConfig lays out upper/work/mountpoint paths under root without
// creating or mounting anything; call Init to do that.
func NewMountConfig(root string) *MountConfig {
	return &MountConfig{
		Root:       root,
		UpperDir:   filepath.Join(root, "upper"),
		WorkDir:    filepath.Join(root, "work"),
		Mountpoint: filepath.Join(root, "merged"),
	}
}

// Init creates upper_dir, work_dir, and mountpoint, asserts they share a
// filesystem (overlayfs requires upperdir and workdir to be on the same
// mount), and mounts the overlay with the assembled lowerdir:upperdir:workdir
// option string. It must be called exactly once per stage, after every
// lower-dir entry (base image layers) has been appended.
func (m *MountConfig) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return errkind.New(errkind.StateCorruption, "overlay already mounted at "+m.Mountpoint)
	}
	if len(m.LowerDirs) == 0 {
		return errkind.New(errkind.InvalidInput, "overlay mount requires at least one lower directory")
	}

	for _, dir := range []string{m.UpperDir, m.WorkDir, m.Mountpoint} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating overlay directory %s", dir)
		}
	}

	if err := sameFilesystem(m.UpperDir, m.WorkDir); err != nil {
		return errkind.Wrap(errkind.InvalidInput, err, "upperdir and workdir must share a filesystem")
	}

	opts, err := m.mountOptions()
	if err != nil {
		return err
	}

	if err := unix.Mount("overlay", m.Mountpoint, "overlay", 0, opts); err != nil {
		return errkind.Wrapf(errkind.PermissionDenied, err, "mounting overlay at %s", m.Mountpoint)
	}

	m.mounted = true
	return nil
}

// mountOptions canonicalizes every lower/upper/work directory (overlayfs
// rejects paths containing symlink components) and builds the
// lowerdir=<p1>:<p2>:…,upperdir=<u>,workdir=<w> option string.
func (m *MountConfig) mountOptions() (string, error) {
	lowers := make([]string, 0, len(m.LowerDirs))
	for _, l := range m.LowerDirs {
		canon, err := filepath.EvalSymlinks(l)
		if err != nil {
			return "", errors.Wrapf(err, "canonicalizing lowerdir %s", l)
		}
		lowers = append(lowers, canon)
	}
	upper, err := filepath.EvalSymlinks(m.UpperDir)
	if err != nil {
		return "", errors.Wrapf(err, "canonicalizing upperdir %s", m.UpperDir)
	}
	work, err := filepath.EvalSymlinks(m.WorkDir)
	if err != nil {
		return "", errors.Wrapf(err, "canonicalizing workdir %s", m.WorkDir)
	}
	return fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", strings.Join(lowers, ":"), upper, work), nil
}

// Prepare ensures the mount is live before a filesystem-mutating
// instruction runs. Calling Prepare twice without an intervening Finish is a
// fatal bug, matching the non-reentrant lifecycle the stage executor relies on.
func (m *MountConfig) Prepare() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted {
		return errkind.New(errkind.StateCorruption, "prepare called before overlay is mounted")
	}
	if m.prepared {
		return errkind.New(errkind.StateCorruption, "prepare called twice without a matching finish")
	}
	m.prepared = true
	return nil
}

// Finish syncs the mount and leaves it live for the next instruction.
func (m *MountConfig) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.prepared {
		return errkind.New(errkind.StateCorruption, "finish called without a matching prepare")
	}
	if err := syncMountpoint(m.Mountpoint); err != nil {
		logrus.WithError(err).Warn("syncfs on overlay mountpoint failed")
	}
	m.prepared = false
	return nil
}

// Teardown unmounts the overlay. Safe to call on an already-unmounted
// config; a build stage that panics mid-instruction still releases the
// mount because callers defer Teardown immediately after Init succeeds.
func (m *MountConfig) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted {
		return nil
	}
	if err := unix.Unmount(m.Mountpoint, 0); err != nil {
		return errkind.Wrapf(errkind.Transient, err, "unmounting overlay at %s", m.Mountpoint)
	}
	m.mounted = false
	return nil
}

func sameFilesystem(a, b string) error {
	var sa, sb unix.Stat_t
	if err := unix.Stat(a, &sa); err != nil {
		return err
	}
	if err := unix.Stat(b, &sb); err != nil {
		return err
	}
	if sa.Dev != sb.Dev {
		return fmt.Errorf("%s and %s are on different filesystems", a, b)
	}
	return nil
}

func syncMountpoint(path string) error {
	fd, err := unix.Open(path, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return unix.Syncfs(fd)
}
