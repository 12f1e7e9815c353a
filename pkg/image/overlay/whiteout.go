package overlay

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/arken-sh/arken/pkg/errkind"
)

// opaqueXattrs is the probe order for "is this directory opaque": the
// fuse-overlayfs-snapshotter's own unprivileged xattr first, then the
// kernel overlayfs privileged and unprivileged forms. First hit wins.
var opaqueXattrs = []string{
	"user.fuseoverlayfs.opaque",
	"trusted.overlay.opaque",
	"user.overlay.opaque",
}

// IsWhiteout reports whether the given char-device (major, minor) pair
// identifies an overlayfs whiteout marker.
func IsWhiteout(major, minor uint32) bool {
	return major == 0 && minor == 0
}

// CreateWhiteout creates a whiteout character device (0,0) at path,
// recording the deletion of a same-named entry in a lower layer.
func CreateWhiteout(path string) error {
	dev := unix.Mkdev(0, 0)
	if err := unix.Mknod(path, syscall.S_IFCHR|0o000, int(dev)); err != nil {
		return errkind.Wrapf(errkind.PermissionDenied, err, "creating whiteout at %s", path)
	}
	return nil
}

// IsOpaque reports whether dir has been marked opaque by any of the
// overlayfs opaque-directory xattrs, probed in the documented order.
func IsOpaque(dir string) (bool, error) {
	buf := make([]byte, 8)
	for _, name := range opaqueXattrs {
		n, err := unix.Getxattr(dir, name, buf)
		if err != nil {
			if err == unix.ENODATA || os.IsNotExist(err) {
				continue
			}
			continue
		}
		if n == 1 && buf[0] == 'y' {
			return true, nil
		}
	}
	return false, nil
}

// SetOpaque marks dir as opaque using the fuse-overlayfs unprivileged
// xattr, matching the snapshotter this engine's overlay mounts are built
// with.
func SetOpaque(dir string) error {
	if err := unix.Setxattr(dir, opaqueXattrs[0], []byte("y"), 0); err != nil {
		return errkind.Wrapf(errkind.PermissionDenied, err, "setting opaque xattr on %s", dir)
	}
	return nil
}
