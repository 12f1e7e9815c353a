// Package layer packs a directory tree (a build stage's upper_dir, or a
// runtime bundle's merged view) into a content-addressed OCI layer blob:
// tar, then gzip, then rename to the compressed artifact's digest.
package layer

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// retainedDevNames are the only /dev entries carried into a layer; every
// other /dev entry is synthesized by the runtime and must not be baked in.
var retainedDevNames = map[string]bool{
	"null": true, "zero": true, "full": true,
	"random": true, "urandom": true, "tty": true, "console": true,
}

// shouldSkip reports whether relPath (slash-separated, relative to the
// walked root) must be excluded from the layer tar. The directory entries
// for /proc, /sys, and /run are kept (an empty mount point must exist for
// the runtime to bind-mount over) but everything under them is skipped;
// /dev keeps only the device nodes a container runtime doesn't itself
// create.
func shouldSkip(relPath string) bool {
	for _, prefix := range []string{"proc/", "sys/", "run/"} {
		if strings.HasPrefix(relPath, prefix) {
			return true
		}
	}
	if strings.HasPrefix(relPath, "dev/") {
		rest := strings.TrimPrefix(relPath, "dev/")
		if rest == "" {
			return false
		}
		return !retainedDevNames[rest]
	}
	return false
}

// WriteTar walks root and writes a GNU-format tar of its contents to w,
// skipping entries per shouldSkip. The walk is sorted by path at each
// directory level (fs.WalkDir's natural order) so that identical input
// trees always produce byte-identical tar streams.
func WriteTar(root string, w io.Writer) error {
	tw := tar.NewWriter(w)
	defer tw.Close()

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if shouldSkip(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return appendEntry(tw, path, rel, d)
	})
}

func appendEntry(tw *tar.Writer, path, rel string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&os.ModeSymlink != 0 {
		link, err = os.Readlink(path)
		if err != nil {
			return errors.Wrapf(err, "reading symlink %s", path)
		}
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return errors.Wrapf(err, "building tar header for %s", path)
	}
	hdr.Format = tar.FormatGNU
	hdr.Name = rel
	if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
		hdr.Name += "/"
	}
	// Zeroed rather than copied from the source FileInfo: a layer tar must be
	// a pure function of the tree's contents, not of when it was built.
	hdr.ModTime = time.Time{}
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}

	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		hdr.Uid = int(sys.Uid)
		hdr.Gid = int(sys.Gid)
		if mode := info.Mode(); mode&os.ModeDevice != 0 || mode&os.ModeCharDevice != 0 {
			major, minor := decodeRdev(sys.Rdev)
			hdr.Devmajor = int64(major)
			hdr.Devminor = int64(minor)
			if mode&os.ModeCharDevice != 0 {
				hdr.Typeflag = tar.TypeChar
			} else {
				hdr.Typeflag = tar.TypeBlock
			}
		} else if mode&os.ModeNamedPipe != 0 {
			hdr.Typeflag = tar.TypeFifo
		} else if mode&os.ModeSocket != 0 {
			// Sockets have no tar representation; the entry is recorded as a
			// zero-length regular file so the path still exists on extract.
			hdr.Typeflag = tar.TypeReg
			hdr.Size = 0
		}
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, "writing tar header for %s", path)
	}

	if hdr.Typeflag == tar.TypeReg && info.Mode().IsRegular() {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "opening %s", path)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return errors.Wrapf(err, "copying contents of %s", path)
		}
	}
	return nil
}

// decodeRdev splits a raw device number into (major, minor), matching the
// encoding overlayfs device nodes use on Linux.
func decodeRdev(rdev uint64) (major, minor uint32) {
	major = uint32((rdev >> 8) & 0xFFF)
	minor = uint32(rdev & 0xFF)
	return major, minor
}
