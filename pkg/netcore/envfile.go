package netcore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/arken-sh/arken/pkg/errkind"
	"github.com/arken-sh/arken/pkg/flock"
)

// EnvFile is the decoded form of the subnet environment file spec.md §4.3
// describes, keyed by the RKL_* names the original rkl agent writes and
// consumes.
type EnvFile struct {
	Network     string
	Subnet      string
	IPv6Network string
	IPv6Subnet  string
	MTU         int
	IPMasq      bool
}

// WriteEnvFile atomically (write-temp, then rename) writes env to path, matching
// original_source/project/rkl/src/network/subnet.rs's write_subnet_file. Only
// keys with meaningful values are emitted. A sibling lock file serializes
// concurrent writers (a lease renewal racing a restart's initial write)
// against each other; the rename's own atomicity is what protects readers.
func WriteEnvFile(path string, env EnvFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.Wrapf(errkind.Transient, err, "creating directory for subnet env file %s", path)
	}

	lock, err := flock.Acquire(path + ".lock")
	if err != nil {
		return errkind.Wrapf(errkind.Transient, err, "locking subnet env file %s", path)
	}
	defer flock.Release(lock)

	var contents string
	if env.Network != "" {
		contents += fmt.Sprintf("RKL_NETWORK=%s\n", env.Network)
	}
	if env.Subnet != "" {
		contents += fmt.Sprintf("RKL_SUBNET=%s\n", env.Subnet)
	}
	if env.IPv6Network != "" {
		contents += fmt.Sprintf("RKL_IPV6_NETWORK=%s\n", env.IPv6Network)
	}
	if env.IPv6Subnet != "" {
		contents += fmt.Sprintf("RKL_IPV6_SUBNET=%s\n", env.IPv6Subnet)
	}
	contents += fmt.Sprintf("RKL_MTU=%d\n", env.MTU)
	contents += fmt.Sprintf("RKL_IPMASQ=%s\n", strconv.FormatBool(env.IPMasq))

	tmp := filepath.Join(dir, "."+filepath.Base(path))
	if err := os.WriteFile(tmp, []byte(contents), 0o644); err != nil {
		return errkind.Wrapf(errkind.Transient, err, "writing temp subnet env file %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errkind.Wrapf(errkind.Transient, err, "renaming %s into place at %s", tmp, path)
	}
	return nil
}
