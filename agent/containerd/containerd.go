// Package containerd runs pods as chrooted OCI bundles instead of talking to
// a real containerd over its CRI gRPC socket: an agent-local image pull
// cache resolves the pod's image reference, pkg/image/bundle materializes
// its rootfs, and the entrypoint runs chrooted under a supervised process
// group, mirroring the teacher's own pattern of a long-running supervised
// child with Pdeathsig cleanup.
package containerd

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/arken-sh/arken/pkg/errkind"
	"github.com/arken-sh/arken/pkg/image/bundle"
	"github.com/arken-sh/arken/pkg/image/oci"
	"github.com/arken-sh/arken/pkg/image/pull"
)

// PodSpec is the subset of a scheduled pod the runtime needs to start it:
// an identifier for bookkeeping, the image reference to pull, and the
// container's entrypoint override (empty uses the image's own).
type PodSpec struct {
	ID      string
	Image   string
	Command []string
}

// Runtime pulls images through cache and runs each pod's entrypoint
// chrooted into a freshly materialized bundle rootfs under StateDir.
type Runtime struct {
	StateDir string
	Cache    *pull.Cache

	mu         sync.Mutex
	containers map[string]*container
}

type container struct {
	bundleRoot string
	cmd        *exec.Cmd
}

// New builds a Runtime backed by fetcher (a registry puller) for cache
// misses, caching up to cacheSize resolved image references.
func New(stateDir string, fetcher pull.Fetcher, cacheSize int) (*Runtime, error) {
	cache, err := pull.New(fetcher, cacheSize)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		StateDir:   stateDir,
		Cache:      cache,
		containers: make(map[string]*container),
	}, nil
}

// StartPod materializes spec's image into a bundle and execs its entrypoint
// chrooted into the bundle's rootfs, under a process group so StopPod can
// kill the whole tree.
func (r *Runtime) StartPod(ctx context.Context, spec PodSpec) error {
	imageRoot, err := r.Cache.Resolve(spec.Image)
	if err != nil {
		return errors.Wrapf(err, "resolving image %s", spec.Image)
	}

	bundleRoot := filepath.Join(r.StateDir, "bundles", spec.ID)
	if err := os.MkdirAll(bundleRoot, 0700); err != nil {
		return errors.Wrapf(err, "creating bundle dir for pod %s", spec.ID)
	}
	if err := bundle.Materialize(imageRoot, bundleRoot); err != nil {
		return errors.Wrapf(err, "materializing bundle for pod %s", spec.ID)
	}

	entrypoint, err := r.entrypointFor(imageRoot, spec)
	if err != nil {
		return err
	}
	if len(entrypoint) == 0 {
		return errkind.Newf(errkind.InvalidInput, "pod %s has no entrypoint or command", spec.ID)
	}

	rootfs := filepath.Join(bundleRoot, "rootfs")
	cmd := exec.Command(entrypoint[0], entrypoint[1:]...)
	cmd.Dir = "/"
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Chroot:    rootfs,
		Pdeathsig: syscall.SIGKILL,
		Setpgid:   true,
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "starting pod %s", spec.ID)
	}

	r.mu.Lock()
	r.containers[spec.ID] = &container{bundleRoot: bundleRoot, cmd: cmd}
	r.mu.Unlock()

	go func() {
		err := cmd.Wait()
		logrus.WithField("pod", spec.ID).WithError(err).Info("pod process exited")
	}()

	return nil
}

// entrypointFor prefers spec.Command (a pod-level override) and otherwise
// concatenates the image config's Entrypoint and Cmd, the same precedence a
// built image's ENTRYPOINT/CMD pair carries at run time.
func (r *Runtime) entrypointFor(imageRoot string, spec PodSpec) ([]string, error) {
	if len(spec.Command) > 0 {
		return spec.Command, nil
	}

	layout, err := oci.Open(imageRoot)
	if err != nil {
		return nil, err
	}
	idx, err := layout.Index()
	if err != nil {
		return nil, err
	}
	if len(idx.Manifests) == 0 {
		return nil, errkind.Newf(errkind.InvalidInput, "image %s has no manifests", spec.Image)
	}
	manifest, err := layout.Manifest(idx.Manifests[0].Digest)
	if err != nil {
		return nil, err
	}
	cfg, err := layout.Config(manifest.Config.Digest)
	if err != nil {
		return nil, err
	}
	return append(append([]string{}, cfg.Config.Entrypoint...), cfg.Config.Cmd...), nil
}

// StopPod sends SIGTERM to the pod's process group and removes its bundle.
func (r *Runtime) StopPod(id string) error {
	r.mu.Lock()
	c, ok := r.containers[id]
	delete(r.containers, id)
	r.mu.Unlock()
	if !ok {
		return errkind.Newf(errkind.InvalidInput, "no running pod %s", id)
	}

	if c.cmd.Process != nil {
		if err := syscall.Kill(-c.cmd.Process.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			logrus.WithField("pod", id).WithError(err).Warn("failed to signal pod process group")
		}
	}
	return os.RemoveAll(c.bundleRoot)
}
