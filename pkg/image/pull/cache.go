// Package pull resolves a registry image reference to a local OCI layout
// directory, short-circuiting repeat pulls of the same reference through an
// in-memory LRU keyed by the reference string. Two different references that
// name the same digest are fetched separately.
package pull

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/arken-sh/arken/pkg/errkind"
)

// Fetcher does the actual registry pull, writing an OCI layout to a
// directory of its choosing and returning its path.
type Fetcher interface {
	Fetch(ref string) (localPath string, err error)
}

// Cache wraps a Fetcher with an LRU of ref -> local path, so a FROM
// instruction that names the same base image twice in one build (or across
// builds sharing a process) only pulls once.
type Cache struct {
	fetcher Fetcher
	entries *lru.Cache[string, string]
}

// New builds a Cache holding up to size resolved references. size must be
// positive; the teacher's own LRU call sites all pass a fixed positive
// constant rather than accepting zero as "unbounded."
func New(fetcher Fetcher, size int) (*Cache, error) {
	if size <= 0 {
		return nil, errkind.New(errkind.InvalidInput, "pull cache size must be positive")
	}
	entries, err := lru.New[string, string](size)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unknown, err, "constructing pull cache")
	}
	return &Cache{fetcher: fetcher, entries: entries}, nil
}

// Resolve returns the local OCI layout path for ref, pulling it through the
// underlying Fetcher only on a cache miss.
func (c *Cache) Resolve(ref string) (string, error) {
	if path, ok := c.entries.Get(ref); ok {
		logrus.WithField("ref", ref).Debug("image pull cache hit")
		return path, nil
	}
	path, err := c.fetcher.Fetch(ref)
	if err != nil {
		return "", err
	}
	c.entries.Add(ref, path)
	return path, nil
}

// Evict drops ref from the cache, used when a reference is known to have
// been garbage-collected out from under its cached path.
func (c *Cache) Evict(ref string) {
	c.entries.Remove(ref)
}
