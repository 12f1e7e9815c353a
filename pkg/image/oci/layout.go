// Package oci reads the on-disk OCI image layout the bundler consumes:
// an index.json plus content-addressed blobs under blobs/sha256/.
package oci

import (
	"encoding/json"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"

	"github.com/arken-sh/arken/pkg/errkind"
)

// Layout is a read handle onto an extracted OCI image directory.
type Layout struct {
	Root string
}

// Open validates that root/index.json exists and is a well-formed OCI
// index; it does not read blobs eagerly.
func Open(root string) (*Layout, error) {
	if _, err := os.Stat(filepath.Join(root, "index.json")); err != nil {
		return nil, errkind.Wrapf(errkind.InvalidInput, err, "opening OCI layout at %s", root)
	}
	return &Layout{Root: root}, nil
}

// Index parses index.json.
func (l *Layout) Index() (specs.Index, error) {
	var idx specs.Index
	b, err := os.ReadFile(filepath.Join(l.Root, "index.json"))
	if err != nil {
		return idx, errors.Wrap(err, "reading index.json")
	}
	if err := json.Unmarshal(b, &idx); err != nil {
		return idx, errkind.Wrapf(errkind.InvalidInput, err, "parsing index.json")
	}
	return idx, nil
}

// BlobPath resolves a digest to its path under blobs/<algorithm>/<hex>.
func (l *Layout) BlobPath(d digest.Digest) string {
	return filepath.Join(l.Root, "blobs", d.Algorithm().String(), d.Encoded())
}

// Manifest reads and parses the manifest blob a descriptor points to.
func (l *Layout) Manifest(d digest.Digest) (specs.Manifest, error) {
	var m specs.Manifest
	b, err := os.ReadFile(l.BlobPath(d))
	if err != nil {
		return m, errors.Wrapf(err, "reading manifest blob %s", d)
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, errkind.Wrapf(errkind.InvalidInput, err, "parsing manifest blob %s", d)
	}
	return m, nil
}

// Config reads and parses the image config blob a manifest points to.
func (l *Layout) Config(d digest.Digest) (specs.Image, error) {
	var cfg specs.Image
	b, err := os.ReadFile(l.BlobPath(d))
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config blob %s", d)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, errkind.Wrapf(errkind.InvalidInput, err, "parsing config blob %s", d)
	}
	return cfg, nil
}
