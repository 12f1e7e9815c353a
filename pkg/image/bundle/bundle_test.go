package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildLayerBlob(t *testing.T, dir string) (string, digest.Digest) {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "hello.txt", Mode: 0o644, Size: 5, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("howdy"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	diffID := digest.FromBytes(tarBuf.Bytes())

	blobPath := filepath.Join(dir, "layer.tar.gz")
	f, err := os.Create(blobPath)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	_, err = gz.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	return blobPath, diffID
}

func TestExtractLayerWritesFilesAndVerifiesDiffID(t *testing.T) {
	dir := t.TempDir()
	blobPath, diffID := buildLayerBlob(t, dir)

	destDir := filepath.Join(dir, "extracted")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	require.NoError(t, extractLayer(blobPath, destDir, diffID))

	contents, err := os.ReadFile(filepath.Join(destDir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "howdy", string(contents))
}

func TestExtractLayerRejectsDiffIDMismatch(t *testing.T) {
	dir := t.TempDir()
	blobPath, _ := buildLayerBlob(t, dir)

	destDir := filepath.Join(dir, "extracted")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	wrongDigest := digest.FromString("not the real content")
	err := extractLayer(blobPath, destDir, wrongDigest)
	assert.Error(t, err)
}

func TestPlatformStringHandlesNil(t *testing.T) {
	assert.Equal(t, "unspecified", platformString(nil))
}
