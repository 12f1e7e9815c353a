package layer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "hostname"), []byte("box\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "proc"), 0o555))
	require.NoError(t, os.WriteFile(filepath.Join(root, "proc", "stat"), []byte("ignored"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dev"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dev", "fake-disk"), []byte("ignored"), 0o644))
}

func TestMaterializeIsDeterministic(t *testing.T) {
	rootA, rootB := t.TempDir(), t.TempDir()
	writeTestTree(t, rootA)
	writeTestTree(t, rootB)

	destA, destB := t.TempDir(), t.TempDir()
	descA, err := Materialize(rootA, destA)
	require.NoError(t, err)
	descB, err := Materialize(rootB, destB)
	require.NoError(t, err)

	require.Equal(t, descA.DiffID, descB.DiffID, "identical trees must produce identical diff_ids")
	require.Equal(t, descA.BlobDigest, descB.BlobDigest, "identical trees must produce byte-identical compressed blobs")
	require.Equal(t, descA.BlobDigest.Encoded(), filepath.Base(descA.BlobPath))
}

func TestShouldSkipExcludesProcSysRunContentsKeepsDirs(t *testing.T) {
	for _, rel := range []string{"proc/stat", "sys/kernel/x", "run/lock/f"} {
		require.True(t, shouldSkip(rel), rel)
	}
	for _, dir := range []string{"proc", "sys", "run"} {
		require.False(t, shouldSkip(dir), dir)
	}
}

func TestShouldSkipRetainsAllowlistedDevNodes(t *testing.T) {
	for _, name := range []string{"null", "zero", "full", "random", "urandom", "tty", "console"} {
		require.False(t, shouldSkip("dev/"+name), name)
	}
	require.True(t, shouldSkip("dev/sda"))
	require.False(t, shouldSkip("dev"))
}

func TestDecodeRdevSplitsMajorMinor(t *testing.T) {
	major, minor := decodeRdev(0x0105)
	require.Equal(t, uint32(1), major)
	require.Equal(t, uint32(5), minor)
}
