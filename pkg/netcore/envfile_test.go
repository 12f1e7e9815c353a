package netcore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEnvFileContainsExpectedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subnet.env")

	err := WriteEnvFile(path, EnvFile{
		Network: "10.0.0.0/16",
		Subnet:  "10.0.1.0/24",
		MTU:     1500,
		IPMasq:  true,
	})
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(contents)
	assert.Contains(t, s, "RKL_NETWORK=10.0.0.0/16")
	assert.Contains(t, s, "RKL_SUBNET=10.0.1.0/24")
	assert.Contains(t, s, "RKL_MTU=1500")
	assert.Contains(t, s, "RKL_IPMASQ=true")
	assert.NotContains(t, s, "RKL_IPV6_NETWORK")
}

func TestWriteEnvFileLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subnet.env")
	require.NoError(t, WriteEnvFile(path, EnvFile{MTU: 1500}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "the atomic rename must leave only the final file and its lock file")
	assert.Equal(t, "subnet.env", entries[0].Name())
	assert.Equal(t, "subnet.env.lock", entries[1].Name())
}
